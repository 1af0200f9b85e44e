package models

import "time"

// FeedEntry is one raw entry as delivered by the feed source, before normalization.
type FeedEntry struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Content     string `json:"content,omitempty"`
	Link        string `json:"link"`
	Published   string `json:"published,omitempty"`
	ImageURL    string `json:"imageUrl,omitempty"`
}

// DisplayItem is a display-ready slide. Values are never mutated after construction.
type DisplayItem struct {
	Position    int    `json:"position"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	ImageSource string `json:"imageSource"`
	PubDate     string `json:"pubDate"`
	QRCode      string `json:"qrCode"`
	Link        string `json:"link"`
}

// DisplaySet is the ordered collection of slides produced by one refresh.
type DisplaySet struct {
	ID          string        `json:"id"`
	Version     uint64        `json:"version"`
	Items       []DisplayItem `json:"items"`
	RefreshedAt time.Time     `json:"refreshedAt"`
}

func (s DisplaySet) Len() int {
	return len(s.Items)
}

// Clone returns a copy whose Items slice does not alias s.
func (s DisplaySet) Clone() DisplaySet {
	out := s
	out.Items = make([]DisplayItem, len(s.Items))
	copy(out.Items, s.Items)
	return out
}

type RotationStatus string

const (
	RotationRunning RotationStatus = "running"
	RotationStopped RotationStatus = "stopped"
)

// RotationState is the scheduler's view of which slide is active.
type RotationState struct {
	Index       int            `json:"index"`
	AutoAdvance bool           `json:"autoAdvance"`
	Status      RotationStatus `json:"status"`
}

type SlidesResponse struct {
	Set      DisplaySet    `json:"set"`
	Rotation RotationState `json:"rotation"`
}
