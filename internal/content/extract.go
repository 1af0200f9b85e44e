package content

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

// DefaultBylineMarkers flag credit lines ("Texto: ...", "Foto: ...") that are not article body.
var DefaultBylineMarkers = []string{"texto:", "foto:"}

// Extractor pulls the plain body text and the lead image out of an entry's markup.
type Extractor struct {
	markers []string
	policy  *bluemonday.Policy
}

// NewExtractor creates an extractor; an empty marker list falls back to DefaultBylineMarkers.
func NewExtractor(markers []string) *Extractor {
	cleaned := make([]string, 0, len(markers))
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" {
			cleaned = append(cleaned, m)
		}
	}
	if len(cleaned) == 0 {
		cleaned = append(cleaned, DefaultBylineMarkers...)
	}

	return &Extractor{
		markers: cleaned,
		policy:  bluemonday.UGCPolicy(),
	}
}

var defaultExtractor = NewExtractor(nil)

// Extract runs the default extractor over markup.
func Extract(markup string) (text, imageURL string) {
	return defaultExtractor.Extract(markup)
}

// Extract returns the joined body paragraphs and the src of the first image, or "" when
// there is none. Broken markup yields whatever the HTML parser recovers, never an error.
func (e *Extractor) Extract(markup string) (text, imageURL string) {
	if strings.TrimSpace(markup) == "" {
		return "", ""
	}

	// The lead image comes from the markup as published: the sanitizer drops images whose
	// src it cannot parse, which would promote a later image.
	raw, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", ""
	}
	if src, ok := raw.Find("img").First().Attr("src"); ok {
		imageURL = strings.TrimSpace(src)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(e.policy.Sanitize(markup)))
	if err != nil {
		return "", imageURL
	}

	paragraphs := make([]string, 0, MaxParagraphs)
	doc.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		p := strings.TrimSpace(s.Text())
		if p == "" || e.isByline(p) {
			return true
		}
		paragraphs = append(paragraphs, p)
		return len(paragraphs) < MaxParagraphs
	})

	return Truncate(strings.Join(paragraphs, " "), MaxContentLength), imageURL
}

func (e *Extractor) isByline(p string) bool {
	lower := strings.ToLower(p)
	for _, m := range e.markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
