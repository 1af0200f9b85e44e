// Package sources fetches raw entries from the upstream news feed.
package sources

import (
	"context"
	"time"

	"github.com/johnrirwin/newspanel/internal/models"
)

// Fetcher retrieves the current entries of one feed, in feed order.
type Fetcher interface {
	Name() string
	Fetch(ctx context.Context) ([]models.FeedEntry, error)
}

type FetcherConfig struct {
	Timeout   time.Duration
	MaxItems  int
	UserAgent string
}

// DefaultConfig keeps every entry the feed offers; the ingestor decides how many to show.
func DefaultConfig() FetcherConfig {
	return FetcherConfig{
		Timeout:   30 * time.Second,
		MaxItems:  0,
		UserAgent: "NewsPanel/1.0",
	}
}
