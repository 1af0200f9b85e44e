package sources

import (
	"context"
	"fmt"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/johnrirwin/newspanel/internal/models"
	"github.com/johnrirwin/newspanel/internal/ratelimit"
)

type RSSFetcher struct {
	name    string
	url     string
	parser  *gofeed.Parser
	limiter *ratelimit.Limiter
	config  FetcherConfig
}

// NewRSSFetcher creates a fetcher for url. limiter may be nil.
func NewRSSFetcher(name, url string, limiter *ratelimit.Limiter, config FetcherConfig) *RSSFetcher {
	parser := gofeed.NewParser()
	parser.RSSTranslator = &rssTranslator{}
	parser.AtomTranslator = &atomTranslator{}
	if config.UserAgent != "" {
		parser.UserAgent = config.UserAgent
	}
	return &RSSFetcher{
		name:    name,
		url:     url,
		parser:  parser,
		limiter: limiter,
		config:  config,
	}
}

func (f *RSSFetcher) Name() string {
	return f.name
}

func (f *RSSFetcher) URL() string {
	return f.url
}

// Fetch downloads and parses the feed. Entries keep the feed's order and their raw
// publication string; normalization happens downstream.
func (f *RSSFetcher) Fetch(ctx context.Context) ([]models.FeedEntry, error) {
	if f.limiter != nil {
		if err := f.limiter.WaitContext(ctx, ratelimit.HostOf(f.url)); err != nil {
			return nil, err
		}
	}

	if f.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.config.Timeout)
		defer cancel()
	}

	feed, err := f.parser.ParseURLWithContext(f.url, ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to parse feed %s: %w", f.url, err)
	}

	entries := make([]models.FeedEntry, 0, len(feed.Items))
	for i, item := range feed.Items {
		if f.config.MaxItems > 0 && i >= f.config.MaxItems {
			break
		}
		if item == nil {
			continue
		}

		entries = append(entries, models.FeedEntry{
			Title:       item.Title,
			Description: item.Description,
			Content:     item.Content,
			Link:        item.Link,
			Published:   item.Published,
			ImageURL:    itemImage(item),
		})
	}

	return entries, nil
}

// itemImage returns the image the feed declares for item outside its markup, if any.
func itemImage(item *gofeed.Item) string {
	if item.Image != nil && item.Image.URL != "" {
		return item.Image.URL
	}
	for _, enc := range item.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	return ""
}
