// Package ingest turns the upstream feed into the display set the panel rotates through.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/johnrirwin/newspanel/internal/cache"
	"github.com/johnrirwin/newspanel/internal/content"
	"github.com/johnrirwin/newspanel/internal/logging"
	"github.com/johnrirwin/newspanel/internal/metrics"
	"github.com/johnrirwin/newspanel/internal/models"
	"github.com/johnrirwin/newspanel/internal/sources"
)

const (
	// MaxItems is the number of slides a display set holds.
	MaxItems = 5

	SnapshotCacheKey   = "display_set"
	DefaultSnapshotTTL = 36 * time.Hour

	// DefaultRefreshTimeout bounds one shared refresh, whoever started it.
	DefaultRefreshTimeout = 2 * time.Minute
)

var ErrFetch = errors.New("feed fetch failed")

// ArtifactGenerator produces the scannable code for a slide. It reports failure with "".
type ArtifactGenerator interface {
	Generate(target string, position int) string
}

type Ingestor struct {
	fetcher   sources.Fetcher
	extractor *content.Extractor
	resolver  *content.Resolver
	artifacts ArtifactGenerator
	cache     cache.Cache
	logger    *logging.Logger
	group     singleflight.Group
	now       func() time.Time

	snapshotTTL    time.Duration
	refreshTimeout time.Duration

	// lifetime outlives any single caller of Refresh; Close cancels it.
	lifetime context.Context
	close    context.CancelFunc

	mu      sync.RWMutex
	set     models.DisplaySet
	changed chan struct{}
}

// New creates an ingestor. c may be nil, in which case snapshots are not published.
func New(fetcher sources.Fetcher, extractor *content.Extractor, resolver *content.Resolver, artifacts ArtifactGenerator, c cache.Cache, logger *logging.Logger) *Ingestor {
	if extractor == nil {
		extractor = content.NewExtractor(nil)
	}
	lifetime, cancel := context.WithCancel(context.Background())
	return &Ingestor{
		fetcher:   fetcher,
		extractor: extractor,
		resolver:  resolver,
		artifacts: artifacts,
		cache:     c,
		logger:    logger,
		now:       time.Now,
		set:       models.DisplaySet{Items: []models.DisplayItem{}},
		changed:   make(chan struct{}),

		snapshotTTL:    DefaultSnapshotTTL,
		refreshTimeout: DefaultRefreshTimeout,
		lifetime:       lifetime,
		close:          cancel,
	}
}

// SetSnapshotTTL sets how long published snapshots live in the cache. Call it before the
// first refresh.
func (in *Ingestor) SetSnapshotTTL(ttl time.Duration) {
	if ttl > 0 {
		in.snapshotTTL = ttl
	}
}

// Refresh fetches the feed and replaces the display set. Concurrent callers share a single
// in-flight refresh, which runs on the ingestor's own context: a caller whose ctx ends
// stops waiting but does not cancel the refresh for the others. On fetch failure the
// current set is kept and an error wrapping ErrFetch is returned.
func (in *Ingestor) Refresh(ctx context.Context) error {
	ch := in.group.DoChan("refresh", func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(in.lifetime, in.refreshTimeout)
		defer cancel()
		return nil, in.refresh(rctx)
	})

	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close cancels any refresh still running. Later refreshes fail at once.
func (in *Ingestor) Close() {
	in.close()
}

func (in *Ingestor) refresh(ctx context.Context) error {
	start := in.now()

	entries, err := in.fetcher.Fetch(ctx)
	if err != nil {
		in.logger.Warn("Failed to fetch feed", logging.WithFields(map[string]interface{}{
			"source": in.fetcher.Name(),
			"error":  err.Error(),
		}))
		metrics.RecordFailure(metrics.KindFetch)
		metrics.RecordRefresh("failure", in.now().Sub(start).Seconds())
		return fmt.Errorf("%w: %w", ErrFetch, err)
	}

	if len(entries) > MaxItems {
		entries = entries[:MaxItems]
	}

	items := make([]models.DisplayItem, 0, len(entries))
	for i, entry := range entries {
		items = append(items, in.buildItem(i, entry))
	}

	set := in.publish(items)

	metrics.RecordRefresh("success", in.now().Sub(start).Seconds())
	in.logger.Info("Display set refreshed", logging.WithFields(map[string]interface{}{
		"source":  in.fetcher.Name(),
		"items":   len(set.Items),
		"version": set.Version,
	}))
	return nil
}

// buildItem normalizes one entry. A panic anywhere in the pipeline degrades this item only.
func (in *Ingestor) buildItem(position int, entry models.FeedEntry) (item models.DisplayItem) {
	title := content.TruncateTitle(entry.Title)

	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("Recovered while building display item", logging.WithFields(map[string]interface{}{
				"position": position,
				"link":     entry.Link,
				"panic":    fmt.Sprint(r),
			}))
			metrics.RecordFailure(metrics.KindParse)
			item = models.DisplayItem{
				Position:    position,
				Title:       title,
				ImageSource: in.resolver.Placeholder(),
				Link:        entry.Link,
			}
		}
	}()

	body := entry.Description
	if strings.TrimSpace(body) == "" {
		body = entry.Content
	}
	text, image := in.extractor.Extract(body)
	if image == "" {
		image = entry.ImageURL
	}

	imageSource, err := in.resolver.ResolveChecked(image)
	if err != nil {
		in.logger.Warn("Unresolvable image reference", logging.WithFields(map[string]interface{}{
			"position": position,
			"error":    err.Error(),
		}))
		metrics.RecordFailure(metrics.KindResolution)
	}

	return models.DisplayItem{
		Position:    position,
		Title:       title,
		Content:     text,
		ImageSource: imageSource,
		PubDate:     in.pubDate(position, entry.Published),
		QRCode:      in.generateArtifact(entry.Link, position),
		Link:        entry.Link,
	}
}

func (in *Ingestor) pubDate(position int, raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	t, err := content.ParseDate(raw)
	if err != nil {
		in.logger.Debug("Keeping unparseable publish date", logging.WithFields(map[string]interface{}{
			"position": position,
			"date":     raw,
		}))
		metrics.RecordFailure(metrics.KindParse)
		return raw
	}
	return content.FormatDate(t)
}

// generateArtifact isolates artifact failures so a panicking generator only costs the code.
func (in *Ingestor) generateArtifact(link string, position int) (path string) {
	if in.artifacts == nil {
		return ""
	}
	defer func() {
		if r := recover(); r != nil {
			in.logger.Error("Recovered while generating artifact", logging.WithFields(map[string]interface{}{
				"position": position,
				"link":     link,
				"panic":    fmt.Sprint(r),
			}))
			metrics.RecordFailure(metrics.KindArtifact)
			path = ""
		}
	}()
	return in.artifacts.Generate(link, position)
}

// SnapshotNotice is announced to cache subscribers after every publish.
type SnapshotNotice struct {
	ID      string `json:"id"`
	Version uint64 `json:"version"`
	Items   int    `json:"items"`
}

func (in *Ingestor) publish(items []models.DisplayItem) models.DisplaySet {
	in.mu.Lock()
	set := models.DisplaySet{
		ID:          uuid.New().String(),
		Version:     in.set.Version + 1,
		Items:       items,
		RefreshedAt: in.now(),
	}
	in.set = set
	close(in.changed)
	in.changed = make(chan struct{})
	in.mu.Unlock()

	metrics.SetDisplayItems(len(items))

	if in.cache != nil {
		in.cache.SetWithTTL(SnapshotCacheKey, set, in.snapshotTTL)
		if n, ok := in.cache.(cache.Notifier); ok {
			notice := SnapshotNotice{ID: set.ID, Version: set.Version, Items: len(set.Items)}
			if err := n.Notify(SnapshotCacheKey, notice); err != nil {
				in.logger.Warn("Failed to announce display set", logging.WithField("error", err.Error()))
			}
		}
	}
	return set
}

// Snapshot returns a copy of the current display set.
func (in *Ingestor) Snapshot() models.DisplaySet {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.set.Clone()
}

// Len is the current set size without copying it.
func (in *Ingestor) Len() int {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return len(in.set.Items)
}

// Changed returns a channel that is closed the next time the display set is replaced.
func (in *Ingestor) Changed() <-chan struct{} {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.changed
}

// WarmFromCache installs the cached snapshot when no refresh has completed yet. It
// reports whether a snapshot was installed.
func (in *Ingestor) WarmFromCache() bool {
	cached, ok := in.loadFromCache()
	if !ok {
		return false
	}

	in.mu.Lock()
	if in.set.Version != 0 {
		in.mu.Unlock()
		return false
	}
	in.set = cached
	close(in.changed)
	in.changed = make(chan struct{})
	in.mu.Unlock()

	metrics.SetDisplayItems(len(cached.Items))
	in.logger.Info("Display set restored from cache", logging.WithFields(map[string]interface{}{
		"items":   len(cached.Items),
		"version": cached.Version,
	}))
	return true
}

func (in *Ingestor) loadFromCache() (models.DisplaySet, bool) {
	if in.cache == nil {
		return models.DisplaySet{}, false
	}

	cached, ok := in.cache.Get(SnapshotCacheKey)
	if !ok || cached == nil {
		return models.DisplaySet{}, false
	}

	if set, ok := cached.(models.DisplaySet); ok {
		return set.Clone(), set.Version > 0
	}

	raw, err := json.Marshal(cached)
	if err != nil {
		in.dropCached(err)
		return models.DisplaySet{}, false
	}

	var decoded models.DisplaySet
	if err := json.Unmarshal(raw, &decoded); err != nil {
		in.dropCached(err)
		return models.DisplaySet{}, false
	}
	if decoded.Version == 0 {
		in.dropCached(errors.New("snapshot has no version"))
		return models.DisplaySet{}, false
	}
	if decoded.Items == nil {
		decoded.Items = []models.DisplayItem{}
	}
	return decoded, true
}

// dropCached removes a cached snapshot that cannot be restored, so the next start does not
// trip over it again.
func (in *Ingestor) dropCached(reason error) {
	in.logger.Warn("Discarding unreadable cached display set", logging.WithField("error", reason.Error()))
	in.cache.Delete(SnapshotCacheKey)
}
