package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnrirwin/newspanel/internal/artifact"
	"github.com/johnrirwin/newspanel/internal/cache"
	"github.com/johnrirwin/newspanel/internal/content"
	"github.com/johnrirwin/newspanel/internal/models"
	"github.com/johnrirwin/newspanel/internal/sources"
	"github.com/johnrirwin/newspanel/internal/testutil"
)

type stubFetcher struct {
	mu      sync.Mutex
	entries []models.FeedEntry
	err     error
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (f *stubFetcher) Name() string { return "stub" }

func (f *stubFetcher) Fetch(ctx context.Context) ([]models.FeedEntry, error) {
	f.calls.Add(1)
	if f.started != nil {
		f.started <- struct{}{}
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	return f.entries, f.err
}

func (f *stubFetcher) lastCtxErr() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ctxErr
}

func (f *stubFetcher) set(entries []models.FeedEntry, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries, f.err = entries, err
}

type recordingGenerator struct {
	mu      sync.Mutex
	targets map[int]string
	panicOn string
}

func (g *recordingGenerator) Generate(target string, position int) string {
	if target == g.panicOn {
		panic("encoder exploded")
	}
	if target == "" {
		return ""
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.targets == nil {
		g.targets = make(map[int]string)
	}
	g.targets[position] = target
	return fmt.Sprintf("qrcodes/qr_%d.png", position)
}

func newResolver(t *testing.T) *content.Resolver {
	t.Helper()
	r, err := content.NewResolver("https://fct.ufg.br", "", "")
	require.NoError(t, err)
	return r
}

func newTestIngestor(t *testing.T, f sources.Fetcher, g ArtifactGenerator, c cache.Cache) *Ingestor {
	t.Helper()
	return New(f, content.NewExtractor(nil), newResolver(t), g, c, testutil.NullLogger())
}

func entries(n int) []models.FeedEntry {
	out := make([]models.FeedEntry, n)
	for i := range out {
		out[i] = models.FeedEntry{
			Title:       fmt.Sprintf("Notícia %d", i),
			Description: fmt.Sprintf(`<p><img src="/img/%d.jpg">Corpo %d</p>`, i, i),
			Link:        fmt.Sprintf("https://fct.ufg.br/n/%d", i),
			Published:   "Tue, 10 Sep 2024 10:00:00 -0300",
		}
	}
	return out
}

func TestRefresh_KeepsFirstFiveInFeedOrder(t *testing.T) {
	f := &stubFetcher{entries: entries(7)}
	g := &recordingGenerator{}
	in := newTestIngestor(t, f, g, nil)

	require.NoError(t, in.Refresh(context.Background()))

	items := in.Snapshot().Items
	require.Len(t, items, MaxItems)
	for i, item := range items {
		assert.Equal(t, i, item.Position)
		assert.Equal(t, fmt.Sprintf("Notícia %d", i), item.Title)
		assert.Equal(t, fmt.Sprintf("Corpo %d", i), item.Content)
		assert.Equal(t, fmt.Sprintf("https://fct.ufg.br/img/%d.jpg", i), item.ImageSource)
		assert.Equal(t, "10/09/2024", item.PubDate)
		assert.Equal(t, fmt.Sprintf("qrcodes/qr_%d.png", i), item.QRCode)
		assert.Equal(t, fmt.Sprintf("https://fct.ufg.br/n/%d", i), g.targets[i])
	}
	assert.Equal(t, uint64(1), in.Snapshot().Version)
	assert.Equal(t, MaxItems, in.Len())
}

func TestRefresh_FetchFailureKeepsPreviousSet(t *testing.T) {
	f := &stubFetcher{entries: entries(3)}
	in := newTestIngestor(t, f, &recordingGenerator{}, nil)
	require.NoError(t, in.Refresh(context.Background()))
	before := in.Snapshot()

	f.set(nil, errors.New("connection refused"))
	err := in.Refresh(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFetch)
	assert.Equal(t, before, in.Snapshot())
}

func TestRefresh_FirstFetchFailureLeavesEmptySet(t *testing.T) {
	f := &stubFetcher{err: errors.New("dns")}
	in := newTestIngestor(t, f, &recordingGenerator{}, nil)

	assert.ErrorIs(t, in.Refresh(context.Background()), ErrFetch)
	assert.Empty(t, in.Snapshot().Items)
	assert.NotNil(t, in.Snapshot().Items)
}

func TestRefresh_EntryWithoutDate(t *testing.T) {
	e := entries(1)
	e[0].Published = ""
	in := newTestIngestor(t, &stubFetcher{entries: e}, &recordingGenerator{}, nil)

	require.NoError(t, in.Refresh(context.Background()))
	assert.Equal(t, "", in.Snapshot().Items[0].PubDate)
}

func TestRefresh_UnparseableDateKeptVerbatim(t *testing.T) {
	e := entries(1)
	e[0].Published = "ontem à tarde"
	in := newTestIngestor(t, &stubFetcher{entries: e}, &recordingGenerator{}, nil)

	require.NoError(t, in.Refresh(context.Background()))
	assert.Equal(t, "ontem à tarde", in.Snapshot().Items[0].PubDate)
}

func TestRefresh_ArtifactPanicOnlyLosesCode(t *testing.T) {
	e := entries(3)
	e[1].Link = "javascript:boom"
	g := &recordingGenerator{panicOn: "javascript:boom"}
	in := newTestIngestor(t, &stubFetcher{entries: e}, g, nil)

	require.NoError(t, in.Refresh(context.Background()))

	items := in.Snapshot().Items
	require.Len(t, items, 3)
	assert.Empty(t, items[1].QRCode)
	assert.Equal(t, "Corpo 1", items[1].Content)
	assert.Equal(t, "qrcodes/qr_0.png", items[0].QRCode)
	assert.Equal(t, "qrcodes/qr_2.png", items[2].QRCode)
}

func TestRefresh_InvalidLinkWithRealGenerator(t *testing.T) {
	e := entries(2)
	e[0].Link = ""
	dir := filepath.Join(t.TempDir(), "qrcodes")
	g := artifact.NewQRGenerator(dir, artifact.DefaultSlots, testutil.NullLogger())
	in := newTestIngestor(t, &stubFetcher{entries: e}, g, nil)

	require.NoError(t, in.Refresh(context.Background()))

	items := in.Snapshot().Items
	assert.Empty(t, items[0].QRCode)
	assert.Equal(t, filepath.Join(dir, "qr_1.png"), items[1].QRCode)
	assert.FileExists(t, items[1].QRCode)
}

func TestRefresh_PipelinePanicDegradesItem(t *testing.T) {
	in := newTestIngestor(t, &stubFetcher{entries: entries(2)}, &recordingGenerator{}, nil)
	in.extractor = nil

	require.NoError(t, in.Refresh(context.Background()))

	for i, item := range in.Snapshot().Items {
		assert.Equal(t, i, item.Position)
		assert.Equal(t, fmt.Sprintf("Notícia %d", i), item.Title)
		assert.Equal(t, content.DefaultPlaceholder, item.ImageSource)
		assert.Empty(t, item.Content)
		assert.Empty(t, item.QRCode)
	}
}

func TestRefresh_ImageFallbacks(t *testing.T) {
	e := []models.FeedEntry{
		{Title: "double origin", Description: `<img src="http://fct.ufg.brhttps://cdn.example/x.jpg"><p>a</p>`},
		{Title: "entry image", Description: "<p>b</p>", ImageURL: "/uploads/b.png"},
		{Title: "none", Description: "<p>c</p>"},
		{Title: "encoded body", Content: `<p>d</p><img src="d.jpg">`},
	}
	in := newTestIngestor(t, &stubFetcher{entries: e}, &recordingGenerator{}, nil)

	require.NoError(t, in.Refresh(context.Background()))

	items := in.Snapshot().Items
	assert.Equal(t, "https://cdn.example/x.jpg", items[0].ImageSource)
	assert.Equal(t, "https://fct.ufg.br/uploads/b.png", items[1].ImageSource)
	assert.Equal(t, content.DefaultPlaceholder, items[2].ImageSource)
	assert.Equal(t, "d", items[3].Content)
	assert.Equal(t, "https://fct.ufg.br/d.jpg", items[3].ImageSource)
	for _, item := range items {
		assert.NotEmpty(t, item.ImageSource)
	}
}

func TestRefresh_ConcurrentCallersShareFetch(t *testing.T) {
	f := &stubFetcher{
		entries: entries(2),
		started: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	in := newTestIngestor(t, f, &recordingGenerator{}, nil)

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- in.Refresh(context.Background())
	}()
	<-f.started

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs <- in.Refresh(context.Background())
	}()
	time.Sleep(50 * time.Millisecond)
	close(f.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, uint64(1), in.Snapshot().Version)
}

func TestRefresh_CallerCancelDoesNotCancelSharedRefresh(t *testing.T) {
	f := &stubFetcher{
		entries: entries(2),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	in := newTestIngestor(t, f, &recordingGenerator{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() { first <- in.Refresh(ctx) }()
	<-f.started

	second := make(chan error, 1)
	go func() { second <- in.Refresh(context.Background()) }()

	cancel()
	assert.ErrorIs(t, <-first, context.Canceled)

	close(f.release)
	require.NoError(t, <-second)
	assert.NoError(t, f.lastCtxErr(), "the shared fetch must keep its own context")
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, uint64(1), in.Snapshot().Version)
}

func TestClose_CancelsRunningRefresh(t *testing.T) {
	f := &stubFetcher{
		entries: entries(1),
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	in := newTestIngestor(t, f, &recordingGenerator{}, nil)

	done := make(chan error, 1)
	go func() { done <- in.Refresh(context.Background()) }()
	<-f.started

	in.Close()
	close(f.release)
	<-done

	assert.ErrorIs(t, f.lastCtxErr(), context.Canceled)
}

func TestWarmFromCache_DropsUnreadableSnapshot(t *testing.T) {
	c := cache.NewMemory(time.Minute)
	defer c.Close()
	c.SetWithTTL(SnapshotCacheKey, map[string]interface{}{"version": "not a number"}, time.Hour)

	in := newTestIngestor(t, &stubFetcher{}, &recordingGenerator{}, c)
	assert.False(t, in.WarmFromCache())

	_, ok := c.Get(SnapshotCacheKey)
	assert.False(t, ok, "unreadable snapshot should be removed")
}

func TestChanged_ClosedOnReplacement(t *testing.T) {
	f := &stubFetcher{entries: entries(1)}
	in := newTestIngestor(t, f, &recordingGenerator{}, nil)

	ch := in.Changed()
	select {
	case <-ch:
		t.Fatal("Changed() closed before any refresh")
	default:
	}

	require.NoError(t, in.Refresh(context.Background()))

	select {
	case <-ch:
	default:
		t.Fatal("Changed() not closed after refresh")
	}
	assert.NotEqual(t, ch, in.Changed())
}

func TestSnapshot_IsACopy(t *testing.T) {
	in := newTestIngestor(t, &stubFetcher{entries: entries(2)}, &recordingGenerator{}, nil)
	require.NoError(t, in.Refresh(context.Background()))

	snap := in.Snapshot()
	snap.Items[0].Title = "mutated"

	assert.Equal(t, "Notícia 0", in.Snapshot().Items[0].Title)
}

func TestSnapshot_PublishedToCacheAndRestored(t *testing.T) {
	c := cache.NewMemory(time.Minute)
	defer c.Close()

	first := newTestIngestor(t, &stubFetcher{entries: entries(3)}, &recordingGenerator{}, c)
	require.NoError(t, first.Refresh(context.Background()))
	published := first.Snapshot()

	second := newTestIngestor(t, &stubFetcher{err: errors.New("offline")}, &recordingGenerator{}, c)
	assert.Equal(t, uint64(0), second.Snapshot().Version, "reads never consult the cache")
	require.True(t, second.WarmFromCache())
	assert.Equal(t, published, second.Snapshot())

	// A later refresh continues the version sequence.
	f := &stubFetcher{entries: entries(1)}
	third := newTestIngestor(t, f, &recordingGenerator{}, c)
	require.True(t, third.WarmFromCache())
	require.NoError(t, third.Refresh(context.Background()))
	assert.Equal(t, published.Version+1, third.Snapshot().Version)
}

func TestWarmFromCache_Redis(t *testing.T) {
	mr := testutil.NewMiniredis(t)
	c, err := cache.NewRedis(cache.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	first := newTestIngestor(t, &stubFetcher{entries: entries(2)}, &recordingGenerator{}, c)
	require.NoError(t, first.Refresh(context.Background()))
	want := first.Snapshot()

	second := newTestIngestor(t, &stubFetcher{}, &recordingGenerator{}, c)
	require.True(t, second.WarmFromCache())

	got := second.Snapshot()
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Version, got.Version)
	assert.Equal(t, want.Items, got.Items)
	assert.True(t, want.RefreshedAt.Equal(got.RefreshedAt))
}

func TestWarmFromCache_EmptyCache(t *testing.T) {
	c := cache.NewMemory(time.Minute)
	defer c.Close()

	in := newTestIngestor(t, &stubFetcher{}, &recordingGenerator{}, c)
	assert.False(t, in.WarmFromCache())
	assert.Equal(t, uint64(0), in.Snapshot().Version)
}

func TestRefresh_EndToEndFromFeed(t *testing.T) {
	srv := testutil.NewFeedServer(t, testutil.RSSFeed(
		testutil.RSSItem{
			Title:       "Semana de Engenharia",
			Link:        "https://fct.ufg.br/n/semana",
			Description: `<p>Abertura na segunda.</p><p>Texto: Assessoria</p>`,
			PubDate:     "Mon, 02 Sep 2024 08:00:00 -0300",
			ImageURL:    "/uploads/semana.jpg",
		},
	))

	fetcher := sources.NewRSSFetcher("fct", srv.URL, nil, sources.DefaultConfig())
	g := artifact.NewQRGenerator(t.TempDir(), artifact.DefaultSlots, testutil.NullLogger())
	in := newTestIngestor(t, fetcher, g, nil)

	require.NoError(t, in.Refresh(context.Background()))

	items := in.Snapshot().Items
	require.Len(t, items, 1)
	assert.Equal(t, "Abertura na segunda.", items[0].Content)
	assert.Equal(t, "https://fct.ufg.br/uploads/semana.jpg", items[0].ImageSource)
	assert.Equal(t, "02/09/2024", items[0].PubDate)
	assert.FileExists(t, items[0].QRCode)
}

func TestSetSnapshotTTL(t *testing.T) {
	mr := testutil.NewMiniredis(t)
	c, err := cache.NewRedis(cache.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	in := newTestIngestor(t, &stubFetcher{entries: entries(1)}, &recordingGenerator{}, c)
	in.SetSnapshotTTL(time.Hour)
	in.SetSnapshotTTL(0)
	require.NoError(t, in.Refresh(context.Background()))

	assert.Equal(t, time.Hour, mr.TTL("newspanel:"+SnapshotCacheKey))
}

func TestRefresh_AnnouncesSnapshotOnRedis(t *testing.T) {
	mr := testutil.NewMiniredis(t)
	c, err := cache.NewRedis(cache.RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sub := testutil.Subscribe(ctx, t, mr.Addr(), c.Channel(SnapshotCacheKey))

	in := newTestIngestor(t, &stubFetcher{entries: entries(3)}, &recordingGenerator{}, c)
	require.NoError(t, in.Refresh(context.Background()))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)

	var notice SnapshotNotice
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &notice))
	set := in.Snapshot()
	assert.Equal(t, SnapshotNotice{ID: set.ID, Version: set.Version, Items: 3}, notice)
}
