package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/johnrirwin/newspanel/internal/artifact"
	"github.com/johnrirwin/newspanel/internal/cache"
	"github.com/johnrirwin/newspanel/internal/config"
	"github.com/johnrirwin/newspanel/internal/content"
	"github.com/johnrirwin/newspanel/internal/httpapi"
	"github.com/johnrirwin/newspanel/internal/ingest"
	"github.com/johnrirwin/newspanel/internal/logging"
	"github.com/johnrirwin/newspanel/internal/mcp"
	"github.com/johnrirwin/newspanel/internal/ratelimit"
	"github.com/johnrirwin/newspanel/internal/rotation"
	"github.com/johnrirwin/newspanel/internal/sources"
)

// App holds all application dependencies
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	Cache      cache.Cache
	Ingestor   *ingest.Ingestor
	Scheduler  *rotation.Scheduler
	HTTPServer *httpapi.Server
	MCPServer  *mcp.Server

	// in and out carry the MCP stream; out also receives the display set in refresh-once
	// mode.
	in  io.Reader
	out io.Writer
}

// New creates and initializes a new App instance
func New(cfg *config.Config) (*App, error) {
	app := &App{Config: cfg, in: os.Stdin, out: os.Stdout}

	app.Logger = logging.New(logging.ParseLevel(cfg.Logging.Level))

	app.Cache = app.initCache()

	resolver, err := content.NewResolver(cfg.Feed.BaseURL, cfg.Feed.CorruptImagePrefix, cfg.Feed.PlaceholderImage)
	if err != nil {
		return nil, fmt.Errorf("image resolver: %w", err)
	}

	limiter := ratelimit.New(cfg.Feed.RateLimitDur)
	fetcher := sources.NewRSSFetcher(ratelimit.HostOf(cfg.Feed.URL), cfg.Feed.URL, limiter, sources.FetcherConfig{
		Timeout:   cfg.Feed.FetchTimeout,
		MaxItems:  0,
		UserAgent: cfg.Feed.UserAgent,
	})

	generator := artifact.NewQRGenerator(cfg.Artifacts.Dir, ingest.MaxItems, app.Logger)

	app.Ingestor = ingest.New(fetcher, content.NewExtractor(cfg.Feed.BylineMarkers), resolver, generator, app.Cache, app.Logger)
	app.Ingestor.SetSnapshotTTL(cfg.Cache.TTL)
	app.Ingestor.WarmFromCache()

	app.Scheduler = rotation.New(rotation.Config{
		RefreshInterval: cfg.Rotation.RefreshInterval,
		AdvanceInterval: cfg.Rotation.AdvanceInterval,
		StartupDelay:    cfg.Rotation.StartupDelay,
		SettleDelay:     cfg.Rotation.SettleDelay,
		AutoAdvance:     true,
	}, rotation.RealClock{}, app.Ingestor, app.Ingestor, app.Logger)

	app.HTTPServer = httpapi.New(app.Ingestor, app.Scheduler, httpapi.Options{
		ArtifactDir:         generator.Dir(),
		EnableManualRefresh: cfg.Server.EnableManualRefresh,
	}, app.Logger)

	app.MCPServer = mcp.NewServer(mcp.NewHandler(app.Ingestor, app.Scheduler, app.Logger), app.Logger)

	app.Logger.Info("Panel configured", logging.WithFields(map[string]interface{}{
		"feed":     cfg.Feed.URL,
		"base_url": resolver.Base(),
		"qr_dir":   generator.Dir(),
	}))

	return app, nil
}

// Run starts the application in the appropriate mode
func (a *App) Run(ctx context.Context) error {
	switch {
	case a.Config.Server.RefreshOnceMode:
		return a.runRefreshOnce(ctx)
	case a.Config.Server.MCPMode:
		return a.runMCPMode(ctx)
	default:
		return a.runPanel(ctx)
	}
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown(ctx context.Context) error {
	if a.Ingestor != nil {
		a.Ingestor.Close()
	}

	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}

	if a.HTTPServer != nil {
		if err := a.HTTPServer.Shutdown(ctx); err != nil {
			a.Logger.Error("HTTP server shutdown error", logging.WithField("error", err.Error()))
		}
	}

	if a.Cache != nil {
		if err := a.Cache.Close(); err != nil {
			a.Logger.Error("Cache close error", logging.WithField("error", err.Error()))
		}
	}

	return nil
}

func (a *App) initCache() cache.Cache {
	switch a.Config.Cache.Backend {
	case "redis":
		a.Logger.Info("Using Redis cache backend", logging.WithField("addr", a.Config.Cache.RedisAddr))
		redisCache, err := cache.NewRedis(cache.RedisConfig{
			Addr:   a.Config.Cache.RedisAddr,
			Prefix: a.Config.Cache.RedisPrefix,
		})
		if err != nil {
			a.Logger.Error("Failed to connect to Redis, falling back to memory cache", logging.WithField("error", err.Error()))
			return cache.NewMemory(0)
		}
		return redisCache
	default:
		a.Logger.Info("Using in-memory cache backend")
		return cache.NewMemory(0)
	}
}

func (a *App) runRefreshOnce(ctx context.Context) error {
	a.Logger.Info("Running single refresh")
	if err := a.Ingestor.Refresh(ctx); err != nil {
		return err
	}

	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(a.Ingestor.Snapshot())
}

func (a *App) runPanel(ctx context.Context) error {
	a.Scheduler.Start(ctx)
	go a.followDisplaySet(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.HTTPServer.Start(a.Config.Server.HTTPAddr)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (a *App) runMCPMode(ctx context.Context) error {
	a.Logger.Info("Starting MCP server in stdio mode")

	a.Scheduler.Start(ctx)
	go a.followDisplaySet(ctx)

	err := a.MCPServer.Run(ctx, a.in, a.out)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// followDisplaySet keeps the rotation index valid whenever the set is replaced, whoever
// triggered the refresh.
func (a *App) followDisplaySet(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.Ingestor.Changed():
			a.Scheduler.SyncSetSize()
		}
	}
}
