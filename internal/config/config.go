package config

import (
	"flag"
	"os"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Feed      FeedConfig
	Rotation  RotationConfig
	Artifacts ArtifactConfig
	Cache     CacheConfig
	Logging   LoggingConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	HTTPAddr            string
	MCPMode             bool
	EnableManualRefresh bool
	// RefreshOnceMode runs a single refresh, prints the display set and exits.
	RefreshOnceMode bool
}

// FeedConfig describes the upstream feed and how its entries are normalized
type FeedConfig struct {
	URL                string
	BaseURL            string
	CorruptImagePrefix string
	PlaceholderImage   string
	BylineMarkers      []string
	FetchTimeout       time.Duration
	UserAgent          string
	RateLimitDur       time.Duration
}

// RotationConfig holds the scheduler intervals
type RotationConfig struct {
	RefreshInterval time.Duration
	AdvanceInterval time.Duration
	StartupDelay    time.Duration
	SettleDelay     time.Duration
}

type ArtifactConfig struct {
	Dir string
}

// CacheConfig holds configuration for the snapshot cache
type CacheConfig struct {
	Backend     string // "memory" or "redis"
	TTL         time.Duration
	RedisAddr   string
	RedisPrefix string
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level string
}

// Load parses flags and environment variables to build configuration
func Load() *Config {
	cfg := &Config{}

	httpAddr := flag.String("http", ":8080", "HTTP server address")
	mcpMode := flag.Bool("mcp", false, "Serve the control tools over MCP stdio instead of HTTP")
	enableManualRefresh := flag.Bool("enable-manual-refresh", false, "Expose POST /api/refresh")
	refreshOnce := flag.Bool("refresh-once", false, "Refresh once, print the display set as JSON and exit")

	feedURL := flag.String("feed-url", "https://fct.ufg.br/feed", "RSS feed to display")
	baseURL := flag.String("base-url", "https://fct.ufg.br", "Origin used to resolve relative image references")
	corruptPrefix := flag.String("corrupt-image-prefix", "", "Prefix glued onto absolute image URLs by the CMS (default http://<base host>)")
	placeholder := flag.String("placeholder-image", "assets/placeholder.png", "Image shown when an entry has none")
	bylineMarkers := flag.String("byline-markers", "texto:,foto:", "Comma-separated paragraph markers that identify credit lines")
	fetchTimeout := flag.Duration("fetch-timeout", 30*time.Second, "Feed request timeout (0 disables)")
	userAgent := flag.String("user-agent", "NewsPanel/1.0", "User-Agent sent to the feed")
	rateLimitDur := flag.Duration("rate-limit", time.Second, "Minimum delay between requests to the feed host")

	refreshInterval := flag.Duration("refresh-interval", 300*time.Second, "How often the feed is refreshed")
	advanceInterval := flag.Duration("advance-interval", 10*time.Second, "How long each slide is shown")
	startupDelay := flag.Duration("startup-delay", 2*time.Second, "Delay before the first slide advance")
	settleDelay := flag.Duration("settle-delay", time.Second, "Quiet time after a display interruption before rotation restarts")

	qrDir := flag.String("qr-dir", "qrcodes", "Directory for generated QR code images")

	cacheBackend := flag.String("cache-backend", "memory", "Cache backend: memory or redis")
	cacheTTL := flag.Duration("cache-ttl", 36*time.Hour, "How long a published display set stays in the cache")
	redisAddr := flag.String("redis-addr", "localhost:6379", "Redis server address")
	redisPrefix := flag.String("redis-prefix", "newspanel:", "Key prefix for Redis entries")

	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")

	flag.Parse()

	applyEnvOverrides(
		httpAddr, mcpMode, enableManualRefresh, refreshOnce,
		feedURL, baseURL, corruptPrefix, placeholder, bylineMarkers, fetchTimeout, userAgent, rateLimitDur,
		refreshInterval, advanceInterval, startupDelay, settleDelay,
		qrDir, cacheBackend, cacheTTL, redisAddr, redisPrefix, logLevel,
	)

	cfg.Server = ServerConfig{
		HTTPAddr:            *httpAddr,
		MCPMode:             *mcpMode,
		EnableManualRefresh: *enableManualRefresh,
		RefreshOnceMode:     *refreshOnce,
	}

	cfg.Feed = FeedConfig{
		URL:                *feedURL,
		BaseURL:            *baseURL,
		CorruptImagePrefix: *corruptPrefix,
		PlaceholderImage:   *placeholder,
		BylineMarkers:      splitList(*bylineMarkers),
		FetchTimeout:       *fetchTimeout,
		UserAgent:          *userAgent,
		RateLimitDur:       *rateLimitDur,
	}

	cfg.Rotation = RotationConfig{
		RefreshInterval: *refreshInterval,
		AdvanceInterval: *advanceInterval,
		StartupDelay:    *startupDelay,
		SettleDelay:     *settleDelay,
	}

	cfg.Artifacts = ArtifactConfig{
		Dir: *qrDir,
	}

	cfg.Cache = CacheConfig{
		Backend:     *cacheBackend,
		TTL:         *cacheTTL,
		RedisAddr:   *redisAddr,
		RedisPrefix: *redisPrefix,
	}

	cfg.Logging = LoggingConfig{
		Level: *logLevel,
	}

	return cfg
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envBool(key string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1":
		return true, true
	case "false", "0":
		return false, true
	}
	return false, false
}

func envDuration(key string, target *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			*target = d
		}
	}
}

func envString(key string, target *string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}

func applyEnvOverrides(
	httpAddr *string,
	mcpMode *bool,
	enableManualRefresh *bool,
	refreshOnce *bool,
	feedURL *string,
	baseURL *string,
	corruptPrefix *string,
	placeholder *string,
	bylineMarkers *string,
	fetchTimeout *time.Duration,
	userAgent *string,
	rateLimitDur *time.Duration,
	refreshInterval *time.Duration,
	advanceInterval *time.Duration,
	startupDelay *time.Duration,
	settleDelay *time.Duration,
	qrDir *string,
	cacheBackend *string,
	cacheTTL *time.Duration,
	redisAddr *string,
	redisPrefix *string,
	logLevel *string,
) {
	envString("HTTP_ADDR", httpAddr)
	if v, ok := envBool("MCP_MODE"); ok && v {
		*mcpMode = true
	}
	if v, ok := envBool("ENABLE_MANUAL_REFRESH"); ok {
		*enableManualRefresh = v
	}
	if v, ok := envBool("REFRESH_ONCE_MODE"); ok && v {
		*refreshOnce = true
	}

	envString("FEED_URL", feedURL)
	envString("BASE_URL", baseURL)
	envString("CORRUPT_IMAGE_PREFIX", corruptPrefix)
	envString("PLACEHOLDER_IMAGE", placeholder)
	envString("BYLINE_MARKERS", bylineMarkers)
	envDuration("FETCH_TIMEOUT", fetchTimeout)
	envString("USER_AGENT", userAgent)
	envDuration("RATE_LIMIT", rateLimitDur)

	envDuration("REFRESH_INTERVAL", refreshInterval)
	envDuration("ADVANCE_INTERVAL", advanceInterval)
	envDuration("STARTUP_DELAY", startupDelay)
	envDuration("SETTLE_DELAY", settleDelay)

	envString("QR_DIR", qrDir)

	envString("CACHE_BACKEND", cacheBackend)
	envDuration("CACHE_TTL", cacheTTL)
	envString("REDIS_ADDR", redisAddr)
	envString("REDIS_PREFIX", redisPrefix)

	envString("LOG_LEVEL", logLevel)
}
