// Package config defines service configuration and how it is loaded.
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects "text" or "json" output.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":9080".
	Addr string `koanf:"addr"`

	// QueueSize bounds each ingest shard's queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of ingest shards, one worker each.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets how many batch ids are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// StoreDriver is memory, sqlite or postgres; StoreDSN is its data source.
	StoreDriver string `koanf:"store_driver"`
	StoreDSN    string `koanf:"store_dsn"`

	// MediaThreshold and TextThreshold are the visible fractions at which
	// media and text-only posts count as seen.
	MediaThreshold float64 `koanf:"media_threshold"`
	TextThreshold  float64 `koanf:"text_threshold"`

	// ChromeTopPx and ChromeBottomPx are the sticky header and footer
	// heights subtracted from the viewport.
	ChromeTopPx    float64 `koanf:"chrome_top_px"`
	ChromeBottomPx float64 `koanf:"chrome_bottom_px"`

	// DebugOverlay turns on the visibility overlay for sessions that do
	// not set it themselves.
	DebugOverlay bool `koanf:"debug_overlay"`

	// MaxImportRows caps one POST of historical rows.
	MaxImportRows int `koanf:"max_import_rows"`

	// SessionTTL is how long an idle session replica is kept before it is
	// dropped from memory. Submitted rows stay in the store.
	SessionTTL time.Duration `koanf:"session_ttl"`
}

// New creates a Config with defaults.
func New() *Config {
	return &Config{
		LogLevel:       "info",
		LogFormat:      "text",
		Addr:           ":9080",
		QueueSize:      1024,
		WorkerCount:    runtime.NumCPU(),
		DedupeSize:     50_000,
		StoreDriver:    "memory",
		MediaThreshold: 0.5,
		TextThreshold:  0.6,
		MaxImportRows:  10_000,
		SessionTTL:     30 * time.Minute,
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.WorkerCount < 1:
		return fmt.Errorf("%w: worker_count must be positive", ErrInvalidConfig)
	case c.DedupeSize < 0:
		return fmt.Errorf("%w: dedupe_size must not be negative", ErrInvalidConfig)
	case !fraction(c.MediaThreshold) || !fraction(c.TextThreshold):
		return fmt.Errorf("%w: thresholds must be in (0, 1]", ErrInvalidConfig)
	case c.ChromeTopPx < 0 || c.ChromeBottomPx < 0:
		return fmt.Errorf("%w: chrome insets must not be negative", ErrInvalidConfig)
	case c.MaxImportRows < 1:
		return fmt.Errorf("%w: max_import_rows must be positive", ErrInvalidConfig)
	case c.SessionTTL < time.Second:
		return fmt.Errorf("%w: session_ttl must be at least 1s", ErrInvalidConfig)
	}

	switch strings.ToLower(c.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: log_format %q", ErrInvalidConfig, c.LogFormat)
	}

	switch c.StoreDriver {
	case "memory":
	case "sqlite", "postgres":
		if c.StoreDSN == "" {
			return fmt.Errorf("%w: store_dsn is required for %s", ErrInvalidConfig, c.StoreDriver)
		}
		if c.StoreDriver == "sqlite" && (strings.Contains(c.StoreDSN, ":memory:") || strings.Contains(c.StoreDSN, "mode=memory")) {
			return fmt.Errorf("%w: store_dsn %q is in-memory; use store_driver memory", ErrInvalidConfig, c.StoreDSN)
		}
	default:
		return fmt.Errorf("%w: store_driver %q", ErrInvalidConfig, c.StoreDriver)
	}
	return nil
}

func fraction(f float64) bool { return f > 0 && f <= 1 }
