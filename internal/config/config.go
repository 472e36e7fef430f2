// Package config handles configuration loading and validation.
package config

import (
	"flag"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"time"
)

// Config holds cache builder configuration.
type Config struct {
	SourceDir      string        // Directory containing parquet source files
	CacheDir       string        // Cache directory ("" = platform default)
	Workers        int           // Worker pool size
	Timeout        time.Duration // Per-item analysis timeout
	SkipResolving  bool          // Skip signature resolution (mode tag)
	ExtractStorage bool          // Run the storage-layout phase
	UpdateInterval time.Duration // Progress update interval
	QueueSize      int           // Bounded work queue capacity
	SeenLimit      int           // In-run dedup set clear threshold
	MetricsListen  string        // Prometheus/pprof listen address ("" = disabled)
	DatabasePath   string        // SQLite run-history database path
	LogLevel       string
	ShowProgress   bool

	// Mode switches
	InspectCache bool // Inspect the cache without processing
	ClearCache   bool // Clear the cache before processing
	History      int  // Print the last N recorded runs and exit (0 = off)
}

// Defaults
const (
	DefaultSourceDir      = "parquets"
	DefaultTimeout        = 25 * time.Second
	DefaultSkipResolving  = true
	DefaultExtractStorage = true
	DefaultUpdateInterval = 500 * time.Millisecond
	DefaultQueueSize      = 10000
	DefaultSeenLimit      = 1_000_000
	DefaultMetricsListen  = "localhost:6061"
	DefaultDatabasePath   = "./data/abicached.db"
	DefaultLogLevel       = "info"
)

// Load reads configuration from command-line flags with environment variable
// fallbacks.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("abicached", flag.ContinueOnError)

	cfg := &Config{}
	fs.StringVar(&cfg.SourceDir, "source-dir", getEnvOrDefault("SOURCE_DIR", DefaultSourceDir), "Directory containing parquet files")
	fs.StringVar(&cfg.CacheDir, "cache-dir", os.Getenv("ABICACHED_CACHE_DIR"), "Cache directory (default: platform cache dir)")
	fs.IntVar(&cfg.Workers, "workers", getEnvIntOrDefault("WORKERS", runtime.NumCPU()), "Number of worker goroutines")
	fs.DurationVar(&cfg.Timeout, "timeout", DefaultTimeout, "Per-contract analysis timeout")
	fs.BoolVar(&cfg.SkipResolving, "skip-resolving", DefaultSkipResolving, "Skip resolving function signatures")
	fs.BoolVar(&cfg.ExtractStorage, "extract-storage", DefaultExtractStorage, "Extract storage layout (slower but more complete)")
	fs.DurationVar(&cfg.UpdateInterval, "update-interval", DefaultUpdateInterval, "Progress display update interval")
	fs.IntVar(&cfg.QueueSize, "queue-size", DefaultQueueSize, "Work queue capacity (ingestion blocks when full)")
	fs.IntVar(&cfg.SeenLimit, "seen-limit", DefaultSeenLimit, "Clear the in-run dedup set past this many entries (memory/recompute trade-off)")
	fs.StringVar(&cfg.MetricsListen, "metrics-listen", getEnvOrDefault("METRICS_LISTEN", DefaultMetricsListen), "Prometheus metrics and pprof listen address (empty to disable)")
	fs.StringVar(&cfg.DatabasePath, "database", getEnvOrDefault("DATABASE_PATH", DefaultDatabasePath), "SQLite run-history database path")
	fs.StringVar(&cfg.LogLevel, "log-level", getEnvOrDefault("LOG_LEVEL", DefaultLogLevel), "Log level (debug, info, warn, error)")
	fs.BoolVar(&cfg.ShowProgress, "progress", true, "Render progress trackers")
	fs.BoolVar(&cfg.InspectCache, "inspect-cache", false, "Inspect cache state without processing")
	fs.BoolVar(&cfg.ClearCache, "clear-cache", false, "Clear cache before processing")
	fs.IntVar(&cfg.History, "history", 0, "Print the last N recorded runs and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SourceDir == "" && !c.InspectCache && !c.ClearCache && c.History == 0 {
		return fmt.Errorf("source directory is required")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("queue size must be positive")
	}
	if c.SeenLimit <= 0 {
		return fmt.Errorf("seen limit must be positive")
	}
	return nil
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
