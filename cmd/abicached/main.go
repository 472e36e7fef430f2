// Command abicached builds a persistent ABI cache from parquet dumps of
// contract bytecode.
package main

import (
	"context"
	"encoding/hex"
	stdjson "encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gateway-fm/abicached/internal/analyzer"
	"github.com/gateway-fm/abicached/internal/cache"
	"github.com/gateway-fm/abicached/internal/config"
	"github.com/gateway-fm/abicached/internal/processor"
	"github.com/gateway-fm/abicached/internal/source"
	"github.com/gateway-fm/abicached/internal/stats"
	"github.com/gateway-fm/abicached/internal/storage"
	"github.com/gateway-fm/abicached/internal/stream"
	"github.com/gateway-fm/abicached/pkg/abi"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	// Setup logger
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	fmt.Println(text.FgCyan.Sprint("=== ABI Cache Builder ==="))

	if cfg.History > 0 {
		if err := printHistory(cfg, logger); err != nil {
			logger.Error("failed to read run history", "error", err)
			os.Exit(1)
		}
		return
	}

	// Metrics + pprof endpoint (localhost by default)
	var prom *stats.PromMetrics
	if cfg.MetricsListen != "" {
		prom = stats.NewPromMetrics(prometheus.DefaultRegisterer)
		http.Handle("/metrics", promhttp.Handler())
		go func() {
			logger.Info("metrics listening", "addr", cfg.MetricsListen)
			if err := http.ListenAndServe(cfg.MetricsListen, nil); err != nil {
				logger.Error("metrics server failed", "error", err)
			}
		}()
	}

	// Opening the cache is the one fatal infrastructure step; after this,
	// cache trouble degrades to recomputation.
	store, err := cache.Open(cache.Config{Dir: cfg.CacheDir, Logger: logger})
	if err != nil {
		logger.Error("failed to open cache", "error", err, "dir", cfg.CacheDir)
		os.Exit(1)
	}
	defer store.Close()

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir, _ = cache.DefaultDir()
	}
	logger.Info("cache open", "dir", cacheDir)

	if cfg.InspectCache {
		if err := inspectCache(cfg, store, logger); err != nil {
			logger.Error("cache inspection failed", "error", err)
			os.Exit(1)
		}
		return
	}

	if cfg.ClearCache {
		fmt.Println(text.FgYellow.Sprint("Clearing cache..."))
		if err := store.Clear(); err != nil {
			logger.Error("failed to clear cache", "error", err)
			os.Exit(1)
		}
		fmt.Println(text.FgGreen.Sprint("Cache cleared"))
		if cfg.SourceDir == "" {
			return
		}
	}

	if err := runBatch(cfg, store, prom, logger); err != nil {
		logger.Error("batch failed", "error", err)
		os.Exit(1)
	}
}

func runBatch(cfg *config.Config, store *cache.Cache, prom *stats.PromMetrics, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st := stats.New(prom)

	abandoned := new(atomic.Int64)
	runner := analyzer.NewRunner(analyzer.RunnerConfig{
		Decompiler: analyzer.DispatchDecompiler{},
		Extractor:  analyzer.SlotScanner{},
		Timeout:    cfg.Timeout,
		Abandoned:  abandoned,
		Logger:     logger,
	})

	sp := stream.New(stream.Config{
		Cache:  store,
		Stats:  st,
		Source: source.ParquetSource{},
		NewProcessor: func() *processor.Processor {
			return processor.New(processor.Config{
				Cache:          store,
				Runner:         runner,
				SkipResolving:  cfg.SkipResolving,
				ExtractStorage: cfg.ExtractStorage,
				Logger:         logger,
			})
		},
		Workers:       cfg.Workers,
		QueueSize:     cfg.QueueSize,
		SeenLimit:     cfg.SeenLimit,
		Interval:      cfg.UpdateInterval,
		SkipResolving: cfg.SkipResolving,
		ShowProgress:  cfg.ShowProgress,
		Prom:          prom,
		Logger:        logger,
	})

	// Run history is best-effort: a broken history database must never stop
	// a batch.
	var history storage.Storage
	if hs, err := storage.NewSQLiteStorage(cfg.DatabasePath); err != nil {
		logger.Warn("run history unavailable", "error", err, "path", cfg.DatabasePath)
	} else {
		history = hs
		defer history.Close()
	}

	run := &storage.Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		SourceDir: cfg.SourceDir,
		Workers:   cfg.Workers,
	}
	if cfgJSON, err := stdjson.Marshal(cfg); err == nil {
		run.Config = string(cfgJSON)
	}
	if history != nil {
		if err := history.CreateRun(ctx, run); err != nil {
			logger.Warn("failed to record run start", "error", err)
		}
	}

	if prom != nil {
		mirrorCtx, stopMirror := context.WithCancel(ctx)
		defer stopMirror()
		go func() {
			ticker := time.NewTicker(cfg.UpdateInterval)
			defer ticker.Stop()
			for {
				select {
				case <-mirrorCtx.Done():
					return
				case <-ticker.C:
					publishCacheStats(prom, store.Stats())
				}
			}
		}()
	}

	logger.Info("processing", "workers", cfg.Workers,
		"timeout", cfg.Timeout,
		"skip_resolving", cfg.SkipResolving,
		"extract_storage", cfg.ExtractStorage)

	start := time.Now()
	runErr := sp.Run(ctx, cfg.SourceDir)

	snap := st.GetSnapshot()
	run.Processed = snap.Processed
	run.Cached = snap.Cached
	run.Successes = snap.Successes
	run.Errors = snap.Errors
	run.Timeouts = snap.Timeouts
	run.Abandoned = abandoned.Load()
	run.DurationMs = time.Since(start).Milliseconds()
	if snap.Elapsed > 0 {
		run.Throughput = float64(snap.Processed) / snap.Elapsed.Seconds()
	}
	run.Status = "completed"
	if runErr != nil {
		run.Status = "error"
		run.ErrorMessage = runErr.Error()
	}
	if history != nil {
		if err := history.CompleteRun(context.Background(), run); err != nil {
			logger.Warn("failed to record run completion", "error", err)
		}
	}

	if runErr != nil {
		return runErr
	}

	fmt.Println(text.FgGreen.Sprint(st.FinalSummary()))
	fmt.Println(store.Summary())

	if prom != nil {
		prom.AbandonedAnalyses.Set(float64(abandoned.Load()))
		publishCacheStats(prom, store.Stats())
	}
	if n := abandoned.Load(); n > 0 {
		// Each abandoned extraction is a leaked goroutine; sustained growth
		// under timeouts is a resource risk worth a loud warning.
		fmt.Println(text.FgYellow.Sprintf("WARNING: %d analyses were abandoned due to timeouts", n))
	}

	fmt.Println(text.FgGreen.Sprint("Cache building complete"))
	return nil
}

func publishCacheStats(prom *stats.PromMetrics, s cache.Stats) {
	prom.CacheOps.WithLabelValues("hit").Set(float64(s.Hits))
	prom.CacheOps.WithLabelValues("miss").Set(float64(s.Misses))
	prom.CacheOps.WithLabelValues("write").Set(float64(s.Writes))
	prom.CacheOps.WithLabelValues("error").Set(float64(s.Errors))
}

// inspectCache opens the cache read-only-ish and reports what a batch would
// see, without processing anything.
func inspectCache(cfg *config.Config, store *cache.Cache, logger *slog.Logger) error {
	n, err := store.Len()
	if err != nil {
		return err
	}
	fmt.Printf("Entries: %d\n", n)

	if cfg.SourceDir != "" {
		src := source.ParquetSource{}
		files, err := src.Discover(cfg.SourceDir)
		if err != nil {
			logger.Warn("no sources to probe", "error", err)
		} else {
			contracts, err := src.ReadContracts(files[0])
			if err != nil {
				return err
			}
			if len(contracts) > 0 {
				c := contracts[0]
				key := abi.CacheKey(c.Code, cfg.SkipResolving)
				fmt.Printf("Probe contract: %s\n", c.Address)
				fmt.Printf("  code length:  %d\n", len(c.Code))
				fmt.Printf("  cache key:    %s\n", hex.EncodeToString(key[:32])+string(key[32:]))
				fmt.Printf("  exists:       %v\n", store.Exists(c.Code, cfg.SkipResolving))
			}
		}
	}

	fmt.Println(store.Summary())
	return nil
}

// printHistory renders the most recent recorded runs.
func printHistory(cfg *config.Config, logger *slog.Logger) error {
	history, err := storage.NewSQLiteStorage(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer history.Close()

	runs, err := history.ListRuns(context.Background(), cfg.History)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No recorded runs")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Started", "Status", "Processed", "Cached", "Success", "Errors", "Timeouts", "Abandoned", "Rate"})
	for _, r := range runs {
		t.AppendRow(table.Row{
			r.StartedAt.Format(time.RFC3339),
			r.Status,
			r.Processed,
			r.Cached,
			r.Successes,
			r.Errors,
			r.Timeouts,
			r.Abandoned,
			fmt.Sprintf("%.1f/s", r.Throughput),
		})
	}
	t.Render()
	return nil
}
