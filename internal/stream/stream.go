// Package stream drives the whole batch: source discovery, a deduplicating
// ingestion goroutine feeding a bounded queue, and a fixed-size worker pool
// draining it through the contract processor.
package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/progress"

	"github.com/gateway-fm/abicached/internal/processor"
	"github.com/gateway-fm/abicached/internal/source"
	"github.com/gateway-fm/abicached/internal/stats"
)

// Defaults for the pipeline tunables.
const (
	DefaultQueueSize = 10000
	// DefaultSeenLimit bounds the in-run dedup set. Clearing it past this
	// size trades perfect in-run dedup for bounded memory: a re-seen
	// bytecode is caught by the cache-existence check on its next attempt
	// instead. Deliberate and tunable, see Config.SeenLimit.
	DefaultSeenLimit      = 1_000_000
	DefaultUpdateInterval = 500 * time.Millisecond
)

// StreamProcessor owns one batch run.
type StreamProcessor struct {
	cache        existsChecker
	stats        *stats.Stats
	src          source.Source
	newProcessor func() *processor.Processor
	workers      int
	queueSize    int
	seenLimit    int
	interval     time.Duration
	skipResolve  bool
	showProgress bool
	prom         *stats.PromMetrics
	logger       *slog.Logger

	unique      stats.UCounter
	duplicates  stats.UCounter
	cacheSkips  stats.UCounter
	failedFiles stats.UCounter
}

// existsChecker is the slice of the cache the ingestion path needs.
type existsChecker interface {
	Exists(bytecode string, skipResolving bool) bool
}

// Config for creating a StreamProcessor.
type Config struct {
	Cache         existsChecker
	Stats         *stats.Stats
	Source        source.Source
	NewProcessor  func() *processor.Processor // Called once per worker
	Workers       int
	QueueSize     int           // Bounded queue capacity (default: DefaultQueueSize)
	SeenLimit     int           // In-run dedup set clear threshold (default: DefaultSeenLimit)
	Interval      time.Duration // Progress update interval (default: DefaultUpdateInterval)
	SkipResolving bool
	ShowProgress  bool // Render progress trackers (disable for non-TTY runs)
	Prom          *stats.PromMetrics
	Logger        *slog.Logger
}

// New creates a StreamProcessor.
func New(cfg Config) *StreamProcessor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	seenLimit := cfg.SeenLimit
	if seenLimit <= 0 {
		seenLimit = DefaultSeenLimit
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StreamProcessor{
		cache:        cfg.Cache,
		stats:        cfg.Stats,
		src:          cfg.Source,
		newProcessor: cfg.NewProcessor,
		workers:      cfg.Workers,
		queueSize:    queueSize,
		seenLimit:    seenLimit,
		interval:     interval,
		skipResolve:  cfg.SkipResolving,
		showProgress: cfg.ShowProgress,
		prom:         cfg.Prom,
		logger:       logger,
	}
}

// Run processes every source file under dir to completion: discovery, then
// streaming ingestion, then draining the queue, then joining the ingestion
// goroutine. Per-item failures never abort the batch; only discovery
// failures are returned.
func (s *StreamProcessor) Run(ctx context.Context, dir string) error {
	files, err := s.src.Discover(dir)
	if err != nil {
		return fmt.Errorf("discover sources: %w", err)
	}
	s.logger.Info("found source files", "count", len(files), "dir", dir)

	var pw progress.Writer
	var fileTracker, contractTracker *progress.Tracker
	if s.showProgress {
		pw = progress.NewWriter()
		pw.SetUpdateFrequency(s.interval)
		pw.SetTrackerLength(40)
		fileTracker = &progress.Tracker{Message: "Files", Total: int64(len(files))}
		contractTracker = &progress.Tracker{Message: "Contracts"}
		pw.AppendTracker(fileTracker)
		pw.AppendTracker(contractTracker)
		go pw.Render()
		defer pw.Stop()
	}

	queue := make(chan source.Contract, s.queueSize)

	ingestDone := make(chan struct{})
	go func() {
		defer close(ingestDone)
		defer close(queue)
		s.ingest(ctx, files, queue, fileTracker, contractTracker)
	}()

	// Periodic progress line and queue-depth gauge while draining.
	reportCtx, stopReports := context.WithCancel(ctx)
	var reportWG sync.WaitGroup
	reportWG.Add(1)
	go func() {
		defer reportWG.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-reportCtx.Done():
				return
			case <-ticker.C:
				if s.prom != nil {
					s.prom.QueueDepth.Set(float64(len(queue)))
				}
				if !s.showProgress {
					s.logger.Info(s.stats.Summary())
				}
			}
		}
	}()

	var wg sync.WaitGroup
	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.drain(ctx, queue, contractTracker)
		}()
	}
	wg.Wait()

	<-ingestDone
	stopReports()
	reportWG.Wait()

	if s.prom != nil {
		s.prom.QueueDepth.Set(0)
	}

	s.logger.Info("ingestion finished",
		"files", len(files),
		"failed_files", s.failedFiles.Load(),
		"unique", s.unique.Load(),
		"duplicates", s.duplicates.Load(),
		"already_cached", s.cacheSkips.Load())

	return nil
}

// ingest is the single-threaded streaming phase: it reads source files in
// order and pushes unique, uncached contracts onto the bounded queue. The
// queue send blocks when workers fall behind; that backpressure is the only
// rate coupling between ingestion and processing.
func (s *StreamProcessor) ingest(ctx context.Context, files []string, queue chan<- source.Contract, fileTracker, contractTracker *progress.Tracker) {
	seen := make(map[string]struct{})
	var trackerTotal int64

	for _, path := range files {
		if ctx.Err() != nil {
			return
		}

		contracts, err := s.src.ReadContracts(path)
		if err != nil {
			s.failedFiles.Inc()
			s.logger.Warn("failed to read source file", "path", path, "error", err)
			if fileTracker != nil {
				fileTracker.Increment(1)
			}
			continue
		}

		if contractTracker != nil {
			trackerTotal += int64(len(contracts))
			contractTracker.UpdateTotal(trackerTotal)
		}

		for _, c := range contracts {
			if _, dup := seen[c.Code]; dup {
				s.duplicates.Inc()
				s.recordDrop(contractTracker)
				continue
			}
			seen[c.Code] = struct{}{}

			// In-run duplicates are gone; everything past this point is an
			// expected processing outcome.
			s.stats.AddTotal(1)

			if s.cache.Exists(c.Code, s.skipResolve) {
				s.cacheSkips.Inc()
				s.stats.RecordResult(true, true, false, 0)
				if contractTracker != nil {
					contractTracker.Increment(1)
				}
				continue
			}

			s.unique.Inc()
			select {
			case queue <- c:
			case <-ctx.Done():
				return
			}
		}

		if fileTracker != nil {
			fileTracker.Increment(1)
		}

		// Bound the dedup set; long-term dedup correctness still holds via
		// the cache-existence check.
		if len(seen) > s.seenLimit {
			s.logger.Debug("clearing seen-bytecode set", "entries", len(seen))
			seen = make(map[string]struct{})
		}
	}
}

// recordDrop accounts for an item that never reaches a worker. In-run
// duplicates are not processing outcomes, so they bump only the progress
// display, not Stats.
func (s *StreamProcessor) recordDrop(contractTracker *progress.Tracker) {
	if contractTracker != nil {
		contractTracker.Increment(1)
	}
}

// drain is one worker: it owns an independent Processor and consumes the
// queue until it closes.
func (s *StreamProcessor) drain(ctx context.Context, queue <-chan source.Contract, contractTracker *progress.Tracker) {
	proc := s.newProcessor()

	for item := range queue {
		result := proc.Process(ctx, item.Address, item.Code)
		s.stats.RecordResult(result.Cached, result.Success, result.Timeout, result.Duration)
		if contractTracker != nil {
			contractTracker.Increment(1)
		}

		if result.Err != "" {
			s.logger.Debug("contract analysis failed",
				"address", shortAddr(result.Address),
				"error", result.Err)
		}
	}
}

func shortAddr(addr string) string {
	if len(addr) > 10 {
		return addr[:10]
	}
	return addr
}
