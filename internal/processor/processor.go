// Package processor orchestrates the handling of a single contract: cache
// lookup, analysis under the watchdog runner, and write-through of the
// result.
package processor

import (
	"context"
	"log/slog"
	"time"

	"github.com/gateway-fm/abicached/internal/analyzer"
	"github.com/gateway-fm/abicached/internal/cache"
	"github.com/gateway-fm/abicached/pkg/abi"
)

// Processor handles one contract at a time. Workers each own an independent
// Processor value; the only shared collaborators (cache, runner counters) are
// internally synchronized.
type Processor struct {
	cache          *cache.Cache
	runner         *analyzer.Runner
	skipResolving  bool
	extractStorage bool
	logger         *slog.Logger
}

// Config for creating a Processor.
type Config struct {
	Cache          *cache.Cache
	Runner         *analyzer.Runner
	SkipResolving  bool
	ExtractStorage bool
	Logger         *slog.Logger
}

// New creates a Processor.
func New(cfg Config) *Processor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cache:          cfg.Cache,
		runner:         cfg.Runner,
		skipResolving:  cfg.SkipResolving,
		extractStorage: cfg.ExtractStorage,
		logger:         logger,
	}
}

// Result is the outcome of processing one contract.
type Result struct {
	Address  string
	Cached   bool
	Success  bool
	Timeout  bool
	Err      string // Primary failure description, empty on success
	Duration time.Duration
}

// Process runs the full per-contract flow.
//
// An existing cache entry short-circuits everything; the stored value is
// never re-read or re-validated. A primary analysis failure is converted into
// a minimal error record and still written through, so the same input is
// never retried on a later run. A storage-phase failure is attached to the
// primary result without invalidating it. A cache-write failure is logged and
// the computed result is returned anyway.
func (p *Processor) Process(ctx context.Context, address, code string) Result {
	start := time.Now()

	if p.cache.Exists(code, p.skipResolving) {
		return Result{
			Address:  address,
			Cached:   true,
			Success:  true,
			Duration: time.Since(start),
		}
	}

	contract, err := p.runner.RunDecompile(ctx, code, p.skipResolving)

	var errMsg string
	if err != nil {
		// Negative memoization: the failure itself becomes the cached record.
		errMsg = err.Error()
		contract = abi.NewContract()
		contract.DecompileError = &errMsg
	} else if p.extractStorage {
		slots, serr := p.runner.RunStorage(code)
		if serr != nil {
			msg := serr.Error()
			contract.StorageError = &msg
		} else {
			contract.StorageLayout = slots
		}
	}

	if werr := p.cache.Put(code, p.skipResolving, contract); werr != nil {
		p.logger.Warn("failed to write result to cache",
			"address", address,
			"error", werr)
	}

	return Result{
		Address:  address,
		Success:  err == nil,
		Timeout:  analyzer.IsTimeout(err),
		Err:      errMsg,
		Duration: time.Since(start),
	}
}
