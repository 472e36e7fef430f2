package analyzer

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gateway-fm/abicached/pkg/abi"
)

// DefaultGrace is how long the runner waits for a cancelled storage
// extraction to exit voluntarily before abandoning its goroutine.
const DefaultGrace = 100 * time.Millisecond

// Runner executes analysis calls under hard deadlines.
//
// The two phases have different cancellability and get different disciplines:
// decompilation is cheap to abandon, so it runs under a context deadline and
// its goroutine is simply left behind on expiry; storage extraction cannot be
// interrupted mid-step, so it runs behind a polled CancelFlag with a grace
// period, and an unresponsive extraction is abandoned and counted.
type Runner struct {
	decompiler Decompiler
	extractor  StorageExtractor
	timeout    time.Duration
	grace      time.Duration
	abandoned  *atomic.Int64
	logger     *slog.Logger
}

// RunnerConfig for creating a Runner.
type RunnerConfig struct {
	Decompiler Decompiler
	Extractor  StorageExtractor
	Timeout    time.Duration // Per-phase deadline
	Grace      time.Duration // Post-cancel wait before abandonment (default: DefaultGrace)
	Abandoned  *atomic.Int64 // Shared abandonment counter (required, injected by the caller)
	Logger     *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg RunnerConfig) *Runner {
	grace := cfg.Grace
	if grace <= 0 {
		grace = DefaultGrace
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	abandoned := cfg.Abandoned
	if abandoned == nil {
		abandoned = new(atomic.Int64)
	}

	return &Runner{
		decompiler: cfg.Decompiler,
		extractor:  cfg.Extractor,
		timeout:    cfg.Timeout,
		grace:      grace,
		abandoned:  abandoned,
		logger:     logger,
	}
}

type decompileOutcome struct {
	contract *abi.Contract
	err      error
}

// RunDecompile executes the cooperative phase under the configured deadline.
// On expiry the in-flight call is dropped and a TimeoutError is returned; a
// panic inside the decompiler is converted to a FaultError.
func (r *Runner) RunDecompile(ctx context.Context, bytecode string, skipResolving bool) (*abi.Contract, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	// Buffered so an abandoned call can still deliver and exit.
	ch := make(chan decompileOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- decompileOutcome{err: &FaultError{Phase: PhaseDecompile, Msg: fmt.Sprint(p)}}
			}
		}()
		contract, err := r.decompiler.Decompile(ctx, bytecode, skipResolving)
		ch <- decompileOutcome{contract: contract, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil {
			if ctx.Err() != nil {
				return nil, &TimeoutError{Phase: PhaseDecompile, After: r.timeout}
			}
			return nil, out.err
		}
		return out.contract, nil
	case <-ctx.Done():
		return nil, &TimeoutError{Phase: PhaseDecompile, After: r.timeout}
	}
}

type storageOutcome struct {
	slots []abi.StorageSlot
	err   error
}

// RunStorage executes the non-cooperative phase on its own goroutine.
//
// The extractor polls the shared cancel flag. On deadline the flag is set and
// the runner waits one grace period for a voluntary exit; past that the
// goroutine is abandoned: the abandonment counter is incremented and the call
// fails with a TimeoutError. The abandoned goroutine shares no mutable state
// beyond the flag and its buffered result channel, so leaking it consumes a
// goroutine slot, nothing more.
func (r *Runner) RunStorage(bytecode string) ([]abi.StorageSlot, error) {
	clean := strings.TrimPrefix(bytecode, "0x")
	code, err := hex.DecodeString(clean)
	if err != nil {
		return nil, &MalformedError{Msg: err.Error()}
	}
	if len(code) == 0 {
		return nil, &MalformedError{Msg: "empty bytecode after decoding"}
	}

	flag := &CancelFlag{}
	ch := make(chan storageOutcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				ch <- storageOutcome{err: &FaultError{Phase: PhaseStorage, Msg: fmt.Sprint(p)}}
			}
		}()
		slots, err := r.extractor.ExtractLayout(code, flag)
		ch <- storageOutcome{slots: slots, err: err}
	}()

	select {
	case out := <-ch:
		return r.storageResult(out)
	case <-time.After(r.timeout):
	}

	// Deadline passed: request a voluntary stop and give it one grace period.
	flag.Cancel()
	select {
	case out := <-ch:
		return r.storageResult(out)
	case <-time.After(r.grace):
		r.abandoned.Add(1)
		r.logger.Warn("storage extraction unresponsive, abandoning goroutine",
			"timeout", r.timeout,
			"abandoned_total", r.abandoned.Load())
		return nil, &TimeoutError{Phase: PhaseStorage, After: r.timeout}
	}
}

func (r *Runner) storageResult(out storageOutcome) ([]abi.StorageSlot, error) {
	if out.err != nil {
		// A stop observed through the flag is a deadline failure, not a fault.
		if errors.Is(out.err, ErrStopped) {
			return nil, &TimeoutError{Phase: PhaseStorage, After: r.timeout}
		}
		return nil, out.err
	}
	return out.slots, nil
}

// Abandoned returns the total number of abandoned storage extractions.
func (r *Runner) Abandoned() int64 {
	return r.abandoned.Load()
}
