// Package stats aggregates batch-processing outcomes with lock-free counters
// and renders progress and final summaries.
package stats

import (
	"fmt"
	"time"
)

// Stats holds process-lifetime counters for one batch run. All mutation goes
// through RecordResult (called exactly once per completed item) plus the
// total-count setters used by ingestion. Reads may race writes; summaries
// only need a consistent-enough snapshot, so no cross-counter atomicity is
// provided.
type Stats struct {
	startTime time.Time

	totalContracts UCounter
	processed      UCounter
	cached         UCounter
	successes      UCounter
	errors         UCounter
	timeouts       UCounter

	// Cumulative per-item processing time in microseconds.
	processingMicros UCounter

	prom *PromMetrics
}

// New creates a Stats aggregator. prom may be nil when metrics exposure is
// disabled.
func New(prom *PromMetrics) *Stats {
	return &Stats{
		startTime: time.Now(),
		prom:      prom,
	}
}

// AddTotal adds newly discovered contracts to the expected total.
func (s *Stats) AddTotal(n uint64) {
	s.totalContracts.Add(n)
}

// RecordResult records the outcome of one completed item.
func (s *Stats) RecordResult(cached, success, timeout bool, d time.Duration) {
	s.processed.Inc()

	outcome := "error"
	switch {
	case cached:
		s.cached.Inc()
		outcome = "cached"
	case success:
		s.successes.Inc()
		outcome = "success"
	default:
		s.errors.Inc()
		if timeout {
			s.timeouts.Inc()
			outcome = "timeout"
		}
	}

	s.processingMicros.Add(uint64(d.Microseconds()))

	if s.prom != nil {
		s.prom.ContractsTotal.WithLabelValues(outcome).Inc()
		s.prom.ProcessingLatency.Observe(d.Seconds())
	}
}

// Reset zeroes all counters and restarts the clock. Used together with an
// explicit cache clear.
func (s *Stats) Reset() {
	s.startTime = time.Now()
	s.totalContracts.Reset()
	s.processed.Reset()
	s.cached.Reset()
	s.successes.Reset()
	s.errors.Reset()
	s.timeouts.Reset()
	s.processingMicros.Reset()
}

// Snapshot is a point-in-time view of the counters.
type Snapshot struct {
	Total     uint64
	Processed uint64
	Cached    uint64
	Successes uint64
	Errors    uint64
	Timeouts  uint64
	Elapsed   time.Duration
	AvgTime   time.Duration
}

// GetSnapshot reads the current counter values.
func (s *Stats) GetSnapshot() Snapshot {
	snap := Snapshot{
		Total:     s.totalContracts.Load(),
		Processed: s.processed.Load(),
		Cached:    s.cached.Load(),
		Successes: s.successes.Load(),
		Errors:    s.errors.Load(),
		Timeouts:  s.timeouts.Load(),
		Elapsed:   time.Since(s.startTime),
	}
	if snap.Processed > 0 {
		snap.AvgTime = time.Duration(s.processingMicros.Load()/snap.Processed) * time.Microsecond
	}
	return snap
}

// successRate excludes cache hits from the denominator: only fresh analysis
// attempts count.
func successRate(snap Snapshot) float64 {
	attempted := snap.Processed - snap.Cached
	if snap.Processed <= snap.Cached || attempted == 0 {
		return 100.0
	}
	return float64(snap.Successes) / float64(attempted) * 100
}

func throughput(snap Snapshot) float64 {
	if snap.Elapsed <= 0 {
		return 0
	}
	return float64(snap.Processed) / snap.Elapsed.Seconds()
}

// Summary renders the one-line progress report.
func (s *Stats) Summary() string {
	snap := s.GetSnapshot()

	progressPct := 0.0
	if snap.Total > 0 {
		progressPct = float64(snap.Processed) / float64(snap.Total) * 100
	}

	return fmt.Sprintf(
		"Progress: %d/%d (%.1f%%) | Cached: %d | Success: %d | Errors: %d (Timeouts: %d) | Rate: %.1f/s | Avg: %dms | Success Rate: %.1f%%",
		snap.Processed, snap.Total, progressPct,
		snap.Cached, snap.Successes, snap.Errors, snap.Timeouts,
		throughput(snap), snap.AvgTime.Milliseconds(), successRate(snap),
	)
}

// FinalSummary renders the end-of-run report.
func (s *Stats) FinalSummary() string {
	snap := s.GetSnapshot()

	return fmt.Sprintf(`
=== Final Summary ===
Total contracts:    %d
Processed:          %d
  - Cached:         %d
  - New successes:  %d
  - Errors:         %d
    - Timeouts:     %d
    - Other:        %d
Success rate:       %.1f%%
Total time:         %.2fs
Overall throughput: %.1f contracts/sec
`,
		snap.Total, snap.Processed, snap.Cached, snap.Successes,
		snap.Errors, snap.Timeouts, snap.Errors-snap.Timeouts,
		successRate(snap), snap.Elapsed.Seconds(), throughput(snap),
	)
}
