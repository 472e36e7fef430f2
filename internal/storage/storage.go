// Package storage provides persistence for batch run history.
package storage

import (
	"context"
	"time"
)

// Run represents one completed (or failed) batch run.
type Run struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"startedAt"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	SourceDir   string     `json:"sourceDir"`
	Workers     int        `json:"workers"`
	Config      string     `json:"config,omitempty"` // JSON-encoded run configuration

	Processed uint64  `json:"processed"`
	Cached    uint64  `json:"cached"`
	Successes uint64  `json:"successes"`
	Errors    uint64  `json:"errors"`
	Timeouts  uint64  `json:"timeouts"`
	Abandoned int64   `json:"abandoned"`
	DurationMs int64  `json:"durationMs"`
	Throughput float64 `json:"throughput"`

	Status       string `json:"status"` // "running", "completed", "error"
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Storage defines the persistence interface for run history.
type Storage interface {
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context, limit int) ([]Run, error)
	Close() error
}
