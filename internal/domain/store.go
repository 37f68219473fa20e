package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// RunStatus tracks the lifecycle of one engine run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one execution of the engine, backtest or live.
type Run struct {
	ID                string
	Mode              string
	Strategy          string
	ReportingCurrency string
	Status            RunStatus
	StartedAt         time.Time
	FinishedAt        *time.Time
	Ticks             int64
	FinalBalancePnL   float64
	FailureReason     string
}

// RunStore persists engine runs.
type RunStore interface {
	Create(ctx context.Context, run Run) error
	Finish(ctx context.Context, id string, status RunStatus, ticks int64, finalPnL float64, reason string) error
	GetByID(ctx context.Context, id string) (Run, error)
	ListRecent(ctx context.Context, limit int) ([]Run, error)
}

// EventStore persists the append-only event log for a run.
type EventStore interface {
	Append(ctx context.Context, runID string, ev Event) error
	List(ctx context.Context, runID string, opts ListOpts) ([]Event, error)
	LastSequence(ctx context.Context, runID string) (uint64, error)
}

// PnLStore persists the per-tick PnL series for a run.
type PnLStore interface {
	Insert(ctx context.Context, runID string, rec PnLRecord) error
	List(ctx context.Context, runID string, opts ListOpts) ([]PnLRecord, error)
}
