package domain

import (
	"context"
	"time"
)

// EventKind classifies an event-log entry.
type EventKind string

const (
	EventRunStarted           EventKind = "run_started"
	EventTickCompleted        EventKind = "tick_completed"
	EventInstructionSubmitted EventKind = "instruction_submitted"
	EventInstructionRejected  EventKind = "instruction_rejected"
	EventSettlementApplied    EventKind = "settlement_applied"
	EventRiskAlert            EventKind = "risk_alert"
	EventReconciliationBreach EventKind = "reconciliation_breach"
	EventRunCompleted         EventKind = "run_completed"
	EventRunFailed            EventKind = "run_failed"
)

// Event is one append-only event-log entry. Sequence is assigned by the
// engine and must be strictly increasing within a run.
type Event struct {
	Sequence  uint64
	Timestamp time.Time
	Kind      EventKind
	Payload   map[string]any
}

// EventLog is the append-only sink for engine events.
type EventLog interface {
	Append(ctx context.Context, ev Event) error
}
