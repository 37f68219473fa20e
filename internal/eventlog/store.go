package eventlog

import (
	"context"
	"fmt"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Store adapts a domain.EventStore to the engine's EventLog interface by
// binding it to one run. Sequence monotonicity is enforced here as well so a
// misbehaving writer fails before the database constraint does.
type Store struct {
	runID   string
	store   domain.EventStore
	lastSeq uint64
}

// NewStore binds the event store to runID. lastSeq seeds the regression
// check when resuming a run; pass 0 for a fresh run.
func NewStore(runID string, store domain.EventStore, lastSeq uint64) *Store {
	return &Store{runID: runID, store: store, lastSeq: lastSeq}
}

// Append persists the event for the bound run.
func (s *Store) Append(ctx context.Context, ev domain.Event) error {
	if ev.Sequence <= s.lastSeq {
		return fmt.Errorf("eventlog: %w: got %d after %d",
			domain.ErrSequenceRegression, ev.Sequence, s.lastSeq)
	}
	if err := s.store.Append(ctx, s.runID, ev); err != nil {
		return err
	}
	s.lastSeq = ev.Sequence
	return nil
}

var _ domain.EventLog = (*Store)(nil)
