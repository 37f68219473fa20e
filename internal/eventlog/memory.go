// Package eventlog provides event log implementations for the engine.
package eventlog

import (
	"context"
	"fmt"
	"sync"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Memory is an in-process append-only event log. It is the default sink for
// backtests and the reference implementation of the sequence contract.
type Memory struct {
	mu      sync.Mutex
	events  []domain.Event
	lastSeq uint64
}

// NewMemory creates an empty Memory log.
func NewMemory() *Memory {
	return &Memory{}
}

// Append records the event. Sequence numbers must be strictly increasing.
func (m *Memory) Append(_ context.Context, ev domain.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.events) > 0 && ev.Sequence <= m.lastSeq {
		return fmt.Errorf("eventlog: %w: got %d after %d",
			domain.ErrSequenceRegression, ev.Sequence, m.lastSeq)
	}
	m.events = append(m.events, ev)
	m.lastSeq = ev.Sequence
	return nil
}

// Events returns a copy of all recorded events in append order.
func (m *Memory) Events() []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Event, len(m.events))
	copy(out, m.events)
	return out
}

// Len returns the number of recorded events.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}
