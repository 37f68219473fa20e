package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// EventStore implements domain.EventStore using PostgreSQL. Payloads are
// stored as JSONB; the (run_id, sequence) primary key makes sequence reuse a
// constraint violation rather than silent corruption.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates an EventStore backed by the given connection pool.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts one event for the run.
func (s *EventStore) Append(ctx context.Context, runID string, ev domain.Event) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("postgres: marshal event payload: %w", err)
	}

	const query = `
		INSERT INTO run_events (run_id, sequence, timestamp, kind, payload)
		VALUES ($1, $2, $3, $4, $5)`

	if _, err := s.pool.Exec(ctx, query,
		runID, int64(ev.Sequence), ev.Timestamp, string(ev.Kind), payload,
	); err != nil {
		return fmt.Errorf("postgres: append event %d for run %s: %w", ev.Sequence, runID, err)
	}
	return nil
}

// List returns the run's events in sequence order, filtered by opts.
func (s *EventStore) List(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.Event, error) {
	query := `
		SELECT sequence, timestamp, kind, payload
		FROM run_events
		WHERE run_id = $1`
	args := []any{runID}

	if opts.Since != nil {
		args = append(args, *opts.Since)
		query += ` AND timestamp >= $` + strconv.Itoa(len(args))
	}
	if opts.Until != nil {
		args = append(args, *opts.Until)
		query += ` AND timestamp <= $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY sequence`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += ` OFFSET $` + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events for run %s: %w", runID, err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			seq     int64
			kind    string
			payload []byte
		)
		if err := rows.Scan(&seq, &ev.Timestamp, &kind, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Sequence = uint64(seq)
		ev.Kind = domain.EventKind(kind)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &ev.Payload); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal event payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LastSequence returns the highest sequence recorded for the run, or 0 for an
// empty log.
func (s *EventStore) LastSequence(ctx context.Context, runID string) (uint64, error) {
	const query = `SELECT sequence FROM run_events WHERE run_id = $1 ORDER BY sequence DESC LIMIT 1`

	var seq int64
	err := s.pool.QueryRow(ctx, query, runID).Scan(&seq)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: last sequence for run %s: %w", runID, err)
	}
	return uint64(seq), nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)
