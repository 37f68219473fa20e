package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// RunStore implements domain.RunStore using PostgreSQL.
type RunStore struct {
	pool *pgxpool.Pool
}

// NewRunStore creates a RunStore backed by the given connection pool.
func NewRunStore(pool *pgxpool.Pool) *RunStore {
	return &RunStore{pool: pool}
}

const runSelectCols = `id, mode, strategy, reporting_currency, status,
	started_at, finished_at, ticks, final_balance_pnl, failure_reason`

// Create inserts a new run in the running state.
func (s *RunStore) Create(ctx context.Context, run domain.Run) error {
	const query = `
		INSERT INTO runs (
			id, mode, strategy, reporting_currency, status,
			started_at, ticks, final_balance_pnl, failure_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.Mode, run.Strategy, run.ReportingCurrency,
		string(run.Status), run.StartedAt, run.Ticks,
		run.FinalBalancePnL, run.FailureReason,
	)
	if err != nil {
		return fmt.Errorf("postgres: create run %s: %w", run.ID, err)
	}
	return nil
}

// Finish marks a run terminal with its final tick count and PnL.
func (s *RunStore) Finish(ctx context.Context, id string, status domain.RunStatus, ticks int64, finalPnL float64, reason string) error {
	const query = `
		UPDATE runs
		SET status = $2, finished_at = $3, ticks = $4,
			final_balance_pnl = $5, failure_reason = $6
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query,
		id, string(status), time.Now().UTC(), ticks, finalPnL, reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: finish run %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: finish run %s: %w", id, domain.ErrNotFound)
	}
	return nil
}

// GetByID fetches one run. It returns domain.ErrNotFound when the ID does
// not exist.
func (s *RunStore) GetByID(ctx context.Context, id string) (domain.Run, error) {
	query := `SELECT ` + runSelectCols + ` FROM runs WHERE id = $1`

	var (
		run    domain.Run
		status string
	)
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.Mode, &run.Strategy, &run.ReportingCurrency, &status,
		&run.StartedAt, &run.FinishedAt, &run.Ticks,
		&run.FinalBalancePnL, &run.FailureReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Run{}, domain.ErrNotFound
		}
		return domain.Run{}, fmt.Errorf("postgres: get run %s: %w", id, err)
	}
	run.Status = domain.RunStatus(status)
	return run, nil
}

// ListRecent returns the most recently started runs, newest first.
func (s *RunStore) ListRecent(ctx context.Context, limit int) ([]domain.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + runSelectCols + ` FROM runs ORDER BY started_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list runs: %w", err)
	}
	defer rows.Close()

	var runs []domain.Run
	for rows.Next() {
		var (
			run    domain.Run
			status string
		)
		if err := rows.Scan(
			&run.ID, &run.Mode, &run.Strategy, &run.ReportingCurrency, &status,
			&run.StartedAt, &run.FinishedAt, &run.Ticks,
			&run.FinalBalancePnL, &run.FailureReason,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan run: %w", err)
		}
		run.Status = domain.RunStatus(status)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Compile-time interface check.
var _ domain.RunStore = (*RunStore)(nil)
