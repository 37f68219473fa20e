package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// PnLStore implements domain.PnLStore using PostgreSQL. The per-bucket
// cumulative totals are stored as JSONB so new attribution buckets never
// need a schema change.
type PnLStore struct {
	pool *pgxpool.Pool
}

// NewPnLStore creates a PnLStore backed by the given connection pool.
func NewPnLStore(pool *pgxpool.Pool) *PnLStore {
	return &PnLStore{pool: pool}
}

// Insert appends one per-tick record to the run's PnL series.
func (s *PnLStore) Insert(ctx context.Context, runID string, rec domain.PnLRecord) error {
	buckets, err := json.Marshal(rec.Buckets)
	if err != nil {
		return fmt.Errorf("postgres: marshal pnl buckets: %w", err)
	}

	const query = `
		INSERT INTO pnl_records (
			run_id, timestamp, balance_pnl, balance_delta,
			attribution_pnl, buckets, reconciliation_delta, reconciled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	if _, err := s.pool.Exec(ctx, query,
		runID, rec.Timestamp, rec.BalancePnL, rec.BalanceDelta,
		rec.AttributionPnL, buckets, rec.ReconciliationDelta, rec.Reconciled,
	); err != nil {
		return fmt.Errorf("postgres: insert pnl record for run %s: %w", runID, err)
	}
	return nil
}

// List returns the run's PnL series in time order, filtered by opts.
func (s *PnLStore) List(ctx context.Context, runID string, opts domain.ListOpts) ([]domain.PnLRecord, error) {
	query := `
		SELECT timestamp, balance_pnl, balance_delta,
			attribution_pnl, buckets, reconciliation_delta, reconciled
		FROM pnl_records
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
	query += ` ORDER BY timestamp`
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
		return nil, fmt.Errorf("postgres: list pnl records for run %s: %w", runID, err)
	}
	defer rows.Close()

	var records []domain.PnLRecord
	for rows.Next() {
		var (
			rec     domain.PnLRecord
			buckets []byte
		)
		if err := rows.Scan(
			&rec.Timestamp, &rec.BalancePnL, &rec.BalanceDelta,
			&rec.AttributionPnL, &buckets, &rec.ReconciliationDelta, &rec.Reconciled,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan pnl record: %w", err)
		}
		if len(buckets) > 0 {
			if err := json.Unmarshal(buckets, &rec.Buckets); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal pnl buckets: %w", err)
			}
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Compile-time interface check.
var _ domain.PnLStore = (*PnLStore)(nil)
