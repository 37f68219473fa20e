package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// archivePageSize bounds how many rows are pulled from the stores per query
// while streaming a run out to object storage.
const archivePageSize = 1000

// RunArchive implements domain.RunArchiver. A finished run is exported as
// three objects under runs/{id}/: a run manifest, the event log as JSONL,
// and the PnL series as JSONL. Nothing is deleted from the primary store;
// pruning is a separate explicit step after the archive is verified.
type RunArchive struct {
	writer domain.BlobWriter
	reader domain.BlobReader
	runs   domain.RunStore
	events domain.EventStore
	pnl    domain.PnLStore
	logger *slog.Logger
}

// NewRunArchive creates the archiver on top of the given stores and writer.
func NewRunArchive(writer domain.BlobWriter, runs domain.RunStore, events domain.EventStore, pnl domain.PnLStore, logger *slog.Logger) *RunArchive {
	return &RunArchive{
		writer: writer,
		runs:   runs,
		events: events,
		pnl:    pnl,
		logger: logger.With(slog.String("component", "run_archiver")),
	}
}

// WithVerification makes ArchiveRun read every exported object back after
// writing and fail if any is missing. Pruning the primary store must not
// begin until this check has passed, so the default is on whenever a reader
// is available.
func (a *RunArchive) WithVerification(reader domain.BlobReader) *RunArchive {
	a.reader = reader
	return a
}

// ArchiveRun exports the run and returns the number of objects written.
// Archiving a run that is still running is refused.
func (a *RunArchive) ArchiveRun(ctx context.Context, runID string) (int64, error) {
	run, err := a.runs.GetByID(ctx, runID)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive run %s: %w", runID, err)
	}
	if run.Status == domain.RunStatusRunning {
		return 0, fmt.Errorf("s3blob: archive run %s: run still in progress", runID)
	}

	prefix := "runs/" + runID + "/"
	var objects int64

	manifest, err := json.Marshal(run)
	if err != nil {
		return objects, fmt.Errorf("s3blob: marshal run %s: %w", runID, err)
	}
	if err := a.writer.Put(ctx, prefix+"run.json", bytes.NewReader(manifest), "application/json"); err != nil {
		return objects, err
	}
	objects++

	eventCount, err := a.archiveEvents(ctx, runID, prefix)
	if err != nil {
		return objects, err
	}
	objects++

	pnlCount, err := a.archivePnL(ctx, runID, prefix)
	if err != nil {
		return objects, err
	}
	objects++

	if err := a.verify(ctx, prefix); err != nil {
		return objects, err
	}

	a.logger.Info("run archived",
		slog.String("run_id", runID),
		slog.Int("events", eventCount),
		slog.Int("pnl_records", pnlCount),
	)
	return objects, nil
}

// verify confirms each exported object is actually retrievable. Eventually
// consistent or misconfigured backends can acknowledge a Put that a later
// Get cannot see, and that must surface here rather than after pruning.
func (a *RunArchive) verify(ctx context.Context, prefix string) error {
	if a.reader == nil {
		return nil
	}
	for _, name := range []string{"run.json", "events.jsonl", "pnl.jsonl"} {
		ok, err := a.reader.Exists(ctx, prefix+name)
		if err != nil {
			return fmt.Errorf("s3blob: verify %s: %w", prefix+name, err)
		}
		if !ok {
			return fmt.Errorf("s3blob: verify %s: object missing after write", prefix+name)
		}
	}
	return nil
}

func (a *RunArchive) archiveEvents(ctx context.Context, runID, prefix string) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	total := 0

	for offset := 0; ; offset += archivePageSize {
		page, err := a.events.List(ctx, runID, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: list events for run %s: %w", runID, err)
		}
		for _, ev := range page {
			if err := enc.Encode(archivedEvent{
				Sequence:  ev.Sequence,
				Timestamp: ev.Timestamp,
				Kind:      string(ev.Kind),
				Payload:   ev.Payload,
			}); err != nil {
				return 0, fmt.Errorf("s3blob: encode event: %w", err)
			}
		}
		total += len(page)
		if len(page) < archivePageSize {
			break
		}
	}

	if err := a.writer.Put(ctx, prefix+"events.jsonl", &buf, "application/x-ndjson"); err != nil {
		return 0, err
	}
	return total, nil
}

func (a *RunArchive) archivePnL(ctx context.Context, runID, prefix string) (int, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	total := 0

	for offset := 0; ; offset += archivePageSize {
		page, err := a.pnl.List(ctx, runID, domain.ListOpts{Limit: archivePageSize, Offset: offset})
		if err != nil {
			return 0, fmt.Errorf("s3blob: list pnl for run %s: %w", runID, err)
		}
		for _, rec := range page {
			if err := enc.Encode(archivedPnL{
				Timestamp:           rec.Timestamp,
				BalancePnL:          rec.BalancePnL,
				BalanceDelta:        rec.BalanceDelta,
				AttributionPnL:      rec.AttributionPnL,
				Buckets:             rec.Buckets,
				ReconciliationDelta: rec.ReconciliationDelta,
				Reconciled:          rec.Reconciled,
			}); err != nil {
				return 0, fmt.Errorf("s3blob: encode pnl record: %w", err)
			}
		}
		total += len(page)
		if len(page) < archivePageSize {
			break
		}
	}

	if err := a.writer.Put(ctx, prefix+"pnl.jsonl", &buf, "application/x-ndjson"); err != nil {
		return 0, err
	}
	return total, nil
}

type archivedEvent struct {
	Sequence  uint64         `json:"sequence"`
	Timestamp time.Time      `json:"timestamp"`
	Kind      string         `json:"kind"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type archivedPnL struct {
	Timestamp           time.Time                            `json:"timestamp"`
	BalancePnL          float64                              `json:"balance_pnl"`
	BalanceDelta        float64                              `json:"balance_delta"`
	AttributionPnL      float64                              `json:"attribution_pnl"`
	Buckets             map[domain.AttributionBucket]float64 `json:"buckets,omitempty"`
	ReconciliationDelta float64                              `json:"reconciliation_delta"`
	Reconciled          bool                                 `json:"reconciled"`
}

// Compile-time interface check.
var _ domain.RunArchiver = (*RunArchive)(nil)
