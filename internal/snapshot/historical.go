// Package snapshot provides the two snapshot sources: a historical source
// that replays recorded market data for backtests, and a live source that
// assembles each tick from the market data caches.
package snapshot

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Historical replays a fixed series of snapshots in timestamp order. The
// series is validated once at construction; a gap or disorder in the input
// fails there rather than mid-run.
type Historical struct {
	ticks []time.Time
	snaps map[int64]domain.MarketSnapshot
	idx   int
}

// NewHistorical builds a source from snapshots already in memory. Input
// order does not matter; duplicates are rejected.
func NewHistorical(snaps []domain.MarketSnapshot) (*Historical, error) {
	if len(snaps) == 0 {
		return nil, fmt.Errorf("snapshot: empty historical series")
	}

	byTS := make(map[int64]domain.MarketSnapshot, len(snaps))
	ticks := make([]time.Time, 0, len(snaps))
	for _, s := range snaps {
		if s.Timestamp.IsZero() {
			return nil, fmt.Errorf("snapshot: snapshot without timestamp")
		}
		key := s.Timestamp.UnixNano()
		if _, dup := byTS[key]; dup {
			return nil, fmt.Errorf("snapshot: duplicate timestamp %s", s.Timestamp.Format(time.RFC3339))
		}
		byTS[key] = s
		ticks = append(ticks, s.Timestamp.UTC())
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Before(ticks[j]) })

	return &Historical{ticks: ticks, snaps: byTS}, nil
}

// wireSnapshot is the JSONL on-disk form of one tick.
type wireSnapshot struct {
	Timestamp       time.Time                       `json:"timestamp"`
	Prices          map[string]float64              `json:"prices"`
	MarkPrices      map[string]float64              `json:"mark_prices,omitempty"`
	FundingRates    map[string]float64              `json:"funding_rates,omitempty"`
	ProtocolIndices map[string]wireIndex            `json:"protocol_indices,omitempty"`
	BorrowRates     map[string]float64              `json:"borrow_rates,omitempty"`
	CostEstimates   map[string]domain.CostEstimate  `json:"cost_estimates,omitempty"`
	MarginUsed      map[string]float64              `json:"margin_used,omitempty"`
}

type wireIndex struct {
	Underlying string  `json:"underlying"`
	Rate       float64 `json:"rate"`
}

// LoadJSONL reads a historical series from a JSONL file, one snapshot per
// line. Blank lines are skipped.
func LoadJSONL(path string) (*Historical, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("snapshot: open %s: %w", path, err)
	}
	defer f.Close()

	var snaps []domain.MarketSnapshot
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 1<<16), 1<<22)
	line := 0
	for sc.Scan() {
		line++
		raw := sc.Bytes()
		if len(raw) == 0 {
			continue
		}
		var w wireSnapshot
		if err := json.Unmarshal(raw, &w); err != nil {
			return nil, fmt.Errorf("snapshot: %s line %d: %w", path, line, err)
		}
		snaps = append(snaps, w.toDomain())
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	return NewHistorical(snaps)
}

func (w wireSnapshot) toDomain() domain.MarketSnapshot {
	snap := domain.MarketSnapshot{
		Timestamp:     w.Timestamp,
		Prices:        w.Prices,
		MarkPrices:    w.MarkPrices,
		FundingRates:  w.FundingRates,
		BorrowRates:   w.BorrowRates,
		CostEstimates: w.CostEstimates,
		MarginUsed:    w.MarginUsed,
	}
	if len(w.ProtocolIndices) > 0 {
		snap.ProtocolIndices = make(map[string]domain.ProtocolIndex, len(w.ProtocolIndices))
		for asset, idx := range w.ProtocolIndices {
			snap.ProtocolIndices[asset] = domain.ProtocolIndex{Underlying: idx.Underlying, Rate: idx.Rate}
		}
	}
	return snap
}

// Next returns the next tick timestamp, or ok=false when the series is
// exhausted.
func (h *Historical) Next(ctx context.Context) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	if h.idx >= len(h.ticks) {
		return time.Time{}, false, nil
	}
	ts := h.ticks[h.idx]
	h.idx++
	return ts, true, nil
}

// Snapshot returns the snapshot recorded for ts. Asking for a timestamp the
// series does not contain is a data error, never interpolated over.
func (h *Historical) Snapshot(_ context.Context, ts time.Time) (domain.MarketSnapshot, error) {
	snap, ok := h.snaps[ts.UnixNano()]
	if !ok {
		return domain.MarketSnapshot{}, domain.NewTickError(domain.CodeStaleData, "", "", ts,
			fmt.Errorf("%w: no recorded snapshot at %s", domain.ErrStaleData, ts.Format(time.RFC3339)))
	}
	return snap, nil
}

// Len returns the number of ticks in the series.
func (h *Historical) Len() int { return len(h.ticks) }

var _ domain.SnapshotSource = (*Historical)(nil)
