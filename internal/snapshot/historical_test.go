package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

var t0 = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func series(n int) []domain.MarketSnapshot {
	out := make([]domain.MarketSnapshot, n)
	for i := range out {
		out[i] = domain.MarketSnapshot{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Prices:    map[string]float64{"ETH": 3000 + float64(i)},
		}
	}
	return out
}

func TestHistoricalReplaysInOrder(t *testing.T) {
	// Shuffle the input; iteration order must still be chronological.
	snaps := series(3)
	snaps[0], snaps[2] = snaps[2], snaps[0]

	h, err := NewHistorical(snaps)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if h.Len() != 3 {
		t.Fatalf("len = %d, want 3", h.Len())
	}

	ctx := context.Background()
	var prev time.Time
	for i := 0; i < 3; i++ {
		ts, ok, err := h.Next(ctx)
		if err != nil || !ok {
			t.Fatalf("next %d: ok=%v err=%v", i, ok, err)
		}
		if !prev.IsZero() && !ts.After(prev) {
			t.Fatalf("tick %d not after %s", i, prev)
		}
		prev = ts

		snap, err := h.Snapshot(ctx, ts)
		if err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
		if snap.Prices["ETH"] != 3000+float64(i) {
			t.Fatalf("price at tick %d = %v", i, snap.Prices["ETH"])
		}
	}

	if _, ok, _ := h.Next(ctx); ok {
		t.Fatal("exhausted source returned another tick")
	}
}

func TestHistoricalRejectsDuplicates(t *testing.T) {
	snaps := series(2)
	snaps[1].Timestamp = snaps[0].Timestamp
	if _, err := NewHistorical(snaps); err == nil {
		t.Fatal("expected duplicate timestamps to be rejected")
	}
}

func TestHistoricalSubSecondTicks(t *testing.T) {
	// Ticks 250ms apart share the same whole-second timestamp and must
	// still be distinct series entries.
	snaps := make([]domain.MarketSnapshot, 4)
	for i := range snaps {
		snaps[i] = domain.MarketSnapshot{
			Timestamp: t0.Add(time.Duration(i) * 250 * time.Millisecond),
			Prices:    map[string]float64{"ETH": 3000 + float64(i)},
		}
	}

	h, err := NewHistorical(snaps)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if h.Len() != 4 {
		t.Fatalf("len = %d, want 4", h.Len())
	}

	ctx := context.Background()
	for i := 0; i < 4; i++ {
		ts, ok, err := h.Next(ctx)
		if err != nil || !ok {
			t.Fatalf("next %d: ok=%v err=%v", i, ok, err)
		}
		snap, err := h.Snapshot(ctx, ts)
		if err != nil {
			t.Fatalf("snapshot %d: %v", i, err)
		}
		if snap.Prices["ETH"] != 3000+float64(i) {
			t.Fatalf("price at tick %d = %v", i, snap.Prices["ETH"])
		}
	}
}

func TestHistoricalUnknownTimestamp(t *testing.T) {
	h, _ := NewHistorical(series(2))
	_, err := h.Snapshot(context.Background(), t0.Add(30*time.Minute))
	if err == nil {
		t.Fatal("expected error for unrecorded timestamp")
	}
	var tickErr *domain.TickError
	if !errors.As(err, &tickErr) || tickErr.Code != domain.CodeStaleData {
		t.Fatalf("error = %v, want stale data code", err)
	}
}

func TestLoadJSONL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ticks.jsonl")
	data := `{"timestamp":"2024-06-01T00:00:00Z","prices":{"ETH":3000,"USDC":1},"mark_prices":{"ETH-PERP":3010},"funding_rates":{"ETH-PERP":0.0001},"protocol_indices":{"aUSDC":{"underlying":"USDC","rate":1.05}},"borrow_rates":{"USDC":0.00005}}

{"timestamp":"2024-06-01T01:00:00Z","prices":{"ETH":3100,"USDC":1}}
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	h, err := LoadJSONL(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if h.Len() != 2 {
		t.Fatalf("len = %d, want 2", h.Len())
	}

	snap, err := h.Snapshot(context.Background(), t0)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if snap.MarkPrices["ETH-PERP"] != 3010 {
		t.Fatalf("mark = %v", snap.MarkPrices["ETH-PERP"])
	}
	idx := snap.ProtocolIndices["aUSDC"]
	if idx.Underlying != "USDC" || idx.Rate != 1.05 {
		t.Fatalf("index = %+v", idx)
	}
	if snap.BorrowRates["USDC"] != 0.00005 {
		t.Fatalf("borrow rate = %v", snap.BorrowRates["USDC"])
	}
}

func TestLoadJSONLBadLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.jsonl")
	if err := os.WriteFile(path, []byte("{not json}\n"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	if _, err := LoadJSONL(path); err == nil {
		t.Fatal("expected parse error")
	}
}
