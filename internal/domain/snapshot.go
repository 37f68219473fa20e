package domain

import (
	"context"
	"time"
)

// CostEstimate holds the per-venue execution cost model for a tick.
type CostEstimate struct {
	TakerFeeBps float64
	SlippageBps float64
}

// ProtocolIndex is the oracle rate for an interest-bearing receipt token: one
// unit of the receipt asset redeems for Rate units of Underlying. Indices only
// grow (or shrink, for debt tokens accruing interest against the holder).
type ProtocolIndex struct {
	Underlying string
	Rate       float64
}

// MarketSnapshot is the read-only market state for a single tick, produced by
// a SnapshotSource. All figures are as of Timestamp; a snapshot is never
// mutated after construction.
type MarketSnapshot struct {
	Timestamp time.Time

	// Prices maps asset symbol to its price in the reporting currency.
	Prices map[string]float64
	// MarkPrices maps perpetual instrument symbol to its mark price.
	MarkPrices map[string]float64
	// FundingRates maps perpetual instrument symbol to the funding rate that
	// accrues over this tick (signed; positive means longs pay shorts).
	FundingRates map[string]float64
	// ProtocolIndices maps receipt-token asset symbol to its oracle index.
	ProtocolIndices map[string]ProtocolIndex
	// BorrowRates maps asset symbol to the interest fraction plain-quantity
	// debt in that asset accrues over this tick.
	BorrowRates map[string]float64
	// CostEstimates maps venue to its execution cost model.
	CostEstimates map[string]CostEstimate
	// MarginUsed maps venue to the reporting-currency margin currently
	// locked by open derivative positions, per venue account state.
	MarginUsed map[string]float64
}

// SnapshotSource supplies tick timestamps and market snapshots. Implemented
// once for backtest (historical series) and once for live (cache-backed);
// the execution engine never branches on which one it holds.
type SnapshotSource interface {
	// Next blocks until the next tick timestamp is available. It returns
	// ok=false when the source is exhausted (backtest) or stopped (live).
	Next(ctx context.Context) (ts time.Time, ok bool, err error)
	// Snapshot returns the market snapshot for ts. It must fail fast with an
	// explicit error rather than return partial or stale data.
	Snapshot(ctx context.Context, ts time.Time) (MarketSnapshot, error)
}

// AccrualSource produces the settlement events for passive activity over a
// tick (funding payments, interest, rewards). A nil AccrualSource means the
// venue delivers accruals through the execution path instead.
type AccrualSource interface {
	Accruals(ctx context.Context, snap MarketSnapshot, ledger LedgerSnapshot) ([]SettlementEvent, error)
}
