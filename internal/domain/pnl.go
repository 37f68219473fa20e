package domain

import "time"

// AttributionBucket names one independently tracked source of PnL. The sum of
// all buckets cross-checks the balance-based PnL series.
type AttributionBucket string

const (
	BucketSupplyYield  AttributionBucket = "supply_yield"
	BucketBorrowCost   AttributionBucket = "borrow_cost"
	BucketStakingYield AttributionBucket = "staking_yield"
	BucketFunding      AttributionBucket = "funding"
	BucketDelta        AttributionBucket = "delta_pnl"
	BucketBasis        AttributionBucket = "basis_pnl"
	BucketDust         AttributionBucket = "dust_pnl"
	BucketCosts        AttributionBucket = "transaction_costs"
)

// AttributionBuckets lists every bucket in a stable order, for reporting.
var AttributionBuckets = []AttributionBucket{
	BucketSupplyYield, BucketBorrowCost, BucketStakingYield, BucketFunding,
	BucketDelta, BucketBasis, BucketDust, BucketCosts,
}

// PnLRecord is the dual-methodology PnL state after one tick. Both cumulative
// series run since strategy inception. Immutable once produced.
type PnLRecord struct {
	Timestamp time.Time

	// BalancePnL is cumulative current portfolio value minus initial capital.
	BalancePnL float64
	// BalanceDelta is the balance-based PnL contribution of this tick alone.
	BalanceDelta float64

	// AttributionPnL is the cumulative sum of all attribution buckets.
	AttributionPnL float64
	// Buckets holds the cumulative total per attribution bucket.
	Buckets map[AttributionBucket]float64

	// ReconciliationDelta is |BalancePnL - AttributionPnL|.
	ReconciliationDelta float64
	// Reconciled is false when ReconciliationDelta exceeded the configured
	// tolerance. A failed reconciliation flags the record; it never halts
	// the tick.
	Reconciled bool
}
