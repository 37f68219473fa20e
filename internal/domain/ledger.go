package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PositionKind classifies a ledger balance by how it is held at the venue.
type PositionKind string

const (
	KindSpotBalance    PositionKind = "spot_balance"
	KindLendingDeposit PositionKind = "lending_deposit"
	KindLendingDebt    PositionKind = "lending_debt"
	KindPerpPosition   PositionKind = "perp_position"
	KindStakedBalance  PositionKind = "staked_balance"
)

// Valid reports whether k is one of the known position kinds.
func (k PositionKind) Valid() bool {
	switch k {
	case KindSpotBalance, KindLendingDeposit, KindLendingDebt, KindPerpPosition, KindStakedBalance:
		return true
	}
	return false
}

// BalanceKey identifies a single ledger entry.
type BalanceKey struct {
	Venue string
	Asset string
	Kind  PositionKind
}

func (k BalanceKey) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Venue, k.Asset, k.Kind)
}

// LedgerSnapshot is an immutable point-in-time view of the position ledger.
// Balances must not be mutated by consumers; the position monitor hands out a
// fresh copy on every Snapshot call.
type LedgerSnapshot struct {
	Timestamp time.Time
	Balances  map[BalanceKey]decimal.Decimal
}

// Quantity returns the balance for the given key, or zero when absent.
func (s LedgerSnapshot) Quantity(venue, asset string, kind PositionKind) decimal.Decimal {
	return s.Balances[BalanceKey{Venue: venue, Asset: asset, Kind: kind}]
}

// SettlementKind classifies what produced a settlement event.
type SettlementKind string

const (
	SettlementFill     SettlementKind = "fill"
	SettlementAccrual  SettlementKind = "accrual"
	SettlementFunding  SettlementKind = "funding"
	SettlementTransfer SettlementKind = "transfer"
	SettlementReward   SettlementKind = "reward"
)

// SettlementLeg is one balance mutation within a settlement event.
type SettlementLeg struct {
	Venue string
	Asset string
	Kind  PositionKind
	// Delta is the signed quantity change applied to the balance.
	Delta decimal.Decimal
}

// SettlementEvent is an atomic update to the position ledger: either every leg
// applies or none do. Attribution carries the reporting-currency amounts this
// event contributes to the named PnL buckets, used by the attribution-based
// PnL series.
type SettlementEvent struct {
	ID          string
	Timestamp   time.Time
	Kind        SettlementKind
	Legs        []SettlementLeg
	Attribution map[AttributionBucket]float64
}
