package domain

import (
	"context"
	"time"
)

// Action is the operation an instruction asks a venue to perform.
type Action string

const (
	ActionBuy      Action = "buy"
	ActionSell     Action = "sell"
	ActionDeposit  Action = "deposit"
	ActionWithdraw Action = "withdraw"
	ActionBorrow   Action = "borrow"
	ActionRepay    Action = "repay"
	ActionStake    Action = "stake"
	ActionUnstake  Action = "unstake"
)

// OrderKind selects how an instruction is priced at the venue.
type OrderKind string

const (
	OrderMarket OrderKind = "market"
	OrderLimit  OrderKind = "limit"
)

// Instruction is one atomic action against a single venue.
type Instruction struct {
	Action   Action
	Venue    string
	Asset    string
	Quantity float64
	Kind     OrderKind
	// LimitPrice applies only when Kind is OrderLimit.
	LimitPrice float64
}

// InstructionSet is an ordered list of instructions produced by a strategy.
// When Atomic is set the set applies all-or-none: if any leg fails, no leg
// may reach the ledger.
type InstructionSet struct {
	ID        string
	Strategy  string
	Atomic    bool
	CreatedAt time.Time

	Instructions []Instruction
}

// FillStatus is the terminal outcome of submitting an instruction set.
type FillStatus string

const (
	FillFilled          FillStatus = "filled"
	FillPartiallyFilled FillStatus = "partially_filled"
	FillRejected        FillStatus = "rejected"
)

// Fill is the execution result for a single instruction.
type Fill struct {
	Instruction    Instruction
	FilledQuantity float64
	FilledPrice    float64
	VenueFees      float64
	Status         FillStatus
}

// FillReport is the execution result for a whole instruction set. When Status
// is FillRejected, Settlement is nil and nothing may be applied to the
// ledger. Otherwise Settlement carries the atomic ledger update produced by
// the fills.
type FillReport struct {
	SetID      string
	Status     FillStatus
	Fills      []Fill
	Settlement *SettlementEvent
	Reason     string
}

// ExecutionSink submits instruction sets for execution. Implemented once for
// backtest (simulated fills) and once for live venues. A timeout must
// surface as an error so the engine can park the set in an unknown-outcome
// state; the sink must never guess success or failure.
type ExecutionSink interface {
	Submit(ctx context.Context, set InstructionSet, snap MarketSnapshot) (FillReport, error)
}

// Strategy decides what to trade given the tick's state. Decide must be pure:
// no side effects, and no mutation of any snapshot passed in. Returning an
// empty slice is the common hold decision.
type Strategy interface {
	Name() string
	Decide(snap MarketSnapshot, ledger LedgerSnapshot, exposure ExposureReport, risk RiskAssessment) ([]InstructionSet, error)
}
