// Package executor provides the execution sinks: a simulated sink that fills
// instruction sets against the tick snapshot for backtests, and a bus sink
// that hands sets to an external order router in live mode.
package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// SimulatedConfig describes the instrument universe the simulator fills
// against.
type SimulatedConfig struct {
	// CashAsset is the settlement cash asset on every venue, e.g. "USDC".
	CashAsset string
	// PerpInstruments marks which asset symbols trade as perpetuals.
	PerpInstruments map[string]bool
	// ReceiptTokens maps a deposit asset to the lending receipt token credited
	// for it, e.g. "USDC" -> "aUSDC".
	ReceiptTokens map[string]string
	// StakedTokens maps a stakeable asset to its staked receipt token, e.g.
	// "ETH" -> "stETH".
	StakedTokens map[string]string
}

// Simulated fills every instruction at the snapshot's prices, charging the
// venue's taker fee and slippage from its cost estimate. All pricing comes
// from the snapshot passed to Submit; the simulator holds no market state of
// its own, which keeps backtest runs replayable.
type Simulated struct {
	cfg    SimulatedConfig
	logger *slog.Logger
}

// NewSimulated creates the backtest execution sink.
func NewSimulated(cfg SimulatedConfig, logger *slog.Logger) *Simulated {
	if cfg.CashAsset == "" {
		cfg.CashAsset = "USDC"
	}
	return &Simulated{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "simulated_executor")),
	}
}

// Submit fills the set. An atomic set fills all-or-none: the first instruction
// that cannot be priced rejects the whole set and no settlement is produced.
// Non-atomic sets skip unfillable instructions and settle the rest.
func (s *Simulated) Submit(_ context.Context, set domain.InstructionSet, snap domain.MarketSnapshot) (domain.FillReport, error) {
	var (
		legs      []domain.SettlementLeg
		fills     []domain.Fill
		costs     float64
		anyFilled bool
	)

	for _, in := range set.Instructions {
		fill, instLegs, cost, err := s.fill(in, snap)
		if err != nil {
			if set.Atomic {
				s.logger.Warn("atomic set rejected",
					slog.String("set_id", set.ID),
					slog.String("asset", in.Asset),
					slog.String("error", err.Error()),
				)
				return domain.FillReport{
					SetID:  set.ID,
					Status: domain.FillRejected,
					Reason: err.Error(),
				}, nil
			}
			fills = append(fills, domain.Fill{Instruction: in, Status: domain.FillRejected})
			continue
		}
		anyFilled = true
		fills = append(fills, fill)
		legs = append(legs, instLegs...)
		costs += cost
	}

	if !anyFilled {
		return domain.FillReport{
			SetID:  set.ID,
			Status: domain.FillRejected,
			Fills:  fills,
			Reason: "no instruction could be filled",
		}, nil
	}

	status := domain.FillFilled
	for _, f := range fills {
		if f.Status == domain.FillRejected {
			status = domain.FillPartiallyFilled
			break
		}
	}

	settlement := &domain.SettlementEvent{
		ID:        uuid.New().String(),
		Timestamp: snap.Timestamp,
		Kind:      domain.SettlementFill,
		Legs:      legs,
	}
	if costs != 0 {
		settlement.Attribution = map[domain.AttributionBucket]float64{
			domain.BucketCosts: -costs,
		}
	}

	return domain.FillReport{
		SetID:      set.ID,
		Status:     status,
		Fills:      fills,
		Settlement: settlement,
	}, nil
}

// fill prices one instruction. It returns the fill, the ledger legs it
// produces, and the execution cost in cash terms (fee plus slippage against
// the mid).
func (s *Simulated) fill(in domain.Instruction, snap domain.MarketSnapshot) (domain.Fill, []domain.SettlementLeg, float64, error) {
	if in.Quantity <= 0 {
		return domain.Fill{}, nil, 0, fmt.Errorf("executor: non-positive quantity %v for %s", in.Quantity, in.Asset)
	}

	switch in.Action {
	case domain.ActionBuy, domain.ActionSell:
		return s.fillTrade(in, snap)
	case domain.ActionDeposit, domain.ActionWithdraw:
		return s.fillLending(in, snap)
	case domain.ActionBorrow, domain.ActionRepay:
		return s.fillBorrow(in)
	case domain.ActionStake, domain.ActionUnstake:
		return s.fillStake(in, snap)
	default:
		return domain.Fill{}, nil, 0, fmt.Errorf("executor: unsupported action %q", in.Action)
	}
}

func (s *Simulated) fillTrade(in domain.Instruction, snap domain.MarketSnapshot) (domain.Fill, []domain.SettlementLeg, float64, error) {
	isPerp := s.cfg.PerpInstruments[in.Asset]

	var mid float64
	if isPerp {
		m, ok := snap.MarkPrices[in.Asset]
		if !ok {
			return domain.Fill{}, nil, 0, fmt.Errorf("executor: %w: no mark price for %s", domain.ErrUnresolvedPrice, in.Asset)
		}
		mid = m
	} else {
		p, ok := snap.Prices[in.Asset]
		if !ok || p <= 0 {
			return domain.Fill{}, nil, 0, fmt.Errorf("executor: %w: no price for %s", domain.ErrUnresolvedPrice, in.Asset)
		}
		mid = p
	}

	cost := snap.CostEstimates[in.Venue]
	slip := cost.SlippageBps / 10000
	feeRate := cost.TakerFeeBps / 10000

	// Buys fill above mid, sells below.
	fillPrice := mid * (1 + slip)
	if in.Action == domain.ActionSell {
		fillPrice = mid * (1 - slip)
	}
	if in.Kind == domain.OrderLimit {
		if in.Action == domain.ActionBuy && fillPrice > in.LimitPrice {
			return domain.Fill{}, nil, 0, fmt.Errorf("executor: limit %v not reached for %s buy at %v", in.LimitPrice, in.Asset, fillPrice)
		}
		if in.Action == domain.ActionSell && fillPrice < in.LimitPrice {
			return domain.Fill{}, nil, 0, fmt.Errorf("executor: limit %v not reached for %s sell at %v", in.LimitPrice, in.Asset, fillPrice)
		}
	}

	notional := in.Quantity * fillPrice
	fee := notional * feeRate
	slipCost := in.Quantity * mid * slip

	qty := in.Quantity
	cash := -notional
	if in.Action == domain.ActionSell {
		qty = -qty
		cash = notional
	}

	assetKind := domain.KindSpotBalance
	if isPerp {
		assetKind = domain.KindPerpPosition
	}

	legs := []domain.SettlementLeg{
		{Venue: in.Venue, Asset: in.Asset, Kind: assetKind, Delta: decimal.NewFromFloat(qty)},
		{Venue: in.Venue, Asset: s.cfg.CashAsset, Kind: domain.KindSpotBalance, Delta: decimal.NewFromFloat(cash - fee)},
	}

	return domain.Fill{
		Instruction:    in,
		FilledQuantity: in.Quantity,
		FilledPrice:    fillPrice,
		VenueFees:      fee,
		Status:         domain.FillFilled,
	}, legs, fee + slipCost, nil
}

// fillLending converts between a cash deposit and its receipt token at the
// snapshot's protocol index. Receipt quantity stays constant afterwards; the
// index accrues instead.
func (s *Simulated) fillLending(in domain.Instruction, snap domain.MarketSnapshot) (domain.Fill, []domain.SettlementLeg, float64, error) {
	receipt, ok := s.cfg.ReceiptTokens[in.Asset]
	if !ok {
		return domain.Fill{}, nil, 0, fmt.Errorf("executor: no receipt token configured for %s", in.Asset)
	}
	idx, ok := snap.ProtocolIndices[receipt]
	if !ok || idx.Rate <= 0 {
		return domain.Fill{}, nil, 0, fmt.Errorf("executor: %w: no protocol index for %s", domain.ErrUnresolvedPrice, receipt)
	}

	receiptQty := in.Quantity / idx.Rate
	spot := decimal.NewFromFloat(in.Quantity)
	rec := decimal.NewFromFloat(receiptQty)
	if in.Action == domain.ActionDeposit {
		spot = spot.Neg()
	} else {
		rec = rec.Neg()
	}

	legs := []domain.SettlementLeg{
		{Venue: in.Venue, Asset: in.Asset, Kind: domain.KindSpotBalance, Delta: spot},
		{Venue: in.Venue, Asset: receipt, Kind: domain.KindLendingDeposit, Delta: rec},
	}
	return domain.Fill{
		Instruction:    in,
		FilledQuantity: in.Quantity,
		FilledPrice:    idx.Rate,
		Status:         domain.FillFilled,
	}, legs, 0, nil
}

// fillBorrow books plain-quantity debt: borrowing credits cash and opens a
// debt balance of the same size. Interest arrives later through accruals.
func (s *Simulated) fillBorrow(in domain.Instruction) (domain.Fill, []domain.SettlementLeg, float64, error) {
	qty := decimal.NewFromFloat(in.Quantity)
	cash, debt := qty, qty
	if in.Action == domain.ActionRepay {
		cash, debt = qty.Neg(), qty.Neg()
	}

	legs := []domain.SettlementLeg{
		{Venue: in.Venue, Asset: in.Asset, Kind: domain.KindSpotBalance, Delta: cash},
		{Venue: in.Venue, Asset: in.Asset, Kind: domain.KindLendingDebt, Delta: debt},
	}
	return domain.Fill{
		Instruction:    in,
		FilledQuantity: in.Quantity,
		FilledPrice:    1,
		Status:         domain.FillFilled,
	}, legs, 0, nil
}

func (s *Simulated) fillStake(in domain.Instruction, snap domain.MarketSnapshot) (domain.Fill, []domain.SettlementLeg, float64, error) {
	staked, ok := s.cfg.StakedTokens[in.Asset]
	if !ok {
		return domain.Fill{}, nil, 0, fmt.Errorf("executor: no staked token configured for %s", in.Asset)
	}
	idx, ok := snap.ProtocolIndices[staked]
	if !ok || idx.Rate <= 0 {
		return domain.Fill{}, nil, 0, fmt.Errorf("executor: %w: no protocol index for %s", domain.ErrUnresolvedPrice, staked)
	}

	stakedQty := in.Quantity / idx.Rate
	spot := decimal.NewFromFloat(in.Quantity)
	st := decimal.NewFromFloat(stakedQty)
	if in.Action == domain.ActionStake {
		spot = spot.Neg()
	} else {
		st = st.Neg()
	}

	legs := []domain.SettlementLeg{
		{Venue: in.Venue, Asset: in.Asset, Kind: domain.KindSpotBalance, Delta: spot},
		{Venue: in.Venue, Asset: staked, Kind: domain.KindStakedBalance, Delta: st},
	}
	return domain.Fill{
		Instruction:    in,
		FilledQuantity: in.Quantity,
		FilledPrice:    idx.Rate,
		Status:         domain.FillFilled,
	}, legs, 0, nil
}

var _ domain.ExecutionSink = (*Simulated)(nil)
