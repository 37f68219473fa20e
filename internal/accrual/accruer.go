// Package accrual derives the settlement events that happen to a portfolio
// without any instruction being sent: perp funding payments and interest on
// plain-quantity debt. Receipt-token yield needs no settlement here because
// it accretes through the protocol index.
package accrual

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Config identifies the cash asset funding settles into.
type Config struct {
	CashAsset string
}

// Accruer computes per-tick accrual settlements from the snapshot's funding
// and borrow rates.
type Accruer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config, logger *slog.Logger) *Accruer {
	if cfg.CashAsset == "" {
		cfg.CashAsset = "USDC"
	}
	return &Accruer{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "accruer")),
	}
}

// Accruals returns one settlement per accruing balance. A perp position pays
// or earns funding at the snapshot's rate (positive rate means longs pay
// shorts); a debt balance grows by the borrow rate. Balances with no rate in
// the snapshot accrue nothing this tick.
func (a *Accruer) Accruals(_ context.Context, snap domain.MarketSnapshot, ledger domain.LedgerSnapshot) ([]domain.SettlementEvent, error) {
	var out []domain.SettlementEvent

	for key, qty := range ledger.Balances {
		if qty.IsZero() {
			continue
		}
		switch key.Kind {
		case domain.KindPerpPosition:
			ev, err := a.funding(key, qty, snap)
			if err != nil {
				return nil, err
			}
			if ev != nil {
				out = append(out, *ev)
			}
		case domain.KindLendingDebt:
			ev, err := a.debtInterest(key, qty, snap)
			if err != nil {
				return nil, err
			}
			if ev != nil {
				out = append(out, *ev)
			}
		}
	}
	return out, nil
}

func (a *Accruer) funding(key domain.BalanceKey, qty decimal.Decimal, snap domain.MarketSnapshot) (*domain.SettlementEvent, error) {
	rate, ok := snap.FundingRates[key.Asset]
	if !ok || rate == 0 {
		return nil, nil
	}
	mark, ok := snap.MarkPrices[key.Asset]
	if !ok {
		return nil, fmt.Errorf("accrual: %w: no mark price for %s", domain.ErrUnresolvedPrice, key.Asset)
	}

	q, _ := qty.Float64()
	// Longs pay when the rate is positive, shorts earn.
	payment := -q * mark * rate
	if payment == 0 {
		return nil, nil
	}

	return &domain.SettlementEvent{
		ID:        uuid.New().String(),
		Timestamp: snap.Timestamp,
		Kind:      domain.SettlementFunding,
		Legs: []domain.SettlementLeg{{
			Venue: key.Venue,
			Asset: a.cfg.CashAsset,
			Kind:  domain.KindSpotBalance,
			Delta: decimal.NewFromFloat(payment),
		}},
		Attribution: map[domain.AttributionBucket]float64{
			domain.BucketFunding: payment,
		},
	}, nil
}

func (a *Accruer) debtInterest(key domain.BalanceKey, qty decimal.Decimal, snap domain.MarketSnapshot) (*domain.SettlementEvent, error) {
	rate, ok := snap.BorrowRates[key.Asset]
	if !ok || rate == 0 {
		return nil, nil
	}
	price, ok := snap.Prices[key.Asset]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("accrual: %w: no price for debt asset %s", domain.ErrUnresolvedPrice, key.Asset)
	}

	interest := qty.Mul(decimal.NewFromFloat(rate))
	if interest.IsZero() {
		return nil, nil
	}
	interestF, _ := interest.Float64()

	return &domain.SettlementEvent{
		ID:        uuid.New().String(),
		Timestamp: snap.Timestamp,
		Kind:      domain.SettlementAccrual,
		Legs: []domain.SettlementLeg{{
			Venue: key.Venue,
			Asset: key.Asset,
			Kind:  domain.KindLendingDebt,
			Delta: interest,
		}},
		Attribution: map[domain.AttributionBucket]float64{
			domain.BucketBorrowCost: -interestF * price,
		},
	}, nil
}

var _ domain.AccrualSource = (*Accruer)(nil)
