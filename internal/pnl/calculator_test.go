package pnl

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

func snap(ts time.Time, ethPrice, ethMark float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Timestamp:  ts,
		Prices:     map[string]float64{"ETH": ethPrice},
		MarkPrices: map[string]float64{"ETH-PERP": ethMark},
	}
}

func report(ts time.Time, total float64) domain.ExposureReport {
	return domain.ExposureReport{
		Timestamp:         ts,
		ReportingCurrency: "USD",
		TotalValue:        total,
		ByVenue:           map[string]domain.VenueExposure{},
		NetDelta:          map[string]float64{},
		NetDeltaValue:     map[string]float64{},
	}
}

var (
	t0 = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func TestNoMovementNoSettlements(t *testing.T) {
	c := New(Config{Tolerance: 0.01}, slog.Default())

	rec, err := c.Calculate(Inputs{
		Prev:     report(t0, 100000),
		Curr:     report(t1, 100000),
		PrevSnap: snap(t0, 2000, 2010),
		CurrSnap: snap(t1, 2000, 2010),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if rec.BalanceDelta != 0 {
		t.Errorf("balance delta = %v, want 0", rec.BalanceDelta)
	}
	if rec.AttributionPnL != 0 {
		t.Errorf("attribution pnl = %v, want 0", rec.AttributionPnL)
	}
	if !rec.Reconciled || rec.ReconciliationDelta != 0 {
		t.Errorf("reconciliation failed on a no-op tick: %+v", rec)
	}
}

func TestExactAttributionReconciles(t *testing.T) {
	c := New(Config{Tolerance: 0.01}, slog.Default())

	// Carried 10 ETH of net delta into the tick; spot moved 2000 -> 2100.
	prev := report(t0, 100000)
	prev.NetDelta["ETH"] = 10

	rec, err := c.Calculate(Inputs{
		Prev:     prev,
		Curr:     report(t1, 101000),
		PrevSnap: snap(t0, 2000, 2000),
		CurrSnap: snap(t1, 2100, 2100),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if math.Abs(rec.Buckets[domain.BucketDelta]-1000) > 1e-9 {
		t.Errorf("delta bucket = %v, want 1000", rec.Buckets[domain.BucketDelta])
	}
	if !rec.Reconciled {
		t.Errorf("expected reconciliation to pass, delta = %v", rec.ReconciliationDelta)
	}
}

func TestInjectedMismatchRaisesFlag(t *testing.T) {
	c := New(Config{Tolerance: 0.01}, slog.Default())

	prev := report(t0, 100000)
	prev.NetDelta["ETH"] = 10

	// Balance says +1100 but attribution only explains +1000: 10% mismatch.
	rec, err := c.Calculate(Inputs{
		Prev:     prev,
		Curr:     report(t1, 101100),
		PrevSnap: snap(t0, 2000, 2000),
		CurrSnap: snap(t1, 2100, 2100),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if rec.Reconciled {
		t.Errorf("expected reconciliation flag, delta = %v", rec.ReconciliationDelta)
	}
	if math.Abs(rec.ReconciliationDelta-100) > 1e-9 {
		t.Errorf("reconciliation delta = %v, want 100", rec.ReconciliationDelta)
	}
	if c.BreachStreak() != 1 {
		t.Errorf("breach streak = %d, want 1", c.BreachStreak())
	}
}

func TestBasisBucket(t *testing.T) {
	c := New(Config{Tolerance: 0.01}, slog.Default())

	// Short 10 ETH-PERP carried into the tick. Spot flat, mark converges
	// 2010 -> 2005: basis shrinks 5, short earns 10*5 = 50.
	prev := report(t0, 100000)
	prev.ByVenue["binance"] = domain.VenueExposure{
		Venue: "binance",
		Perps: []domain.PerpExposure{{
			Instrument: "ETH-PERP", Underlying: "ETH", Quantity: -10, Mark: 2010, Notional: 20100,
		}},
	}

	rec, err := c.Calculate(Inputs{
		Prev:     prev,
		Curr:     report(t1, 100050),
		PrevSnap: snap(t0, 2000, 2010),
		CurrSnap: snap(t1, 2000, 2005),
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if math.Abs(rec.Buckets[domain.BucketBasis]-50) > 1e-9 {
		t.Errorf("basis bucket = %v, want 50", rec.Buckets[domain.BucketBasis])
	}
	if !rec.Reconciled {
		t.Errorf("expected reconciliation to pass, delta = %v", rec.ReconciliationDelta)
	}
}

func TestYieldFromIndexGrowth(t *testing.T) {
	c := New(Config{Tolerance: 0.01}, slog.Default())

	prevSnap := snap(t0, 2000, 2000)
	prevSnap.ProtocolIndices = map[string]domain.ProtocolIndex{
		"aWETH": {Underlying: "ETH", Rate: 1.05},
	}
	currSnap := snap(t1, 2000, 2000)
	currSnap.ProtocolIndices = map[string]domain.ProtocolIndex{
		"aWETH": {Underlying: "ETH", Rate: 1.051},
	}

	ledger := domain.LedgerSnapshot{Balances: map[domain.BalanceKey]decimal.Decimal{
		{Venue: "aave", Asset: "aWETH", Kind: domain.KindLendingDeposit}: decimal.NewFromInt(100),
	}}

	// Index grew 0.001 on 100 aWETH at ETH=2000: yield = 100*0.001*2000 = 200.
	rec, err := c.Calculate(Inputs{
		Prev:       report(t0, 210000),
		Curr:       report(t1, 210200),
		PrevSnap:   prevSnap,
		CurrSnap:   currSnap,
		PrevLedger: ledger,
	})
	if err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if math.Abs(rec.Buckets[domain.BucketSupplyYield]-200) > 1e-9 {
		t.Errorf("supply yield bucket = %v, want 200", rec.Buckets[domain.BucketSupplyYield])
	}
	if !rec.Reconciled {
		t.Errorf("expected reconciliation to pass, delta = %v", rec.ReconciliationDelta)
	}
}

func TestSettlementAttributionAndCumulativeTotals(t *testing.T) {
	c := New(Config{Tolerance: 0.01}, slog.Default())

	// Tick 1: funding received 75, fees paid 5.
	rec1, err := c.Calculate(Inputs{
		Prev:     report(t0, 100000),
		Curr:     report(t1, 100070),
		PrevSnap: snap(t0, 2000, 2000),
		CurrSnap: snap(t1, 2000, 2000),
		Settlements: []domain.SettlementEvent{{
			ID:   "f1",
			Kind: domain.SettlementFunding,
			Attribution: map[domain.AttributionBucket]float64{
				domain.BucketFunding: 75,
				domain.BucketCosts:   -5,
			},
		}},
	})
	if err != nil {
		t.Fatalf("tick 1: %v", err)
	}
	if !rec1.Reconciled {
		t.Errorf("tick 1 should reconcile, delta = %v", rec1.ReconciliationDelta)
	}

	// Tick 2: another 75 funding.
	t2 := t1.Add(time.Hour)
	rec2, err := c.Calculate(Inputs{
		Prev:     report(t1, 100070),
		Curr:     report(t2, 100145),
		PrevSnap: snap(t1, 2000, 2000),
		CurrSnap: snap(t2, 2000, 2000),
		Settlements: []domain.SettlementEvent{{
			ID:          "f2",
			Kind:        domain.SettlementFunding,
			Attribution: map[domain.AttributionBucket]float64{domain.BucketFunding: 75},
		}},
	})
	if err != nil {
		t.Fatalf("tick 2: %v", err)
	}

	if math.Abs(rec2.Buckets[domain.BucketFunding]-150) > 1e-9 {
		t.Errorf("cumulative funding = %v, want 150", rec2.Buckets[domain.BucketFunding])
	}
	if math.Abs(rec2.BalancePnL-145) > 1e-9 {
		t.Errorf("cumulative balance pnl = %v, want 145", rec2.BalancePnL)
	}
	if !rec2.Reconciled {
		t.Errorf("tick 2 should reconcile, delta = %v", rec2.ReconciliationDelta)
	}
	if got := len(c.History(0)); got != 2 {
		t.Errorf("history length = %d, want 2", got)
	}
}
