package strategy

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func carryConfig() BasisCarryConfig {
	return BasisCarryConfig{
		TradeVenue:             "hyperliquid",
		CashAsset:              "USDC",
		SpotAsset:              "ETH",
		PerpInstrument:         "ETH-PERP",
		EntryFundingAnnualized: 0.08,
		ExitFundingAnnualized:  0.02,
		TargetFraction:         0.5,
		RebalanceBand:          0.02,
		FundingInterval:        time.Hour,
		MinOrderNotional:       10,
	}
}

// fundingFor returns the per-hour rate that annualizes to the given level.
func fundingFor(annualized float64) float64 {
	return annualized / (365 * 24)
}

func flatBook(cash float64) (domain.LedgerSnapshot, domain.ExposureReport) {
	ledger := domain.LedgerSnapshot{
		Balances: map[domain.BalanceKey]decimal.Decimal{
			{Venue: "hyperliquid", Asset: "USDC", Kind: domain.KindSpotBalance}: decimal.NewFromFloat(cash),
		},
	}
	exp := domain.ExposureReport{
		TotalValue: cash,
		NetDelta:   map[string]float64{},
	}
	return ledger, exp
}

func carryBook(spotQty, perpQty, totalValue, netDelta float64) (domain.LedgerSnapshot, domain.ExposureReport) {
	ledger := domain.LedgerSnapshot{
		Balances: map[domain.BalanceKey]decimal.Decimal{
			{Venue: "hyperliquid", Asset: "ETH", Kind: domain.KindSpotBalance}:      decimal.NewFromFloat(spotQty),
			{Venue: "hyperliquid", Asset: "ETH-PERP", Kind: domain.KindPerpPosition}: decimal.NewFromFloat(perpQty),
		},
	}
	exp := domain.ExposureReport{
		TotalValue: totalValue,
		NetDelta:   map[string]float64{"ETH": netDelta},
	}
	return ledger, exp
}

func snapWith(funding float64) domain.MarketSnapshot {
	return domain.MarketSnapshot{
		Prices:       map[string]float64{"USDC": 1, "ETH": 3000},
		MarkPrices:   map[string]float64{"ETH-PERP": 3000},
		FundingRates: map[string]float64{"ETH-PERP": funding},
	}
}

func calmRisk() domain.RiskAssessment {
	return domain.RiskAssessment{Level: domain.RiskExcellent, OverallScore: 0.95}
}

func TestEntersWhenFundingRich(t *testing.T) {
	s, err := NewBasisCarry(carryConfig(), testLogger())
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	ledger, exp := flatBook(100000)
	sets, err := s.Decide(snapWith(fundingFor(0.10)), ledger, exp, calmRisk())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("sets = %d, want 1", len(sets))
	}
	set := sets[0]
	if !set.Atomic {
		t.Fatal("entry set must be atomic")
	}
	if len(set.Instructions) != 2 {
		t.Fatalf("instructions = %d, want 2", len(set.Instructions))
	}

	// Half the book at 3000: 16.67 ETH long spot, same short perp.
	wantQty := 0.5 * 100000 / 3000
	buy, sell := set.Instructions[0], set.Instructions[1]
	if buy.Action != domain.ActionBuy || buy.Asset != "ETH" {
		t.Fatalf("first leg = %s %s, want buy ETH", buy.Action, buy.Asset)
	}
	if sell.Action != domain.ActionSell || sell.Asset != "ETH-PERP" {
		t.Fatalf("second leg = %s %s, want sell ETH-PERP", sell.Action, sell.Asset)
	}
	if math.Abs(buy.Quantity-wantQty) > 1e-9 || math.Abs(sell.Quantity-wantQty) > 1e-9 {
		t.Fatalf("quantities = %v/%v, want %v", buy.Quantity, sell.Quantity, wantQty)
	}
}

func TestHoldsWhenFundingThin(t *testing.T) {
	s, _ := NewBasisCarry(carryConfig(), testLogger())

	ledger, exp := flatBook(100000)
	sets, err := s.Decide(snapWith(fundingFor(0.05)), ledger, exp, calmRisk())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if len(sets) != 0 {
		t.Fatalf("sets = %d, want 0", len(sets))
	}
}

func TestExitsWhenFundingDecays(t *testing.T) {
	s, _ := NewBasisCarry(carryConfig(), testLogger())

	ledger, exp := carryBook(10, -10, 100000, 0)
	sets, err := s.Decide(snapWith(fundingFor(0.01)), ledger, exp, calmRisk())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("sets = %d, want 1", len(sets))
	}
	set := sets[0]
	if len(set.Instructions) != 2 {
		t.Fatalf("instructions = %d, want 2", len(set.Instructions))
	}
	if set.Instructions[0].Action != domain.ActionBuy || set.Instructions[0].Quantity != 10 {
		t.Fatalf("perp close leg = %+v", set.Instructions[0])
	}
	if set.Instructions[1].Action != domain.ActionSell || set.Instructions[1].Quantity != 10 {
		t.Fatalf("spot close leg = %+v", set.Instructions[1])
	}
}

func TestRebalancesWhenDeltaDrifts(t *testing.T) {
	s, _ := NewBasisCarry(carryConfig(), testLogger())

	// Long 0.5 ETH of drift against a 50k book: 1500 over a 1000 band.
	ledger, exp := carryBook(10, -9.5, 50000, 0.5)
	sets, err := s.Decide(snapWith(fundingFor(0.10)), ledger, exp, calmRisk())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if len(sets) != 1 {
		t.Fatalf("sets = %d, want 1", len(sets))
	}
	in := sets[0].Instructions[0]
	if in.Action != domain.ActionSell || in.Asset != "ETH-PERP" {
		t.Fatalf("rebalance leg = %s %s, want sell ETH-PERP", in.Action, in.Asset)
	}
	if math.Abs(in.Quantity-0.5) > 1e-9 {
		t.Fatalf("rebalance quantity = %v, want 0.5", in.Quantity)
	}
}

func TestDriftInsideBandHolds(t *testing.T) {
	s, _ := NewBasisCarry(carryConfig(), testLogger())

	ledger, exp := carryBook(10, -9.999, 100000, 0.001)
	sets, err := s.Decide(snapWith(fundingFor(0.10)), ledger, exp, calmRisk())
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if len(sets) != 0 {
		t.Fatalf("sets = %d, want 0", len(sets))
	}
}

func TestUnwindsOnCriticalRisk(t *testing.T) {
	s, _ := NewBasisCarry(carryConfig(), testLogger())

	ledger, exp := carryBook(10, -10, 100000, 0)
	sets, err := s.Decide(snapWith(fundingFor(0.10)), ledger, exp,
		domain.RiskAssessment{Level: domain.RiskCritical, OverallScore: 0.2})
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if len(sets) != 1 || len(sets[0].Instructions) != 2 {
		t.Fatalf("expected full unwind, got %+v", sets)
	}
}

func TestMissingPriceFails(t *testing.T) {
	s, _ := NewBasisCarry(carryConfig(), testLogger())

	ledger, exp := flatBook(100000)
	snap := snapWith(fundingFor(0.10))
	delete(snap.Prices, "ETH")
	if _, err := s.Decide(snap, ledger, exp, calmRisk()); err == nil {
		t.Fatal("expected error for missing price")
	}
}

func TestConfigValidation(t *testing.T) {
	cfg := carryConfig()
	cfg.ExitFundingAnnualized = cfg.EntryFundingAnnualized
	if _, err := NewBasisCarry(cfg, testLogger()); err == nil {
		t.Fatal("expected exit >= entry to be rejected")
	}

	cfg = carryConfig()
	cfg.TargetFraction = 1.5
	if _, err := NewBasisCarry(cfg, testLogger()); err == nil {
		t.Fatal("expected target fraction > 1 to be rejected")
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(NewHold())
	carry, _ := NewBasisCarry(carryConfig(), testLogger())
	r.Register(carry)

	got, err := r.Get("basis_carry")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Name() != "basis_carry" {
		t.Fatalf("name = %s", got.Name())
	}
	if _, err := r.Get("momentum"); err == nil {
		t.Fatal("expected unknown strategy to error")
	}

	names := r.List()
	if len(names) != 2 || names[0] != "basis_carry" || names[1] != "hold" {
		t.Fatalf("list = %v", names)
	}
}
