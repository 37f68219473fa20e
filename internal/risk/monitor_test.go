package risk

import (
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

func testParams() map[string]domain.VenueRiskParams {
	return map[string]domain.VenueRiskParams{
		"aave": {
			Venue:                "aave",
			LiquidationThreshold: 0.85,
			LiquidationBonus:     0.05,
		},
		"binance": {
			Venue:                     "binance",
			LiquidationThreshold:      1,
			MaintenanceMarginFraction: 0.05,
			InitialMarginFraction:     0.10,
		},
	}
}

func lendingReport(collateral, debt float64) domain.ExposureReport {
	return domain.ExposureReport{
		Timestamp:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		TotalValue: collateral - debt,
		ByVenue: map[string]domain.VenueExposure{
			"aave": {Venue: "aave", Value: collateral - debt, CollateralValue: collateral, DebtValue: debt},
		},
		NetDeltaValue: map[string]float64{},
	}
}

func TestAssessLendingHealthFactor(t *testing.T) {
	m := New(Config{}, slog.Default())

	a, err := m.Assess(lendingReport(100000, 50000), testParams())
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}

	// health factor = (100000 * 0.85) / 50000 = 1.7
	if math.Abs(a.HealthFactor-1.7) > 1e-9 {
		t.Errorf("health factor = %v, want 1.7", a.HealthFactor)
	}
	if a.Level != domain.RiskExcellent && a.Level != domain.RiskGood {
		t.Errorf("level = %s, want good or better", a.Level)
	}
	if math.Abs(a.LoanToValue-0.5) > 1e-9 {
		t.Errorf("LTV = %v, want 0.5", a.LoanToValue)
	}
}

func TestAssessZeroDebtSentinel(t *testing.T) {
	m := New(Config{}, slog.Default())

	a, err := m.Assess(lendingReport(100000, 0), testParams())
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.HealthFactor != domain.HealthFactorSentinel {
		t.Errorf("health factor = %v, want sentinel %v", a.HealthFactor, domain.HealthFactorSentinel)
	}
	if a.Level != domain.RiskExcellent {
		t.Errorf("level = %s, want excellent", a.Level)
	}
}

func TestAssessDegenerateCollateralIsHardError(t *testing.T) {
	m := New(Config{}, slog.Default())

	_, err := m.Assess(lendingReport(0, 50000), testParams())
	if !errors.Is(err, domain.ErrDegenerateDenominator) {
		t.Fatalf("err = %v, want ErrDegenerateDenominator", err)
	}
	var tickErr *domain.TickError
	if !errors.As(err, &tickErr) || tickErr.Code != domain.CodeDegenerateDenominator {
		t.Errorf("expected coded RISK error, got %v", err)
	}
}

func TestAssessMissingVenueParamsIsHardError(t *testing.T) {
	m := New(Config{}, slog.Default())

	_, err := m.Assess(lendingReport(100000, 50000), map[string]domain.VenueRiskParams{})
	if !errors.Is(err, domain.ErrMissingRiskParams) {
		t.Fatalf("err = %v, want ErrMissingRiskParams", err)
	}
}

func TestLendingMonotonicity(t *testing.T) {
	m := New(Config{}, slog.Default())

	hf := func(collateral, debt float64) float64 {
		t.Helper()
		a, err := m.Assess(lendingReport(collateral, debt), testParams())
		if err != nil {
			t.Fatalf("Assess(%v, %v): %v", collateral, debt, err)
		}
		return a.HealthFactor
	}

	// Decreasing collateral never increases the health factor.
	prev := math.Inf(1)
	for _, collateral := range []float64{200000, 150000, 100000, 75000, 60000} {
		cur := hf(collateral, 50000)
		if cur > prev {
			t.Errorf("health factor rose from %v to %v as collateral fell to %v", prev, cur, collateral)
		}
		prev = cur
	}

	// Increasing debt never increases the health factor.
	prev = math.Inf(1)
	for _, debt := range []float64{10000, 25000, 50000, 80000} {
		cur := hf(100000, debt)
		if cur > prev {
			t.Errorf("health factor rose from %v to %v as debt grew to %v", prev, cur, debt)
		}
		prev = cur
	}
}

func perpReport(margin, qty, mark float64) domain.ExposureReport {
	return domain.ExposureReport{
		Timestamp:  time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		TotalValue: margin + qty*mark,
		ByVenue: map[string]domain.VenueExposure{
			"binance": {
				Venue:           "binance",
				Value:           margin + qty*mark,
				CollateralValue: margin,
				Perps: []domain.PerpExposure{{
					Instrument: "ETH-PERP",
					Underlying: "ETH",
					Quantity:   qty,
					Mark:       mark,
					Notional:   math.Abs(qty) * mark,
				}},
			},
		},
		NetDeltaValue: map[string]float64{},
	}
}

func TestAssessMarginDirectionAwareDistance(t *testing.T) {
	m := New(Config{}, slog.Default())

	// Short 10 ETH-PERP at 2000 with 10000 margin, mm 5%:
	// liq = (10000 + 10*2000) / (10 * 1.05) = 2857.14 (price rise).
	short, err := m.Assess(perpReport(10000, -10, 2000), testParams())
	if err != nil {
		t.Fatalf("Assess short: %v", err)
	}
	wantShort := (10000.0 + 10*2000.0)/(10*1.05)/2000.0 - 1
	if math.Abs(short.DistanceToPerpLiq-wantShort) > 1e-9 {
		t.Errorf("short distance = %v, want %v", short.DistanceToPerpLiq, wantShort)
	}

	// Long 10 ETH-PERP: liq = (10*2000 - 10000) / (10 * 0.95) = 1052.63 (fall).
	long, err := m.Assess(perpReport(10000, 10, 2000), testParams())
	if err != nil {
		t.Fatalf("Assess long: %v", err)
	}
	wantLong := 1 - (10*2000.0-10000.0)/(10*0.95)/2000.0
	if math.Abs(long.DistanceToPerpLiq-wantLong) > 1e-9 {
		t.Errorf("long distance = %v, want %v", long.DistanceToPerpLiq, wantLong)
	}
}

func TestAssessMarginZeroMarginIsHardError(t *testing.T) {
	m := New(Config{}, slog.Default())

	_, err := m.Assess(perpReport(0, -10, 2000), testParams())
	if !errors.Is(err, domain.ErrDegenerateDenominator) {
		t.Fatalf("err = %v, want ErrDegenerateDenominator", err)
	}
}

func TestAssessDeltaDriftIssue(t *testing.T) {
	m := New(Config{DeltaTolerance: 0.05}, slog.Default())

	report := lendingReport(100000, 0)
	report.NetDeltaValue = map[string]float64{"ETH": 20000} // 20% drift vs 5% band

	a, err := m.Assess(report, testParams())
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.Scores[domain.RiskCategoryDelta] >= warnThreshold {
		t.Errorf("delta score = %v, want below warn threshold", a.Scores[domain.RiskCategoryDelta])
	}
	found := false
	for _, issue := range a.Issues {
		if issue.Code == "DELTA_DRIFT" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a DELTA_DRIFT issue, got %v", a.Issues)
	}
}

func TestOverallNeverAboveCriticalCategory(t *testing.T) {
	m := New(Config{Weights: Weights{Lending: 0.1, Margin: 0.1, Delta: 0.8}}, slog.Default())

	// Health factor barely above 1: lending category critical, delta perfect.
	report := lendingReport(60000, 50000)
	a, err := m.Assess(report, testParams())
	if err != nil {
		t.Fatalf("Assess: %v", err)
	}
	if a.Scores[domain.RiskCategoryLending] >= levelPoor {
		t.Fatalf("test setup: lending score %v not critical", a.Scores[domain.RiskCategoryLending])
	}
	if a.Level != domain.RiskCritical {
		t.Errorf("level = %s, want critical when a category is critical", a.Level)
	}
}

func TestSimulateLiquidation(t *testing.T) {
	res, err := SimulateLiquidation(100000, 80000, SimParams{
		CloseFactor: 0.5,
		Params:      domain.VenueRiskParams{LiquidationThreshold: 0.85, LiquidationBonus: 0.05},
	})
	if err != nil {
		t.Fatalf("SimulateLiquidation: %v", err)
	}

	if math.Abs(res.DebtRepaid-40000) > 1e-9 {
		t.Errorf("debt repaid = %v, want 40000", res.DebtRepaid)
	}
	if math.Abs(res.CollateralSeized-42000) > 1e-9 {
		t.Errorf("collateral seized = %v, want 42000", res.CollateralSeized)
	}
	// Post: collateral 58000, debt 40000 => hf = 58000*0.85/40000 = 1.2325
	if math.Abs(res.PostHealthFactor-1.2325) > 1e-9 {
		t.Errorf("post health factor = %v, want 1.2325", res.PostHealthFactor)
	}
}

func TestHistoryBounded(t *testing.T) {
	m := New(Config{HistorySize: 4}, slog.Default())
	for i := 0; i < 10; i++ {
		if _, err := m.Assess(lendingReport(100000, 50000), testParams()); err != nil {
			t.Fatalf("Assess: %v", err)
		}
	}
	if got := len(m.History(0)); got != 4 {
		t.Errorf("history length = %d, want 4", got)
	}
}
