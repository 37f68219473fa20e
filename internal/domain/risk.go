package domain

import "time"

// RiskLevel is the qualitative rating derived from a risk score.
type RiskLevel string

const (
	RiskExcellent RiskLevel = "excellent"
	RiskGood      RiskLevel = "good"
	RiskFair      RiskLevel = "fair"
	RiskPoor      RiskLevel = "poor"
	RiskCritical  RiskLevel = "critical"
)

// RiskCategory names one independent risk check.
type RiskCategory string

const (
	RiskCategoryLending RiskCategory = "lending_health"
	RiskCategoryMargin  RiskCategory = "margin_health"
	RiskCategoryDelta   RiskCategory = "delta_drift"
)

// RiskIssue is a structured finding raised by a category check whose score
// fell below the warning threshold.
type RiskIssue struct {
	Category RiskCategory
	Code     string
	Severity RiskLevel
	Message  string
	Value    float64
}

// VenueRiskParams holds the risk parameters for one venue, sourced from
// configuration and venue protocol state.
type VenueRiskParams struct {
	Venue string

	// Lending venue parameters.
	LiquidationThreshold float64
	LiquidationBonus     float64

	// Derivative venue parameters.
	MaintenanceMarginFraction float64
	InitialMarginFraction     float64
}

// HealthFactorSentinel is returned as the lending health factor when there is
// no debt: distance to liquidation is effectively infinite.
const HealthFactorSentinel = 1e9

// RiskAssessment is the portfolio risk state for a single tick. Immutable
// once produced.
type RiskAssessment struct {
	Timestamp time.Time

	// Scores holds the per-category score in [0,1].
	Scores       map[RiskCategory]float64
	OverallScore float64
	Level        RiskLevel

	// Lending metrics.
	LoanToValue         float64
	HealthFactor        float64
	DistanceToLendingLiq float64

	// Derivative metrics.
	MarginRatio       float64
	DistanceToPerpLiq float64

	Issues []RiskIssue
}

// LiquidationSimResult is the outcome of simulating a forced partial unwind
// of a lending position. Used for stress testing, not normal-path scoring.
type LiquidationSimResult struct {
	CollateralSeized     float64
	DebtRepaid           float64
	RemainingCollateral  float64
	RemainingDebt        float64
	PostHealthFactor     float64
	BonusPaid            float64
}
