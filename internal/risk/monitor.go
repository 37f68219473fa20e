// Package risk derives health and margin metrics from an exposure report and
// per-venue risk parameters. Each assessment runs three independent category
// checks (lending health, derivative margin health, delta drift) and folds
// them into a weighted overall score and level.
package risk

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Weights holds the per-category weighting of the overall score. Treated as
// configurable policy; the defaults are not load-bearing.
type Weights struct {
	Lending float64
	Margin  float64
	Delta   float64
}

// DefaultWeights is the default category weighting.
var DefaultWeights = Weights{Lending: 0.35, Margin: 0.40, Delta: 0.25}

// Config holds the tunable parameters of the risk monitor.
type Config struct {
	Weights Weights

	// HealthFactorTarget is the lending health factor that scores 1.0.
	// The score falls linearly to 0 at health factor 1.0.
	HealthFactorTarget float64
	// MarginRatioTarget is the derivative margin ratio that scores 1.0.
	MarginRatioTarget float64
	// DeltaTolerance is the tolerated net delta as a fraction of portfolio
	// value. Drift inside the band scores 1.0; the score reaches 0 at four
	// times the band.
	DeltaTolerance float64
	// HistorySize bounds the retained assessment history.
	HistorySize int
}

// Defaults returns the default monitor configuration.
func Defaults() Config {
	return Config{
		Weights:            DefaultWeights,
		HealthFactorTarget: 1.5,
		MarginRatioTarget:  2.0,
		DeltaTolerance:     0.05,
		HistorySize:        512,
	}
}

// Level thresholds on the overall score.
const (
	levelExcellent = 0.9
	levelGood      = 0.8
	levelFair      = 0.6
	levelPoor      = 0.4
	warnThreshold  = 0.8
)

// Monitor assesses portfolio risk. Each Assess call is stateless apart from
// the retained history buffer used for trend reporting.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	history []domain.RiskAssessment
}

// New creates a Monitor. Zero-valued config fields fall back to defaults.
func New(cfg Config, logger *slog.Logger) *Monitor {
	def := Defaults()
	if cfg.Weights == (Weights{}) {
		cfg.Weights = def.Weights
	}
	if cfg.HealthFactorTarget <= 1 {
		cfg.HealthFactorTarget = def.HealthFactorTarget
	}
	if cfg.MarginRatioTarget <= 1 {
		cfg.MarginRatioTarget = def.MarginRatioTarget
	}
	if cfg.DeltaTolerance <= 0 {
		cfg.DeltaTolerance = def.DeltaTolerance
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	return &Monitor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "risk_monitor")),
	}
}

// Assess runs all category checks against the exposure report. A missing or
// degenerate input (zero collateral with non-zero debt, zero margin with an
// open position, missing venue params) is a hard error, never a zero score.
func (m *Monitor) Assess(report domain.ExposureReport, params map[string]domain.VenueRiskParams) (domain.RiskAssessment, error) {
	assessment := domain.RiskAssessment{
		Timestamp:    report.Timestamp,
		Scores:       make(map[domain.RiskCategory]float64, 3),
		HealthFactor: domain.HealthFactorSentinel,
		MarginRatio:  math.Inf(1),
	}

	if err := m.assessLending(report, params, &assessment); err != nil {
		return domain.RiskAssessment{}, err
	}
	if err := m.assessMargin(report, params, &assessment); err != nil {
		return domain.RiskAssessment{}, err
	}
	m.assessDelta(report, &assessment)

	w := m.cfg.Weights
	total := w.Lending + w.Margin + w.Delta
	assessment.OverallScore = (w.Lending*assessment.Scores[domain.RiskCategoryLending] +
		w.Margin*assessment.Scores[domain.RiskCategoryMargin] +
		w.Delta*assessment.Scores[domain.RiskCategoryDelta]) / total
	assessment.Level = overallLevel(assessment.OverallScore, assessment.Scores)

	m.mu.Lock()
	m.history = append(m.history, assessment)
	if len(m.history) > m.cfg.HistorySize {
		m.history = m.history[len(m.history)-m.cfg.HistorySize:]
	}
	m.mu.Unlock()

	if assessment.Level == domain.RiskCritical {
		m.logger.Warn("risk level critical",
			slog.Float64("overall_score", assessment.OverallScore),
			slog.Float64("health_factor", assessment.HealthFactor),
			slog.Float64("margin_ratio", assessment.MarginRatio),
		)
	}
	return assessment, nil
}

// History returns up to limit most recent assessments, newest last.
func (m *Monitor) History(limit int) []domain.RiskAssessment {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.history) {
		limit = len(m.history)
	}
	out := make([]domain.RiskAssessment, limit)
	copy(out, m.history[len(m.history)-limit:])
	return out
}

// assessLending computes loan-to-value, health factor, and the percentage
// price move to the lending liquidation threshold, aggregated across lending
// venues.
func (m *Monitor) assessLending(report domain.ExposureReport, params map[string]domain.VenueRiskParams, out *domain.RiskAssessment) error {
	var collateral, debt, weightedThreshold float64
	for venue, v := range report.ByVenue {
		if v.DebtValue == 0 && v.CollateralValue == 0 {
			continue
		}
		if v.DebtValue > 0 {
			p, ok := params[venue]
			if !ok {
				return domain.NewTickError(domain.CodeMissingRiskParams, venue, "", report.Timestamp,
					domain.ErrMissingRiskParams)
			}
			if v.CollateralValue <= 0 {
				return domain.NewTickError(domain.CodeDegenerateDenominator, venue, "", report.Timestamp,
					fmt.Errorf("%w: debt %.2f with collateral %.2f", domain.ErrDegenerateDenominator,
						v.DebtValue, v.CollateralValue))
			}
			collateral += v.CollateralValue
			debt += v.DebtValue
			weightedThreshold += p.LiquidationThreshold * v.CollateralValue
		}
	}

	if debt == 0 {
		out.HealthFactor = domain.HealthFactorSentinel
		out.LoanToValue = 0
		out.DistanceToLendingLiq = 1
		out.Scores[domain.RiskCategoryLending] = 1
		return nil
	}

	threshold := weightedThreshold / collateral
	out.LoanToValue = debt / collateral
	out.HealthFactor = collateral * threshold / debt
	// Collateral can fall by this fraction before the health factor hits 1.
	out.DistanceToLendingLiq = 1 - 1/out.HealthFactor

	score := clamp01((out.HealthFactor - 1) / (m.cfg.HealthFactorTarget - 1))
	out.Scores[domain.RiskCategoryLending] = score
	if score < warnThreshold {
		out.Issues = append(out.Issues, domain.RiskIssue{
			Category: domain.RiskCategoryLending,
			Code:     "LENDING_HF_LOW",
			Severity: scoreLevel(score),
			Message:  fmt.Sprintf("health factor %.3f below comfort target %.2f", out.HealthFactor, m.cfg.HealthFactorTarget),
			Value:    out.HealthFactor,
		})
	}
	return nil
}

// assessMargin computes the derivative margin ratio and the direction-aware
// distance to the estimated liquidation price for the largest position.
func (m *Monitor) assessMargin(report domain.ExposureReport, params map[string]domain.VenueRiskParams, out *domain.RiskAssessment) error {
	out.DistanceToPerpLiq = 1
	score := 1.0
	hasPerp := false

	for venue, v := range report.ByVenue {
		if len(v.Perps) == 0 {
			continue
		}
		p, ok := params[venue]
		if !ok {
			return domain.NewTickError(domain.CodeMissingRiskParams, venue, "", report.Timestamp,
				domain.ErrMissingRiskParams)
		}
		if p.MaintenanceMarginFraction <= 0 || p.MaintenanceMarginFraction >= 1 {
			return domain.NewTickError(domain.CodeMissingRiskParams, venue, "", report.Timestamp,
				fmt.Errorf("%w: maintenance margin fraction %v", domain.ErrMissingRiskParams,
					p.MaintenanceMarginFraction))
		}

		margin := v.CollateralValue
		var maintenance float64
		for _, perp := range v.Perps {
			maintenance += p.MaintenanceMarginFraction * perp.Notional
		}
		if maintenance == 0 {
			continue
		}
		if margin <= 0 {
			return domain.NewTickError(domain.CodeDegenerateDenominator, venue, "", report.Timestamp,
				fmt.Errorf("%w: open positions with margin %.2f", domain.ErrDegenerateDenominator, margin))
		}
		hasPerp = true

		ratio := margin / maintenance
		if ratio < out.MarginRatio {
			out.MarginRatio = ratio
		}

		for _, perp := range v.Perps {
			liq, err := estimateLiquidationPrice(margin, perp, p.MaintenanceMarginFraction)
			if err != nil {
				return domain.NewTickError(domain.CodeDegenerateDenominator, venue, perp.Instrument,
					report.Timestamp, err)
			}
			dist := liquidationDistance(perp, liq)
			if dist < out.DistanceToPerpLiq {
				out.DistanceToPerpLiq = dist
			}
			if dist <= 0 {
				out.Issues = append(out.Issues, domain.RiskIssue{
					Category: domain.RiskCategoryMargin,
					Code:     "MARGIN_PAST_LIQ",
					Severity: domain.RiskCritical,
					Message:  fmt.Sprintf("%s mark %.2f already past estimated liquidation price %.2f", perp.Instrument, perp.Mark, liq),
					Value:    dist,
				})
			}
		}

		s := clamp01((ratio - 1) / (m.cfg.MarginRatioTarget - 1))
		if s < score {
			score = s
		}
	}

	if !hasPerp {
		out.MarginRatio = math.Inf(1)
		out.Scores[domain.RiskCategoryMargin] = 1
		return nil
	}

	out.Scores[domain.RiskCategoryMargin] = score
	if score < warnThreshold {
		out.Issues = append(out.Issues, domain.RiskIssue{
			Category: domain.RiskCategoryMargin,
			Code:     "MARGIN_RATIO_LOW",
			Severity: scoreLevel(score),
			Message:  fmt.Sprintf("margin ratio %.3f below comfort target %.2f", out.MarginRatio, m.cfg.MarginRatioTarget),
			Value:    out.MarginRatio,
		})
	}
	return nil
}

// assessDelta scores the net directional drift relative to the tolerance
// band, as a fraction of total portfolio value.
func (m *Monitor) assessDelta(report domain.ExposureReport, out *domain.RiskAssessment) {
	if report.TotalValue <= 0 {
		out.Scores[domain.RiskCategoryDelta] = 1
		return
	}

	var driftValue float64
	for _, v := range report.NetDeltaValue {
		driftValue += math.Abs(v)
	}
	drift := driftValue / report.TotalValue

	ratio := drift / m.cfg.DeltaTolerance
	score := 1.0
	if ratio > 1 {
		score = clamp01(1 - (ratio-1)/3)
	}
	out.Scores[domain.RiskCategoryDelta] = score

	if score < warnThreshold {
		out.Issues = append(out.Issues, domain.RiskIssue{
			Category: domain.RiskCategoryDelta,
			Code:     "DELTA_DRIFT",
			Severity: scoreLevel(score),
			Message:  fmt.Sprintf("net delta %.2f%% of portfolio exceeds %.2f%% band", drift*100, m.cfg.DeltaTolerance*100),
			Value:    drift,
		})
	}
}

// overallLevel maps the overall score to a level, capped at critical when any
// single category is critical: the portfolio is never rated above its worst
// failing category.
func overallLevel(score float64, categories map[domain.RiskCategory]float64) domain.RiskLevel {
	for _, s := range categories {
		if s < levelPoor {
			return domain.RiskCritical
		}
	}
	return scoreLevel(score)
}

func scoreLevel(score float64) domain.RiskLevel {
	switch {
	case score >= levelExcellent:
		return domain.RiskExcellent
	case score >= levelGood:
		return domain.RiskGood
	case score >= levelFair:
		return domain.RiskFair
	case score >= levelPoor:
		return domain.RiskPoor
	default:
		return domain.RiskCritical
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
