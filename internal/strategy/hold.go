package strategy

import (
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Hold never trades. It is the baseline for measuring carry accruals on an
// existing book and the safe default when no strategy is configured.
type Hold struct{}

func NewHold() *Hold { return &Hold{} }

func (*Hold) Name() string { return "hold" }

func (*Hold) Decide(domain.MarketSnapshot, domain.LedgerSnapshot, domain.ExposureReport, domain.RiskAssessment) ([]domain.InstructionSet, error) {
	return nil, nil
}

var _ domain.Strategy = (*Hold)(nil)
