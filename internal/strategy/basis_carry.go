package strategy

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// BasisCarryConfig parameterizes the delta-neutral carry trade: long spot,
// short perp, earn the funding rate while the hedge keeps delta flat.
type BasisCarryConfig struct {
	TradeVenue     string
	CashAsset      string
	SpotAsset      string
	PerpInstrument string

	// EntryFundingAnnualized opens the position when the annualized funding
	// rate reaches this level; ExitFundingAnnualized unwinds it when funding
	// decays below. Exit must be below entry or the strategy flaps.
	EntryFundingAnnualized float64
	ExitFundingAnnualized  float64

	// TargetFraction is the share of portfolio value deployed as carry
	// notional on entry.
	TargetFraction float64
	// RebalanceBand re-hedges when the net delta value exceeds this fraction
	// of portfolio value.
	RebalanceBand float64
	// FundingInterval is the period one snapshot funding rate covers.
	FundingInterval time.Duration
	// MinOrderNotional suppresses dust orders.
	MinOrderNotional float64
}

// Validate checks the config is internally consistent.
func (c BasisCarryConfig) Validate() error {
	if c.TradeVenue == "" || c.SpotAsset == "" || c.PerpInstrument == "" {
		return fmt.Errorf("basis_carry: venue, spot asset, and perp instrument are required")
	}
	if c.TargetFraction <= 0 || c.TargetFraction > 1 {
		return fmt.Errorf("basis_carry: target fraction %v outside (0, 1]", c.TargetFraction)
	}
	if c.ExitFundingAnnualized >= c.EntryFundingAnnualized {
		return fmt.Errorf("basis_carry: exit threshold %v must be below entry %v",
			c.ExitFundingAnnualized, c.EntryFundingAnnualized)
	}
	if c.FundingInterval <= 0 {
		return fmt.Errorf("basis_carry: funding interval must be positive")
	}
	return nil
}

// BasisCarry is the funding carry strategy. Decide is pure; all state it
// needs lives in the ledger and exposure passed each tick.
type BasisCarry struct {
	cfg    BasisCarryConfig
	logger *slog.Logger
}

// NewBasisCarry builds the strategy. The config must validate.
func NewBasisCarry(cfg BasisCarryConfig, logger *slog.Logger) (*BasisCarry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.CashAsset == "" {
		cfg.CashAsset = "USDC"
	}
	if cfg.RebalanceBand <= 0 {
		cfg.RebalanceBand = 0.02
	}
	return &BasisCarry{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "basis_carry")),
	}, nil
}

func (s *BasisCarry) Name() string { return "basis_carry" }

func (s *BasisCarry) Decide(snap domain.MarketSnapshot, ledger domain.LedgerSnapshot, exposure domain.ExposureReport, risk domain.RiskAssessment) ([]domain.InstructionSet, error) {
	price, ok := snap.Prices[s.cfg.SpotAsset]
	if !ok || price <= 0 {
		return nil, fmt.Errorf("basis_carry: %w: no price for %s", domain.ErrUnresolvedPrice, s.cfg.SpotAsset)
	}

	perpQty := quantity(ledger, s.cfg.TradeVenue, s.cfg.PerpInstrument, domain.KindPerpPosition)
	spotQty := quantity(ledger, s.cfg.TradeVenue, s.cfg.SpotAsset, domain.KindSpotBalance)
	open := perpQty != 0 || spotQty != 0

	if risk.Level == domain.RiskCritical && open {
		s.logger.Warn("risk critical, unwinding carry position",
			slog.Float64("overall_score", risk.OverallScore),
		)
		return s.unwind(perpQty, spotQty), nil
	}

	annualized := snap.FundingRates[s.cfg.PerpInstrument] *
		(float64(365*24*time.Hour) / float64(s.cfg.FundingInterval))

	if !open {
		if annualized < s.cfg.EntryFundingAnnualized {
			return nil, nil
		}
		qty := s.cfg.TargetFraction * exposure.TotalValue / price
		if qty*price < s.cfg.MinOrderNotional {
			return nil, nil
		}
		s.logger.Info("entering carry position",
			slog.Float64("annualized_funding", annualized),
			slog.Float64("quantity", qty),
		)
		return []domain.InstructionSet{{
			ID:       uuid.New().String(),
			Strategy: s.Name(),
			Atomic:   true,
			Instructions: []domain.Instruction{
				{Action: domain.ActionBuy, Venue: s.cfg.TradeVenue, Asset: s.cfg.SpotAsset, Quantity: qty, Kind: domain.OrderMarket},
				{Action: domain.ActionSell, Venue: s.cfg.TradeVenue, Asset: s.cfg.PerpInstrument, Quantity: qty, Kind: domain.OrderMarket},
			},
		}}, nil
	}

	if annualized < s.cfg.ExitFundingAnnualized {
		s.logger.Info("funding decayed, unwinding carry position",
			slog.Float64("annualized_funding", annualized),
		)
		return s.unwind(perpQty, spotQty), nil
	}

	// Re-hedge with the perp leg when drift breaches the band.
	drift := exposure.NetDelta[s.cfg.SpotAsset]
	if math.Abs(drift*price) > s.cfg.RebalanceBand*exposure.TotalValue &&
		math.Abs(drift*price) >= s.cfg.MinOrderNotional {
		action := domain.ActionSell
		if drift < 0 {
			action = domain.ActionBuy
		}
		s.logger.Info("rebalancing hedge",
			slog.Float64("net_delta", drift),
		)
		return []domain.InstructionSet{{
			ID:       uuid.New().String(),
			Strategy: s.Name(),
			Atomic:   true,
			Instructions: []domain.Instruction{
				{Action: action, Venue: s.cfg.TradeVenue, Asset: s.cfg.PerpInstrument, Quantity: math.Abs(drift), Kind: domain.OrderMarket},
			},
		}}, nil
	}

	return nil, nil
}

// unwind closes both legs in one atomic set.
func (s *BasisCarry) unwind(perpQty, spotQty float64) []domain.InstructionSet {
	var ins []domain.Instruction
	if perpQty < 0 {
		ins = append(ins, domain.Instruction{
			Action: domain.ActionBuy, Venue: s.cfg.TradeVenue, Asset: s.cfg.PerpInstrument,
			Quantity: -perpQty, Kind: domain.OrderMarket,
		})
	} else if perpQty > 0 {
		ins = append(ins, domain.Instruction{
			Action: domain.ActionSell, Venue: s.cfg.TradeVenue, Asset: s.cfg.PerpInstrument,
			Quantity: perpQty, Kind: domain.OrderMarket,
		})
	}
	if spotQty > 0 {
		ins = append(ins, domain.Instruction{
			Action: domain.ActionSell, Venue: s.cfg.TradeVenue, Asset: s.cfg.SpotAsset,
			Quantity: spotQty, Kind: domain.OrderMarket,
		})
	}
	if len(ins) == 0 {
		return nil
	}
	return []domain.InstructionSet{{
		ID:           uuid.New().String(),
		Strategy:     s.Name(),
		Atomic:       true,
		Instructions: ins,
	}}
}

func quantity(ledger domain.LedgerSnapshot, venue, asset string, kind domain.PositionKind) float64 {
	q, _ := ledger.Quantity(venue, asset, kind).Float64()
	return q
}

var _ domain.Strategy = (*BasisCarry)(nil)
