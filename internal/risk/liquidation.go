package risk

import (
	"fmt"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// estimateLiquidationPrice solves for the price at which account equity
// equals the maintenance requirement. For a position of quantity q entered at
// mark p with margin A, equity at price x is A + q*(x-p) and the requirement
// is mm*|q|*x. Longs liquidate on a price fall, shorts on a rise.
func estimateLiquidationPrice(margin float64, perp domain.PerpExposure, mm float64) (float64, error) {
	q := perp.Quantity
	if q == 0 {
		return 0, fmt.Errorf("%w: zero quantity for %s", domain.ErrDegenerateDenominator, perp.Instrument)
	}
	if perp.Mark <= 0 {
		return 0, fmt.Errorf("%w: non-positive mark for %s", domain.ErrDegenerateDenominator, perp.Instrument)
	}

	if q > 0 {
		// A + q(x-p) = mm*q*x  =>  x = (q*p - A) / (q*(1-mm))
		liq := (q*perp.Mark - margin) / (q * (1 - mm))
		if liq < 0 {
			liq = 0
		}
		return liq, nil
	}
	// Short: A - |q|(x-p) = mm*|q|*x  =>  x = (A + |q|*p) / (|q|*(1+mm))
	aq := -q
	return (margin + aq*perp.Mark) / (aq * (1 + mm)), nil
}

// liquidationDistance is the fractional price move from mark to the
// estimated liquidation price, direction-aware: positive means the move has
// not happened yet, zero or negative means the mark is already past it.
func liquidationDistance(perp domain.PerpExposure, liqPrice float64) float64 {
	if perp.Quantity > 0 {
		return (perp.Mark - liqPrice) / perp.Mark
	}
	return (liqPrice - perp.Mark) / perp.Mark
}

// SimParams configures a liquidation simulation.
type SimParams struct {
	// CloseFactor is the fraction of debt repaid by the liquidator.
	CloseFactor float64
	// Params supplies the liquidation threshold and bonus.
	Params domain.VenueRiskParams
}

// SimulateLiquidation models a forced partial unwind of a lending position:
// a liquidator repays CloseFactor of the debt and seizes collateral worth the
// repaid amount plus the liquidation bonus. Used for stress testing, not for
// normal-path risk scoring.
func SimulateLiquidation(collateral, debt float64, sim SimParams) (domain.LiquidationSimResult, error) {
	if collateral <= 0 || debt <= 0 {
		return domain.LiquidationSimResult{},
			fmt.Errorf("%w: collateral %.2f debt %.2f", domain.ErrDegenerateDenominator, collateral, debt)
	}
	if sim.CloseFactor <= 0 || sim.CloseFactor > 1 {
		return domain.LiquidationSimResult{},
			fmt.Errorf("liquidation sim: close factor %v out of (0,1]", sim.CloseFactor)
	}

	repaid := debt * sim.CloseFactor
	seized := repaid * (1 + sim.Params.LiquidationBonus)
	if seized > collateral {
		seized = collateral
	}

	result := domain.LiquidationSimResult{
		DebtRepaid:          repaid,
		CollateralSeized:    seized,
		BonusPaid:           seized - repaid,
		RemainingCollateral: collateral - seized,
		RemainingDebt:       debt - repaid,
	}
	if result.RemainingDebt <= 0 {
		result.PostHealthFactor = domain.HealthFactorSentinel
	} else {
		result.PostHealthFactor = result.RemainingCollateral * sim.Params.LiquidationThreshold / result.RemainingDebt
	}
	return result, nil
}
