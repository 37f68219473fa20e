// Package exposure derives the portfolio's reporting-currency exposure from a
// ledger snapshot and a market snapshot. The calculation is a pure function
// of its inputs; the monitor holds no mutable ledger, only a cache of its
// last output for trend consumers.
package exposure

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Config declares how ledger entries convert into the reporting currency.
type Config struct {
	// ReportingCurrency is the share class every figure is normalized into.
	ReportingCurrency string
	// PerpUnderlying maps each perpetual instrument symbol to the underlying
	// spot asset used for net-delta aggregation (e.g. "ETH-PERP" -> "ETH").
	PerpUnderlying map[string]string
}

// Monitor computes exposure reports.
type Monitor struct {
	cfg    Config
	logger *slog.Logger

	mu   sync.Mutex
	last *domain.ExposureReport
}

// New creates a Monitor.
func New(cfg Config, logger *slog.Logger) *Monitor {
	return &Monitor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "exposure_monitor")),
	}
}

// Last returns the most recently produced report, or nil before the first
// calculation.
func (m *Monitor) Last() *domain.ExposureReport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Calculate converts every ledger entry into the reporting currency and
// aggregates per asset, per venue, and into net directional delta. An entry
// with no resolvable price source fails the whole calculation: silently
// under-counting principal is worse than aborting the tick.
func (m *Monitor) Calculate(ledger domain.LedgerSnapshot, snap domain.MarketSnapshot) (domain.ExposureReport, error) {
	report := domain.ExposureReport{
		Timestamp:         snap.Timestamp,
		ReportingCurrency: m.cfg.ReportingCurrency,
		ByAsset:           make(map[string]domain.AssetExposure),
		ByVenue:           make(map[string]domain.VenueExposure),
		NetDelta:          make(map[string]float64),
		NetDeltaValue:     make(map[string]float64),
	}

	for key, qty := range ledger.Balances {
		quantity := qty.InexactFloat64()

		value, deltaAsset, deltaQty, err := m.convert(key, quantity, snap)
		if err != nil {
			return domain.ExposureReport{}, err
		}

		asset := report.ByAsset[key.Asset]
		asset.Asset = key.Asset
		asset.Quantity += signedQuantity(key.Kind, quantity)
		asset.Value += value
		report.ByAsset[key.Asset] = asset

		venue := report.ByVenue[key.Venue]
		venue.Venue = key.Venue
		venue.Value += value
		switch key.Kind {
		case domain.KindLendingDebt:
			venue.DebtValue += -value
		case domain.KindPerpPosition:
			mark := snap.MarkPrices[key.Asset]
			venue.Perps = append(venue.Perps, domain.PerpExposure{
				Instrument: key.Asset,
				Underlying: m.cfg.PerpUnderlying[key.Asset],
				Quantity:   quantity,
				Mark:       mark,
				Notional:   abs(quantity) * mark,
			})
		default:
			venue.CollateralValue += value
		}
		report.ByVenue[key.Venue] = venue

		report.TotalValue += value

		if deltaAsset != "" {
			report.NetDelta[deltaAsset] += deltaQty
		}
	}

	for venue, used := range snap.MarginUsed {
		v := report.ByVenue[venue]
		v.Venue = venue
		v.MarginUsed = used
		report.ByVenue[venue] = v
	}

	for underlying, delta := range report.NetDelta {
		price, err := m.resolvePrice(underlying, snap)
		if err != nil {
			return domain.ExposureReport{}, err
		}
		report.NetDeltaValue[underlying] = delta * price
	}

	m.mu.Lock()
	m.last = &report
	m.mu.Unlock()

	m.logger.Debug("exposure calculated",
		slog.Float64("total_value", report.TotalValue),
		slog.Int("assets", len(report.ByAsset)),
	)
	return report, nil
}

// convert resolves the reporting-currency value of one ledger entry and its
// contribution to net delta (underlying asset and signed underlying units).
func (m *Monitor) convert(key domain.BalanceKey, quantity float64, snap domain.MarketSnapshot) (value float64, deltaAsset string, deltaQty float64, err error) {
	switch key.Kind {
	case domain.KindPerpPosition:
		mark, ok := snap.MarkPrices[key.Asset]
		if !ok {
			return 0, "", 0, domain.NewTickError(domain.CodeUnresolvedPrice, key.Venue, key.Asset, snap.Timestamp,
				fmt.Errorf("%w: no mark price for %s", domain.ErrUnresolvedPrice, key.Asset))
		}
		underlying, ok := m.cfg.PerpUnderlying[key.Asset]
		if !ok {
			return 0, "", 0, domain.NewTickError(domain.CodeUnresolvedPrice, key.Venue, key.Asset, snap.Timestamp,
				fmt.Errorf("%w: no underlying mapping for %s", domain.ErrUnresolvedPrice, key.Asset))
		}
		return quantity * mark, underlying, quantity, nil

	case domain.KindLendingDebt:
		v, underlying, uq, err := m.convertCash(key, quantity, snap)
		if err != nil {
			return 0, "", 0, err
		}
		return -v, underlying, -uq, nil

	default:
		return m.convertCash(key, quantity, snap)
	}
}

// convertCash values a non-derivative entry: receipt tokens go through their
// protocol index to the underlying, everything else through a direct quote.
func (m *Monitor) convertCash(key domain.BalanceKey, quantity float64, snap domain.MarketSnapshot) (value float64, deltaAsset string, deltaQty float64, err error) {
	if idx, ok := snap.ProtocolIndices[key.Asset]; ok {
		underlyingQty := quantity * idx.Rate
		price, err := m.resolvePrice(idx.Underlying, snap)
		if err != nil {
			return 0, "", 0, domain.NewTickError(domain.CodeUnresolvedPrice, key.Venue, key.Asset, snap.Timestamp, err)
		}
		if idx.Underlying == m.cfg.ReportingCurrency {
			return underlyingQty * price, "", 0, nil
		}
		return underlyingQty * price, idx.Underlying, underlyingQty, nil
	}

	price, err := m.resolvePrice(key.Asset, snap)
	if err != nil {
		return 0, "", 0, domain.NewTickError(domain.CodeUnresolvedPrice, key.Venue, key.Asset, snap.Timestamp, err)
	}
	if key.Asset == m.cfg.ReportingCurrency {
		return quantity * price, "", 0, nil
	}
	return quantity * price, key.Asset, quantity, nil
}

func (m *Monitor) resolvePrice(asset string, snap domain.MarketSnapshot) (float64, error) {
	if asset == m.cfg.ReportingCurrency {
		return 1.0, nil
	}
	price, ok := snap.Prices[asset]
	if !ok {
		return 0, fmt.Errorf("%w: %s", domain.ErrUnresolvedPrice, asset)
	}
	if price <= 0 {
		return 0, fmt.Errorf("%w: non-positive price %v for %s", domain.ErrUnresolvedPrice, price, asset)
	}
	return price, nil
}

// signedQuantity flips debt entries so per-asset quantities aggregate with
// the same sign convention as values.
func signedQuantity(kind domain.PositionKind, quantity float64) float64 {
	if kind == domain.KindLendingDebt {
		return -quantity
	}
	return quantity
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

