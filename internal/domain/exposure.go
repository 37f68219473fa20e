package domain

import "time"

// AssetExposure is the aggregated exposure of one asset across venues.
type AssetExposure struct {
	Asset string
	// Quantity is the net signed quantity held, in units of the asset.
	Quantity float64
	// Value is the reporting-currency value of that quantity.
	Value float64
}

// PerpExposure is one open perpetual position at a venue.
type PerpExposure struct {
	Instrument string
	Underlying string
	// Quantity is signed; negative is short.
	Quantity float64
	Mark     float64
	// Notional is |Quantity| * Mark.
	Notional float64
}

// VenueExposure is the aggregated exposure booked at one venue.
type VenueExposure struct {
	Venue string
	Value float64
	// CollateralValue sums deposits, staked balances, and spot balances.
	CollateralValue float64
	// DebtValue is the positive reporting-currency value of outstanding debt.
	DebtValue float64
	// MarginUsed is the reporting-currency margin locked at the venue by
	// open derivative positions. It is informational and already reflected
	// in Value through the venue's balances.
	MarginUsed float64
	Perps      []PerpExposure
}

// ExposureReport is the portfolio exposure for a single tick, normalized into
// the reporting currency. Immutable once produced.
type ExposureReport struct {
	Timestamp         time.Time
	ReportingCurrency string

	// TotalValue is the portfolio value in the reporting currency.
	TotalValue float64
	ByAsset    map[string]AssetExposure
	ByVenue    map[string]VenueExposure

	// NetDelta maps underlying asset to the net signed exposure in units of
	// that underlying, across spot, receipt-token, and derivative legs. A
	// market-neutral book nets toward zero.
	NetDelta map[string]float64
	// NetDeltaValue is NetDelta converted at the tick's underlying prices.
	NetDeltaValue map[string]float64
}
