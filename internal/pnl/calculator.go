// Package pnl computes period PnL two independent ways and reconciles them.
// The balance-based series is current portfolio value minus initial capital;
// the attribution-based series sums named buckets derived from price moves on
// the prior tick's holdings plus the tick's settlement activity. Persistent
// divergence between the two indicates a modeling bug and is surfaced as a
// flag on the record, never as a halt.
package pnl

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// Config holds the calculator's policy knobs.
type Config struct {
	// Tolerance is the reconciliation tolerance in reporting currency.
	Tolerance float64
	// HistorySize bounds the retained record history; zero keeps everything.
	HistorySize int
}

// Inputs is everything the attribution derivation needs for one tick.
type Inputs struct {
	// Prev is the exposure after the previous tick's settlement, valued at
	// the previous snapshot. Curr is this tick's post-settlement exposure.
	Prev domain.ExposureReport
	Curr domain.ExposureReport

	PrevSnap domain.MarketSnapshot
	CurrSnap domain.MarketSnapshot

	// PrevLedger is the ledger before this tick's settlements.
	PrevLedger domain.LedgerSnapshot
	// Settlements are the events applied this tick, carrying their tagged
	// attribution amounts (funding, costs, rewards, plain-debt interest).
	Settlements []domain.SettlementEvent
}

// Calculator accumulates both cumulative PnL series. Initial capital latches
// from the first tick's previous exposure.
type Calculator struct {
	cfg    Config
	logger *slog.Logger

	mu             sync.Mutex
	initialized    bool
	initialCapital float64
	buckets        map[domain.AttributionBucket]float64
	history        []domain.PnLRecord
	breachStreak   int
}

// New creates a Calculator.
func New(cfg Config, logger *slog.Logger) *Calculator {
	if cfg.Tolerance <= 0 {
		cfg.Tolerance = 1.0
	}
	return &Calculator{
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "pnl_calculator")),
		buckets: make(map[domain.AttributionBucket]float64),
	}
}

// Calculate produces the PnL record for one tick. Both derivations always
// run; a reconciliation breach flags the record but the tick completes.
func (c *Calculator) Calculate(in Inputs) (domain.PnLRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initialized {
		c.initialCapital = in.Prev.TotalValue
		c.initialized = true
	}

	tickBuckets, err := c.attributeTick(in)
	if err != nil {
		return domain.PnLRecord{}, err
	}
	for bucket, amount := range tickBuckets {
		c.buckets[bucket] += amount
	}

	record := domain.PnLRecord{
		Timestamp:    in.Curr.Timestamp,
		BalancePnL:   in.Curr.TotalValue - c.initialCapital,
		BalanceDelta: in.Curr.TotalValue - in.Prev.TotalValue,
		Buckets:      make(map[domain.AttributionBucket]float64, len(c.buckets)),
	}
	for bucket, total := range c.buckets {
		record.Buckets[bucket] = total
		record.AttributionPnL += total
	}

	record.ReconciliationDelta = absf(record.BalancePnL - record.AttributionPnL)
	record.Reconciled = record.ReconciliationDelta <= c.cfg.Tolerance

	if record.Reconciled {
		c.breachStreak = 0
	} else {
		c.breachStreak++
		c.logger.Warn("pnl reconciliation breach",
			slog.Float64("balance_pnl", record.BalancePnL),
			slog.Float64("attribution_pnl", record.AttributionPnL),
			slog.Float64("delta", record.ReconciliationDelta),
			slog.Int("streak", c.breachStreak),
		)
	}

	c.history = append(c.history, record)
	if c.cfg.HistorySize > 0 && len(c.history) > c.cfg.HistorySize {
		c.history = c.history[len(c.history)-c.cfg.HistorySize:]
	}
	return record, nil
}

// History returns up to limit most recent records, newest last.
func (c *Calculator) History(limit int) []domain.PnLRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	if limit <= 0 || limit > len(c.history) {
		limit = len(c.history)
	}
	out := make([]domain.PnLRecord, limit)
	copy(out, c.history[len(c.history)-limit:])
	return out
}

// BreachStreak returns how many consecutive ticks have failed reconciliation.
func (c *Calculator) BreachStreak() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breachStreak
}

// attributeTick derives this tick's bucket amounts. Market buckets come from
// price and index moves on the prior holdings; settlement buckets come from
// the tagged amounts on applied events. The decomposition is exact: for each
// leg, qty*dMark = qty*dSpot (delta) + qty*d(mark-spot) (basis), and receipt
// token value change splits into index growth (yield) plus underlying price
// move (already inside delta via underlying-equivalent units).
func (c *Calculator) attributeTick(in Inputs) (map[domain.AttributionBucket]float64, error) {
	out := make(map[domain.AttributionBucket]float64)

	// Delta: net underlying exposure carried into the tick times the spot move.
	for underlying, units := range in.Prev.NetDelta {
		prevPrice, currPrice, err := pricePair(underlying, in)
		if err != nil {
			return nil, err
		}
		out[domain.BucketDelta] += units * (currPrice - prevPrice)
	}

	// Basis: perpetual legs carried into the tick times the basis move.
	for _, venue := range in.Prev.ByVenue {
		for _, perp := range venue.Perps {
			prevMark, ok := in.PrevSnap.MarkPrices[perp.Instrument]
			if !ok {
				return nil, fmt.Errorf("pnl: no previous mark for %s", perp.Instrument)
			}
			currMark, ok := in.CurrSnap.MarkPrices[perp.Instrument]
			if !ok {
				return nil, fmt.Errorf("pnl: no current mark for %s", perp.Instrument)
			}
			prevPrice, currPrice, err := pricePair(perp.Underlying, in)
			if err != nil {
				return nil, err
			}
			out[domain.BucketBasis] += perp.Quantity * ((currMark - currPrice) - (prevMark - prevPrice))
		}
	}

	// Yields: index growth on receipt tokens held into the tick, valued at
	// the current underlying price.
	for key, qty := range in.PrevLedger.Balances {
		prevIdx, ok := in.PrevSnap.ProtocolIndices[key.Asset]
		if !ok {
			continue
		}
		currIdx, ok := in.CurrSnap.ProtocolIndices[key.Asset]
		if !ok {
			return nil, fmt.Errorf("pnl: protocol index for %s vanished mid-run", key.Asset)
		}
		_, currPrice, err := pricePair(currIdx.Underlying, in)
		if err != nil {
			return nil, err
		}
		growth := qty.InexactFloat64() * (currIdx.Rate - prevIdx.Rate) * currPrice

		switch key.Kind {
		case domain.KindLendingDeposit:
			out[domain.BucketSupplyYield] += growth
		case domain.KindStakedBalance:
			out[domain.BucketStakingYield] += growth
		case domain.KindLendingDebt:
			out[domain.BucketBorrowCost] -= growth
		}
	}

	// Settlement activity: funding, transaction costs, rewards, and any
	// plain-balance interest, as tagged by the producer of each event.
	for _, ev := range in.Settlements {
		for bucket, amount := range ev.Attribution {
			out[bucket] += amount
		}
	}
	return out, nil
}

func pricePair(asset string, in Inputs) (prev, curr float64, err error) {
	reporting := in.Prev.ReportingCurrency
	if asset == reporting || asset == "" {
		return 1, 1, nil
	}
	prev, ok := in.PrevSnap.Prices[asset]
	if !ok {
		return 0, 0, fmt.Errorf("pnl: no previous price for %s", asset)
	}
	curr, ok = in.CurrSnap.Prices[asset]
	if !ok {
		return 0, 0, fmt.Errorf("pnl: no current price for %s", asset)
	}
	return prev, curr, nil
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
