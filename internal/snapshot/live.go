package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// LiveConfig describes the universe the live source assembles each tick and
// how fresh the cached data must be.
type LiveConfig struct {
	// Interval is the tick cadence.
	Interval time.Duration
	// MaxAge is the oldest a cached quote may be relative to the tick
	// timestamp before the tick is rejected as stale.
	MaxAge time.Duration

	Assets   []string
	Perps    []string
	Receipts []string

	// BorrowRates and CostEstimates are static per-tick models in live mode;
	// venues do not quote them on a feed. BorrowRates is overridden per tick
	// when a RateSource is configured.
	BorrowRates   map[string]float64
	CostEstimates map[string]domain.CostEstimate
}

// RateSource resolves current annualized borrow rates, e.g. from a lending
// protocol subgraph.
type RateSource interface {
	BorrowRates(ctx context.Context) (map[string]float64, error)
}

// Live assembles a snapshot per tick from the market data caches populated
// by the feed workers. A stale or missing entry fails the tick; the engine
// halts rather than trade on old data.
type Live struct {
	cfg     LiveConfig
	prices  domain.PriceCache
	marks   domain.MarkPriceCache
	indices domain.IndexCache
	rates   RateSource
	logger  *slog.Logger

	ticker *time.Ticker
	now    func() time.Time
}

// NewLive creates the live source. Ticking starts on the first Next call.
func NewLive(cfg LiveConfig, prices domain.PriceCache, marks domain.MarkPriceCache, indices domain.IndexCache, logger *slog.Logger) (*Live, error) {
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("snapshot: live interval must be positive")
	}
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 2 * cfg.Interval
	}
	if len(cfg.Assets) == 0 {
		return nil, fmt.Errorf("snapshot: live source needs at least one asset")
	}
	return &Live{
		cfg:     cfg,
		prices:  prices,
		marks:   marks,
		indices: indices,
		logger:  logger.With(slog.String("component", "live_source")),
		now:     time.Now,
	}, nil
}

// WithRateSource makes the source fetch live annualized borrow rates each
// tick instead of using the static configured map. Fetch failures fall back
// to the static map; debt accrual degrades rather than halting the run.
func (l *Live) WithRateSource(rates RateSource) *Live {
	l.rates = rates
	return l
}

// Next blocks until the next tick boundary and returns its timestamp. It
// returns the context's error on cancellation so the engine can shut down
// cleanly at the boundary.
func (l *Live) Next(ctx context.Context) (time.Time, bool, error) {
	if l.ticker == nil {
		l.ticker = time.NewTicker(l.cfg.Interval)
		return l.now().UTC(), true, nil
	}
	select {
	case <-ctx.Done():
		l.ticker.Stop()
		return time.Time{}, false, ctx.Err()
	case <-l.ticker.C:
		return l.now().UTC(), true, nil
	}
}

// Snapshot reads every configured asset, perp, and receipt token from the
// caches and verifies freshness against ts.
func (l *Live) Snapshot(ctx context.Context, ts time.Time) (domain.MarketSnapshot, error) {
	snap := domain.MarketSnapshot{
		Timestamp:     ts,
		Prices:        make(map[string]float64, len(l.cfg.Assets)),
		BorrowRates:   l.borrowRates(ctx),
		CostEstimates: l.cfg.CostEstimates,
	}

	for _, asset := range l.cfg.Assets {
		price, quotedAt, err := l.prices.GetPrice(ctx, asset)
		if err != nil {
			return domain.MarketSnapshot{}, domain.NewTickError(domain.CodeUnresolvedPrice, "", asset, ts,
				fmt.Errorf("%w: price cache: %v", domain.ErrUnresolvedPrice, err))
		}
		if err := l.fresh(ts, quotedAt, asset); err != nil {
			return domain.MarketSnapshot{}, err
		}
		snap.Prices[asset] = price
	}

	if len(l.cfg.Perps) > 0 {
		snap.MarkPrices = make(map[string]float64, len(l.cfg.Perps))
		snap.FundingRates = make(map[string]float64, len(l.cfg.Perps))
		for _, perp := range l.cfg.Perps {
			mark, funding, quotedAt, err := l.marks.GetMark(ctx, perp)
			if err != nil {
				return domain.MarketSnapshot{}, domain.NewTickError(domain.CodeUnresolvedPrice, "", perp, ts,
					fmt.Errorf("%w: mark cache: %v", domain.ErrUnresolvedPrice, err))
			}
			if err := l.fresh(ts, quotedAt, perp); err != nil {
				return domain.MarketSnapshot{}, err
			}
			snap.MarkPrices[perp] = mark
			snap.FundingRates[perp] = funding
		}
	}

	if len(l.cfg.Receipts) > 0 {
		snap.ProtocolIndices = make(map[string]domain.ProtocolIndex, len(l.cfg.Receipts))
		for _, receipt := range l.cfg.Receipts {
			idx, quotedAt, err := l.indices.GetIndex(ctx, receipt)
			if err != nil {
				return domain.MarketSnapshot{}, domain.NewTickError(domain.CodeUnresolvedPrice, "", receipt, ts,
					fmt.Errorf("%w: index cache: %v", domain.ErrUnresolvedPrice, err))
			}
			// Protocol indices move slowly; updates land on chain far less
			// often than quotes, so freshness is bounded separately at 10x.
			if ts.Sub(quotedAt) > 10*l.cfg.MaxAge {
				return domain.MarketSnapshot{}, l.staleErr(ts, quotedAt, receipt)
			}
			snap.ProtocolIndices[receipt] = idx
		}
	}

	return snap, nil
}

// borrowRates resolves per-tick borrow rate fractions. A live rate source
// quotes annualized rates, so they are scaled down to the tick interval.
func (l *Live) borrowRates(ctx context.Context) map[string]float64 {
	if l.rates == nil {
		return l.cfg.BorrowRates
	}
	annualized, err := l.rates.BorrowRates(ctx)
	if err != nil {
		l.logger.Warn("borrow rate fetch failed, using static rates", slog.String("error", err.Error()))
		return l.cfg.BorrowRates
	}
	const secondsPerYear = 365 * 24 * 3600
	perTick := make(map[string]float64, len(annualized))
	for asset, rate := range annualized {
		perTick[asset] = rate * l.cfg.Interval.Seconds() / secondsPerYear
	}
	return perTick
}

func (l *Live) fresh(ts, quotedAt time.Time, entity string) error {
	if ts.Sub(quotedAt) > l.cfg.MaxAge {
		return l.staleErr(ts, quotedAt, entity)
	}
	return nil
}

func (l *Live) staleErr(ts, quotedAt time.Time, entity string) error {
	return domain.NewTickError(domain.CodeStaleData, "", entity, ts,
		fmt.Errorf("%w: %s quoted at %s, tick at %s", domain.ErrStaleData,
			entity, quotedAt.UTC().Format(time.RFC3339), ts.UTC().Format(time.RFC3339)))
}

var _ domain.SnapshotSource = (*Live)(nil)
