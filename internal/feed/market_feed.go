// Package feed keeps the live market caches fresh: venue websocket prices
// into the price and mark caches, protocol indices into the index cache.
package feed

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/platform/hyperliquid"
)

// MarketFeedConfig selects which venue symbols feed which caches.
type MarketFeedConfig struct {
	// WSURL is the venue websocket endpoint.
	WSURL string
	// Assets are the spot symbols to track from the mids stream.
	Assets []string
	// Perps maps venue coin to the local perp instrument symbol,
	// e.g. "ETH" -> "ETH-PERP".
	Perps map[string]string
}

// MarketFeed subscribes to the venue websocket and writes every update into
// the price and mark caches. It reconnects on disconnect.
type MarketFeed struct {
	cfg    MarketFeedConfig
	prices domain.PriceCache
	marks  domain.MarkPriceCache
	logger *slog.Logger

	assets map[string]bool

	closeOnce sync.Once
	done      chan struct{}
}

// NewMarketFeed creates a feed writing to the given caches.
func NewMarketFeed(cfg MarketFeedConfig, prices domain.PriceCache, marks domain.MarkPriceCache, logger *slog.Logger) *MarketFeed {
	assets := make(map[string]bool, len(cfg.Assets))
	for _, a := range cfg.Assets {
		assets[a] = true
	}
	return &MarketFeed{
		cfg:    cfg,
		prices: prices,
		marks:  marks,
		logger: logger.With(slog.String("component", "market_feed")),
		assets: assets,
		done:   make(chan struct{}),
	}
}

// Run connects, subscribes, and blocks until ctx is cancelled or Close is
// called. Reconnects with a fixed delay when a connection attempt fails.
func (f *MarketFeed) Run(ctx context.Context) error {
	if len(f.assets) == 0 && len(f.cfg.Perps) == 0 {
		f.logger.Info("no symbols to subscribe, exiting")
		return nil
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}
		connCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		err := f.runConnection(ctx, connCtx)
		cancel()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("venue ws disconnected, reconnecting", slog.String("error", err.Error()))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

func (f *MarketFeed) runConnection(ctx, connCtx context.Context) error {
	client := hyperliquid.NewWSClient(f.cfg.WSURL)
	defer client.Close()

	client.OnMids(func(mids map[string]float64, ts time.Time) {
		f.handleMids(ctx, mids, ts)
	})
	client.OnAssetCtx(func(coin string, mark, funding float64, ts time.Time) {
		f.handleAssetCtx(ctx, coin, mark, funding, ts)
	})

	if err := client.Connect(connCtx); err != nil {
		return err
	}
	if len(f.assets) > 0 {
		if err := client.SubscribeAllMids(connCtx); err != nil {
			return err
		}
	}
	if len(f.cfg.Perps) > 0 {
		coins := make([]string, 0, len(f.cfg.Perps))
		for coin := range f.cfg.Perps {
			coins = append(coins, coin)
		}
		if err := client.SubscribeAssetCtx(connCtx, coins); err != nil {
			return err
		}
	}
	f.logger.Info("venue ws subscribed",
		slog.Int("assets", len(f.assets)),
		slog.Int("perps", len(f.cfg.Perps)),
	)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.done:
		return nil
	}
}

func (f *MarketFeed) handleMids(ctx context.Context, mids map[string]float64, ts time.Time) {
	for asset, price := range mids {
		if !f.assets[asset] {
			continue
		}
		if err := f.prices.SetPrice(ctx, asset, price, ts); err != nil {
			f.logger.Debug("price cache write failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (f *MarketFeed) handleAssetCtx(ctx context.Context, coin string, mark, funding float64, ts time.Time) {
	instrument, ok := f.cfg.Perps[coin]
	if !ok {
		return
	}
	if err := f.marks.SetMark(ctx, instrument, mark, funding, ts); err != nil {
		f.logger.Debug("mark cache write failed",
			slog.String("instrument", instrument),
			slog.String("error", err.Error()),
		)
	}
}

// Close stops the feed.
func (f *MarketFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}
