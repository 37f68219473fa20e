package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// IndexSource resolves the current redemption rate for receipt assets.
// Implemented by the onchain RPC client.
type IndexSource interface {
	FetchIndex(ctx context.Context, asset string) (domain.ProtocolIndex, error)
	Assets() []string
}

// IndexPoller periodically reads protocol indices and writes them into the
// index cache. RPC calls are gated by a rate limiter so a short poll
// interval cannot hammer the node provider.
type IndexPoller struct {
	source   IndexSource
	cache    domain.IndexCache
	limiter  domain.RateLimiter
	interval time.Duration
	logger   *slog.Logger
}

// rateLimitKey buckets all index RPC calls under one limiter window.
const rateLimitKey = "onchain:index"

// NewIndexPoller creates a poller reading from source every interval.
func NewIndexPoller(source IndexSource, cache domain.IndexCache, limiter domain.RateLimiter, interval time.Duration, logger *slog.Logger) *IndexPoller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &IndexPoller{
		source:   source,
		cache:    cache,
		limiter:  limiter,
		interval: interval,
		logger:   logger.With(slog.String("component", "index_poller")),
	}
}

// Run polls until ctx is cancelled. The first poll happens immediately so
// the cache is warm before the engine's first tick.
func (p *IndexPoller) Run(ctx context.Context) error {
	p.logger.Info("index poller started",
		slog.Int("assets", len(p.source.Assets())),
		slog.Duration("interval", p.interval),
	)
	defer p.logger.Info("index poller stopped")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *IndexPoller) poll(ctx context.Context) {
	for _, asset := range p.source.Assets() {
		if p.limiter != nil {
			allowed, err := p.limiter.Allow(ctx, rateLimitKey, 30, time.Minute)
			if err == nil && !allowed {
				p.logger.Warn("index poll rate limited", slog.String("asset", asset))
				return
			}
		}

		idx, err := p.source.FetchIndex(ctx, asset)
		if err != nil {
			p.logger.Warn("index fetch failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := p.cache.SetIndex(ctx, asset, idx, time.Now().UTC()); err != nil {
			p.logger.Warn("index cache write failed",
				slog.String("asset", asset),
				slog.String("error", err.Error()),
			)
		}
	}
}
