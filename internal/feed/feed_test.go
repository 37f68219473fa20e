package feed

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

type memPriceCache struct {
	mu     sync.Mutex
	prices map[string]float64
}

func (c *memPriceCache) SetPrice(_ context.Context, asset string, price float64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[asset] = price
	return nil
}

func (c *memPriceCache) GetPrice(context.Context, string) (float64, time.Time, error) {
	return 0, time.Time{}, domain.ErrNotFound
}

func (c *memPriceCache) GetPrices(context.Context, []string) (map[string]float64, error) {
	return nil, nil
}

type memMarkCache struct {
	mu    sync.Mutex
	marks map[string][2]float64
}

func (c *memMarkCache) SetMark(_ context.Context, instrument string, mark, funding float64, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marks[instrument] = [2]float64{mark, funding}
	return nil
}

func (c *memMarkCache) GetMark(context.Context, string) (float64, float64, time.Time, error) {
	return 0, 0, time.Time{}, domain.ErrNotFound
}

type memIndexCache struct {
	mu      sync.Mutex
	indices map[string]domain.ProtocolIndex
}

func (c *memIndexCache) SetIndex(_ context.Context, asset string, idx domain.ProtocolIndex, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.indices[asset] = idx
	return nil
}

func (c *memIndexCache) GetIndex(context.Context, string) (domain.ProtocolIndex, time.Time, error) {
	return domain.ProtocolIndex{}, time.Time{}, domain.ErrNotFound
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMarketFeedWritesTrackedAssetsOnly(t *testing.T) {
	prices := &memPriceCache{prices: map[string]float64{}}
	marks := &memMarkCache{marks: map[string][2]float64{}}
	f := NewMarketFeed(MarketFeedConfig{
		Assets: []string{"ETH", "USDC"},
		Perps:  map[string]string{"ETH": "ETH-PERP"},
	}, prices, marks, discardLogger())

	now := time.Now()
	f.handleMids(context.Background(), map[string]float64{
		"ETH": 3005.5, "USDC": 1.0, "DOGE": 0.12,
	}, now)

	if prices.prices["ETH"] != 3005.5 || prices.prices["USDC"] != 1.0 {
		t.Fatalf("prices = %v", prices.prices)
	}
	if _, ok := prices.prices["DOGE"]; ok {
		t.Fatal("untracked asset written to cache")
	}
}

func TestMarketFeedMapsPerpInstrument(t *testing.T) {
	prices := &memPriceCache{prices: map[string]float64{}}
	marks := &memMarkCache{marks: map[string][2]float64{}}
	f := NewMarketFeed(MarketFeedConfig{
		Perps: map[string]string{"ETH": "ETH-PERP"},
	}, prices, marks, discardLogger())

	now := time.Now()
	f.handleAssetCtx(context.Background(), "ETH", 3010.25, 0.0000125, now)
	f.handleAssetCtx(context.Background(), "BTC", 64000, 0.00002, now)

	got, ok := marks.marks["ETH-PERP"]
	if !ok || got[0] != 3010.25 || got[1] != 0.0000125 {
		t.Fatalf("marks = %v", marks.marks)
	}
	if len(marks.marks) != 1 {
		t.Fatalf("unmapped coin written: %v", marks.marks)
	}
}

type fakeIndexSource struct {
	assets  []string
	indices map[string]domain.ProtocolIndex
	err     error
	calls   int
}

func (s *fakeIndexSource) FetchIndex(_ context.Context, asset string) (domain.ProtocolIndex, error) {
	s.calls++
	if s.err != nil {
		return domain.ProtocolIndex{}, s.err
	}
	return s.indices[asset], nil
}

func (s *fakeIndexSource) Assets() []string { return s.assets }

type fakeLimiter struct {
	allowed bool
}

func (l *fakeLimiter) Allow(context.Context, string, int, time.Duration) (bool, error) {
	return l.allowed, nil
}

func (l *fakeLimiter) Wait(context.Context, string) error { return nil }

func TestIndexPollerWritesCache(t *testing.T) {
	source := &fakeIndexSource{
		assets: []string{"aUSDC", "stETH"},
		indices: map[string]domain.ProtocolIndex{
			"aUSDC": {Underlying: "USDC", Rate: 1.05},
			"stETH": {Underlying: "ETH", Rate: 1.02},
		},
	}
	cache := &memIndexCache{indices: map[string]domain.ProtocolIndex{}}
	p := NewIndexPoller(source, cache, &fakeLimiter{allowed: true}, time.Minute, discardLogger())

	p.poll(context.Background())

	if cache.indices["aUSDC"].Rate != 1.05 || cache.indices["stETH"].Underlying != "ETH" {
		t.Fatalf("indices = %v", cache.indices)
	}
}

func TestIndexPollerStopsWhenRateLimited(t *testing.T) {
	source := &fakeIndexSource{assets: []string{"aUSDC"}}
	cache := &memIndexCache{indices: map[string]domain.ProtocolIndex{}}
	p := NewIndexPoller(source, cache, &fakeLimiter{allowed: false}, time.Minute, discardLogger())

	p.poll(context.Background())

	if source.calls != 0 {
		t.Fatalf("fetch called %d times while rate limited", source.calls)
	}
}

func TestIndexPollerSkipsFailedAssets(t *testing.T) {
	source := &fakeIndexSource{assets: []string{"aUSDC"}, err: errors.New("rpc down")}
	cache := &memIndexCache{indices: map[string]domain.ProtocolIndex{}}
	p := NewIndexPoller(source, cache, nil, time.Minute, discardLogger())

	p.poll(context.Background())

	if len(cache.indices) != 0 {
		t.Fatalf("indices written on error: %v", cache.indices)
	}
}

func TestIndexPollerRunStopsOnCancel(t *testing.T) {
	source := &fakeIndexSource{assets: []string{"aUSDC"}, indices: map[string]domain.ProtocolIndex{
		"aUSDC": {Underlying: "USDC", Rate: 1.0},
	}}
	cache := &memIndexCache{indices: map[string]domain.ProtocolIndex{}}
	p := NewIndexPoller(source, cache, nil, time.Hour, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	// The first poll is immediate; give it a moment, then cancel.
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("poller did not stop")
	}

	if cache.indices["aUSDC"].Rate != 1.0 {
		t.Fatalf("first poll missing: %v", cache.indices)
	}
}
