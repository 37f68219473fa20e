package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest venue prices. Backed by Redis
// in live mode; the live snapshot source reads it once per tick.
type PriceCache interface {
	SetPrice(ctx context.Context, asset string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, asset string) (float64, time.Time, error)
	GetPrices(ctx context.Context, assets []string) (map[string]float64, error)
}

// MarkPriceCache stores the latest perpetual mark prices and funding rates.
type MarkPriceCache interface {
	SetMark(ctx context.Context, instrument string, mark, fundingRate float64, ts time.Time) error
	GetMark(ctx context.Context, instrument string) (mark, fundingRate float64, ts time.Time, err error)
}

// IndexCache stores the latest protocol indices for receipt tokens.
type IndexCache interface {
	SetIndex(ctx context.Context, asset string, idx ProtocolIndex, ts time.Time) error
	GetIndex(ctx context.Context, asset string) (ProtocolIndex, time.Time, error)
}

// RateLimiter provides distributed rate limiting for venue API calls.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// LockManager provides distributed locking. Live mode takes a leader lock so
// two engines can never trade the same book.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams used to fan engine events
// out to operators.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
