package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// MarkPriceCache implements domain.MarkPriceCache using Redis hashes. Each
// instrument's state lives at "mark:{instrument}" with fields "mark",
// "funding", and "ts".
type MarkPriceCache struct {
	rdb *redis.Client
}

// NewMarkPriceCache creates a MarkPriceCache backed by the given Client.
func NewMarkPriceCache(c *Client) *MarkPriceCache {
	return &MarkPriceCache{rdb: c.Underlying()}
}

func markKey(instrument string) string {
	return "mark:" + instrument
}

// SetMark stores the latest mark price and funding rate for an instrument.
func (mc *MarkPriceCache) SetMark(ctx context.Context, instrument string, mark, fundingRate float64, ts time.Time) error {
	fields := map[string]interface{}{
		"mark":    strconv.FormatFloat(mark, 'f', -1, 64),
		"funding": strconv.FormatFloat(fundingRate, 'f', -1, 64),
		"ts":      strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := mc.rdb.HSet(ctx, markKey(instrument), fields).Err(); err != nil {
		return fmt.Errorf("redis: set mark %s: %w", instrument, err)
	}
	return nil
}

// GetMark retrieves the latest mark price, funding rate, and quote timestamp
// for an instrument. It returns domain.ErrNotFound when nothing is cached.
func (mc *MarkPriceCache) GetMark(ctx context.Context, instrument string) (float64, float64, time.Time, error) {
	vals, err := mc.rdb.HGetAll(ctx, markKey(instrument)).Result()
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: get mark %s: %w", instrument, err)
	}
	if len(vals) == 0 {
		return 0, 0, time.Time{}, domain.ErrNotFound
	}

	mark, err := strconv.ParseFloat(vals["mark"], 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse mark %s: %w", instrument, err)
	}
	funding, err := strconv.ParseFloat(vals["funding"], 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse funding %s: %w", instrument, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return 0, 0, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", instrument, err)
	}
	return mark, funding, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.MarkPriceCache = (*MarkPriceCache)(nil)
