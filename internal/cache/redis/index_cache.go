package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/IggyIkenna/basis-strategy-v1-sub007/internal/domain"
)

// IndexCache implements domain.IndexCache using Redis hashes. Each receipt
// token's protocol index lives at "index:{asset}" with fields "underlying",
// "rate", and "ts".
type IndexCache struct {
	rdb *redis.Client
}

// NewIndexCache creates an IndexCache backed by the given Client.
func NewIndexCache(c *Client) *IndexCache {
	return &IndexCache{rdb: c.Underlying()}
}

func indexKey(asset string) string {
	return "index:" + asset
}

// SetIndex stores the latest protocol index for a receipt token.
func (ic *IndexCache) SetIndex(ctx context.Context, asset string, idx domain.ProtocolIndex, ts time.Time) error {
	fields := map[string]interface{}{
		"underlying": idx.Underlying,
		"rate":       strconv.FormatFloat(idx.Rate, 'f', -1, 64),
		"ts":         strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := ic.rdb.HSet(ctx, indexKey(asset), fields).Err(); err != nil {
		return fmt.Errorf("redis: set index %s: %w", asset, err)
	}
	return nil
}

// GetIndex retrieves the latest protocol index and its update timestamp. It
// returns domain.ErrNotFound when nothing is cached.
func (ic *IndexCache) GetIndex(ctx context.Context, asset string) (domain.ProtocolIndex, time.Time, error) {
	vals, err := ic.rdb.HGetAll(ctx, indexKey(asset)).Result()
	if err != nil {
		return domain.ProtocolIndex{}, time.Time{}, fmt.Errorf("redis: get index %s: %w", asset, err)
	}
	if len(vals) == 0 {
		return domain.ProtocolIndex{}, time.Time{}, domain.ErrNotFound
	}

	rate, err := strconv.ParseFloat(vals["rate"], 64)
	if err != nil {
		return domain.ProtocolIndex{}, time.Time{}, fmt.Errorf("redis: parse rate %s: %w", asset, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return domain.ProtocolIndex{}, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", asset, err)
	}
	return domain.ProtocolIndex{
		Underlying: vals["underlying"],
		Rate:       rate,
	}, time.Unix(0, tsNano), nil
}

// Compile-time interface check.
var _ domain.IndexCache = (*IndexCache)(nil)
