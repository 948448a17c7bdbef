package redis

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/utafrali/storefront/services/storefront/internal/repository"
)

const keyPrefix = "storefront:price:"

// PriceCache caches catalog prices in Redis in front of another
// PriceSource. Concurrent misses for the same product set share one upstream
// call.
type PriceCache struct {
	client *redis.Client
	source repository.PriceSource
	ttl    time.Duration
	logger *slog.Logger
	group  singleflight.Group
}

// NewPriceCache creates a Redis-backed price cache over source.
func NewPriceCache(client *redis.Client, source repository.PriceSource, ttl time.Duration, logger *slog.Logger) *PriceCache {
	return &PriceCache{
		client: client,
		source: source,
		ttl:    ttl,
		logger: logger,
	}
}

func priceKey(id int64) string {
	return keyPrefix + strconv.FormatInt(id, 10)
}

// GetPrices returns cached prices and fetches the rest from the source.
// A Redis failure degrades to the source instead of failing the call.
func (c *PriceCache) GetPrices(ctx context.Context, productIDs []int64) (map[int64]int64, error) {
	prices := make(map[int64]int64, len(productIDs))
	if len(productIDs) == 0 {
		return prices, nil
	}

	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = priceKey(id)
	}

	var missing []int64
	vals, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		c.logger.WarnContext(ctx, "price cache read failed, falling back to source",
			slog.String("error", err.Error()),
		)
		missing = productIDs
	} else {
		for i, v := range vals {
			s, ok := v.(string)
			if !ok {
				missing = append(missing, productIDs[i])
				continue
			}
			p, perr := strconv.ParseInt(s, 10, 64)
			if perr != nil {
				missing = append(missing, productIDs[i])
				continue
			}
			prices[productIDs[i]] = p
		}
	}

	if len(missing) == 0 {
		return prices, nil
	}

	fetched, err := c.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for id, p := range fetched {
		prices[id] = p
	}
	return prices, nil
}

func (c *PriceCache) fetch(ctx context.Context, ids []int64) (map[int64]int64, error) {
	sorted := append([]int64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}

	// The shared call outlives any single caller's cancellation.
	v, err, _ := c.group.Do(strings.Join(parts, ","), func() (any, error) {
		ctx := context.WithoutCancel(ctx)
		fetched, err := c.source.GetPrices(ctx, sorted)
		if err != nil {
			return nil, fmt.Errorf("fetch prices: %w", err)
		}

		pipe := c.client.Pipeline()
		for id, p := range fetched {
			pipe.Set(ctx, priceKey(id), p, c.ttl)
		}
		if _, err := pipe.Exec(ctx); err != nil {
			c.logger.WarnContext(ctx, "price cache write failed",
				slog.Int("prices", len(fetched)),
				slog.String("error", err.Error()),
			)
		}
		return fetched, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[int64]int64), nil
}

var _ repository.PriceInvalidator = (*PriceCache)(nil)

// Invalidate drops cached prices for the given products.
func (c *PriceCache) Invalidate(ctx context.Context, productIDs ...int64) error {
	if len(productIDs) == 0 {
		return nil
	}
	keys := make([]string, len(productIDs))
	for i, id := range productIDs {
		keys[i] = priceKey(id)
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del prices: %w", err)
	}
	return nil
}
