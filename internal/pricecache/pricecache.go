package pricecache

import (
	"context"
	"errors"
	"strconv"
	"time"

	redis "github.com/go-redis/redis/v8"
)

// keyPrefix namespaces the per-symbol midpoint keys in Redis.
const keyPrefix = "pricewatch:last_mid:"

// PriorPrices tracks the last observed midpoint per symbol across
// replicas. The crossing operators compare against it; everything else
// ignores it.
type PriorPrices interface {
	// Prior returns the previously recorded midpoint for a symbol.
	// The second return is false when no prior exists (first
	// observation or TTL expiry).
	Prior(ctx context.Context, symbol string) (float64, bool, error)
	// Record stores the midpoint observed this pass.
	Record(ctx context.Context, symbol string, mid float64) error
}

// RedisPrices implements PriorPrices on the same Redis the lock uses.
type RedisPrices struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisPrices creates a prior-price cache. Entries expire after ttl;
// a stale midpoint is worse than none for crossing detection.
func NewRedisPrices(client *redis.Client, ttl time.Duration) *RedisPrices {
	return &RedisPrices{client: client, ttl: ttl}
}

// Prior implements PriorPrices.
func (p *RedisPrices) Prior(ctx context.Context, symbol string) (float64, bool, error) {
	val, err := p.client.Get(ctx, keyPrefix+symbol).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	mid, err := strconv.ParseFloat(val, 64)
	if err != nil {
		// Unparseable entry is as good as absent.
		return 0, false, nil
	}
	return mid, true, nil
}

// Record implements PriorPrices.
func (p *RedisPrices) Record(ctx context.Context, symbol string, mid float64) error {
	val := strconv.FormatFloat(mid, 'f', -1, 64)
	return p.client.Set(ctx, keyPrefix+symbol, val, p.ttl).Err()
}
