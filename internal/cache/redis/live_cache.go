package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/alanyoungcy/costsim/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	metricsKey = "live:metrics"
	resultKey  = "live:result"

	// defaultLiveTTL bounds staleness of the presentation-layer reads; a
	// value that outlives the simulation tick by a wide margin still
	// expires once the pipeline stops.
	defaultLiveTTL = 10 * time.Second
)

// LiveCache implements domain.LiveCache with JSON values under short TTLs.
// It holds exactly one metrics snapshot and one cost result, each
// overwritten on every simulation tick.
type LiveCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewLiveCache creates a LiveCache backed by the given Client. A ttl of
// zero selects the default.
func NewLiveCache(c *Client, ttl time.Duration) *LiveCache {
	if ttl <= 0 {
		ttl = defaultLiveTTL
	}
	return &LiveCache{rdb: c.Underlying(), ttl: ttl}
}

// SetMetrics stores the latest book metrics snapshot.
func (lc *LiveCache) SetMetrics(ctx context.Context, m domain.BookMetrics) error {
	return lc.set(ctx, metricsKey, m)
}

// GetMetrics retrieves the latest book metrics snapshot. It returns
// domain.ErrNotFound when no snapshot is cached.
func (lc *LiveCache) GetMetrics(ctx context.Context) (domain.BookMetrics, error) {
	var m domain.BookMetrics
	err := lc.get(ctx, metricsKey, &m)
	return m, err
}

// SetResult stores the latest cost result.
func (lc *LiveCache) SetResult(ctx context.Context, res domain.CostResult) error {
	return lc.set(ctx, resultKey, res)
}

// GetResult retrieves the latest cost result. It returns domain.ErrNotFound
// when no result is cached.
func (lc *LiveCache) GetResult(ctx context.Context) (domain.CostResult, error) {
	var res domain.CostResult
	err := lc.get(ctx, resultKey, &res)
	return res, err
}

func (lc *LiveCache) set(ctx context.Context, key string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("redis: marshal %s: %w", key, err)
	}
	if err := lc.rdb.Set(ctx, namespaced(key), payload, lc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (lc *LiveCache) get(ctx context.Context, key string, v any) error {
	payload, err := lc.rdb.Get(ctx, namespaced(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("redis: get %s: %w", key, err)
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("redis: unmarshal %s: %w", key, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.LiveCache = (*LiveCache)(nil)
