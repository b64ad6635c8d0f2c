package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and time filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ResultStore journals computed cost results.
type ResultStore interface {
	Insert(ctx context.Context, res CostResult) error
	Latest(ctx context.Context) (CostResult, error)
	List(ctx context.Context, opts ListOpts) ([]CostResult, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// ObservationStore journals model training observations. The in-memory ring
// buffers remain the source of truth for training; this is audit history only.
type ObservationStore interface {
	InsertBatch(ctx context.Context, model string, obs []Observation) error
	Count(ctx context.Context, model string) (int64, error)
}

// LiveCache holds the most recent book metrics and cost result for fast
// presentation-layer reads.
type LiveCache interface {
	SetMetrics(ctx context.Context, m BookMetrics) error
	GetMetrics(ctx context.Context) (BookMetrics, error)
	SetResult(ctx context.Context, res CostResult) error
	GetResult(ctx context.Context) (CostResult, error)
}

// SignalBus provides pub/sub fan-out of cost results and status events to the
// presentation layer.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
}

// RateLimiter provides request rate limiting for the API surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager coordinates work that must run on at most one instance at a
// time, such as archive sweeps. Acquire returns ErrLockHeld when another
// holder owns the lock.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// BlobWriter uploads archive objects.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
