package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented TTL cache. The market data aggregator uses it to
// keep short-lived sentiment snapshots out of the per-analyst hot path.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
