package core

import (
	"context"
	"time"
)

// EphemeralStore is a minimal key-value interface used for short-lived shared state
// such as exchanged store credentials.
// Implementations should honor TTL on Set and treat missing keys as (found=false, err=nil).
type EphemeralStore interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
}
