package memorystore

import (
	"context"
	"sync"
	"time"

	"github.com/open-rails/storeauth/core"
)

type kvItem struct {
	value   []byte
	expires time.Time
}

// KV is an in-memory core.EphemeralStore. Credential caches sharing one KV
// share one store token; across processes use the redis KV instead.
type KV struct {
	mu    sync.Mutex
	items map[string]kvItem
	clock core.Clock
}

// NewKV returns an empty store on the system clock.
func NewKV() *KV {
	return &KV{items: make(map[string]kvItem), clock: core.SystemClock{}}
}

// WithClock sets the time source used for TTL expiry.
func (k *KV) WithClock(c core.Clock) *KV {
	if c != nil {
		k.clock = c
	}
	return k
}

func (k *KV) Get(ctx context.Context, key string) ([]byte, bool, error) {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	it, ok := k.items[key]
	if !ok {
		return nil, false, nil
	}
	if !it.expires.IsZero() && !k.clock.Now().Before(it.expires) {
		delete(k.items, key)
		return nil, false, nil
	}
	return append([]byte(nil), it.value...), true, nil
}

func (k *KV) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	var exp time.Time
	if ttl > 0 {
		exp = k.clock.Now().Add(ttl)
	}
	k.items[key] = kvItem{value: append([]byte(nil), value...), expires: exp}
	return nil
}

func (k *KV) Del(ctx context.Context, key string) error {
	_ = ctx
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.items, key)
	return nil
}
