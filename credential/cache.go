// Package credential caches short-lived bearer credentials for outbound store
// API calls and renews them when they go stale.
package credential

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/open-rails/storeauth/core"
)

// RenewFunc mints a new bearer token at now and reports when it expires.
type RenewFunc func(ctx context.Context, now time.Time) (token string, expires time.Time, err error)

// Source hands out a bearer token that is valid at the time of the call.
type Source interface {
	BearerToken(ctx context.Context) (string, error)
}

// Cache holds one bearer token and renews it once now >= expiry.
//
// Without WithSingleFlight, concurrent callers that all see a stale token each
// renew; every one of them still gets a valid token and the last write wins.
type Cache struct {
	renew RenewFunc
	clock core.Clock

	mu      sync.Mutex
	token   string
	expires time.Time

	singleFlight bool
	group        singleflight.Group
	flightTTL    time.Duration

	store    core.EphemeralStore
	storeKey string
}

type Option func(*Cache)

// WithClock sets the time source for expiry decisions.
func WithClock(c core.Clock) Option { return func(k *Cache) { k.clock = c } }

// DefaultFlightTimeout bounds a shared renewal once it no longer follows the
// context of the caller that started it.
const DefaultFlightTimeout = 30 * time.Second

// WithSingleFlight makes concurrent renewals collapse into one call to RenewFunc.
// The shared call does not stop when the caller that started it goes away;
// every caller still returns as soon as its own context is done.
func WithSingleFlight() Option { return func(k *Cache) { k.singleFlight = true } }

// WithFlightTimeout overrides DefaultFlightTimeout.
func WithFlightTimeout(d time.Duration) Option {
	return func(k *Cache) {
		if d > 0 {
			k.flightTTL = d
		}
	}
}

// WithSharedStore shares the credential through store under key, so replicas
// reuse one renewed token instead of each renewing their own.
func WithSharedStore(store core.EphemeralStore, key string) Option {
	return func(k *Cache) {
		k.store = store
		k.storeKey = key
	}
}

func New(renew RenewFunc, opts ...Option) *Cache {
	c := &Cache{renew: renew, clock: core.SystemClock{}, flightTTL: DefaultFlightTimeout}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sharedEntry struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// BearerToken returns the cached token, renewing it first when it is stale.
// A failed renewal leaves the cached state as it was.
func (c *Cache) BearerToken(ctx context.Context) (string, error) {
	if tok, ok := c.fresh(c.clock.Now()); ok {
		return tok, nil
	}
	if !c.singleFlight {
		return c.refresh(ctx)
	}
	return c.flight(ctx, func(ctx context.Context) (string, error) {
		if tok, ok := c.fresh(c.clock.Now()); ok {
			return tok, nil
		}
		return c.refresh(ctx)
	})
}

// ExpiresAt reports the expiry of the cached token; zero before the first renewal.
func (c *Cache) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.expires
}

// Stale reports whether the next BearerToken call would renew.
func (c *Cache) Stale() bool { return c.ExpiresWithin(0) }

// ExpiresWithin reports whether the cached token will be stale d from now.
func (c *Cache) ExpiresWithin(d time.Duration) bool {
	_, ok := c.fresh(c.clock.Now().Add(d))
	return !ok
}

// Renew replaces the cached token even if it is still fresh. The shared store
// is written but not read.
func (c *Cache) Renew(ctx context.Context) (string, error) {
	if !c.singleFlight {
		return c.mint(ctx, c.clock.Now())
	}
	return c.flight(ctx, func(ctx context.Context) (string, error) {
		return c.mint(ctx, c.clock.Now())
	})
}

// flight runs fn once for all concurrent callers under a context detached
// from ctx's cancellation, and waits for it no longer than ctx allows.
func (c *Cache) flight(ctx context.Context, fn func(context.Context) (string, error)) (string, error) {
	ch := c.group.DoChan("renew", func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightTTL)
		defer cancel()
		return fn(fctx)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (c *Cache) fresh(now time.Time) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" && now.Before(c.expires) {
		return c.token, true
	}
	return "", false
}

func (c *Cache) refresh(ctx context.Context) (string, error) {
	now := c.clock.Now()
	if tok, ok := c.loadShared(ctx, now); ok {
		return tok, nil
	}
	return c.mint(ctx, now)
}

func (c *Cache) mint(ctx context.Context, now time.Time) (string, error) {
	tok, exp, err := c.renew(ctx, now)
	if err != nil {
		return "", err
	}
	if tok == "" {
		return "", fmt.Errorf("credential: renewal returned an empty token")
	}

	c.mu.Lock()
	c.token, c.expires = tok, exp
	c.mu.Unlock()

	c.saveShared(ctx, now, tok, exp)
	return tok, nil
}

func (c *Cache) loadShared(ctx context.Context, now time.Time) (string, bool) {
	if c.store == nil {
		return "", false
	}
	raw, found, err := c.store.Get(ctx, c.storeKey)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithField("key", c.storeKey).Warn("credential: shared store read failed")
		return "", false
	}
	if !found {
		return "", false
	}
	var e sharedEntry
	if err := json.Unmarshal(raw, &e); err != nil || e.Token == "" || !now.Before(e.ExpiresAt) {
		return "", false
	}
	c.mu.Lock()
	c.token, c.expires = e.Token, e.ExpiresAt
	c.mu.Unlock()
	return e.Token, true
}

func (c *Cache) saveShared(ctx context.Context, now time.Time, tok string, exp time.Time) {
	if c.store == nil {
		return
	}
	ttl := exp.Sub(now)
	if ttl <= 0 {
		return
	}
	raw, err := json.Marshal(sharedEntry{Token: tok, ExpiresAt: exp})
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, c.storeKey, raw, ttl); err != nil {
		log.WithContext(ctx).WithError(err).WithField("key", c.storeKey).Warn("credential: shared store write failed")
	}
}
