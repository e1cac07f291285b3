package redisstore

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limit allows Limit hits per Window.
type Limit struct {
	Limit  int
	Window time.Duration
}

// Limiter is a fixed-window rate limiter shared across replicas.
// Unknown buckets use the "default" limit, or are unlimited without one.
type Limiter struct {
	rdb     redis.UniversalClient
	limits  map[string]Limit
	prefix  string
	timeout time.Duration
}

func NewLimiter(rdb redis.UniversalClient, limits map[string]Limit) *Limiter {
	return &Limiter{rdb: rdb, limits: limits, prefix: DefaultPrefix + "rl:", timeout: 250 * time.Millisecond}
}

func (l *Limiter) AllowNamed(bucket, key string) (bool, error) {
	lim, ok := l.limits[bucket]
	if !ok {
		lim, ok = l.limits["default"]
	}
	if !ok || lim.Limit <= 0 || lim.Window <= 0 {
		return true, nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	k := l.prefix + key
	n, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		return false, err
	}
	if n == 1 {
		if err := l.rdb.Expire(ctx, k, lim.Window).Err(); err != nil {
			return false, err
		}
	}
	return n <= int64(lim.Limit), nil
}
