package authhttp

import (
	"time"

	memorystore "github.com/open-rails/storeauth/storage/memory"
	redisstore "github.com/open-rails/storeauth/storage/redis"
)

// Limit configures a named rate limit bucket.
type Limit struct {
	Limit  int
	Window time.Duration
}

// DefaultRateLimits returns the built-in per-endpoint rate limits.
//
// These limits are enforced per client IP (as determined by the Service's ClientIPFunc).
// Hosts can override by supplying their own limiter via WithRateLimiter(...).
func DefaultRateLimits() map[string]Limit {
	return map[string]Limit{
		"default": {Limit: 120, Window: time.Minute},

		// Every token request costs at least one store API call.
		RLOAuthToken: {Limit: 30, Window: time.Minute},
		RLJWKS:       {Limit: 600, Window: time.Minute},
	}
}

func ToMemoryLimits(in map[string]Limit) map[string]memorystore.Limit {
	out := make(map[string]memorystore.Limit, len(in))
	for k, v := range in {
		out[k] = memorystore.Limit{Limit: v.Limit, Window: v.Window}
	}
	return out
}

func ToRedisLimits(in map[string]Limit) map[string]redisstore.Limit {
	out := make(map[string]redisstore.Limit, len(in))
	for k, v := range in {
		out[k] = redisstore.Limit{Limit: v.Limit, Window: v.Window}
	}
	return out
}
