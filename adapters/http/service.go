package authhttp

import (
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/open-rails/storeauth/core"
	memorystore "github.com/open-rails/storeauth/storage/memory"
	redisstore "github.com/open-rails/storeauth/storage/redis"
)

// JWKSProvider publishes the keys that verify issued access tokens.
type JWKSProvider interface {
	JWKS() ([]byte, error)
}

// Service wraps core.Server with net/http mounting helpers.
type Service struct {
	srv      *core.Server
	jwks     JWKSProvider
	rl       RateLimiter
	clientIP ClientIPFunc
}

func (s *Service) allow(r *http.Request, bucket string) bool {
	if s == nil || s.rl == nil {
		return true
	}
	ipFn := s.clientIP
	if ipFn == nil {
		ipFn = DefaultClientIP()
	}
	ip := ipFn(r)
	if strings.TrimSpace(ip) == "" {
		return true
	}
	key := "oauth:" + bucket + ":ip:" + ip
	ok, err := s.rl.AllowNamed(bucket, key)
	if err != nil {
		return true
	}
	return ok
}

// NewService wraps srv with the default in-memory rate limits.
func NewService(srv *core.Server) *Service {
	return &Service{
		srv:      srv,
		rl:       memorystore.NewLimiter(ToMemoryLimits(DefaultRateLimits())),
		clientIP: DefaultClientIP(),
	}
}

// WithJWKS publishes p at /.well-known/jwks.json.
func (s *Service) WithJWKS(p JWKSProvider) *Service { s.jwks = p; return s }

// WithRedis moves rate limiting to Redis so limits hold across replicas.
func (s *Service) WithRedis(rd redis.UniversalClient) *Service {
	if rd != nil {
		s.rl = redisstore.NewLimiter(rd, ToRedisLimits(DefaultRateLimits()))
	}
	return s
}
func (s *Service) WithRateLimiter(rl RateLimiter) *Service { s.rl = rl; return s }
func (s *Service) DisableRateLimiter() *Service            { s.rl = nil; return s }
func (s *Service) WithClientIPFunc(fn ClientIPFunc) *Service {
	if fn == nil {
		s.clientIP = DefaultClientIP()
		return s
	}
	s.clientIP = fn
	return s
}

func (s *Service) Server() *core.Server { return s.srv }
