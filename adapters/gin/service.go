package authgin

import (
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/open-rails/storeauth/adapters/gin/handlers"
	"github.com/open-rails/storeauth/adapters/ginutil"
	authhttp "github.com/open-rails/storeauth/adapters/http"
	"github.com/open-rails/storeauth/core"
	memorystore "github.com/open-rails/storeauth/storage/memory"
	redisstore "github.com/open-rails/storeauth/storage/redis"
)

// Service wraps core.Server with Gin mounting helpers.
type Service struct {
	srv  *core.Server
	jwks handlers.JWKSProvider
	rd   redis.UniversalClient
	rl   ginutil.RateLimiter
}

func NewService(srv *core.Server) *Service { return &Service{srv: srv} }

func (s *Service) WithJWKS(p handlers.JWKSProvider) *Service       { s.jwks = p; return s }
func (s *Service) WithRedis(rd redis.UniversalClient) *Service     { s.rd = rd; return s }
func (s *Service) WithRateLimiter(rl ginutil.RateLimiter) *Service { s.rl = rl; return s }

// GinRegisterAPI mounts POST /oauth/token on the provided router or group.
func (s *Service) GinRegisterAPI(api gin.IRouter) *Service {
	api.POST("/oauth/token", handlers.HandleTokenPOST(s.srv, s.ensureLimiter()))
	return s
}

// GinRegisterJWKS mounts the JWKS endpoint at the absolute root path.
func (s *Service) GinRegisterJWKS(root gin.IRouter) *Service {
	if s.jwks == nil {
		return s
	}
	root.GET("/.well-known/jwks.json", handlers.HandleJWKS(s.jwks, s.ensureLimiter()))
	return s
}

func (s *Service) ensureLimiter() ginutil.RateLimiter {
	if s.rl != nil {
		return s.rl
	}
	limits := authhttp.DefaultRateLimits()
	if s.rd != nil {
		s.rl = redisstore.NewLimiter(s.rd, authhttp.ToRedisLimits(limits))
		return s.rl
	}
	log.Info("storeauth: Redis client not configured; using in-memory rate limiter (single-node only)")
	s.rl = memorystore.NewLimiter(authhttp.ToMemoryLimits(limits))
	return s.rl
}
