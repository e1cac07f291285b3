package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/open-rails/storeauth/adapters/ginutil"
)

// JWKSProvider publishes the keys that verify issued access tokens.
type JWKSProvider interface {
	JWKS() ([]byte, error)
}

// HandleJWKS serves the public JWKS document.
func HandleJWKS(p JWKSProvider, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLJWKS) {
			ginutil.TooMany(c)
			return
		}
		doc, err := p.JWKS()
		if err != nil {
			ginutil.ServerErrWithLog(c, "jwks_unavailable", err, "storeauth: render jwks")
			return
		}
		c.Header("Cache-Control", "public, max-age=300")
		c.Data(http.StatusOK, "application/json", doc)
	}
}
