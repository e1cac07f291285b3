package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/open-rails/storeauth/adapters/ginutil"
	"github.com/open-rails/storeauth/core"
)

const maxTokenRequestBytes = 64 << 10

// HandleTokenPOST serves the OAuth2 token endpoint for the purchase grants.
func HandleTokenPOST(srv *core.Server, rl ginutil.RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ginutil.AllowNamed(c, rl, ginutil.RLOAuthToken) {
			ginutil.TooMany(c)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxTokenRequestBytes)
		if err := c.Request.ParseForm(); err != nil {
			ginutil.SendOAuthErr(c, core.ErrInvalidRequest("body"))
			return
		}
		req := core.NewTokenRequest(c.Request.PostForm)
		req.IP = c.ClientIP()
		req.UserAgent = c.Request.UserAgent()

		tok, err := srv.RespondToAccessTokenRequest(c.Request.Context(), req)
		if err != nil {
			var oe *core.OAuthError
			if !errors.As(err, &oe) {
				ginutil.ServerErrWithLog(c, core.CodeServerError, err, "storeauth: token request failed")
				return
			}
			if oe.Code == core.CodeServerError {
				log.WithContext(c.Request.Context()).WithError(err).WithFields(log.Fields{
					"grant_type":   req.Param("grant_type"),
					"client_id":    req.Param("client_id"),
					"token_issued": tok != nil,
				}).Error("storeauth: token request failed")
			}
			ginutil.SendOAuthErr(c, oe)
			return
		}

		c.Header("Cache-Control", "no-store")
		c.Header("Pragma", "no-cache")
		c.JSON(http.StatusOK, gin.H{
			"token_type":   "Bearer",
			"access_token": tok.Token,
			"expires_in":   int(tok.ExpiresIn().Seconds()),
			"scope":        strings.Join(tok.Scopes, " "),
		})
	}
}
