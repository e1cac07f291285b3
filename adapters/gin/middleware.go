package authgin

import (
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/open-rails/storeauth/adapters/ginutil"
)

// Verifier is the subset of core.TokenIssuer a resource server needs.
type Verifier interface {
	Keyfunc() jwt.Keyfunc
	Issuer() string
	Audiences() []string
}

// AuthRequired validates the Bearer access token (JWT), enforces iss/aud/exp, and stores claims in context.
func AuthRequired(v Verifier) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.Issuer()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(time.Second),
	)
	return func(c *gin.Context) {
		tokenStr := ginutil.BearerToken(c.GetHeader("Authorization"))
		if tokenStr == "" {
			ginutil.Unauthorized(c, "missing_token")
			return
		}
		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(tokenStr, claims, v.Keyfunc())
		switch {
		case err == nil && token.Valid:
		case errors.Is(err, jwt.ErrTokenExpired):
			ginutil.Unauthorized(c, "token_expired")
			return
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			ginutil.Unauthorized(c, "bad_issuer")
			return
		default:
			ginutil.Unauthorized(c, "invalid_token")
			return
		}
		if !audContainsAny(claims["aud"], v.Audiences()) {
			ginutil.Unauthorized(c, "bad_audience")
			return
		}

		cl := Claims{}
		cl.TokenID, _ = claims["jti"].(string)
		cl.Subject, _ = claims["sub"].(string)
		cl.ClientID, _ = claims["client_id"].(string)
		if s, _ := claims["scope"].(string); s != "" {
			cl.Scopes = strings.Fields(s)
		}
		c.Set(claimsKey, cl)
		c.Request = c.Request.WithContext(SetClaims(c.Request.Context(), cl))
		c.Next()
	}
}

// RequireScope must run after AuthRequired.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cl, err := GetClaims(c)
		if err != nil {
			ginutil.Unauthorized(c, "missing_token")
			return
		}
		if !cl.HasScope(scope) {
			c.Header("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+scope+`"`)
			ginutil.Forbidden(c, "insufficient_scope")
			return
		}
		c.Next()
	}
}

func audContains(aud any, want string) bool {
	switch v := aud.(type) {
	case string:
		return v == want
	case []any:
		for _, e := range v {
			if s, ok := e.(string); ok && s == want {
				return true
			}
		}
	case []string:
		for _, e := range v {
			if e == want {
				return true
			}
		}
	}
	return false
}

func audContainsAny(aud any, want []string) bool {
	for _, w := range want {
		if audContains(aud, w) {
			return true
		}
	}
	return false
}
