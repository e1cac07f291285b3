package authgin

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
)

const claimsKey = "storeauth.claims"

// Claims is a typed view of a verified storeauth access token.
type Claims struct {
	TokenID  string
	Subject  string
	ClientID string
	Scopes   []string
}

func (c Claims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// unexported context key
type claimsCtxKey struct{}

// SetClaims returns a child context with claims attached.
func SetClaims(ctx context.Context, cl Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, cl)
}

// FromContext extracts claims from a standard context.
func FromContext(ctx context.Context) (Claims, bool) {
	v := ctx.Value(claimsCtxKey{})
	if v == nil {
		return Claims{}, false
	}
	cl, ok := v.(Claims)
	return cl, ok
}

// ClaimsFromGin returns claims from Gin context if present.
func ClaimsFromGin(c *gin.Context) (Claims, bool) {
	if v, ok := c.Get(claimsKey); ok {
		if cl, ok := v.(Claims); ok {
			return cl, true
		}
	}
	return FromContext(c.Request.Context())
}

// GetClaims returns claims or an error if not present/unauthenticated.
func GetClaims(c *gin.Context) (Claims, error) {
	if cl, ok := ClaimsFromGin(c); ok {
		return cl, nil
	}
	return Claims{}, errors.New("unauthenticated")
}

// ClientID is a typed accessor for the OAuth client the token was issued to.
func ClientID(c *gin.Context) (string, bool) {
	if cl, ok := ClaimsFromGin(c); ok && cl.ClientID != "" {
		return cl.ClientID, true
	}
	return "", false
}

// Scopes returns the granted scopes (may be empty).
func Scopes(c *gin.Context) []string {
	if cl, ok := ClaimsFromGin(c); ok {
		return cl.Scopes
	}
	return nil
}
