package authhttp

import (
	"errors"
	"net/http"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Verifier is the subset of core.TokenIssuer a resource server needs.
type Verifier interface {
	Keyfunc() jwt.Keyfunc
	Issuer() string
	Audiences() []string
}

// Required validates the Bearer token (JWT), enforces iss/aud/exp, and stores claims in request context.
func Required(v Verifier) func(http.Handler) http.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithIssuer(v.Issuer()),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(time.Second),
	)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr := bearerToken(r.Header.Get("Authorization"))
			if tokenStr == "" {
				unauthorized(w, "missing_token")
				return
			}
			claims := jwt.MapClaims{}
			token, err := parser.ParseWithClaims(tokenStr, claims, v.Keyfunc())
			switch {
			case err == nil && token.Valid:
			case errors.Is(err, jwt.ErrTokenExpired):
				unauthorized(w, "token_expired")
				return
			case errors.Is(err, jwt.ErrTokenInvalidIssuer):
				unauthorized(w, "bad_issuer")
				return
			default:
				unauthorized(w, "invalid_token")
				return
			}
			if !audContainsAny(claims["aud"], v.Audiences()) {
				unauthorized(w, "bad_audience")
				return
			}

			cl := Claims{}
			cl.TokenID, _ = claims["jti"].(string)
			cl.Subject, _ = claims["sub"].(string)
			cl.ClientID, _ = claims["client_id"].(string)
			if s, _ := claims["scope"].(string); s != "" {
				cl.Scopes = strings.Fields(s)
			}
			r = r.WithContext(setClaims(r.Context(), cl))
			next.ServeHTTP(w, r)
		})
	}
}

// Optional validates when Authorization is present; otherwise passes through.
func Optional(v Verifier) func(http.Handler) http.Handler {
	req := Required(v)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearerToken(r.Header.Get("Authorization")) == "" {
				next.ServeHTTP(w, r)
				return
			}
			req(next).ServeHTTP(w, r)
		})
	}
}

// RequireScope must run after Required; it rejects tokens lacking scope.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cl, err := getClaims(r.Context())
			if err != nil {
				unauthorized(w, "missing_token")
				return
			}
			if !cl.HasScope(scope) {
				w.Header().Set("WWW-Authenticate", `Bearer error="insufficient_scope", scope="`+scope+`"`)
				forbidden(w, "insufficient_scope")
				return
			}
			next.ServeHTTP(w, r)
		})
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
