package authgin

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/open-rails/storeauth/core"
)

func init() { gin.SetMode(gin.TestMode) }

// stubGrant answers every request with tok and err.
type stubGrant struct {
	tok *core.AccessToken
	err error
}

func (stubGrant) Identifier() string { return core.GrantAppleNonConsumable }

func (g stubGrant) RespondToAccessTokenRequest(context.Context, core.TokenRequest, time.Duration) (*core.AccessToken, error) {
	return g.tok, g.err
}

func newTestIssuer(t *testing.T) *core.TokenIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	iss, err := core.NewTokenIssuer(core.IssuerConfig{
		Issuer:     "https://auth.example.com",
		Audiences:  []string{"example-api"},
		KeyID:      "k1",
		SigningKey: key,
	})
	require.NoError(t, err)
	return iss
}

func newRouter(g core.Grant, iss *core.TokenIssuer, rl *stubLimiter) *gin.Engine {
	svc := NewService(core.NewServer(time.Hour, g)).WithJWKS(iss)
	if rl != nil {
		svc = svc.WithRateLimiter(rl)
	}
	r := gin.New()
	svc.GinRegisterAPI(r.Group("/api/v1")).GinRegisterJWKS(r)
	return r
}

type stubLimiter struct{ allow bool }

func (l *stubLimiter) AllowNamed(string, string) (bool, error) { return l.allow, nil }

func postToken(r http.Handler, form url.Values) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/oauth/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(w, req)
	return w
}

var appleForm = url.Values{"grant_type": {core.GrantAppleNonConsumable}}

func TestTokenPOST_Success(t *testing.T) {
	issued := time.Unix(1_700_000_000, 0)
	tok := &core.AccessToken{Token: "signed", Scopes: []string{"product-1"}, IssuedAt: issued, ExpiresAt: issued.Add(time.Hour)}
	r := newRouter(stubGrant{tok: tok}, newTestIssuer(t), nil)

	w := postToken(r, appleForm)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Bearer", body["token_type"])
	require.Equal(t, "signed", body["access_token"])
	require.Equal(t, "product-1", body["scope"])
	require.EqualValues(t, 3600, body["expires_in"])
}

func TestTokenPOST_Errors(t *testing.T) {
	iss := newTestIssuer(t)

	w := postToken(newRouter(stubGrant{err: core.ErrInvalidCredentials()}, iss, nil), appleForm)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"invalid_grant","error_description":"The user credentials were incorrect."}`, w.Body.String())

	w = postToken(newRouter(stubGrant{err: core.ErrInvalidCredentials()}, iss, nil), url.Values{"grant_type": {"refresh_token"}})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Contains(t, w.Body.String(), `"error":"unsupported_grant_type"`)

	// A token issued alongside an error is never returned.
	tok := &core.AccessToken{Token: "signed", ExpiresAt: time.Now().Add(time.Hour)}
	w = postToken(newRouter(stubGrant{tok: tok, err: core.ErrServerError("ack", errors.New("503"))}, iss, nil), appleForm)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "signed")

	w = postToken(newRouter(stubGrant{err: errors.New("boom")}, iss, nil), appleForm)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.JSONEq(t, `{"error":"server_error"}`, w.Body.String())

	w = postToken(newRouter(stubGrant{}, iss, &stubLimiter{allow: false}), appleForm)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
}

func TestJWKS(t *testing.T) {
	r := newRouter(stubGrant{}, newTestIssuer(t), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"kid":"k1"`)
}

func TestAuthRequired_RequireScope(t *testing.T) {
	iss := newTestIssuer(t)
	r := gin.New()
	r.GET("/premium", AuthRequired(iss), RequireScope("product-1"), func(c *gin.Context) {
		id, _ := ClientID(c)
		c.JSON(http.StatusOK, gin.H{"client_id": id, "scopes": Scopes(c)})
	})

	get := func(token string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/premium", nil)
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		r.ServeHTTP(w, req)
		return w
	}
	issue := func(scope string) string {
		tok, err := iss.IssueAccessToken(context.Background(), time.Hour, &core.Client{ID: "client-1"}, "", []core.Scope{{ID: scope}})
		require.NoError(t, err)
		return tok.Token
	}

	w := get(issue("product-1"))
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"client_id":"client-1","scopes":["product-1"]}`, w.Body.String())

	w = get(issue("product-2"))
	require.Equal(t, http.StatusForbidden, w.Code)
	require.JSONEq(t, `{"error":"insufficient_scope"}`, w.Body.String())

	w = get("")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"missing_token"}`, w.Body.String())

	w = get("a.b.c")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"invalid_token"}`, w.Body.String())
}
