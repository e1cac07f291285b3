package authhttp

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/netip"
	"net/url"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/open-rails/storeauth/core"
	memorystore "github.com/open-rails/storeauth/storage/memory"
	"github.com/open-rails/storeauth/stores/apple"
	"github.com/open-rails/storeauth/stores/google"
	"github.com/open-rails/storeauth/storetest"
)

const (
	testTransactionID = "161133706327570"
	testPurchaseToken = "IJirr23bCwjk6z8H9URO0CRC9xNHGB9Z"
)

type fixture struct {
	svc    *Service
	issuer *core.TokenIssuer
	apple  *storetest.AppleServer
	google *storetest.GoogleServer
	leaf   *storetest.Cert
	chain  []string
}

func newTestIssuer(t *testing.T, clock core.Clock) *core.TokenIssuer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	issuer, err := core.NewTokenIssuer(core.IssuerConfig{
		Issuer:     "https://auth.example.com",
		Audiences:  []string{"example-api"},
		KeyID:      "k1",
		SigningKey: key,
		Clock:      clock,
	})
	require.NoError(t, err)
	return issuer
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	issuer := newTestIssuer(t, nil)
	catalog := memorystore.NewCatalog().
		AddClient(core.Client{ID: "client-1"}).
		AddClient(core.Client{ID: "apple-only", Grants: []string{core.GrantAppleNonConsumable}}).
		AddProduct("product-1", "com.example.product-1").
		AddProduct("product-2", "com.example.product-2")
	deps := core.GrantDeps{Clients: catalog, Scopes: catalog, Products: catalog, Issuer: issuer}

	root := storetest.NewRootCA(t)
	inter := root.Intermediate(t)
	leaf := inter.Leaf(t)
	verifier, err := apple.NewTransactionVerifier([]string{storetest.WriteAnchors(t, root)})
	require.NoError(t, err)
	appleSrv := storetest.NewAppleServer(t)
	_, ecPEM := storetest.ECKeyPEM(t)
	appleAcct, err := apple.NewAccount(apple.Identity{
		KeyID:         "2X9R4HXF34",
		Issuer:        "57246542-96fe-1a63-e053-0824d011072a",
		BundleID:      "com.example.app",
		PrivateKeyPEM: ecPEM,
	})
	require.NoError(t, err)
	appleRepo := apple.NewTransactionRepository(appleAcct, verifier,
		apple.WithBaseURL(appleSrv.URL), apple.WithHTTPClient(appleSrv.Client()))

	googleSrv := storetest.NewGoogleServer(t)
	_, rsaPEM := storetest.RSAKeyPEM(t)
	googleAcct, err := google.NewAccount(google.Identity{
		KeyID:         "0123456789abcdef",
		Issuer:        "storeauth@example-project.iam.gserviceaccount.com",
		PrivateKeyPEM: rsaPEM,
		TokenURL:      googleSrv.TokenURL(),
	}, googleSrv.Client())
	require.NoError(t, err)
	googleRepo, err := google.NewPurchaseRepository(context.Background(), "com.example.app", googleAcct,
		google.WithBaseURL(googleSrv.URL), google.WithHTTPClient(googleSrv.Client()))
	require.NoError(t, err)

	srv := core.NewServer(time.Hour,
		core.NewAppleNonConsumableGrant(deps, core.StaticAppleTransactions(appleRepo)),
		core.NewGoogleNonConsumableGrant(deps, core.StaticGooglePurchases(googleRepo)),
	)
	return fixture{
		svc:    NewService(srv).WithJWKS(issuer).DisableRateLimiter(),
		issuer: issuer,
		apple:  appleSrv,
		google: googleSrv,
		leaf:   leaf,
		chain:  storetest.Chain(leaf, inter, root),
	}
}

func (f fixture) appleHistory(t *testing.T, sku, typ string) {
	t.Helper()
	txn := core.AppleTransaction{
		TransactionID:         testTransactionID,
		OriginalTransactionID: testTransactionID,
		BundleID:              "com.example.app",
		ProductID:             sku,
		Quantity:              1,
		Type:                  typ,
		InAppOwnershipType:    "PURCHASED",
		Environment:           "Production",
	}
	f.apple.SetHistory(testTransactionID, storetest.SignX5C(t, f.leaf, f.chain, txn))
}

func googlePurchase(purchaseState, ackState int) map[string]any {
	return map[string]any{
		"acknowledgementState": ackState,
		"consumptionState":     0,
		"kind":                 "androidpublisher#productPurchase",
		"orderId":              "GPA.3344-1234-5678-90123",
		"purchaseState":        purchaseState,
		"purchaseTimeMillis":   "1700000000000",
		"regionCode":           "CH",
	}
}

func postToken(t *testing.T, h http.Handler, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	h.ServeHTTP(w, r)
	return w
}

func appleForm(scope string) url.Values {
	return url.Values{
		"grant_type":     {core.GrantAppleNonConsumable},
		"client_id":      {"client-1"},
		"scope":          {scope},
		"transaction_id": {testTransactionID},
	}
}

func googleForm(clientID string) url.Values {
	return url.Values{
		"grant_type":     {core.GrantGoogleNonConsumable},
		"client_id":      {clientID},
		"scope":          {"product-1"},
		"purchase_token": {testPurchaseToken},
	}
}

type tokenBody struct {
	TokenType   string `json:"token_type"`
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

func decodeToken(t *testing.T, f fixture, w *httptest.ResponseRecorder) jwt.MapClaims {
	t.Helper()
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body tokenBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, "Bearer", body.TokenType)
	require.Equal(t, 3600, body.ExpiresIn)

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(body.AccessToken, claims, f.issuer.Keyfunc(), jwt.WithAudience("example-api"))
	require.NoError(t, err)
	require.Equal(t, body.Scope, claims["scope"])
	return claims
}

func TestToken_AppleNonConsumable(t *testing.T) {
	f := newFixture(t)
	f.appleHistory(t, "com.example.product-1", core.AppleTypeNonConsumable)

	w := postToken(t, f.svc.APIHandler(), appleForm("product-1"))
	claims := decodeToken(t, f, w)
	require.Equal(t, "client-1", claims["client_id"])
	require.Equal(t, "product-1", claims["scope"])

	reqs := f.apple.Requests()
	require.Len(t, reqs, 1)
	require.Equal(t, "/inApps/v2/history/"+testTransactionID, reqs[0].Path)
	require.Equal(t, "productId=com.example.product-1&revoked=false&sort=DESCENDING", reqs[0].Query)
}

func TestToken_AppleConsumableIsInvalidGrant(t *testing.T) {
	f := newFixture(t)
	f.appleHistory(t, "com.example.product-1", "Consumable")

	w := postToken(t, f.svc.APIHandler(), appleForm("product-1"))
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"invalid_grant","error_description":"The user credentials were incorrect."}`, w.Body.String())
}

func TestToken_GoogleAlreadyAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.google.SetPurchase("com.example.product-1", testPurchaseToken, googlePurchase(0, 1))

	w := postToken(t, f.svc.APIHandler(), googleForm("client-1"))
	claims := decodeToken(t, f, w)
	require.Equal(t, "product-1", claims["scope"])
	require.Empty(t, f.google.Acknowledged())
}

func TestToken_GoogleAcknowledgesPendingPurchase(t *testing.T) {
	f := newFixture(t)
	f.google.SetPurchase("com.example.product-1", testPurchaseToken, googlePurchase(0, 0))

	w := postToken(t, f.svc.APIHandler(), googleForm("client-1"))
	decodeToken(t, f, w)
	require.Equal(t, []string{"com.example.product-1/tokens/" + testPurchaseToken}, f.google.Acknowledged())
	require.Equal(t, 1, f.google.Exchanges())
}

func TestToken_GoogleAcknowledgeFailureHidesToken(t *testing.T) {
	f := newFixture(t)
	f.google.SetPurchase("com.example.product-1", testPurchaseToken, googlePurchase(0, 0))
	f.google.FailAcknowledgeWith(http.StatusServiceUnavailable)

	w := postToken(t, f.svc.APIHandler(), googleForm("client-1"))
	require.Equal(t, http.StatusInternalServerError, w.Code)
	require.NotContains(t, w.Body.String(), "access_token")
	require.Contains(t, w.Body.String(), `"error":"server_error"`)
}

func TestToken_GoogleUpstreamFailureIsServerError(t *testing.T) {
	f := newFixture(t)
	f.google.FailAPIWith(http.StatusBadGateway)

	w := postToken(t, f.svc.APIHandler(), googleForm("client-1"))
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var body oauthErrResp
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, core.CodeServerError, body.Error)
	require.NotContains(t, body.Description, "502")
}

func TestToken_ErrorShapes(t *testing.T) {
	f := newFixture(t)
	h := f.svc.APIHandler()

	tests := []struct {
		name   string
		form   url.Values
		status int
		code   string
		hint   string
	}{
		{
			name:   "unsupported grant type",
			form:   url.Values{"grant_type": {"password"}},
			status: http.StatusBadRequest,
			code:   core.CodeUnsupportedGrantType,
			hint:   "Check that all required parameters have been provided",
		},
		{
			name:   "missing client id",
			form:   url.Values{"grant_type": {core.GrantAppleNonConsumable}},
			status: http.StatusBadRequest,
			code:   core.CodeInvalidRequest,
			hint:   "Check the `client_id` parameter",
		},
		{
			name:   "client restricted to another grant",
			form:   googleForm("apple-only"),
			status: http.StatusUnauthorized,
			code:   core.CodeInvalidClient,
		},
		{
			name:   "unknown scope",
			form:   appleForm("product-9"),
			status: http.StatusBadRequest,
			code:   core.CodeInvalidScope,
			hint:   "Check the `product-9` scope",
		},
		{
			name: "missing transaction id",
			form: url.Values{
				"grant_type": {core.GrantAppleNonConsumable},
				"client_id":  {"client-1"},
				"scope":      {"product-1"},
			},
			status: http.StatusBadRequest,
			code:   core.CodeInvalidRequest,
			hint:   "Check the `transaction_id` parameter",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := postToken(t, h, tc.form)
			require.Equal(t, tc.status, w.Code)
			require.Equal(t, "no-store", w.Header().Get("Cache-Control"))

			var body oauthErrResp
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, tc.code, body.Error)
			require.NotEmpty(t, body.Description)
			require.Equal(t, tc.hint, body.Hint)
			if tc.status == http.StatusUnauthorized {
				require.NotEmpty(t, w.Header().Get("WWW-Authenticate"))
			}
		})
	}
	require.Empty(t, f.apple.Requests())
	require.Empty(t, f.google.Requests())
}

func TestToken_MethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	w := httptest.NewRecorder()
	f.svc.APIHandler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/oauth/token", nil))
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestJWKSHandler(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil)
	f.svc.APIHandler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Keys []map[string]any `json:"keys"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Keys, 1)
	require.Equal(t, "k1", body.Keys[0]["kid"])
}

func TestJWKSHandler_NotConfigured(t *testing.T) {
	w := httptest.NewRecorder()
	JWKSHandler(nil).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/.well-known/jwks.json", nil))
	require.Equal(t, http.StatusNotFound, w.Code)
	require.JSONEq(t, `{"error":"jwks_not_configured"}`, w.Body.String())
}

func TestRateLimiting_DefaultsEnabledAndOptOutWorks(t *testing.T) {
	srv := core.NewServer(time.Hour)
	svc := NewService(srv)
	h := svc.APIHandler()
	limit := DefaultRateLimits()[RLOAuthToken].Limit

	send := func(remote, xff string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/oauth/token", strings.NewReader("grant_type=password"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		r.RemoteAddr = remote
		if xff != "" {
			r.Header.Set("X-Forwarded-For", xff)
		}
		h.ServeHTTP(w, r)
		return w
	}

	for i := 0; i < limit; i++ {
		require.Equal(t, http.StatusBadRequest, send("203.0.113.10:1234", "").Code)
	}
	w := send("203.0.113.10:1234", "")
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.JSONEq(t, `{"error":"rate_limited"}`, w.Body.String())

	// Opt-out: disabling limiter should never rate limit.
	h = svc.DisableRateLimiter().APIHandler()
	for i := 0; i < limit*2; i++ {
		require.Equal(t, http.StatusBadRequest, send("203.0.113.10:1234", "").Code)
	}

	// Private peers fail open unless they are trusted proxies.
	svc = NewService(srv)
	h = svc.APIHandler()
	for i := 0; i < limit*2; i++ {
		require.Equal(t, http.StatusBadRequest, send("10.0.0.10:1234", "203.0.113.99").Code)
	}

	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	h = svc.WithClientIPFunc(ClientIPFromForwardedHeaders(trusted)).APIHandler()
	for i := 0; i < limit; i++ {
		require.Equal(t, http.StatusBadRequest, send("10.0.0.10:1234", "203.0.113.99, 10.0.0.1").Code)
	}
	require.Equal(t, http.StatusTooManyRequests, send("10.0.0.10:1234", "203.0.113.99").Code)
}
