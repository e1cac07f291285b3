// Package google talks to the Google Play Developer API.
package google

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"

	"github.com/open-rails/storeauth/core"
	"github.com/open-rails/storeauth/credential"
)

const (
	// TokenURL is Google's OAuth token endpoint, also the assertion audience.
	TokenURL = "https://oauth2.googleapis.com/token"
	// Scope grants access to the Play Developer API.
	Scope = "https://www.googleapis.com/auth/androidpublisher"

	jwtBearerGrantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// DefaultAssertionTTL is the lifetime of the self-signed assertion.
	DefaultAssertionTTL = 600 * time.Second
)

var validate = validator.New()

// Identity is a Google Cloud service account key.
type Identity struct {
	// KeyID is private_key_id from the key file.
	KeyID string `validate:"required"`
	// Issuer is client_email from the key file.
	Issuer        string `validate:"required,email"`
	PrivateKeyPEM []byte `validate:"required"`
	// TokenURL overrides where assertions are exchanged. The assertion
	// audience stays the public token endpoint.
	TokenURL string        `validate:"omitempty,url"`
	TTL      time.Duration `validate:"gte=0,lte=1h"`
}

// Account exchanges a self-signed RS256 assertion for an access token and
// caches it for the lifetime Google reports.
type Account struct {
	*credential.Cache
	id     Identity
	key    *rsa.PrivateKey
	client *http.Client
}

// NewAccount builds an account; a nil client means http.DefaultClient.
func NewAccount(id Identity, client *http.Client, opts ...credential.Option) (*Account, error) {
	if err := validate.Struct(id); err != nil {
		return nil, fmt.Errorf("google: invalid identity: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(id.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("google: parse private key: %w", err)
	}
	if id.TTL == 0 {
		id.TTL = DefaultAssertionTTL
	}
	if id.TokenURL == "" {
		id.TokenURL = TokenURL
	}
	if client == nil {
		client = http.DefaultClient
	}
	a := &Account{id: id, key: key, client: client}
	a.Cache = credential.New(a.renew, opts...)
	return a, nil
}

// AccountFromJSON reads a service account key file as downloaded from the
// Google Cloud console.
func AccountFromJSON(data []byte, client *http.Client, opts ...credential.Option) (*Account, error) {
	cfg, err := googleoauth.JWTConfigFromJSON(data, Scope)
	if err != nil {
		return nil, fmt.Errorf("google: parse service account: %w", err)
	}
	return NewAccount(Identity{
		KeyID:         cfg.PrivateKeyID,
		Issuer:        cfg.Email,
		PrivateKeyPEM: cfg.PrivateKey,
		TokenURL:      cfg.TokenURL,
	}, client, opts...)
}

// Token implements oauth2.TokenSource. It renews under context.Background;
// PurchaseRepository renews under the request context before each call so
// this normally reads the cached token.
func (a *Account) Token() (*oauth2.Token, error) {
	tok, err := a.BearerToken(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer", Expiry: a.ExpiresAt()}, nil
}

func (a *Account) assertion(now time.Time) (string, error) {
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{
		"iss":   a.id.Issuer,
		"scope": Scope,
		"aud":   TokenURL,
		"iat":   now.Unix(),
		"nbf":   now.Unix(),
		"exp":   now.Add(a.id.TTL).Unix(),
	})
	tok.Header["kid"] = a.id.KeyID
	return tok.SignedString(a.key)
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   *int64 `json:"expires_in"`
}

func (a *Account) renew(ctx context.Context, now time.Time) (string, time.Time, error) {
	assertion, err := a.assertion(now)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("google: sign assertion: %w", err)
	}
	body := "grant_type=" + url.QueryEscape(jwtBearerGrantType) + "&assertion=" + url.QueryEscape(assertion)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.id.TokenURL, strings.NewReader(body))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("google: build token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", time.Time{}, &core.StoreError{Op: "Failed to fetch token from google oauth token endpoint", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", time.Time{}, &core.StoreError{Op: "Failed to fetch token from google oauth token endpoint", Status: resp.StatusCode}
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil || out.AccessToken == "" || out.ExpiresIn == nil {
		if err == nil {
			err = fmt.Errorf("access_token or expires_in missing")
		}
		return "", time.Time{}, &core.StoreError{
			Op:  "Failed to parse data returned from google oauth token endpoint.",
			Err: fmt.Errorf("%w: %v", core.ErrMalformedResponse, err),
		}
	}
	return out.AccessToken, now.Add(time.Duration(*out.ExpiresIn) * time.Second), nil
}
