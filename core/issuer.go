package core

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

// TokenIssuer signs RS256 access tokens. It does not persist them.
type TokenIssuer struct {
	cfg IssuerConfig
}

func NewTokenIssuer(cfg IssuerConfig) (*TokenIssuer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = time.Hour
	}
	return &TokenIssuer{cfg: cfg}, nil
}

// IssueAccessToken builds and signs an access token for the client.
// The subject is the user id when present, otherwise the client id.
func (i *TokenIssuer) IssueAccessToken(_ context.Context, ttl time.Duration, client *Client, userID string, scopes []Scope) (*AccessToken, error) {
	if client == nil {
		return nil, fmt.Errorf("storeauth: issue access token: nil client")
	}
	if ttl <= 0 {
		ttl = i.cfg.DefaultTTL
	}
	now := i.cfg.Clock.Now()
	exp := now.Add(ttl)
	jti := uuid.NewString()
	sub := userID
	if sub == "" {
		sub = client.ID
	}
	scopeIDs := ScopeIDs(scopes)

	claims := jwt.MapClaims{
		"iss":       i.cfg.Issuer,
		"sub":       sub,
		"aud":       i.cfg.Audiences,
		"jti":       jti,
		"iat":       now.Unix(),
		"nbf":       now.Unix(),
		"exp":       exp.Unix(),
		"client_id": client.ID,
		"scope":     strings.Join(scopeIDs, " "),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = i.cfg.KeyID
	signed, err := tok.SignedString(i.cfg.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("storeauth: sign access token: %w", err)
	}
	return &AccessToken{
		ID:        jti,
		Token:     signed,
		ClientID:  client.ID,
		Scopes:    scopeIDs,
		IssuedAt:  now,
		ExpiresAt: exp,
	}, nil
}

// Issuer is the iss claim of issued tokens.
func (i *TokenIssuer) Issuer() string { return i.cfg.Issuer }

// Audiences is the aud claim of issued tokens.
func (i *TokenIssuer) Audiences() []string { return i.cfg.Audiences }

// Keyfunc verifies tokens issued by this issuer.
func (i *TokenIssuer) Keyfunc() jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != i.cfg.KeyID {
			return nil, fmt.Errorf("unknown kid %q", kid)
		}
		return &i.cfg.SigningKey.PublicKey, nil
	}
}

// JWKS returns the public key set as a JSON document.
func (i *TokenIssuer) JWKS() ([]byte, error) {
	key, err := jwk.FromRaw(&i.cfg.SigningKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("storeauth: jwk from public key: %w", err)
	}
	if err := key.Set(jwk.KeyIDKey, i.cfg.KeyID); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.AlgorithmKey, jwa.RS256); err != nil {
		return nil, err
	}
	if err := key.Set(jwk.KeyUsageKey, jwk.ForSignature); err != nil {
		return nil, err
	}
	set := jwk.NewSet()
	if err := set.AddKey(key); err != nil {
		return nil, err
	}
	return json.Marshal(set)
}
