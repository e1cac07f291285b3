// Package apple talks to the App Store Server API.
package apple

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/open-rails/storeauth/credential"
)

// Audience is the fixed audience of App Store Server API tokens.
const Audience = "appstoreconnect-v1"

// DefaultTokenTTL is how long a self-signed API token stays valid. Apple
// rejects tokens that live longer than an hour.
const DefaultTokenTTL = 600 * time.Second

var validate = validator.New()

// Identity is an App Store Connect in-app purchase key.
//
// See https://developer.apple.com/documentation/appstoreserverapi/generating_json_web_tokens_for_api_requests
type Identity struct {
	KeyID    string `validate:"required"`
	Issuer   string `validate:"required"`
	BundleID string `validate:"required"`
	// PrivateKeyPEM is the contents of the downloaded .p8 file.
	PrivateKeyPEM []byte        `validate:"required"`
	TTL           time.Duration `validate:"gte=0,lte=1h"`
}

// Account mints ES256 API tokens. The signed assertion itself is the bearer
// credential; it is reused until it expires.
type Account struct {
	*credential.Cache
	id  Identity
	key *ecdsa.PrivateKey
}

func NewAccount(id Identity, opts ...credential.Option) (*Account, error) {
	if err := validate.Struct(id); err != nil {
		return nil, fmt.Errorf("apple: invalid identity: %w", err)
	}
	key, err := jwt.ParseECPrivateKeyFromPEM(id.PrivateKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("apple: parse private key: %w", err)
	}
	if id.TTL == 0 {
		id.TTL = DefaultTokenTTL
	}
	a := &Account{id: id, key: key}
	a.Cache = credential.New(a.renew, opts...)
	return a, nil
}

func (a *Account) renew(_ context.Context, now time.Time) (string, time.Time, error) {
	exp := now.Add(a.id.TTL)
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, jwt.MapClaims{
		"iss": a.id.Issuer,
		"bid": a.id.BundleID,
		"aud": Audience,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	})
	tok.Header["kid"] = a.id.KeyID
	signed, err := tok.SignedString(a.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("apple: sign api token: %w", err)
	}
	return signed, exp, nil
}
