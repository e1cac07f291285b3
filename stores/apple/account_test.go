package apple

import (
	"context"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/open-rails/storeauth/credential"
	"github.com/open-rails/storeauth/storetest"
)

func TestAccount_BearerTokenClaims(t *testing.T) {
	key, keyPEM := storetest.ECKeyPEM(t)
	start := time.Now().Truncate(time.Second)
	clock := storetest.NewClock(start)
	acct, err := NewAccount(Identity{
		KeyID:         "2X9R4HXF34",
		Issuer:        "57246542-96fe-1a63-e053-0824d011072a",
		BundleID:      "com.example.app",
		PrivateKeyPEM: keyPEM,
	}, credential.WithClock(clock))
	require.NoError(t, err)

	raw, err := acct.BearerToken(context.Background())
	require.NoError(t, err)

	claims := jwt.MapClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) { return &key.PublicKey, nil },
		jwt.WithAudience(Audience), jwt.WithIssuer("57246542-96fe-1a63-e053-0824d011072a"))
	require.NoError(t, err)
	require.Equal(t, "2X9R4HXF34", tok.Header["kid"])
	require.Equal(t, "ES256", tok.Header["alg"])
	require.Equal(t, "com.example.app", claims["bid"])
	require.Equal(t, Audience, claims["aud"])
	require.EqualValues(t, start.Unix(), claims["iat"])
	require.EqualValues(t, start.Unix(), claims["nbf"])
	require.EqualValues(t, start.Add(DefaultTokenTTL).Unix(), claims["exp"])
}

func TestAccount_ReusesAssertionUntilExpiry(t *testing.T) {
	_, keyPEM := storetest.ECKeyPEM(t)
	clock := storetest.NewClock(time.Unix(1_700_000_000, 0))
	acct, err := NewAccount(Identity{
		KeyID: "k", Issuer: "i", BundleID: "b", PrivateKeyPEM: keyPEM, TTL: time.Minute,
	}, credential.WithClock(clock))
	require.NoError(t, err)
	ctx := context.Background()

	first, err := acct.BearerToken(ctx)
	require.NoError(t, err)
	clock.Advance(30 * time.Second)
	second, err := acct.BearerToken(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)

	clock.Advance(30 * time.Second)
	third, err := acct.BearerToken(ctx)
	require.NoError(t, err)
	require.NotEqual(t, first, third)
}

func TestNewAccount_Validation(t *testing.T) {
	_, keyPEM := storetest.ECKeyPEM(t)
	_, err := NewAccount(Identity{Issuer: "i", BundleID: "b", PrivateKeyPEM: keyPEM})
	require.Error(t, err)

	_, err = NewAccount(Identity{KeyID: "k", Issuer: "i", BundleID: "b", PrivateKeyPEM: []byte("nope")})
	require.Error(t, err)

	_, err = NewAccount(Identity{KeyID: "k", Issuer: "i", BundleID: "b", PrivateKeyPEM: keyPEM, TTL: 2 * time.Hour})
	require.Error(t, err)
}
