package storetest

import (
	"encoding/json"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/cert"
	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/stretchr/testify/require"
)

// SignX5C signs claims with signer's key using ES256 and puts chain in the x5c header.
func SignX5C(t testing.TB, signer *Cert, chain []string, claims any) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	var certs cert.Chain
	for _, c := range chain {
		require.NoError(t, certs.AddString(c))
	}
	hdrs := jws.NewHeaders()
	require.NoError(t, hdrs.Set(jws.X509CertChainKey, &certs))
	require.NoError(t, hdrs.Set(jws.TypeKey, "JWT"))

	signed, err := jws.Sign(payload, jws.WithKey(jwa.ES256, signer.Key, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}

// SignWithHeader signs claims with ES256 and sets header values verbatim.
// It is used for tokens whose x5c header is absent or malformed.
func SignWithHeader(t testing.TB, signer *Cert, header map[string]any, claims jwt.Claims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	for k, v := range header {
		tok.Header[k] = v
	}
	signed, err := tok.SignedString(signer.Key)
	require.NoError(t, err)
	return signed
}
