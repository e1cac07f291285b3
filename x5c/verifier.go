// Package x5c verifies JWS tokens whose signing key is carried as an X.509
// certificate chain in the x5c header (RFC 7515 §4.1.6).
package x5c

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// Verifier checks the x5c chain against trust anchors and the signature
// against the chain's leaf.
type Verifier struct {
	method  jwt.SigningMethod
	anchors *TrustAnchors
	tempDir string
	prefix  string
	now     func() time.Time
}

type Option func(*Verifier)

// WithTempDir sets where the intermediate certificate file is written. Empty
// means os.TempDir().
func WithTempDir(dir string) Option { return func(v *Verifier) { v.tempDir = dir } }

// WithTempPrefix sets the intermediate certificate file name prefix.
func WithTempPrefix(prefix string) Option { return func(v *Verifier) { v.prefix = prefix } }

// WithClock sets the time used for certificate validity and claim checks.
func WithClock(now func() time.Time) Option { return func(v *Verifier) { v.now = now } }

func NewVerifier(method jwt.SigningMethod, anchors *TrustAnchors, opts ...Option) (*Verifier, error) {
	if method == nil {
		return nil, errors.New("x5c: signing method is required")
	}
	if anchors == nil || anchors.Len() == 0 {
		return nil, errors.New("x5c: at least one trust anchor is required")
	}
	v := &Verifier{method: method, anchors: anchors, prefix: "x5c", now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify parses token into claims and returns the leaf certificate that signed
// it. Security failures are *Rejection, operational failures *InfraError.
// Claims are only populated for use once Verify returns nil.
func (v *Verifier) Verify(token string, claims jwt.Claims) (*x509.Certificate, error) {
	var leaf *x509.Certificate
	parser := jwt.NewParser(jwt.WithTimeFunc(v.now))
	_, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		cert, err := v.verifyChain(t.Header)
		if err != nil {
			return nil, err
		}
		if t.Method == nil || t.Method.Alg() != v.method.Alg() {
			return nil, reject(ReasonSignerMismatch, fmt.Errorf("token alg %v, want %s", t.Header["alg"], v.method.Alg()))
		}
		leaf = cert
		return cert.PublicKey, nil
	})
	if err == nil {
		return leaf, nil
	}

	var rej *Rejection
	if errors.As(err, &rej) {
		return nil, rej
	}
	var infra *InfraError
	if errors.As(err, &infra) {
		return nil, infra
	}
	// ErrTokenUnverifiable without a keyfunc error means golang-jwt does not
	// know the token's alg, so no leaf key can have signed it.
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrTokenUnverifiable) {
		return nil, reject(ReasonSignerMismatch, err)
	}
	return nil, fmt.Errorf("x5c: %w", err)
}

// verifyChain runs steps 1 to 5: header shape, PEM armor, trunk file, chain of trust.
func (v *Verifier) verifyChain(header map[string]any) (*x509.Certificate, error) {
	raw, ok := header["x5c"]
	if !ok {
		return nil, ErrHeaderMissing
	}
	blobs, ok := raw.([]any)
	if !ok || len(blobs) == 0 {
		return nil, ErrHeaderMalformed
	}
	pems := make([]string, 0, len(blobs))
	for _, b := range blobs {
		s, ok := b.(string)
		if !ok || s == "" {
			return nil, ErrHeaderMalformed
		}
		pems = append(pems, wrapCert(s))
	}

	leaf, err := parsePEM(pems[0])
	if err != nil {
		return nil, &InfraError{Op: "parse leaf certificate", Err: err}
	}

	intermediates := x509.NewCertPool()
	if trunk := pems[1:]; len(trunk) > 0 {
		if err := v.loadTrunk(trunk, intermediates); err != nil {
			return nil, err
		}
	}

	_, err = leaf.Verify(x509.VerifyOptions{
		Roots:         v.anchors.pool,
		Intermediates: intermediates,
		CurrentTime:   v.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, reject(ReasonChainInvalid, err)
	}
	return leaf, nil
}

// loadTrunk materializes the intermediates as one PEM file and loads the pool
// from it. The file is removed before returning.
func (v *Verifier) loadTrunk(trunk []string, pool *x509.CertPool) error {
	f, err := os.CreateTemp(v.tempDir, v.prefix+"*")
	if err != nil {
		return &InfraError{Op: "create trunk file", Err: err}
	}
	name := f.Name()
	defer os.Remove(name)

	_, werr := f.WriteString(strings.Join(trunk, "\n\n"))
	cerr := f.Close()
	if werr != nil {
		return &InfraError{Op: "write trunk file", Err: werr}
	}
	if cerr != nil {
		return &InfraError{Op: "write trunk file", Err: cerr}
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return &InfraError{Op: "read trunk file", Err: err}
	}
	certs, err := parsePEMCertificates(data)
	if err != nil {
		return &InfraError{Op: "parse intermediate certificate", Err: err}
	}
	if len(certs) != len(trunk) {
		return &InfraError{Op: "parse intermediate certificate", Err: fmt.Errorf("decoded %d of %d certificates", len(certs), len(trunk))}
	}
	for _, c := range certs {
		pool.AddCert(c)
	}
	return nil
}

func wrapCert(blob string) string {
	return "-----BEGIN CERTIFICATE-----\n" + blob + "\n-----END CERTIFICATE-----"
}

func parsePEM(s string) (*x509.Certificate, error) {
	certs, err := parsePEMCertificates([]byte(s))
	if err != nil {
		return nil, err
	}
	if len(certs) != 1 {
		return nil, errors.New("certificate is not valid PEM")
	}
	return certs[0], nil
}
