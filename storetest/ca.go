package storetest

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// Cert is a generated certificate together with its private key.
type Cert struct {
	Cert *x509.Certificate
	Key  *ecdsa.PrivateKey
}

var serial atomic.Int64

func nextSerial() *big.Int {
	return big.NewInt(1000 + serial.Add(1))
}

func newKey(t testing.TB) *ecdsa.PrivateKey {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	return key
}

func issue(t testing.TB, tmpl *x509.Certificate, key *ecdsa.PrivateKey, parent *Cert) *Cert {
	t.Helper()
	signerCert, signerKey := tmpl, key
	if parent != nil {
		signerCert, signerKey = parent.Cert, parent.Key
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, signerCert, &key.PublicKey, signerKey)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return &Cert{Cert: cert, Key: key}
}

func template(cn string, ca bool) *x509.Certificate {
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: nextSerial(),
		Subject:      pkix.Name{CommonName: cn, Organization: []string{"storeauth test"}},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(30 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	if ca {
		tmpl.IsCA = true
		tmpl.BasicConstraintsValid = true
		tmpl.KeyUsage |= x509.KeyUsageCertSign
	}
	return tmpl
}

// NewRootCA returns a self-signed CA certificate.
func NewRootCA(t testing.TB) *Cert {
	t.Helper()
	return issue(t, template("root", true), newKey(t), nil)
}

// SelfSigned returns a self-signed end-entity certificate.
func SelfSigned(t testing.TB) *Cert {
	t.Helper()
	return issue(t, template("self-signed", false), newKey(t), nil)
}

// Intermediate issues a CA certificate signed by c.
func (c *Cert) Intermediate(t testing.TB) *Cert {
	t.Helper()
	return issue(t, template("intermediate", true), newKey(t), c)
}

// Leaf issues an end-entity certificate signed by c.
func (c *Cert) Leaf(t testing.TB) *Cert {
	t.Helper()
	return issue(t, template("leaf", false), newKey(t), c)
}

// Chain encodes certificates the way the x5c header carries them: base64 DER.
func Chain(certs ...*Cert) []string {
	out := make([]string, 0, len(certs))
	for _, c := range certs {
		out = append(out, base64.StdEncoding.EncodeToString(c.Cert.Raw))
	}
	return out
}

// PEM encodes the certificates as a PEM bundle.
func PEM(certs ...*Cert) []byte {
	var out []byte
	for _, c := range certs {
		out = append(out, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: c.Cert.Raw})...)
	}
	return out
}

// WriteAnchors writes the certificates as one PEM bundle into a temp dir and
// returns the path.
func WriteAnchors(t testing.TB, certs ...*Cert) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "anchors.pem")
	require.NoError(t, os.WriteFile(path, PEM(certs...), 0o600))
	return path
}

// WriteAnchorFiles writes each certificate into its own PEM file.
func WriteAnchorFiles(t testing.TB, certs ...*Cert) []string {
	t.Helper()
	dir := t.TempDir()
	paths := make([]string, 0, len(certs))
	for i, c := range certs {
		path := filepath.Join(dir, "anchor-"+string(rune('a'+i))+".pem")
		require.NoError(t, os.WriteFile(path, PEM(c), 0o600))
		paths = append(paths, path)
	}
	return paths
}
