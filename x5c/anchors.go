package x5c

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// TrustAnchors is the immutable set of root certificates a chain must reach.
type TrustAnchors struct {
	pool  *x509.CertPool
	certs []*x509.Certificate
}

// NewTrustAnchors builds an anchor set from parsed certificates.
func NewTrustAnchors(certs ...*x509.Certificate) *TrustAnchors {
	a := &TrustAnchors{pool: x509.NewCertPool()}
	for _, c := range certs {
		if c == nil {
			continue
		}
		a.pool.AddCert(c)
		a.certs = append(a.certs, c)
	}
	return a
}

// LoadTrustAnchors reads PEM files. Each file may be a single certificate or a
// bundle; the resulting set is the union of all of them.
func LoadTrustAnchors(paths ...string) (*TrustAnchors, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("x5c: no trust anchor files")
	}
	var certs []*x509.Certificate
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("x5c: read trust anchor %s: %w", p, err)
		}
		parsed, err := parsePEMCertificates(raw)
		if err != nil {
			return nil, fmt.Errorf("x5c: trust anchor %s: %w", p, err)
		}
		if len(parsed) == 0 {
			return nil, fmt.Errorf("x5c: trust anchor %s: no certificates found", p)
		}
		certs = append(certs, parsed...)
	}
	return NewTrustAnchors(certs...), nil
}

// Len is the number of anchors.
func (a *TrustAnchors) Len() int { return len(a.certs) }

// Certificates returns a copy of the anchor certificates.
func (a *TrustAnchors) Certificates() []*x509.Certificate {
	out := make([]*x509.Certificate, len(a.certs))
	copy(out, a.certs)
	return out
}

func parsePEMCertificates(raw []byte) ([]*x509.Certificate, error) {
	var out []*x509.Certificate
	for {
		var block *pem.Block
		block, raw = pem.Decode(raw)
		if block == nil {
			return out, nil
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, err
		}
		out = append(out, cert)
	}
}
