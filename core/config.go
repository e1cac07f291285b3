package core

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// IssuerConfig configures the JWT access-token issuer.
type IssuerConfig struct {
	Issuer    string   `validate:"required"`
	Audiences []string `validate:"required,min=1,dive,required"`
	KeyID     string   `validate:"required"`
	// SigningKey signs issued tokens with RS256.
	SigningKey *rsa.PrivateKey `validate:"required"`
	// DefaultTTL applies when a grant passes a zero TTL.
	DefaultTTL time.Duration
	Clock      Clock
}

// Validate reports the first missing or malformed field.
func (c IssuerConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("storeauth: invalid issuer config: %w", err)
	}
	return nil
}
