package x5c

import "fmt"

// Reason is the stable text of a security rejection.
type Reason string

const (
	ReasonHeaderMissing   Reason = "Certificate header is missing"
	ReasonHeaderMalformed Reason = "Certificate header contains unexpected data"
	ReasonChainInvalid    Reason = "Certificate chain is invalid"
	ReasonSignerMismatch  Reason = "Token signer mismatch"
)

// Rejection means the token is not trusted. It never signals an operational failure.
type Rejection struct {
	Reason Reason
	Err    error
}

func (r *Rejection) Error() string {
	if r.Err != nil {
		return string(r.Reason) + ": " + r.Err.Error()
	}
	return string(r.Reason)
}

func (r *Rejection) Unwrap() error { return r.Err }

// Is matches rejections by reason, so errors.Is(err, ErrChainInvalid) works on wrapped values.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

var (
	ErrHeaderMissing   = &Rejection{Reason: ReasonHeaderMissing}
	ErrHeaderMalformed = &Rejection{Reason: ReasonHeaderMalformed}
	ErrChainInvalid    = &Rejection{Reason: ReasonChainInvalid}
	ErrSignerMismatch  = &Rejection{Reason: ReasonSignerMismatch}
)

func reject(reason Reason, err error) *Rejection {
	return &Rejection{Reason: reason, Err: err}
}

// InfraError is an operational failure while verifying: temp file I/O or
// certificate material that cannot be decoded.
type InfraError struct {
	Op  string
	Err error
}

func (e *InfraError) Error() string { return fmt.Sprintf("x5c: %s: %v", e.Op, e.Err) }

func (e *InfraError) Unwrap() error { return e.Err }
