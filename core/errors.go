package core

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrPurchaseNotFound means the store has no matching purchase. It is a
	// legitimate outcome, not an infrastructure failure.
	ErrPurchaseNotFound = errors.New("purchase not found")
	// ErrMalformedResponse marks upstream bodies that do not decode to the expected shape.
	ErrMalformedResponse = errors.New("malformed upstream response")
)

// StoreError is an infrastructure failure while talking to a store backend
// (Apple, Google or Google's OAuth endpoint). Upstream bodies are never kept.
type StoreError struct {
	Op     string
	Status int
	Err    error
}

func (e *StoreError) Error() string {
	msg := e.Op
	if e.Status != 0 {
		msg = fmt.Sprintf("%s. Response status=%d", msg, e.Status)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error { return e.Err }

// OAuth2 error codes (RFC 6749 §5.2).
const (
	CodeInvalidRequest       = "invalid_request"
	CodeInvalidClient        = "invalid_client"
	CodeInvalidGrant         = "invalid_grant"
	CodeInvalidScope         = "invalid_scope"
	CodeUnsupportedGrantType = "unsupported_grant_type"
	CodeServerError          = "server_error"
)

// OAuthError is the error surface returned to token endpoint callers.
type OAuthError struct {
	Code        string
	Description string
	Hint        string
	Status      int
	Cause       error
}

func (e *OAuthError) Error() string {
	msg := e.Code + ": " + e.Description
	if e.Hint != "" {
		msg += " (" + e.Hint + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *OAuthError) Unwrap() error { return e.Cause }

// Is matches OAuth errors by code so callers can test against the constructors' results.
func (e *OAuthError) Is(target error) bool {
	t, ok := target.(*OAuthError)
	return ok && t.Code == e.Code
}

func ErrInvalidRequest(param string) *OAuthError {
	return &OAuthError{
		Code:        CodeInvalidRequest,
		Description: "The request is missing a required parameter, includes an invalid parameter value, includes a parameter more than once, or is otherwise malformed.",
		Hint:        fmt.Sprintf("Check the `%s` parameter", param),
		Status:      http.StatusBadRequest,
	}
}

func ErrInvalidScope(scope string) *OAuthError {
	return &OAuthError{
		Code:        CodeInvalidScope,
		Description: "The requested scope is invalid, unknown, or malformed",
		Hint:        fmt.Sprintf("Check the `%s` scope", scope),
		Status:      http.StatusBadRequest,
	}
}

func ErrInvalidClient() *OAuthError {
	return &OAuthError{
		Code:        CodeInvalidClient,
		Description: "Client authentication failed",
		Status:      http.StatusUnauthorized,
	}
}

// ErrInvalidCredentials deliberately does not say which purchase check failed.
func ErrInvalidCredentials() *OAuthError {
	return &OAuthError{
		Code:        CodeInvalidGrant,
		Description: "The user credentials were incorrect.",
		Status:      http.StatusBadRequest,
	}
}

func ErrUnsupportedGrantType() *OAuthError {
	return &OAuthError{
		Code:        CodeUnsupportedGrantType,
		Description: "The authorization grant type is not supported by the authorization server.",
		Hint:        "Check that all required parameters have been provided",
		Status:      http.StatusBadRequest,
	}
}

func ErrServerError(hint string, cause error) *OAuthError {
	return &OAuthError{
		Code:        CodeServerError,
		Description: "The authorization server encountered an unexpected condition which prevented it from fulfilling the request: " + hint,
		Status:      http.StatusInternalServerError,
		Cause:       cause,
	}
}
