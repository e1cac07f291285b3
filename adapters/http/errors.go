package authhttp

import (
	"encoding/json"
	"net/http"

	"github.com/open-rails/storeauth/core"
)

type errResp struct {
	Error string `json:"error"`
}

// oauthErrResp is the RFC 6749 §5.2 error body.
type oauthErrResp struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
	Hint        string `json:"hint,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func sendErr(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errResp{Error: code})
}

func unauthorized(w http.ResponseWriter, code string) { sendErr(w, http.StatusUnauthorized, code) }
func forbidden(w http.ResponseWriter, code string)    { sendErr(w, http.StatusForbidden, code) }
func tooMany(w http.ResponseWriter)                   { sendErr(w, http.StatusTooManyRequests, "rate_limited") }
func serverErr(w http.ResponseWriter, code string)    { sendErr(w, http.StatusInternalServerError, code) }

// sendOAuthErr writes e without its cause; upstream details stay in the logs.
func sendOAuthErr(w http.ResponseWriter, e *core.OAuthError) {
	status := e.Status
	if status == 0 {
		status = http.StatusBadRequest
	}
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Basic realm="OAuth"`)
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, status, oauthErrResp{Error: e.Code, Description: e.Description, Hint: e.Hint})
}
