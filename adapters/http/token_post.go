package authhttp

import (
	"errors"
	"net/http"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/open-rails/storeauth/core"
)

const maxTokenRequestBytes = 64 << 10

func (s *Service) handleTokenPOST(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLOAuthToken) {
		tooMany(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxTokenRequestBytes)
	if err := r.ParseForm(); err != nil {
		sendOAuthErr(w, core.ErrInvalidRequest("body"))
		return
	}

	req := core.NewTokenRequest(r.PostForm)
	req.IP = s.eventIP(r)
	req.UserAgent = r.UserAgent()

	tok, err := s.srv.RespondToAccessTokenRequest(r.Context(), req)
	if err != nil {
		var oe *core.OAuthError
		if !errors.As(err, &oe) {
			oe = core.ErrServerError("Unexpected error", err)
		}
		entry := log.WithContext(r.Context()).WithFields(log.Fields{
			"grant_type": req.Param("grant_type"),
			"client_id":  req.Param("client_id"),
			"error":      oe.Code,
		})
		if oe.Code == core.CodeServerError {
			// The token may already exist (e.g. a failed Google acknowledgement);
			// the client still only sees the error.
			entry.WithError(err).WithField("token_issued", tok != nil).Error("storeauth: token request failed")
		} else {
			entry.Info("storeauth: token request rejected")
		}
		sendOAuthErr(w, oe)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, map[string]any{
		"token_type":   "Bearer",
		"access_token": tok.Token,
		"expires_in":   int(tok.ExpiresIn().Seconds()),
		"scope":        strings.Join(tok.Scopes, " "),
	})
}
