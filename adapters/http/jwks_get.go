package authhttp

import (
	"net/http"

	log "github.com/sirupsen/logrus"
)

// JWKSHandler returns a handler for GET /.well-known/jwks.json.
func (s *Service) JWKSHandler() http.Handler {
	h := JWKSHandler(s.jwks)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.allow(r, RLJWKS) {
			tooMany(w)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// JWKSHandler serves the public JWKS document.
func JWKSHandler(p JWKSProvider) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p == nil {
			sendErr(w, http.StatusNotFound, "jwks_not_configured")
			return
		}
		doc, err := p.JWKS()
		if err != nil {
			log.WithContext(r.Context()).WithError(err).Error("storeauth: render jwks")
			serverErr(w, "jwks_unavailable")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300")
		_, _ = w.Write(doc)
	})
}
