package authhttp

import "net/http"

// APIHandler serves POST /oauth/token and, when a key set is configured,
// GET /.well-known/jwks.json.
func (s *Service) APIHandler() http.Handler {
	if s == nil || s.srv == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serverErr(w, "storeauth_not_initialized") })
	}
	mux := http.NewServeMux()
	mux.Handle("POST /oauth/token", http.HandlerFunc(s.handleTokenPOST))
	if s.jwks != nil {
		mux.Handle("GET /.well-known/jwks.json", s.JWKSHandler())
	}
	return mux
}
