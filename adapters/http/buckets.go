package authhttp

// Bucket names used by storeauth endpoints.
const (
	RLOAuthToken = "oauth_token"
	RLJWKS       = "jwks"
)
