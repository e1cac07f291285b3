package core

import (
	"context"
	"time"
)

// Server dispatches token requests to registered grants by grant_type.
type Server struct {
	grants    map[string]Grant
	accessTTL time.Duration
}

// NewServer registers grants; a zero accessTTL defaults to one hour.
func NewServer(accessTTL time.Duration, grants ...Grant) *Server {
	if accessTTL <= 0 {
		accessTTL = time.Hour
	}
	s := &Server{grants: make(map[string]Grant, len(grants)), accessTTL: accessTTL}
	for _, g := range grants {
		s.EnableGrant(g)
	}
	return s
}

// EnableGrant registers g under its identifier, replacing any previous grant.
func (s *Server) EnableGrant(g Grant) {
	if g == nil {
		panic("storeauth: nil grant")
	}
	s.grants[g.Identifier()] = g
}

// AccessTokenTTL is the lifetime given to issued access tokens.
func (s *Server) AccessTokenTTL() time.Duration { return s.accessTTL }

// RespondToAccessTokenRequest runs the grant named by grant_type.
func (s *Server) RespondToAccessTokenRequest(ctx context.Context, req TokenRequest) (*AccessToken, error) {
	g, ok := s.grants[req.Param("grant_type")]
	if !ok {
		return nil, ErrUnsupportedGrantType()
	}
	return g.RespondToAccessTokenRequest(ctx, req, s.accessTTL)
}
