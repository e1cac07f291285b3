package core

import (
	"context"
	"strings"
	"time"
)

// Grant identifiers exposed to clients as grant_type values.
const (
	GrantAppleNonConsumable  = "urn:uuid:c7e545a5-d72b-4294-a173-bb1858aae099"
	GrantGoogleNonConsumable = "urn:uuid:ea31e77f-cb72-486f-b5c4-deef43e839f3"
)

// Grant handles one OAuth2 grant type.
//
// RespondToAccessTokenRequest may return a token together with an error when the
// token was issued but a follow-up step failed; callers must not assume a nil
// token on error.
type Grant interface {
	Identifier() string
	RespondToAccessTokenRequest(ctx context.Context, req TokenRequest, ttl time.Duration) (*AccessToken, error)
}

// GrantDeps are the authorization-server capabilities shared by the purchase grants.
type GrantDeps struct {
	Clients  ClientLookup
	Scopes   ScopeLookup
	Products ProductRepository
	Issuer   AccessTokenIssuer
	Events   EventSink
	// DefaultScope is used when the request carries no scope parameter.
	DefaultScope string
}

type grantBase struct {
	deps      GrantDeps
	grantType string
}

func newGrantBase(deps GrantDeps, grantType string) grantBase {
	if deps.Events == nil {
		deps.Events = NopEventSink{}
	}
	return grantBase{deps: deps, grantType: grantType}
}

// clientOrFail resolves the client named by client_id.
func (g grantBase) clientOrFail(ctx context.Context, req TokenRequest) (*Client, error) {
	clientID := req.Param("client_id")
	if clientID == "" {
		return nil, ErrInvalidRequest("client_id")
	}
	client, err := g.deps.Clients.GetClient(ctx, clientID)
	if err != nil {
		return nil, ErrServerError("Failed to look up client", err)
	}
	if client == nil || !client.AllowsGrant(g.grantType) {
		g.deps.Events.Emit(ctx, Event{
			Name:      EventClientAuthenticationFailed,
			GrantType: g.grantType,
			ClientID:  clientID,
			IP:        req.IP,
			UserAgent: req.UserAgent,
		})
		return nil, ErrInvalidClient()
	}
	return client, nil
}

// validateScopes resolves every space-delimited scope; at least one is required.
func (g grantBase) validateScopes(ctx context.Context, req TokenRequest) ([]Scope, error) {
	raw := req.ParamOr("scope", g.deps.DefaultScope)
	ids := strings.Fields(raw)
	if len(ids) == 0 {
		return nil, ErrInvalidScope(raw)
	}
	scopes := make([]Scope, 0, len(ids))
	for _, id := range ids {
		s, err := g.deps.Scopes.GetScope(ctx, id)
		if err != nil {
			return nil, ErrServerError("Failed to look up scope", err)
		}
		if s == nil {
			return nil, ErrInvalidScope(id)
		}
		scopes = append(scopes, *s)
	}
	return scopes, nil
}

// resolveProduct runs scope validation, finalization and the product lookup.
// A missing product is reported against the requested scopes.
func (g grantBase) resolveProduct(ctx context.Context, req TokenRequest, client *Client) ([]Scope, *Product, error) {
	requested, err := g.validateScopes(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	finalized, err := g.deps.Scopes.FinalizeScopes(ctx, requested, g.grantType, client)
	if err != nil {
		return nil, nil, ErrServerError("Failed to finalize scopes", err)
	}
	product, err := g.deps.Products.NonConsumableFromScopes(ctx, finalized)
	if err != nil {
		return nil, nil, ErrServerError("Failed to look up product", err)
	}
	if product == nil {
		return nil, nil, ErrInvalidScope(strings.Join(ScopeIDs(requested), " "))
	}
	return finalized, product, nil
}

// issue mints the access token and emits the issued event.
func (g grantBase) issue(ctx context.Context, req TokenRequest, ttl time.Duration, client *Client, scopes []Scope) (*AccessToken, error) {
	tok, err := g.deps.Issuer.IssueAccessToken(ctx, ttl, client, "", scopes)
	if err != nil {
		return nil, ErrServerError("Failed to issue access token", err)
	}
	g.deps.Events.Emit(ctx, Event{
		Name:          EventAccessTokenIssued,
		GrantType:     g.grantType,
		ClientID:      client.ID,
		AccessTokenID: tok.ID,
		IP:            req.IP,
		UserAgent:     req.UserAgent,
	})
	return tok, nil
}
