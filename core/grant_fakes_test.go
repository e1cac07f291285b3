package core

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"
)

type fakeClients map[string]*Client

func (f fakeClients) GetClient(_ context.Context, id string) (*Client, error) {
	if id == "broken" {
		return nil, errors.New("db down")
	}
	return f[id], nil
}

type fakeScopes struct {
	known     map[string]bool
	finalized []Scope
}

func (f *fakeScopes) GetScope(_ context.Context, id string) (*Scope, error) {
	if !f.known[id] {
		return nil, nil
	}
	return &Scope{ID: id}, nil
}

func (f *fakeScopes) FinalizeScopes(_ context.Context, scopes []Scope, _ string, _ *Client) ([]Scope, error) {
	f.finalized = scopes
	return scopes, nil
}

type fakeProducts map[string]string

func (f fakeProducts) NonConsumableFromScopes(_ context.Context, scopes []Scope) (*Product, error) {
	if len(scopes) != 1 {
		return nil, nil
	}
	sku, ok := f[scopes[0].ID]
	if !ok {
		return nil, nil
	}
	return &Product{SKU: sku}, nil
}

type fakeIssuer struct {
	calls int
}

func (f *fakeIssuer) IssueAccessToken(_ context.Context, ttl time.Duration, client *Client, _ string, scopes []Scope) (*AccessToken, error) {
	f.calls++
	return &AccessToken{
		ID:        "token-id",
		Token:     "signed-token",
		ClientID:  client.ID,
		Scopes:    ScopeIDs(scopes),
		ExpiresAt: time.Unix(0, 0).Add(ttl),
	}, nil
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (r *recordingSink) Emit(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

type testDeps struct {
	GrantDeps
	issuer *fakeIssuer
	sink   *recordingSink
	scopes *fakeScopes
}

func newTestDeps() testDeps {
	issuer := &fakeIssuer{}
	sink := &recordingSink{}
	scopes := &fakeScopes{known: map[string]bool{"product-1": true, "product-2": true, "unmapped": true}}
	return testDeps{
		GrantDeps: GrantDeps{
			Clients:  fakeClients{"client-1": {ID: "client-1"}},
			Scopes:   scopes,
			Products: fakeProducts{"product-1": "com.example.product-1", "product-2": "com.example.product-2"},
			Issuer:   issuer,
			Events:   sink,
		},
		issuer: issuer,
		sink:   sink,
		scopes: scopes,
	}
}

func tokenRequest(kv ...string) TokenRequest {
	v := url.Values{}
	for i := 0; i+1 < len(kv); i += 2 {
		v.Set(kv[i], kv[i+1])
	}
	return NewTokenRequest(v)
}
