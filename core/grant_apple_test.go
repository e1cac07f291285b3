package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeAppleTransactions struct {
	txn   *AppleTransaction
	err   error
	calls []string
}

func (f *fakeAppleTransactions) MostRecent(_ context.Context, productID, transactionID string) (*AppleTransaction, error) {
	f.calls = append(f.calls, productID+"|"+transactionID)
	if f.err != nil {
		return nil, f.err
	}
	return f.txn, nil
}

func nonConsumable(sku string) *AppleTransaction {
	return &AppleTransaction{
		TransactionID: "161133706327570",
		ProductID:     sku,
		Type:          AppleTypeNonConsumable,
	}
}

func TestAppleGrant_IssuesToken(t *testing.T) {
	deps := newTestDeps()
	store := &fakeAppleTransactions{txn: nonConsumable("com.example.product-1")}
	g := NewAppleNonConsumableGrant(deps.GrantDeps, StaticAppleTransactions(store))

	require.Equal(t, "urn:uuid:c7e545a5-d72b-4294-a173-bb1858aae099", g.Identifier())

	tok, err := g.RespondToAccessTokenRequest(context.Background(), tokenRequest(
		"client_id", "client-1",
		"scope", "product-1",
		"transaction_id", "161133706327570",
	), time.Hour)
	require.NoError(t, err)
	require.Equal(t, "signed-token", tok.Token)
	require.Equal(t, []string{"product-1"}, tok.Scopes)
	require.Equal(t, []string{"com.example.product-1|161133706327570"}, store.calls)
	require.Equal(t, []string{EventAccessTokenIssued}, deps.sink.names())
}

func TestAppleGrant_DefaultScope(t *testing.T) {
	deps := newTestDeps()
	deps.DefaultScope = "product-2"
	store := &fakeAppleTransactions{txn: nonConsumable("com.example.product-2")}
	g := NewAppleNonConsumableGrant(deps.GrantDeps, StaticAppleTransactions(store))

	_, err := g.RespondToAccessTokenRequest(context.Background(), tokenRequest(
		"client_id", "client-1",
		"transaction_id", "1",
	), time.Hour)
	require.NoError(t, err)
	require.Equal(t, []string{"com.example.product-2|1"}, store.calls)
}

func TestAppleGrant_RequestErrors(t *testing.T) {
	cases := []struct {
		name   string
		req    TokenRequest
		code   string
		hint   string
		events []string
	}{
		{
			name: "missing_client_id",
			req:  tokenRequest("scope", "product-1", "transaction_id", "1"),
			code: CodeInvalidRequest,
			hint: "Check the `client_id` parameter",
		},
		{
			name:   "unknown_client",
			req:    tokenRequest("client_id", "nope", "scope", "product-1", "transaction_id", "1"),
			code:   CodeInvalidClient,
			events: []string{EventClientAuthenticationFailed},
		},
		{
			name: "client_lookup_error",
			req:  tokenRequest("client_id", "broken", "scope", "product-1", "transaction_id", "1"),
			code: CodeServerError,
		},
		{
			name: "unknown_scope",
			req:  tokenRequest("client_id", "client-1", "scope", "bogus", "transaction_id", "1"),
			code: CodeInvalidScope,
			hint: "Check the `bogus` scope",
		},
		{
			name: "empty_scope",
			req:  tokenRequest("client_id", "client-1", "transaction_id", "1"),
			code: CodeInvalidScope,
		},
		{
			name: "scope_without_product_echoes_requested_scopes",
			req:  tokenRequest("client_id", "client-1", "scope", "product-1 product-2", "transaction_id", "1"),
			code: CodeInvalidScope,
			hint: "Check the `product-1 product-2` scope",
		},
		{
			name: "missing_transaction_id",
			req:  tokenRequest("client_id", "client-1", "scope", "product-1"),
			code: CodeInvalidRequest,
			hint: "Check the `transaction_id` parameter",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			deps := newTestDeps()
			store := &fakeAppleTransactions{txn: nonConsumable("com.example.product-1")}
			g := NewAppleNonConsumableGrant(deps.GrantDeps, StaticAppleTransactions(store))

			tok, err := g.RespondToAccessTokenRequest(context.Background(), tc.req, time.Hour)
			require.Nil(t, tok)
			var oe *OAuthError
			require.ErrorAs(t, err, &oe)
			require.Equal(t, tc.code, oe.Code)
			if tc.hint != "" {
				require.Equal(t, tc.hint, oe.Hint)
			}
			require.Empty(t, store.calls)
			require.Equal(t, 0, deps.issuer.calls)
			if tc.events == nil {
				require.Empty(t, deps.sink.names())
			} else {
				require.Equal(t, tc.events, deps.sink.names())
			}
		})
	}
}

func TestAppleGrant_ClientWithoutStore(t *testing.T) {
	deps := newTestDeps()
	g := NewAppleNonConsumableGrant(deps.GrantDeps, AppleTransactionFactoryFunc(func(*Client) AppleTransactions { return nil }))

	_, err := g.RespondToAccessTokenRequest(context.Background(), tokenRequest(
		"client_id", "client-1", "scope", "product-1", "transaction_id", "1",
	), time.Hour)
	require.ErrorIs(t, err, ErrInvalidRequest("client_id"))
}

func TestAppleGrant_InvalidCredentials(t *testing.T) {
	cases := map[string]*fakeAppleTransactions{
		"not_found": {err: ErrPurchaseNotFound},
		"wrong_type_same_sku": {txn: &AppleTransaction{
			ProductID: "com.example.product-1",
			Type:      "Auto-Renewable Subscription",
		}},
		"consumable": {txn: &AppleTransaction{ProductID: "com.example.product-1", Type: "Consumable"}},
	}
	for name, store := range cases {
		t.Run(name, func(t *testing.T) {
			deps := newTestDeps()
			g := NewAppleNonConsumableGrant(deps.GrantDeps, StaticAppleTransactions(store))
			tok, err := g.RespondToAccessTokenRequest(context.Background(), tokenRequest(
				"client_id", "client-1", "scope", "product-1", "transaction_id", "1",
			), time.Hour)
			require.Nil(t, tok)
			require.ErrorIs(t, err, ErrInvalidCredentials())
			require.Equal(t, 0, deps.issuer.calls)
		})
	}
}

func TestAppleGrant_StoreFailureIsServerError(t *testing.T) {
	deps := newTestDeps()
	upstream := &StoreError{Op: "Failed to fetch transaction history from apple storekit endpoint", Status: 503}
	store := &fakeAppleTransactions{err: upstream}
	g := NewAppleNonConsumableGrant(deps.GrantDeps, StaticAppleTransactions(store))

	_, err := g.RespondToAccessTokenRequest(context.Background(), tokenRequest(
		"client_id", "client-1", "scope", "product-1", "transaction_id", "1",
	), time.Hour)
	var oe *OAuthError
	require.ErrorAs(t, err, &oe)
	require.Equal(t, CodeServerError, oe.Code)
	var se *StoreError
	require.True(t, errors.As(err, &se))
	require.Equal(t, 503, se.Status)
}
