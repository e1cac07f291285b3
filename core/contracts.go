package core

import (
	"context"
	"time"
)

// ClientLookup resolves OAuth clients. Unknown clients return (nil, nil).
type ClientLookup interface {
	GetClient(ctx context.Context, clientID string) (*Client, error)
}

// ScopeLookup resolves and finalizes scopes. Unknown scopes return (nil, nil).
type ScopeLookup interface {
	GetScope(ctx context.Context, id string) (*Scope, error)
	FinalizeScopes(ctx context.Context, scopes []Scope, grantType string, client *Client) ([]Scope, error)
}

// ProductRepository maps finalized scopes to exactly one non-consumable product.
// No mapping returns (nil, nil).
type ProductRepository interface {
	NonConsumableFromScopes(ctx context.Context, scopes []Scope) (*Product, error)
}

// AccessTokenIssuer mints (and, if it wants to, persists) access tokens.
type AccessTokenIssuer interface {
	IssueAccessToken(ctx context.Context, ttl time.Duration, client *Client, userID string, scopes []Scope) (*AccessToken, error)
}

// EventSink receives grant lifecycle events.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// AppleTransactions fetches the most recent non-revoked transaction for a product.
// It returns ErrPurchaseNotFound when the history is empty.
type AppleTransactions interface {
	MostRecent(ctx context.Context, productID, transactionID string) (*AppleTransaction, error)
}

// GooglePurchases fetches and acknowledges Play product purchases.
type GooglePurchases interface {
	Get(ctx context.Context, productID, purchaseToken string) (*GooglePurchase, error)
	Acknowledge(ctx context.Context, productID, purchaseToken string) error
}

// AppleTransactionFactory returns the store client configured for a client, or nil.
type AppleTransactionFactory interface {
	AppleTransactionsFor(client *Client) AppleTransactions
}

// GooglePurchaseFactory returns the store client configured for a client, or nil.
type GooglePurchaseFactory interface {
	GooglePurchasesFor(client *Client) GooglePurchases
}

// AppleTransactionFactoryFunc adapts a function to AppleTransactionFactory.
type AppleTransactionFactoryFunc func(client *Client) AppleTransactions

func (f AppleTransactionFactoryFunc) AppleTransactionsFor(client *Client) AppleTransactions {
	return f(client)
}

// GooglePurchaseFactoryFunc adapts a function to GooglePurchaseFactory.
type GooglePurchaseFactoryFunc func(client *Client) GooglePurchases

func (f GooglePurchaseFactoryFunc) GooglePurchasesFor(client *Client) GooglePurchases {
	return f(client)
}

// StaticAppleTransactions serves the same store client to every client.
func StaticAppleTransactions(repo AppleTransactions) AppleTransactionFactory {
	return AppleTransactionFactoryFunc(func(*Client) AppleTransactions { return repo })
}

// StaticGooglePurchases serves the same store client to every client.
func StaticGooglePurchases(repo GooglePurchases) GooglePurchaseFactory {
	return GooglePurchaseFactoryFunc(func(*Client) GooglePurchases { return repo })
}
