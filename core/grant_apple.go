package core

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"
)

// AppleNonConsumableGrant issues access tokens against a verified App Store
// transaction for a non-consumable product.
type AppleNonConsumableGrant struct {
	grantBase
	stores AppleTransactionFactory
}

func NewAppleNonConsumableGrant(deps GrantDeps, stores AppleTransactionFactory) *AppleNonConsumableGrant {
	return &AppleNonConsumableGrant{grantBase: newGrantBase(deps, GrantAppleNonConsumable), stores: stores}
}

func (g *AppleNonConsumableGrant) Identifier() string { return GrantAppleNonConsumable }

func (g *AppleNonConsumableGrant) RespondToAccessTokenRequest(ctx context.Context, req TokenRequest, ttl time.Duration) (*AccessToken, error) {
	client, err := g.clientOrFail(ctx, req)
	if err != nil {
		return nil, err
	}
	transactions := g.stores.AppleTransactionsFor(client)
	if transactions == nil {
		return nil, ErrInvalidRequest("client_id")
	}

	scopes, product, err := g.resolveProduct(ctx, req, client)
	if err != nil {
		return nil, err
	}

	transactionID := req.Param("transaction_id")
	if transactionID == "" {
		return nil, ErrInvalidRequest("transaction_id")
	}

	txn, err := transactions.MostRecent(ctx, product.SKU, transactionID)
	if err != nil && !errors.Is(err, ErrPurchaseNotFound) {
		log.WithContext(ctx).WithError(err).WithFields(log.Fields{
			"client_id": client.ID,
			"sku":       product.SKU,
		}).Error("storeauth: apple transaction lookup failed")
		return nil, ErrServerError("Failed to retrieve product purchase status", err)
	}

	// Any transaction id from the purchaser's history can be combined with any
	// sku they ever bought, so the product type is re-checked here even though
	// the product repository only maps scopes to non-consumables.
	if txn == nil || txn.Type != AppleTypeNonConsumable {
		log.WithContext(ctx).WithFields(log.Fields{
			"client_id": client.ID,
			"sku":       product.SKU,
			"found":     txn != nil,
		}).Warn("storeauth: apple purchase rejected")
		return nil, ErrInvalidCredentials()
	}

	return g.issue(ctx, req, ttl, client, scopes)
}
