package core

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
)

// GoogleNonConsumableGrant issues access tokens against a Play product purchase
// and acknowledges the purchase afterwards when Google still expects it.
type GoogleNonConsumableGrant struct {
	grantBase
	stores GooglePurchaseFactory
}

func NewGoogleNonConsumableGrant(deps GrantDeps, stores GooglePurchaseFactory) *GoogleNonConsumableGrant {
	return &GoogleNonConsumableGrant{grantBase: newGrantBase(deps, GrantGoogleNonConsumable), stores: stores}
}

func (g *GoogleNonConsumableGrant) Identifier() string { return GrantGoogleNonConsumable }

func (g *GoogleNonConsumableGrant) RespondToAccessTokenRequest(ctx context.Context, req TokenRequest, ttl time.Duration) (*AccessToken, error) {
	client, err := g.clientOrFail(ctx, req)
	if err != nil {
		return nil, err
	}
	purchases := g.stores.GooglePurchasesFor(client)
	if purchases == nil {
		return nil, ErrInvalidRequest("client_id")
	}

	scopes, product, err := g.resolveProduct(ctx, req, client)
	if err != nil {
		return nil, err
	}

	purchaseToken := req.Param("purchase_token")
	if purchaseToken == "" {
		return nil, ErrInvalidRequest("purchase_token")
	}

	purchase, err := purchases.Get(ctx, product.SKU, purchaseToken)
	if err != nil {
		log.WithContext(ctx).WithError(err).WithFields(log.Fields{
			"client_id": client.ID,
			"sku":       product.SKU,
		}).Error("storeauth: google purchase lookup failed")
		return nil, ErrServerError("Failed to retrieve product purchase status", err)
	}

	// https://developer.android.com/google/play/billing/security#verify
	if purchase.PurchaseState != GooglePurchaseStatePurchased {
		log.WithContext(ctx).WithFields(log.Fields{
			"client_id":      client.ID,
			"sku":            product.SKU,
			"purchase_state": purchase.PurchaseState,
		}).Warn("storeauth: google purchase rejected")
		return nil, ErrInvalidCredentials()
	}

	tok, err := g.issue(ctx, req, ttl, client, scopes)
	if err != nil {
		return nil, err
	}

	// The token stays issued even if acknowledging fails.
	// https://developer.android.com/google/play/billing/integrate#process
	if purchase.AcknowledgementState == GoogleAcknowledgementPending {
		if err := purchases.Acknowledge(ctx, product.SKU, purchaseToken); err != nil {
			log.WithContext(ctx).WithError(err).WithFields(log.Fields{
				"client_id":       client.ID,
				"sku":             product.SKU,
				"access_token_id": tok.ID,
			}).Error("storeauth: google purchase acknowledgement failed")
			return tok, ErrServerError("Failed to acknowledge product purchase", err)
		}
	}
	return tok, nil
}
