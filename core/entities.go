package core

import (
	"net/url"
	"strings"
	"time"
)

// Client is a registered OAuth client (a mobile app build).
type Client struct {
	ID   string
	Name string
	// Grants lists the grant identifiers the client may use. Empty means any.
	Grants []string
}

// AllowsGrant reports whether the client is enabled for grantType.
func (c *Client) AllowsGrant(grantType string) bool {
	if c == nil {
		return false
	}
	if len(c.Grants) == 0 {
		return true
	}
	for _, g := range c.Grants {
		if g == grantType {
			return true
		}
	}
	return false
}

// Scope is a known OAuth scope.
type Scope struct {
	ID string
}

// ScopeIDs returns the identifiers of scopes in order.
func ScopeIDs(scopes []Scope) []string {
	out := make([]string, 0, len(scopes))
	for _, s := range scopes {
		out = append(out, s.ID)
	}
	return out
}

// Product is a non-consumable store product identified by its SKU.
type Product struct {
	SKU string
}

// AccessToken is the result of a successful grant.
type AccessToken struct {
	ID        string
	Token     string
	ClientID  string
	Scopes    []string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// ExpiresIn is the lifetime reported to the client, measured on the issuer's
// clock. Tokens without IssuedAt fall back to the wall clock.
func (t *AccessToken) ExpiresIn() time.Duration {
	if t.IssuedAt.IsZero() {
		return time.Until(t.ExpiresAt).Round(time.Second)
	}
	return t.ExpiresAt.Sub(t.IssuedAt)
}

// TokenRequest carries the parameters of an inbound OAuth2 token request.
type TokenRequest struct {
	Params    url.Values
	IP        string
	UserAgent string
}

// NewTokenRequest builds a request from form values.
func NewTokenRequest(params url.Values) TokenRequest {
	if params == nil {
		params = url.Values{}
	}
	return TokenRequest{Params: params}
}

// Param returns the trimmed parameter value, or "" when absent.
func (r TokenRequest) Param(name string) string {
	return strings.TrimSpace(r.Params.Get(name))
}

// ParamOr returns the parameter, falling back to def when absent.
func (r TokenRequest) ParamOr(name, def string) string {
	if v := r.Param(name); v != "" {
		return v
	}
	return def
}

// AppleTransaction holds the verified claims of a signed App Store transaction.
//
// See https://developer.apple.com/documentation/appstoreserverapi/jwstransactiondecodedpayload
type AppleTransaction struct {
	TransactionID         string `json:"transactionId"`
	OriginalTransactionID string `json:"originalTransactionId"`
	BundleID              string `json:"bundleId"`
	ProductID             string `json:"productId"`
	PurchaseDate          int64  `json:"purchaseDate"`
	OriginalPurchaseDate  int64  `json:"originalPurchaseDate"`
	Quantity              int    `json:"quantity"`
	Type                  string `json:"type"`
	InAppOwnershipType    string `json:"inAppOwnershipType"`
	SignedDate            int64  `json:"signedDate"`
	Environment           string `json:"environment"`
	TransactionReason     string `json:"transactionReason"`
	Storefront            string `json:"storefront"`
	StorefrontID          string `json:"storefrontId"`
	Price                 int64  `json:"price"`
	Currency              string `json:"currency"`
}

// AppleTypeNonConsumable is the transaction type accepted by the Apple grant.
const AppleTypeNonConsumable = "Non-Consumable"

// GooglePurchase mirrors the Play Developer API ProductPurchase resource.
type GooglePurchase struct {
	AcknowledgementState int    `json:"acknowledgementState"`
	ConsumptionState     int    `json:"consumptionState"`
	DeveloperPayload     string `json:"developerPayload"`
	Kind                 string `json:"kind"`
	OrderID              string `json:"orderId"`
	PurchaseState        int    `json:"purchaseState"`
	PurchaseTimeMillis   int64  `json:"purchaseTimeMillis,string"`
	PurchaseType         int    `json:"purchaseType"`
	RegionCode           string `json:"regionCode"`
}

const (
	// GooglePurchaseStatePurchased is the only purchaseState the Google grant accepts.
	GooglePurchaseStatePurchased = 0
	// GoogleAcknowledgementPending means the purchase still has to be acknowledged.
	GoogleAcknowledgementPending = 0
)
