package apple

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	jwt "github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"

	"github.com/open-rails/storeauth/core"
	"github.com/open-rails/storeauth/credential"
	"github.com/open-rails/storeauth/x5c"
)

const (
	ProductionURL = "https://api.storekit.itunes.apple.com"
	SandboxURL    = "https://api.storekit-sandbox.itunes.apple.com"
)

// NewTransactionVerifier returns an ES256 x5c verifier anchored at the Apple
// root certificates found in the given PEM files.
func NewTransactionVerifier(anchorPaths []string, opts ...x5c.Option) (*x5c.Verifier, error) {
	anchors, err := x5c.LoadTrustAnchors(anchorPaths...)
	if err != nil {
		return nil, err
	}
	return x5c.NewVerifier(jwt.SigningMethodES256, anchors, opts...)
}

// TransactionRepository reads a purchaser's transaction history.
type TransactionRepository struct {
	creds    credential.Source
	verifier *x5c.Verifier
	client   *http.Client
	baseURL  string
}

type RepositoryOption func(*TransactionRepository)

func WithHTTPClient(c *http.Client) RepositoryOption {
	return func(r *TransactionRepository) { r.client = c }
}

// WithBaseURL points the repository at another API host, e.g. SandboxURL.
func WithBaseURL(u string) RepositoryOption {
	return func(r *TransactionRepository) { r.baseURL = strings.TrimRight(u, "/") }
}

func NewTransactionRepository(creds credential.Source, verifier *x5c.Verifier, opts ...RepositoryOption) *TransactionRepository {
	r := &TransactionRepository{
		creds:    creds,
		verifier: verifier,
		client:   http.DefaultClient,
		baseURL:  ProductionURL,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type historyResponse struct {
	SignedTransactions *[]string `json:"signedTransactions"`
}

type transactionClaims struct {
	core.AppleTransaction
	jwt.RegisteredClaims
}

// MostRecent returns the most recent non-revoked transaction of productID in
// the history that transactionID belongs to. The signed payload is verified
// against the Apple roots before it is decoded.
//
// See https://developer.apple.com/documentation/appstoreserverapi/get_transaction_history
func (r *TransactionRepository) MostRecent(ctx context.Context, productID, transactionID string) (*core.AppleTransaction, error) {
	bearer, err := r.creds.BearerToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("apple: bearer token: %w", err)
	}

	endpoint := r.baseURL + "/inApps/v2/history/" + url.PathEscape(transactionID) +
		"?productId=" + url.QueryEscape(productID) + "&revoked=false&sort=DESCENDING"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("apple: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, &core.StoreError{Op: "Failed to fetch transaction history from apple storekit endpoint", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &core.StoreError{Op: "Failed to fetch transaction history from apple storekit endpoint", Status: resp.StatusCode}
	}

	var body historyResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.SignedTransactions == nil {
		if err == nil {
			err = fmt.Errorf("signedTransactions missing")
		}
		return nil, &core.StoreError{
			Op:  "Failed to parse data returned from apple storekit transaction history endpoint.",
			Err: fmt.Errorf("%w: %v", core.ErrMalformedResponse, err),
		}
	}
	signed := *body.SignedTransactions
	if len(signed) == 0 {
		return nil, core.ErrPurchaseNotFound
	}

	var claims transactionClaims
	if _, err := r.verifier.Verify(signed[0], &claims); err != nil {
		log.WithContext(ctx).WithError(err).WithField("product_id", productID).
			Warn("storeauth: apple signed transaction failed verification")
		return nil, &core.StoreError{
			Op:  "Verification failed for data returned from apple storekit transaction history endpoint.",
			Err: err,
		}
	}
	txn := claims.AppleTransaction
	return &txn, nil
}
