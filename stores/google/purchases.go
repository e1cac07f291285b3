package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/open-rails/storeauth/core"
	"github.com/open-rails/storeauth/credential"
)

// PurchaseRepository reads and acknowledges one-time product purchases of a
// single Android package.
type PurchaseRepository struct {
	svc         *androidpublisher.Service
	client      *http.Client
	creds       credential.Source
	packageName string
}

const (
	getPurchaseOp   = "Failed to fetch product purchase from google endpoint"
	parsePurchaseOp = "Unexpected data returned from google product purchase endpoint."

	productPurchasePath = "androidpublisher/v3/applications/{packageName}/purchases/products/{productId}/tokens/{token}"
	maxPurchaseBody     = 1 << 20
)

type repositoryConfig struct {
	baseURL string
	client  *http.Client
}

type RepositoryOption func(*repositoryConfig)

// WithBaseURL points the repository at another API host.
func WithBaseURL(u string) RepositoryOption {
	return func(c *repositoryConfig) { c.baseURL = strings.TrimRight(u, "/") + "/" }
}

// WithHTTPClient sets the client whose transport carries the authorized requests.
func WithHTTPClient(client *http.Client) RepositoryOption {
	return func(c *repositoryConfig) { c.client = client }
}

// NewPurchaseRepository authorizes every call with a bearer token from creds.
func NewPurchaseRepository(ctx context.Context, packageName string, creds credential.Source, opts ...RepositoryOption) (*PurchaseRepository, error) {
	if packageName == "" {
		return nil, errors.New("google: package name is required")
	}
	cfg := repositoryConfig{client: http.DefaultClient}
	for _, opt := range opts {
		opt(&cfg)
	}
	base := cfg.client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient := &http.Client{
		Transport: &oauth2.Transport{Source: TokenSource(creds), Base: base},
		Timeout:   cfg.client.Timeout,
	}
	svcOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if cfg.baseURL != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(cfg.baseURL))
	}
	svc, err := androidpublisher.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("google: androidpublisher client: %w", err)
	}
	return &PurchaseRepository{svc: svc, client: httpClient, creds: creds, packageName: packageName}, nil
}

// Get fetches the purchase identified by purchaseToken. The body is decoded
// here rather than through androidpublisher.ProductPurchase: the generated
// type cannot tell a missing purchaseState from 0 (purchased).
//
// See https://developers.google.com/android-publisher/api-ref/rest/v3/purchases.products/get
func (r *PurchaseRepository) Get(ctx context.Context, productID, purchaseToken string) (*core.GooglePurchase, error) {
	if err := r.authorize(ctx); err != nil {
		return nil, classify(err, getPurchaseOp, parsePurchaseOp)
	}
	params := url.Values{"alt": {"json"}, "prettyPrint": {"false"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		googleapi.ResolveRelative(r.svc.BasePath, productPurchasePath)+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google: build purchase request: %w", err)
	}
	googleapi.Expand(req.URL, map[string]string{
		"packageName": r.packageName,
		"productId":   productID,
		"token":       purchaseToken,
	})
	req.Header.Set("Accept", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return nil, classify(err, getPurchaseOp, parsePurchaseOp)
	}
	defer googleapi.CloseBody(res)
	if err := googleapi.CheckResponse(res); err != nil {
		return nil, classify(err, getPurchaseOp, parsePurchaseOp)
	}
	return decodePurchase(io.LimitReader(res.Body, maxPurchaseBody))
}

// productPurchase is the wire form; pointers mark the fields a grant decides on.
type productPurchase struct {
	AcknowledgementState *int    `json:"acknowledgementState"`
	ConsumptionState     int     `json:"consumptionState"`
	DeveloperPayload     string  `json:"developerPayload"`
	Kind                 string  `json:"kind"`
	OrderID              string  `json:"orderId"`
	PurchaseState        *int    `json:"purchaseState"`
	PurchaseTimeMillis   *string `json:"purchaseTimeMillis"`
	PurchaseType         int     `json:"purchaseType"`
	RegionCode           string  `json:"regionCode"`
}

func decodePurchase(body io.Reader) (*core.GooglePurchase, error) {
	var p productPurchase
	if err := json.NewDecoder(body).Decode(&p); err != nil {
		return nil, malformedPurchase(err)
	}
	var missing []string
	if p.AcknowledgementState == nil {
		missing = append(missing, "acknowledgementState")
	}
	if p.PurchaseState == nil {
		missing = append(missing, "purchaseState")
	}
	if p.PurchaseTimeMillis == nil {
		missing = append(missing, "purchaseTimeMillis")
	}
	if len(missing) > 0 {
		return nil, malformedPurchase(fmt.Errorf("missing %s", strings.Join(missing, ", ")))
	}
	millis, err := strconv.ParseInt(*p.PurchaseTimeMillis, 10, 64)
	if err != nil {
		return nil, malformedPurchase(fmt.Errorf("purchaseTimeMillis: %w", err))
	}
	return &core.GooglePurchase{
		AcknowledgementState: *p.AcknowledgementState,
		ConsumptionState:     p.ConsumptionState,
		DeveloperPayload:     p.DeveloperPayload,
		Kind:                 p.Kind,
		OrderID:              p.OrderID,
		PurchaseState:        *p.PurchaseState,
		PurchaseTimeMillis:   millis,
		PurchaseType:         p.PurchaseType,
		RegionCode:           p.RegionCode,
	}, nil
}

func malformedPurchase(err error) error {
	return &core.StoreError{Op: parsePurchaseOp, Err: fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)}
}

// Acknowledge confirms the purchase so Google does not refund it.
//
// See https://developers.google.com/android-publisher/api-ref/rest/v3/purchases.products/acknowledge
func (r *PurchaseRepository) Acknowledge(ctx context.Context, productID, purchaseToken string) error {
	if err := r.authorize(ctx); err != nil {
		return classify(err, "Failed to acknowledge product purchase at google endpoint", "")
	}
	err := r.svc.Purchases.Products.Acknowledge(r.packageName, productID, purchaseToken,
		&androidpublisher.ProductPurchasesAcknowledgeRequest{}).Context(ctx).Do()
	if err != nil {
		return classify(err, "Failed to acknowledge product purchase at google endpoint", "")
	}
	return nil
}

// authorize renews the credential under ctx. oauth2.Transport asks its
// TokenSource without a context, so renewing here is what lets the caller's
// deadline reach the token exchange; the transport then reads the cached token.
func (r *PurchaseRepository) authorize(ctx context.Context) error {
	_, err := r.creds.BearerToken(ctx)
	return err
}

// classify maps client errors onto StoreError without keeping upstream bodies.
func classify(err error, fetchOp, parseOp string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &core.StoreError{Op: fetchOp, Status: apiErr.Code}
	}
	// Token exchange failures surface through the oauth2 transport.
	var storeErr *core.StoreError
	if errors.As(err, &storeErr) {
		return storeErr
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || parseOp == "" {
		return &core.StoreError{Op: fetchOp, Err: err}
	}
	return &core.StoreError{Op: parseOp, Err: fmt.Errorf("%w: %v", core.ErrMalformedResponse, err)}
}

type tokenSource struct{ src credential.Source }

// TokenSource adapts a credential source to oauth2.TokenSource.
func TokenSource(src credential.Source) oauth2.TokenSource {
	if ts, ok := src.(oauth2.TokenSource); ok {
		return ts
	}
	return tokenSource{src: src}
}

func (t tokenSource) Token() (*oauth2.Token, error) {
	tok, err := t.src.BearerToken(context.Background())
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}
