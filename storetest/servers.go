package storetest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// Request is what a fake server saw.
type Request struct {
	Method        string
	Path          string
	Query         string
	Authorization string
	ContentType   string
	Body          string
}

type recorder struct {
	mu       sync.Mutex
	requests []Request
}

func (r *recorder) record(req *http.Request) Request {
	body, _ := io.ReadAll(req.Body)
	rec := Request{
		Method:        req.Method,
		Path:          req.URL.Path,
		Query:         req.URL.RawQuery,
		Authorization: req.Header.Get("Authorization"),
		ContentType:   req.Header.Get("Content-Type"),
		Body:          string(body),
	}
	r.mu.Lock()
	r.requests = append(r.requests, rec)
	r.mu.Unlock()
	return rec
}

// Requests returns a copy of every request seen so far.
func (r *recorder) Requests() []Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Request(nil), r.requests...)
}

// AppleServer fakes the App Store Server API transaction history endpoint.
type AppleServer struct {
	*httptest.Server
	recorder

	mu      sync.Mutex
	history map[string][]string
	status  int
	rawBody string
}

func NewAppleServer(t testing.TB) *AppleServer {
	t.Helper()
	s := &AppleServer{history: map[string][]string{}}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// SetHistory sets the signed transactions returned for transactionID.
func (s *AppleServer) SetHistory(transactionID string, signed ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[transactionID] = signed
}

// FailWith makes every request answer with status.
func (s *AppleServer) FailWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = status
}

// RespondRaw makes every request answer 200 with body.
func (s *AppleServer) RespondRaw(body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawBody = body
}

func (s *AppleServer) serve(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	s.mu.Lock()
	status, raw := s.status, s.rawBody
	txid := strings.TrimPrefix(r.URL.Path, "/inApps/v2/history/")
	signed := s.history[txid]
	s.mu.Unlock()

	if status != 0 {
		http.Error(w, `{"errorCode":4040010,"errorMessage":"Transaction id not found."}`, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if raw != "" {
		_, _ = io.WriteString(w, raw)
		return
	}
	if signed == nil {
		signed = []string{}
	}
	_ = json.NewEncoder(w).Encode(map[string]any{
		"revision":           "rev-1",
		"bundleId":           "com.example",
		"environment":        "Production",
		"hasMore":            false,
		"signedTransactions": signed,
	})
}

// GoogleServer fakes Google's OAuth token endpoint and the Play Developer API
// product purchase resource.
type GoogleServer struct {
	*httptest.Server
	recorder

	exchanges atomic.Int64

	mu          sync.Mutex
	purchases   map[string]map[string]any
	expiresIn   int
	tokenStatus int
	tokenBody   string
	apiStatus   int
	ackStatus   int
}

const purchasesPrefix = "/androidpublisher/v3/applications/"

func NewGoogleServer(t testing.TB) *GoogleServer {
	t.Helper()
	s := &GoogleServer{purchases: map[string]map[string]any{}, expiresIn: 3599}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	t.Cleanup(s.Close)
	return s
}

// TokenURL is the fake OAuth token endpoint.
func (s *GoogleServer) TokenURL() string { return s.URL + "/token" }

// Exchanges counts successful token exchanges.
func (s *GoogleServer) Exchanges() int { return int(s.exchanges.Load()) }

// AccessToken returns the access token handed out by the n-th exchange (1-based).
func AccessToken(n int) string { return fmt.Sprintf("ya29.test-%d", n) }

// SetPurchase registers a ProductPurchase body for (sku, token).
func (s *GoogleServer) SetPurchase(sku, token string, body map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.purchases[sku+"/tokens/"+token] = body
}

// SetExpiresIn sets expires_in for future exchanges.
func (s *GoogleServer) SetExpiresIn(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiresIn = seconds
}

// FailTokenWith makes the token endpoint answer status, or 200 with body when
// status is 200.
func (s *GoogleServer) FailTokenWith(status int, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenStatus, s.tokenBody = status, body
}

// FailAPIWith makes purchase lookups answer status.
func (s *GoogleServer) FailAPIWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiStatus = status
}

// FailAcknowledgeWith makes acknowledge calls answer status.
func (s *GoogleServer) FailAcknowledgeWith(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ackStatus = status
}

// Acknowledged returns the "sku/tokens/token" keys acknowledged so far.
func (s *GoogleServer) Acknowledged() []string {
	var out []string
	for _, r := range s.Requests() {
		if r.Method == http.MethodPost && strings.HasSuffix(r.Path, ":acknowledge") {
			out = append(out, purchaseKey(strings.TrimSuffix(r.Path, ":acknowledge")))
		}
	}
	return out
}

func purchaseKey(path string) string {
	rest := strings.TrimPrefix(path, purchasesPrefix)
	if i := strings.Index(rest, "/purchases/products/"); i >= 0 {
		return rest[i+len("/purchases/products/"):]
	}
	return rest
}

func (s *GoogleServer) serve(w http.ResponseWriter, r *http.Request) {
	s.record(r)
	switch {
	case r.URL.Path == "/token":
		s.serveToken(w)
	case strings.HasPrefix(r.URL.Path, purchasesPrefix):
		s.servePurchase(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *GoogleServer) serveToken(w http.ResponseWriter) {
	s.mu.Lock()
	status, body, expiresIn := s.tokenStatus, s.tokenBody, s.expiresIn
	s.mu.Unlock()

	if status != 0 && status != http.StatusOK {
		http.Error(w, `{"error":"invalid_grant","error_description":"Invalid JWT Signature."}`, status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if body != "" {
		_, _ = io.WriteString(w, body)
		return
	}
	n := s.exchanges.Add(1)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"access_token": AccessToken(int(n)),
		"expires_in":   expiresIn,
		"token_type":   "Bearer",
	})
}

func (s *GoogleServer) servePurchase(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	apiStatus, ackStatus := s.apiStatus, s.ackStatus
	s.mu.Unlock()

	if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, ":acknowledge") {
		if ackStatus != 0 {
			writeGoogleError(w, ackStatus)
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if apiStatus != 0 {
		writeGoogleError(w, apiStatus)
		return
	}
	s.mu.Lock()
	body, ok := s.purchases[purchaseKey(r.URL.Path)]
	s.mu.Unlock()
	if !ok {
		writeGoogleError(w, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(body)
}

func writeGoogleError(w http.ResponseWriter, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{"code": status, "message": http.StatusText(status)},
	})
}
