package main

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	log "github.com/sirupsen/logrus"

	authhttp "github.com/open-rails/storeauth/adapters/http"
	"github.com/open-rails/storeauth/core"
	"github.com/open-rails/storeauth/credential"
	"github.com/open-rails/storeauth/riverjobs"
	memorystore "github.com/open-rails/storeauth/storage/memory"
	pgstore "github.com/open-rails/storeauth/storage/postgres"
	redisstore "github.com/open-rails/storeauth/storage/redis"
	"github.com/open-rails/storeauth/stores/apple"
	"github.com/open-rails/storeauth/stores/google"
)

type config struct {
	ListenAddr     string        `validate:"required"`
	Issuer         string        `validate:"required,url"`
	Audiences      []string      `validate:"required,min=1,dive,required"`
	KeyID          string        `validate:"required"`
	SigningKeyFile string        `validate:"omitempty,file"`
	AccessTokenTTL time.Duration `validate:"gt=0"`
	DefaultScope   string

	DBURL          string
	RedisURL       string
	MigrateOnStart bool
	RefreshCron    string

	// Seeded into the catalog on start: client ids and scope=sku pairs.
	Clients  []string
	Products map[string]string

	AppleKeyID     string   `validate:"required_with=AppleKeyFile"`
	AppleIssuer    string   `validate:"required_with=AppleKeyFile"`
	AppleBundleID  string   `validate:"required_with=AppleKeyFile"`
	AppleKeyFile   string   `validate:"omitempty,file"`
	AppleRootCerts []string `validate:"required_with=AppleKeyFile,dive,file"`
	AppleSandbox   bool

	GoogleServiceAccountFile string `validate:"omitempty,file"`
	GooglePackageName        string `validate:"required_with=GoogleServiceAccountFile"`
}

// catalog is what the grants need from client/scope storage.
type catalog interface {
	core.ClientLookup
	core.ScopeLookup
	core.ProductRepository
}

func main() {
	if envBool("STOREAUTH_LOG_JSON", false) {
		log.SetFormatter(&log.JSONFormatter{})
	}
	cfg, err := loadConfig()
	if err != nil {
		fatal(err)
	}

	cmd := "serve"
	if len(os.Args) > 1 && strings.TrimSpace(os.Args[1]) != "" {
		cmd = strings.TrimSpace(os.Args[1])
	}

	switch cmd {
	case "serve":
		if err := runServe(cfg); err != nil {
			fatal(err)
		}
	case "migrate":
		if err := runMigrate(cfg); err != nil {
			fatal(err)
		}
	default:
		fatal(fmt.Errorf("unknown command %q (supported: serve, migrate)", cmd))
	}
}

func loadConfig() (*config, error) {
	ttl, err := time.ParseDuration(envOr("STOREAUTH_ACCESS_TOKEN_TTL", "1h"))
	if err != nil {
		return nil, fmt.Errorf("STOREAUTH_ACCESS_TOKEN_TTL: %w", err)
	}
	products, err := parseProducts(os.Getenv("STOREAUTH_PRODUCTS"))
	if err != nil {
		return nil, err
	}
	c := &config{
		ListenAddr:     envOr("STOREAUTH_LISTEN_ADDR", ":8080"),
		Issuer:         strings.TrimRight(strings.TrimSpace(os.Getenv("STOREAUTH_ISSUER")), "/"),
		Audiences:      parseCSVEnv("STOREAUTH_AUDIENCES", []string{"storeauth"}),
		KeyID:          envOr("STOREAUTH_KEY_ID", "storeauth-1"),
		SigningKeyFile: strings.TrimSpace(os.Getenv("STOREAUTH_SIGNING_KEY_FILE")),
		AccessTokenTTL: ttl,
		DefaultScope:   strings.TrimSpace(os.Getenv("STOREAUTH_DEFAULT_SCOPE")),

		DBURL:          firstEnv("DB_URL", "DATABASE_URL"),
		RedisURL:       firstEnv("REDIS_URL"),
		MigrateOnStart: envBool("STOREAUTH_MIGRATE_ON_START", true),
		RefreshCron:    envOr("STOREAUTH_REFRESH_CRON", "*/5 * * * *"),

		Clients:  parseCSVEnv("STOREAUTH_CLIENTS", nil),
		Products: products,

		AppleKeyID:     strings.TrimSpace(os.Getenv("APPLE_KEY_ID")),
		AppleIssuer:    strings.TrimSpace(os.Getenv("APPLE_ISSUER_ID")),
		AppleBundleID:  strings.TrimSpace(os.Getenv("APPLE_BUNDLE_ID")),
		AppleKeyFile:   strings.TrimSpace(os.Getenv("APPLE_PRIVATE_KEY_FILE")),
		AppleRootCerts: parseCSVEnv("APPLE_ROOT_CERTS", nil),
		AppleSandbox:   envBool("APPLE_SANDBOX", false),

		GoogleServiceAccountFile: firstEnv("GOOGLE_SERVICE_ACCOUNT_FILE", "GOOGLE_APPLICATION_CREDENTIALS"),
		GooglePackageName:        strings.TrimSpace(os.Getenv("GOOGLE_PACKAGE_NAME")),
	}
	if err := validator.New().Struct(c); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if c.AppleKeyFile == "" && c.GoogleServiceAccountFile == "" {
		return nil, fmt.Errorf("APPLE_PRIVATE_KEY_FILE or GOOGLE_SERVICE_ACCOUNT_FILE is required")
	}
	return c, nil
}

func runServe(cfg *config) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		cat    catalog
		events core.EventSink = core.LogEventSink{}
		pg     *pgxpool.Pool
		shared core.EphemeralStore
		rd     redis.UniversalClient
		err    error
	)
	if cfg.DBURL != "" {
		if cfg.MigrateOnStart {
			if err := runMigrate(cfg); err != nil {
				return err
			}
		}
		pg, err = pgxpool.New(ctx, cfg.DBURL)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pg.Close()
		pc := pgstore.NewCatalog(pg)
		if err := seedPostgres(ctx, pc, cfg); err != nil {
			return err
		}
		cat = pc
		events = core.MultiEventSink{core.LogEventSink{}, pgstore.NewEventLog(pg)}
	} else {
		mc := memorystore.NewCatalog()
		for _, id := range cfg.Clients {
			mc.AddClient(core.Client{ID: id})
		}
		for scope, sku := range cfg.Products {
			mc.AddProduct(scope, sku)
		}
		cat = mc
	}
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("parse REDIS_URL: %w", err)
		}
		client := redis.NewClient(opt)
		defer client.Close()
		rd = client
		shared = redisstore.NewKV(client)
	}

	signingKey, err := loadSigningKey(cfg.SigningKeyFile)
	if err != nil {
		return err
	}
	issuer, err := core.NewTokenIssuer(core.IssuerConfig{
		Issuer:     cfg.Issuer,
		Audiences:  cfg.Audiences,
		KeyID:      cfg.KeyID,
		SigningKey: signingKey,
		DefaultTTL: cfg.AccessTokenTTL,
	})
	if err != nil {
		return err
	}
	deps := core.GrantDeps{
		Clients:      cat,
		Scopes:       cat,
		Products:     cat,
		Issuer:       issuer,
		Events:       events,
		DefaultScope: cfg.DefaultScope,
	}

	srv := core.NewServer(cfg.AccessTokenTTL)
	warm := map[string]riverjobs.Renewable{}
	if cfg.AppleKeyFile != "" {
		acct, repo, err := newAppleStore(cfg, shared)
		if err != nil {
			return err
		}
		srv.EnableGrant(core.NewAppleNonConsumableGrant(deps, core.StaticAppleTransactions(repo)))
		warm["apple"] = acct
	}
	if cfg.GoogleServiceAccountFile != "" {
		acct, repo, err := newGoogleStore(ctx, cfg, shared)
		if err != nil {
			return err
		}
		srv.EnableGrant(core.NewGoogleNonConsumableGrant(deps, core.StaticGooglePurchases(repo)))
		warm["google"] = acct
	}

	if pg != nil && cfg.RefreshCron != "" {
		client, err := newRiverClient(pg, cfg.RefreshCron, warm)
		if err != nil {
			return err
		}
		if err := client.Start(ctx); err != nil {
			return fmt.Errorf("start river: %w", err)
		}
		defer func() { _ = client.Stop(context.Background()) }()
	}

	svc := authhttp.NewService(srv).WithJWKS(issuer)
	if rd != nil {
		svc.WithRedis(rd)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	mux.Handle("/", svc.APIHandler())

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	log.WithField("addr", cfg.ListenAddr).Info("storeauth: listening")
	return server.ListenAndServe()
}

func credentialOptions(shared core.EphemeralStore, name string) []credential.Option {
	opts := []credential.Option{credential.WithSingleFlight()}
	if shared != nil {
		opts = append(opts, credential.WithSharedStore(shared, "cred:"+name))
	}
	return opts
}

func newAppleStore(cfg *config, shared core.EphemeralStore) (*apple.Account, *apple.TransactionRepository, error) {
	keyPEM, err := os.ReadFile(cfg.AppleKeyFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read apple key: %w", err)
	}
	acct, err := apple.NewAccount(apple.Identity{
		KeyID:         cfg.AppleKeyID,
		Issuer:        cfg.AppleIssuer,
		BundleID:      cfg.AppleBundleID,
		PrivateKeyPEM: keyPEM,
	}, credentialOptions(shared, "apple:"+cfg.AppleKeyID)...)
	if err != nil {
		return nil, nil, err
	}
	verifier, err := apple.NewTransactionVerifier(cfg.AppleRootCerts)
	if err != nil {
		return nil, nil, fmt.Errorf("load apple root certificates: %w", err)
	}
	base := apple.ProductionURL
	if cfg.AppleSandbox {
		base = apple.SandboxURL
	}
	repo := apple.NewTransactionRepository(acct, verifier,
		apple.WithBaseURL(base),
		apple.WithHTTPClient(&http.Client{Timeout: 15 * time.Second}))
	return acct, repo, nil
}

func newGoogleStore(ctx context.Context, cfg *config, shared core.EphemeralStore) (*google.Account, *google.PurchaseRepository, error) {
	raw, err := os.ReadFile(cfg.GoogleServiceAccountFile)
	if err != nil {
		return nil, nil, fmt.Errorf("read google service account: %w", err)
	}
	client := &http.Client{Timeout: 15 * time.Second}
	acct, err := google.AccountFromJSON(raw, client, credentialOptions(shared, "google:"+cfg.GooglePackageName)...)
	if err != nil {
		return nil, nil, err
	}
	repo, err := google.NewPurchaseRepository(ctx, cfg.GooglePackageName, acct)
	if err != nil {
		return nil, nil, err
	}
	return acct, repo, nil
}

func newRiverClient(pg *pgxpool.Pool, cronSpec string, creds map[string]riverjobs.Renewable) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	riverjobs.RegisterRefreshCredentialsWorker(workers, creds)
	client, err := river.NewClient(riverpgxv5.New(pg), &river.Config{
		Queues:  map[string]river.QueueConfig{river.QueueDefault: {MaxWorkers: 1}},
		Workers: workers,
	})
	if err != nil {
		return nil, fmt.Errorf("river client: %w", err)
	}
	if err := riverjobs.AddRefreshCredentialsPeriodicJob(client, cronSpec, riverjobs.RefreshCredentialsArgs{}, true); err != nil {
		return nil, err
	}
	return client, nil
}

func runMigrate(cfg *config) error {
	if cfg.DBURL == "" {
		return fmt.Errorf("DB_URL (or DATABASE_URL) is required to migrate")
	}
	ctx := context.Background()
	pg, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if err := pgstore.NewCatalog(pg).Migrate(ctx); err != nil {
		return err
	}
	migrator, err := rivermigrate.New(riverpgxv5.New(pg), nil)
	if err != nil {
		return fmt.Errorf("river migrator: %w", err)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		return fmt.Errorf("apply river migrations: %w", err)
	}
	return nil
}

func seedPostgres(ctx context.Context, c *pgstore.Catalog, cfg *config) error {
	for _, id := range cfg.Clients {
		if err := c.UpsertClient(ctx, core.Client{ID: id}); err != nil {
			return err
		}
	}
	for scope, sku := range cfg.Products {
		if err := c.UpsertScope(ctx, scope, sku); err != nil {
			return err
		}
	}
	return nil
}

// loadSigningKey reads a PEM RSA key, or generates a throwaway one when path is empty.
func loadSigningKey(path string) (*rsa.PrivateKey, error) {
	if path == "" {
		log.Warn("storeauth: STOREAUTH_SIGNING_KEY_FILE not set; generating an ephemeral signing key")
		return rsa.GenerateKey(rand.Reader, 2048)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	key, err := jwt.ParseRSAPrivateKeyFromPEM(raw)
	if err != nil {
		return nil, fmt.Errorf("parse signing key: %w", err)
	}
	return key, nil
}

// parseProducts reads "scope=sku" pairs separated by commas.
func parseProducts(raw string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		scope, sku, ok := strings.Cut(pair, "=")
		scope, sku = strings.TrimSpace(scope), strings.TrimSpace(sku)
		if !ok || scope == "" || sku == "" {
			return nil, fmt.Errorf("STOREAUTH_PRODUCTS: malformed pair %q (want scope=sku)", pair)
		}
		out[scope] = sku
	}
	return out, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseCSVEnv(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := strings.TrimSpace(os.Getenv(k)); v != "" {
			return v
		}
	}
	return ""
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func fatal(err error) {
	if err == nil {
		os.Exit(0)
	}
	if errors.Is(err, http.ErrServerClosed) {
		os.Exit(0)
	}
	log.WithError(err).Error("storeauth: exiting")
	os.Exit(1)
}
