// Package pgstore keeps the client, scope and product catalog in Postgres.
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/open-rails/storeauth/core"
)

// Schema creates the catalog tables. It is idempotent.
const Schema = `
CREATE SCHEMA IF NOT EXISTS storeauth;

CREATE TABLE IF NOT EXISTS storeauth.clients (
	id         text PRIMARY KEY,
	name       text NOT NULL DEFAULT '',
	grants     text[] NOT NULL DEFAULT '{}',
	created_at timestamptz NOT NULL DEFAULT now(),
	deleted_at timestamptz
);

CREATE TABLE IF NOT EXISTS storeauth.scopes (
	id          text PRIMARY KEY,
	product_sku text,
	created_at  timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS storeauth.grant_events (
	id              bigserial PRIMARY KEY,
	occurred_at     timestamptz NOT NULL,
	event           text NOT NULL,
	grant_type      text NOT NULL,
	client_id       text NOT NULL,
	access_token_id text,
	ip_addr         text,
	user_agent      text
);

CREATE INDEX IF NOT EXISTS grant_events_client_idx ON storeauth.grant_events (client_id, occurred_at DESC);
`

// DB is the subset of *pgxpool.Pool the catalog and event log need.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Catalog implements core.ClientLookup, core.ScopeLookup and core.ProductRepository.
type Catalog struct {
	db DB
}

func NewCatalog(db DB) *Catalog { return &Catalog{db: db} }

// Migrate applies Schema, including the event log table.
func (c *Catalog) Migrate(ctx context.Context) error {
	if _, err := c.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("storeauth: migrate catalog: %w", err)
	}
	return nil
}

// UpsertClient creates or replaces a client.
func (c *Catalog) UpsertClient(ctx context.Context, client core.Client) error {
	grants := client.Grants
	if grants == nil {
		grants = []string{}
	}
	_, err := c.db.Exec(ctx, `
		INSERT INTO storeauth.clients (id, name, grants) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, grants=EXCLUDED.grants, deleted_at=NULL
	`, client.ID, client.Name, grants)
	return err
}

// UpsertScope creates or replaces a scope; an empty sku means the scope
// unlocks no product.
func (c *Catalog) UpsertScope(ctx context.Context, id, sku string) error {
	var product *string
	if sku != "" {
		product = &sku
	}
	_, err := c.db.Exec(ctx, `
		INSERT INTO storeauth.scopes (id, product_sku) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET product_sku=EXCLUDED.product_sku
	`, id, product)
	return err
}

func (c *Catalog) GetClient(ctx context.Context, clientID string) (*core.Client, error) {
	var out core.Client
	err := c.db.QueryRow(ctx, `
		SELECT id, name, grants FROM storeauth.clients WHERE id=$1 AND deleted_at IS NULL
	`, clientID).Scan(&out.ID, &out.Name, &out.Grants)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Catalog) GetScope(ctx context.Context, id string) (*core.Scope, error) {
	var out core.Scope
	err := c.db.QueryRow(ctx, `SELECT id FROM storeauth.scopes WHERE id=$1`, id).Scan(&out.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FinalizeScopes drops duplicates and keeps request order.
func (c *Catalog) FinalizeScopes(_ context.Context, scopes []core.Scope, _ string, _ *core.Client) ([]core.Scope, error) {
	seen := make(map[string]bool, len(scopes))
	out := make([]core.Scope, 0, len(scopes))
	for _, s := range scopes {
		if !seen[s.ID] {
			seen[s.ID] = true
			out = append(out, s)
		}
	}
	return out, nil
}

// NonConsumableFromScopes maps a single scope to its product sku.
func (c *Catalog) NonConsumableFromScopes(ctx context.Context, scopes []core.Scope) (*core.Product, error) {
	if len(scopes) != 1 {
		return nil, nil
	}
	var sku *string
	err := c.db.QueryRow(ctx, `SELECT product_sku FROM storeauth.scopes WHERE id=$1`, scopes[0].ID).Scan(&sku)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if sku == nil || *sku == "" {
		return nil, nil
	}
	return &core.Product{SKU: *sku}, nil
}
