package memorystore

import (
	"context"
	"sync"

	"github.com/open-rails/storeauth/core"
)

// Catalog is an in-memory client, scope and product registry. It suits tests
// and single-app deployments configured from the environment.
type Catalog struct {
	mu       sync.RWMutex
	clients  map[string]core.Client
	scopes   map[string]struct{}
	products map[string]string
}

func NewCatalog() *Catalog {
	return &Catalog{
		clients:  map[string]core.Client{},
		scopes:   map[string]struct{}{},
		products: map[string]string{},
	}
}

// AddClient registers a client. Grants restricts the grant types it may use.
func (c *Catalog) AddClient(client core.Client) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clients[client.ID] = client
	return c
}

// AddScope registers a scope that carries no product.
func (c *Catalog) AddScope(id string) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes[id] = struct{}{}
	return c
}

// AddProduct registers a scope that unlocks the non-consumable sku.
func (c *Catalog) AddProduct(scope, sku string) *Catalog {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scopes[scope] = struct{}{}
	c.products[scope] = sku
	return c
}

func (c *Catalog) GetClient(_ context.Context, clientID string) (*core.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cl, ok := c.clients[clientID]
	if !ok {
		return nil, nil
	}
	return &cl, nil
}

func (c *Catalog) GetScope(_ context.Context, id string) (*core.Scope, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if _, ok := c.scopes[id]; !ok {
		return nil, nil
	}
	return &core.Scope{ID: id}, nil
}

// FinalizeScopes drops duplicates and keeps request order.
func (c *Catalog) FinalizeScopes(_ context.Context, scopes []core.Scope, _ string, _ *core.Client) ([]core.Scope, error) {
	seen := make(map[string]bool, len(scopes))
	out := make([]core.Scope, 0, len(scopes))
	for _, s := range scopes {
		if seen[s.ID] {
			continue
		}
		seen[s.ID] = true
		out = append(out, s)
	}
	return out, nil
}

// NonConsumableFromScopes resolves a product only when exactly one scope was
// requested and it maps to a sku.
func (c *Catalog) NonConsumableFromScopes(_ context.Context, scopes []core.Scope) (*core.Product, error) {
	if len(scopes) != 1 {
		return nil, nil
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	sku, ok := c.products[scopes[0].ID]
	if !ok {
		return nil, nil
	}
	return &core.Product{SKU: sku}, nil
}
