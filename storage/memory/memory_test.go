package memorystore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/open-rails/storeauth/core"
	"github.com/open-rails/storeauth/storetest"
)

func TestKV_TTL(t *testing.T) {
	clock := storetest.NewClock(time.Unix(1_700_000_000, 0))
	kv := NewKV().WithClock(clock)
	ctx := context.Background()

	require.NoError(t, kv.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, kv.Set(ctx, "b", []byte("2"), 0))

	v, ok, err := kv.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("1"), v)

	clock.Advance(time.Minute)
	_, ok, err = kv.Get(ctx, "a")
	require.NoError(t, err)
	require.False(t, ok)

	_, ok, _ = kv.Get(ctx, "b")
	require.True(t, ok)
	require.NoError(t, kv.Del(ctx, "b"))
	_, ok, _ = kv.Get(ctx, "b")
	require.False(t, ok)
}

func TestCatalog(t *testing.T) {
	ctx := context.Background()
	c := NewCatalog().
		AddClient(core.Client{ID: "ios", Grants: []string{core.GrantAppleNonConsumable}}).
		AddProduct("product-1", "com.example.product-1").
		AddScope("profile")

	cl, err := c.GetClient(ctx, "ios")
	require.NoError(t, err)
	require.True(t, cl.AllowsGrant(core.GrantAppleNonConsumable))
	require.False(t, cl.AllowsGrant(core.GrantGoogleNonConsumable))

	missing, err := c.GetClient(ctx, "android")
	require.NoError(t, err)
	require.Nil(t, missing)

	s, err := c.GetScope(ctx, "profile")
	require.NoError(t, err)
	require.Equal(t, "profile", s.ID)

	final, err := c.FinalizeScopes(ctx, []core.Scope{{ID: "product-1"}, {ID: "product-1"}}, core.GrantAppleNonConsumable, cl)
	require.NoError(t, err)
	require.Equal(t, []core.Scope{{ID: "product-1"}}, final)

	p, err := c.NonConsumableFromScopes(ctx, final)
	require.NoError(t, err)
	require.Equal(t, "com.example.product-1", p.SKU)

	p, err = c.NonConsumableFromScopes(ctx, []core.Scope{{ID: "profile"}})
	require.NoError(t, err)
	require.Nil(t, p)

	p, err = c.NonConsumableFromScopes(ctx, []core.Scope{{ID: "product-1"}, {ID: "profile"}})
	require.NoError(t, err)
	require.Nil(t, p)
}

func TestLimiter_FixedWindow(t *testing.T) {
	clock := storetest.NewClock(time.Unix(1_700_000_000, 0))
	l := newLimiter(map[string]Limit{"oauth_token": {Limit: 2, Window: time.Minute}}, clock.Now)

	for i := 0; i < 2; i++ {
		ok, err := l.AllowNamed("oauth_token", "ip:1")
		require.NoError(t, err)
		require.True(t, ok)
	}
	ok, _ := l.AllowNamed("oauth_token", "ip:1")
	require.False(t, ok)
	ok, _ = l.AllowNamed("oauth_token", "ip:2")
	require.True(t, ok)

	clock.Advance(time.Minute)
	ok, _ = l.AllowNamed("oauth_token", "ip:1")
	require.True(t, ok)

	ok, _ = l.AllowNamed("unlisted", "ip:1")
	require.True(t, ok)
}
