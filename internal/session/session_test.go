package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

func newTestManager(t *testing.T, cfg Config, baseURL string) *Manager {
	t.Helper()
	m, err := NewManager(cfg, func() (*catalog.Client, error) {
		c := catalog.DefaultConfig()
		c.BaseURL = baseURL
		return catalog.New(nil, c)
	})
	require.NoError(t, err)
	return m
}

func testContext(t *testing.T) context.Context {
	return zctx.Base(context.Background(), zaptest.NewLogger(t))
}

func TestManager_Acquire(t *testing.T) {
	m := newTestManager(t, Config{IdleTTL: time.Minute}, "http://catalog.invalid")
	ctx := testContext(t)

	s, created, err := m.Acquire(ctx, "")
	require.NoError(t, err)
	assert.True(t, created)
	_, err = uuid.Parse(s.ID)
	require.NoError(t, err)

	again, created, err := m.Acquire(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s, again)

	other, created, err := m.Acquire(ctx, "forged-id")
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEqual(t, "forged-id", other.ID)
	assert.Equal(t, 2, m.Len())
}

func TestManager_SessionsAreIsolated(t *testing.T) {
	m := newTestManager(t, Config{IdleTTL: time.Minute}, "http://catalog.invalid")
	ctx := testContext(t)

	a, err := m.Create(ctx)
	require.NoError(t, err)
	b, err := m.Create(ctx)
	require.NoError(t, err)

	a.Cart.AddToCart(product.Product{ID: 1, Title: "Ring", Price: decimal.RequireFromString("9.99")})
	assert.Equal(t, 1, a.Cart.ItemsCount())
	assert.Zero(t, b.Cart.ItemsCount())
	assert.NotSame(t, a.Catalog, b.Catalog)
}

func TestManager_Sweep(t *testing.T) {
	m := newTestManager(t, Config{IdleTTL: time.Minute}, "http://catalog.invalid")
	ctx := testContext(t)

	s, err := m.Create(ctx)
	require.NoError(t, err)
	s.Cart.AddToCart(product.Product{ID: 1, Title: "Ring", Price: decimal.RequireFromString("9.99")})

	var last cart.Snapshot
	s.Cart.Subscribe(func(snap cart.Snapshot) { last = snap })

	assert.Zero(t, m.Sweep(ctx, time.Now()))
	assert.Equal(t, 1, m.Sweep(ctx, time.Now().Add(2*time.Minute)))
	assert.Zero(t, m.Len())
	assert.Zero(t, last.Count)

	_, ok := m.Get(s.ID)
	assert.False(t, ok)
}

func TestManager_SweepSkipsHeldSessions(t *testing.T) {
	m := newTestManager(t, Config{IdleTTL: time.Minute}, "http://catalog.invalid")
	ctx := testContext(t)

	s, _, err := m.Acquire(ctx, "")
	require.NoError(t, err)
	again, created, err := m.Acquire(ctx, s.ID)
	require.NoError(t, err)
	require.False(t, created)

	later := time.Now().Add(2 * time.Minute)
	assert.Zero(t, m.Sweep(ctx, later))

	m.Release(again)
	assert.Zero(t, m.Sweep(ctx, later))
	m.Release(s)
	assert.Zero(t, m.Sweep(ctx, time.Now()), "release restarts the idle clock")

	assert.Equal(t, 1, m.Sweep(ctx, time.Now().Add(2*time.Minute)))
	assert.Zero(t, m.Len())
}

func TestManager_Delete(t *testing.T) {
	m := newTestManager(t, Config{IdleTTL: time.Minute}, "http://catalog.invalid")
	ctx := testContext(t)

	s, err := m.Create(ctx)
	require.NoError(t, err)
	s.Cart.AddToCart(product.Product{ID: 3, Title: "Jacket", Price: decimal.NewFromInt(55)})

	m.Delete(ctx, s.ID)
	m.Delete(ctx, s.ID)
	assert.Zero(t, m.Len())
	assert.Zero(t, s.Cart.ItemsCount())
}

func TestManager_Prefetch(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/products/categories":
			_, _ = w.Write([]byte(`["jewelery"]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	}))
	t.Cleanup(srv.Close)

	m := newTestManager(t, Config{IdleTTL: time.Minute, Prefetch: true}, srv.URL)
	s, err := m.Create(testContext(t))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return s.Catalog.CacheLen() == 3 }, 2*time.Second, 5*time.Millisecond)
	assert.EqualValues(t, 3, hits.Load())
}

func TestManager_Run(t *testing.T) {
	m := newTestManager(t, Config{IdleTTL: 20 * time.Millisecond}, "http://catalog.invalid")
	ctx, cancel := context.WithCancel(testContext(t))

	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	_, err := m.Create(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return m.Len() == 0 }, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
