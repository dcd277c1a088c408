package catalog

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xenking/storefront/internal/domain/product"
)

const (
	productsJSON = `[
		{"id":1,"title":"Backpack","price":109.95,"description":"Fits 15 inch laptops","category":"men's clothing","image":"https://img/1.jpg","rating":{"rate":3.9,"count":120}},
		{"id":2,"title":"Ring","price":9.99,"description":"Silver","category":"jewelery","image":"https://img/2.jpg","rating":{"rate":4.6,"count":400}}
	]`
	productJSON    = `{"id":1,"title":"Backpack","price":109.95,"description":"Fits 15 inch laptops","category":"men's clothing","image":"https://img/1.jpg","rating":{"rate":3.9,"count":120}}`
	categoriesJSON = `["jewelery","men's clothing"]`
)

type fakeCatalog struct {
	hits atomic.Int64
	mux  *http.ServeMux
	srv  *httptest.Server
}

func newFakeCatalog(t *testing.T) *fakeCatalog {
	t.Helper()
	f := &fakeCatalog{mux: http.NewServeMux()}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		f.mux.ServeHTTP(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCatalog) json(pattern, body string) {
	f.mux.HandleFunc(pattern, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	})
}

func newTestClient(t *testing.T, baseURL string, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.Timeout = 2 * time.Second
	for _, fn := range mutate {
		fn(&cfg)
	}
	c, err := New(nil, cfg, WithLogger(zaptest.NewLogger(t)))
	require.NoError(t, err)
	return c
}

func TestNew_InvalidBaseURL(t *testing.T) {
	_, err := New(nil, Config{BaseURL: "ftp://catalog"})
	require.Error(t, err)

	_, err = New(nil, Config{BaseURL: "://"})
	require.Error(t, err)
}

func TestClient_FetchProducts_Memoized(t *testing.T) {
	f := newFakeCatalog(t)
	f.json("GET /products", productsJSON)
	c := newTestClient(t, f.srv.URL)
	ctx := context.Background()

	first, err := c.FetchProducts(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, "Backpack", first[0].Title)
	assert.Equal(t, "109.95", first[0].Price.String())

	second, err := c.FetchProducts(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.EqualValues(t, 1, f.hits.Load())
	assert.Equal(t, 1, c.CacheLen())
}

func TestClient_FailureNotCached(t *testing.T) {
	f := newFakeCatalog(t)
	var fail atomic.Bool
	fail.Store(true)
	f.mux.HandleFunc("GET /products", func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(productsJSON))
	})
	c := newTestClient(t, f.srv.URL)
	ctx := context.Background()

	_, err := c.FetchProducts(ctx)
	require.Error(t, err)
	var fe *FetchError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, KindStatus, fe.Kind)
	assert.Equal(t, http.StatusInternalServerError, fe.Status)
	assert.Equal(t, "/products", fe.Endpoint)
	assert.Zero(t, c.CacheLen())

	fail.Store(false)
	products, err := c.FetchProducts(ctx)
	require.NoError(t, err)
	assert.Len(t, products, 2)
	assert.EqualValues(t, 2, f.hits.Load())
}

func TestClient_FetchProduct(t *testing.T) {
	f := newFakeCatalog(t)
	f.json("GET /products/1", productJSON)
	c := newTestClient(t, f.srv.URL)

	p, err := c.FetchProduct(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 1, p.ID)
	assert.Equal(t, "Fits 15 inch laptops", p.Description)
	assert.Equal(t, 120, p.Rating.Count)

	_, ok := c.cache.Get(ProductKey(1))
	assert.True(t, ok)
}

func TestClient_FetchProduct_NotFound(t *testing.T) {
	f := newFakeCatalog(t)
	f.mux.HandleFunc("GET /products/404", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	f.mux.HandleFunc("GET /products/999", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	f.json("GET /products/998", "null")
	c := newTestClient(t, f.srv.URL)
	ctx := context.Background()

	for _, id := range []int{404, 999, 998} {
		_, err := c.FetchProduct(ctx, id)
		require.Error(t, err)
		assert.True(t, errors.Is(err, product.ErrNotFound), "id %d: %v", id, err)
		kind, ok := KindOf(err)
		require.True(t, ok)
		assert.Equal(t, KindNotFound, kind)
	}
	assert.Zero(t, c.CacheLen())
}

func TestClient_EmptyListingIsDecodeError(t *testing.T) {
	f := newFakeCatalog(t)
	f.json("GET /products", "")
	c := newTestClient(t, f.srv.URL)

	_, err := c.FetchProducts(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, kind)
	assert.False(t, errors.Is(err, product.ErrNotFound))
}

func TestClient_DecodeError(t *testing.T) {
	f := newFakeCatalog(t)
	f.json("GET /products", `{"not":"a list"}`)
	c := newTestClient(t, f.srv.URL)

	_, err := c.FetchProducts(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindDecode, kind)
	assert.Zero(t, c.CacheLen())
}

func TestClient_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	_, err := c.FetchCategories(context.Background())
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindTransport, kind)
}

func TestClient_Timeout(t *testing.T) {
	f := newFakeCatalog(t)
	f.mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	})
	c := newTestClient(t, f.srv.URL, func(cfg *Config) { cfg.Timeout = 50 * time.Millisecond })

	_, err := c.FetchProducts(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTimeout), "%v", err)
	assert.Zero(t, c.CacheLen())
}

func TestClient_Gzip(t *testing.T) {
	f := newFakeCatalog(t)
	f.mux.HandleFunc("GET /products/categories", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "gzip", r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "gzip")
		gz := pgzip.NewWriter(w)
		_, _ = gz.Write([]byte(categoriesJSON))
		_ = gz.Close()
	})
	c := newTestClient(t, f.srv.URL)

	categories, err := c.FetchCategories(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"jewelery", "men's clothing"}, categories)
}

func TestClient_FetchProductsByCategory(t *testing.T) {
	f := newFakeCatalog(t)
	var gotPath atomic.Value
	f.mux.HandleFunc("GET /products/category/{name}", func(w http.ResponseWriter, r *http.Request) {
		gotPath.Store(r.PathValue("name"))
		if r.PathValue("name") == "garden" {
			_, _ = w.Write([]byte(`[]`))
			return
		}
		_, _ = w.Write([]byte(productsJSON))
	})
	cache := NewMemoryCache()
	cfg := DefaultConfig()
	cfg.BaseURL = f.srv.URL
	c, err := New(nil, cfg, WithCache(cache))
	require.NoError(t, err)
	ctx := context.Background()

	products, err := c.FetchProductsByCategory(ctx, "men's clothing")
	require.NoError(t, err)
	assert.Len(t, products, 2)
	assert.Equal(t, "men's clothing", gotPath.Load())

	_, ok := cache.Get(CategoryKey("men's clothing"))
	assert.True(t, ok)

	empty, err := c.FetchProductsByCategory(ctx, "garden")
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.Equal(t, 2, cache.Len())
}

func TestClient_ListingNotFoundIsStatusError(t *testing.T) {
	f := newFakeCatalog(t)
	f.mux.HandleFunc("GET /products/category/{name}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	c := newTestClient(t, f.srv.URL)

	_, err := c.FetchProductsByCategory(context.Background(), "garden")
	require.Error(t, err)
	assert.False(t, errors.Is(err, product.ErrNotFound))

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindStatus, fe.Kind)
	assert.Equal(t, http.StatusNotFound, fe.Status)
	assert.Zero(t, c.CacheLen())
}

func TestClient_NoDedup(t *testing.T) {
	f := newFakeCatalog(t)
	release := make(chan struct{})
	f.mux.HandleFunc("GET /products", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(productsJSON))
	})
	c := newTestClient(t, f.srv.URL, func(cfg *Config) { cfg.Dedup = false })

	const callers = 2
	errs := make(chan error, callers)
	for range callers {
		go func() {
			_, err := c.FetchProducts(context.Background())
			errs <- err
		}()
	}

	// Both misses reach the network.
	require.Eventually(t, func() bool { return f.hits.Load() == callers }, time.Second, time.Millisecond)
	close(release)
	for range callers {
		require.NoError(t, <-errs)
	}
	assert.EqualValues(t, callers, f.hits.Load())
	assert.Equal(t, 1, c.CacheLen())
}

func TestClient_NoDedup_AbandonedCallerStillPopulatesCache(t *testing.T) {
	f := newFakeCatalog(t)
	release := make(chan struct{})
	f.mux.HandleFunc("GET /products/categories", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(categoriesJSON))
	})
	c := newTestClient(t, f.srv.URL, func(cfg *Config) { cfg.Dedup = false })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.FetchCategories(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.hits.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	kind, ok := KindOf(<-done)
	require.True(t, ok)
	assert.Equal(t, KindCanceled, kind)

	close(release)
	require.Eventually(t, func() bool { return c.CacheLen() == 1 }, time.Second, time.Millisecond)
	assert.EqualValues(t, 1, f.hits.Load())
}

func TestClient_Dedup(t *testing.T) {
	f := newFakeCatalog(t)
	release := make(chan struct{})
	f.mux.HandleFunc("GET /products", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(productsJSON))
	})
	c := newTestClient(t, f.srv.URL)

	const callers = 8
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.FetchProducts(context.Background())
			errs <- err
		}()
	}

	require.Eventually(t, func() bool { return f.hits.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, f.hits.Load())
}

func TestClient_AbandonedCallerStillPopulatesCache(t *testing.T) {
	f := newFakeCatalog(t)
	release := make(chan struct{})
	f.mux.HandleFunc("GET /products/categories", func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte(categoriesJSON))
	})
	c := newTestClient(t, f.srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.FetchCategories(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.hits.Load() == 1 }, time.Second, time.Millisecond)
	cancel()

	err := <-done
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	kind, _ := KindOf(err)
	assert.Equal(t, KindCanceled, kind)

	close(release)
	require.Eventually(t, func() bool { return c.CacheLen() == 1 }, time.Second, time.Millisecond)

	categories, err := c.FetchCategories(context.Background())
	require.NoError(t, err)
	assert.Len(t, categories, 2)
	assert.EqualValues(t, 1, f.hits.Load())
}

func TestClient_CanceledBeforeFetch(t *testing.T) {
	f := newFakeCatalog(t)
	f.json("GET /products", productsJSON)
	c := newTestClient(t, f.srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.FetchProducts(ctx)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindCanceled, kind)
	assert.Zero(t, f.hits.Load())
}

func TestClient_Prefetch(t *testing.T) {
	f := newFakeCatalog(t)
	f.json("GET /products", productsJSON)
	f.json("GET /products/categories", categoriesJSON)
	f.json("GET /products/category/{name}", productsJSON)
	c := newTestClient(t, f.srv.URL)

	require.NoError(t, c.Prefetch(context.Background()))
	assert.Equal(t, 4, c.CacheLen())
	assert.EqualValues(t, 4, f.hits.Load())

	_, err := c.FetchProductsByCategory(context.Background(), "jewelery")
	require.NoError(t, err)
	assert.EqualValues(t, 4, f.hits.Load())
}

func TestClient_PrefetchFailure(t *testing.T) {
	f := newFakeCatalog(t)
	f.json("GET /products", productsJSON)
	f.mux.HandleFunc("GET /products/categories", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	c := newTestClient(t, f.srv.URL)

	err := c.Prefetch(context.Background())
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Contains(t, []Kind{KindStatus, KindCanceled}, kind)
}
