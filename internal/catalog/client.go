// Package catalog is the read-only client of the remote product catalog.
//
// Every query is memoized by key for the lifetime of the Client: the first
// successful response is served to all later callers and failures are never
// cached, so the next call retries.
package catalog

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/klauspost/pgzip"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/storefront/internal/domain/product"
)

const maxBodySize = 8 << 20

// Config configures a Client.
type Config struct {
	BaseURL string
	// Timeout bounds each round trip, independently of the caller's context.
	Timeout time.Duration
	// Dedup collapses concurrent misses of the same key into one request.
	Dedup bool
}

// DefaultConfig targets the public fake store API.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://fakestoreapi.com",
		Timeout: 10 * time.Second,
		Dedup:   true,
	}
}

// Option configures optional Client dependencies.
type Option func(*Client)

// WithCache replaces the default in-memory cache.
func WithCache(c Cache) Option {
	return func(cl *Client) { cl.cache = c }
}

// WithLogger sets the logger used for failed fetches.
func WithLogger(lg *zap.Logger) Option {
	return func(cl *Client) { cl.lg = lg }
}

// WithMeterProvider sets the provider for cache and fetch metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(cl *Client) { cl.meterProvider = mp }
}

// WithTracerProvider sets the provider for fetch spans.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(cl *Client) { cl.tracerProvider = tp }
}

// Client fetches products and categories and memoizes every response.
// Cached slices are shared between callers and must not be modified.
type Client struct {
	http    *http.Client
	baseURL string
	timeout time.Duration
	dedup   bool

	cache Cache
	group singleflight.Group

	lg             *zap.Logger
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	tracer         trace.Tracer
	metrics        *metrics
}

// New creates a Client. A nil httpClient uses http.DefaultClient.
func New(httpClient *http.Client, cfg Config, opts ...Option) (*Client, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.Errorf("base url %q: unsupported scheme", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	c := &Client{
		http:           httpClient,
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		timeout:        cfg.Timeout,
		dedup:          cfg.Dedup,
		lg:             zap.NewNop(),
		meterProvider:  metricnoop.NewMeterProvider(),
		tracerProvider: tracenoop.NewTracerProvider(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.cache == nil {
		c.cache = NewMemoryCache()
	}

	c.tracer = c.tracerProvider.Tracer(instrumentationName)
	c.metrics, err = newMetrics(c.meterProvider.Meter(instrumentationName))
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	return c, nil
}

// CacheLen returns the number of memoized queries.
func (c *Client) CacheLen() int {
	return c.cache.Len()
}

// FetchProducts returns the full product listing.
func (c *Client) FetchProducts(ctx context.Context) ([]product.Product, error) {
	return load(ctx, c, query[[]product.Product]{
		name:     "products",
		key:      KeyAllProducts,
		endpoint: "/products",
		decode:   product.DecodeList,
	})
}

// FetchProduct returns a single product. A product the catalog does not know
// yields an error matching product.ErrNotFound.
func (c *Client) FetchProduct(ctx context.Context, id int) (product.Product, error) {
	return load(ctx, c, query[product.Product]{
		name:            "product",
		key:             ProductKey(id),
		endpoint:        "/products/" + strconv.Itoa(id),
		decode:          product.Decode,
		emptyIsNotFound: true,
	})
}

// FetchCategories returns the category tags in catalog order.
func (c *Client) FetchCategories(ctx context.Context) ([]string, error) {
	return load(ctx, c, query[[]string]{
		name:     "categories",
		key:      KeyCategories,
		endpoint: "/products/categories",
		decode:   decodeCategories,
	})
}

// FetchProductsByCategory returns the products tagged with category. An
// unknown category is an empty listing, not an error.
func (c *Client) FetchProductsByCategory(ctx context.Context, category string) ([]product.Product, error) {
	return load(ctx, c, query[[]product.Product]{
		name:     "category",
		key:      CategoryKey(category),
		endpoint: "/products/category/" + url.PathEscape(category),
		decode:   product.DecodeList,
	})
}

// Prefetch warms the cache with the product listing, the categories and
// every category listing. It returns the first failure.
func (c *Client) Prefetch(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := c.FetchProducts(ctx)
		return err
	})
	g.Go(func() error {
		categories, err := c.FetchCategories(ctx)
		if err != nil {
			return err
		}
		for _, category := range categories {
			g.Go(func() error {
				_, err := c.FetchProductsByCategory(ctx, category)
				return err
			})
		}
		return nil
	})
	return g.Wait()
}

type query[T any] struct {
	name            string
	key             string
	endpoint        string
	decode          func(d *jx.Decoder) (T, error)
	// emptyIsNotFound marks a single product lookup: a 404 or an empty body
	// means the product does not exist. Listings treat both as failures.
	emptyIsNotFound bool
}

func load[T any](ctx context.Context, c *Client, q query[T]) (T, error) {
	var zero T
	if v, ok := c.cache.Get(q.key); ok {
		c.metrics.hit(ctx, q.name)
		c.lg.Debug("Catalog cache hit", zap.String("key", q.key))
		return v.(T), nil
	}
	if err := ctx.Err(); err != nil {
		return zero, &FetchError{Endpoint: q.endpoint, Kind: KindCanceled, Err: err}
	}
	c.metrics.miss(ctx, q.name)

	// The round trip outlives an impatient caller so its result still lands
	// in the cache.
	detached := context.WithoutCancel(ctx)
	fetch := func() (any, error) {
		return fetchAndStore(detached, c, q)
	}

	var done <-chan singleflight.Result
	if c.dedup {
		done = c.group.DoChan(q.key, fetch)
	} else {
		ch := make(chan singleflight.Result, 1)
		go func() {
			v, err := fetch()
			ch <- singleflight.Result{Val: v, Err: err}
		}()
		done = ch
	}

	select {
	case r := <-done:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	case <-ctx.Done():
		return zero, &FetchError{Endpoint: q.endpoint, Kind: KindCanceled, Err: ctx.Err()}
	}
}

func fetchAndStore[T any](ctx context.Context, c *Client, q query[T]) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ctx, span := c.tracer.Start(ctx, "catalog.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("catalog.query", q.name),
			attribute.String("catalog.key", q.key),
		),
	)
	defer span.End()

	start := time.Now()
	v, err := c.roundTrip(ctx, q.endpoint, q.emptyIsNotFound, func(d *jx.Decoder) (any, error) {
		return q.decode(d)
	})
	c.metrics.fetched(ctx, q.name, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		c.lg.Warn("Catalog fetch failed",
			zap.String("key", q.key),
			zap.String("endpoint", q.endpoint),
			zap.Error(err),
		)
		return nil, err
	}

	c.cache.Set(q.key, v)
	return v, nil
}

func (c *Client) roundTrip(
	ctx context.Context,
	endpoint string,
	emptyIsNotFound bool,
	decode func(d *jx.Decoder) (any, error),
) (any, error) {
	fail := func(kind Kind, err error) error {
		return &FetchError{Endpoint: endpoint, Kind: kind, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+endpoint, http.NoBody)
	if err != nil {
		return nil, fail(KindTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fail(classify(err, KindTransport), err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusNotFound && emptyIsNotFound:
		return nil, &FetchError{
			Endpoint: endpoint,
			Kind:     KindNotFound,
			Status:   resp.StatusCode,
			Err:      product.ErrNotFound,
		}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &FetchError{
			Endpoint: endpoint,
			Kind:     KindStatus,
			Status:   resp.StatusCode,
			Err:      errors.Errorf("unexpected status %q", resp.Status),
		}
	}

	body, err := readBody(resp)
	if err != nil {
		return nil, fail(classify(err, KindTransport), err)
	}

	// The catalog answers unknown product ids with 200 and no payload.
	if trimmed := bytes.TrimSpace(body); len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		if emptyIsNotFound {
			return nil, fail(KindNotFound, product.ErrNotFound)
		}
		return nil, fail(KindDecode, errors.New("empty body"))
	}

	v, err := decode(jx.DecodeBytes(body))
	if err != nil {
		return nil, fail(KindDecode, err)
	}
	return v, nil
}

func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := pgzip.NewReader(resp.Body)
		if err != nil {
			return nil, errors.Wrap(err, "gzip")
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	body, err := io.ReadAll(io.LimitReader(r, maxBodySize))
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return body, nil
}

func classify(err error, fallback Kind) Kind {
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceled
	}
	return fallback
}

func decodeCategories(d *jx.Decoder) ([]string, error) {
	categories := make([]string, 0, 4)
	if err := d.Arr(func(d *jx.Decoder) error {
		s, err := d.Str()
		if err != nil {
			return errors.Wrapf(err, "element %d", len(categories))
		}
		categories = append(categories, s)
		return nil
	}); err != nil {
		return nil, err
	}
	return categories, nil
}
