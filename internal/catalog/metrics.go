package catalog

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/xenking/storefront/internal/catalog"

type metrics struct {
	hits     metric.Int64Counter
	misses   metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

func newMetrics(meter metric.Meter) (*metrics, error) {
	var (
		m   metrics
		err error
	)
	if m.hits, err = meter.Int64Counter("catalog.cache.hits",
		metric.WithDescription("Catalog queries answered from the session cache"),
	); err != nil {
		return nil, errors.Wrap(err, "hits counter")
	}
	if m.misses, err = meter.Int64Counter("catalog.cache.misses",
		metric.WithDescription("Catalog queries that required a network round trip"),
	); err != nil {
		return nil, errors.Wrap(err, "misses counter")
	}
	if m.failures, err = meter.Int64Counter("catalog.fetch.failures",
		metric.WithDescription("Failed catalog round trips by error kind"),
	); err != nil {
		return nil, errors.Wrap(err, "failures counter")
	}
	if m.duration, err = meter.Float64Histogram("catalog.fetch.duration",
		metric.WithDescription("Catalog round trip duration"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, errors.Wrap(err, "duration histogram")
	}
	return &m, nil
}

func (m *metrics) hit(ctx context.Context, query string) {
	m.hits.Add(ctx, 1, metric.WithAttributes(attribute.String("catalog.query", query)))
}

func (m *metrics) miss(ctx context.Context, query string) {
	m.misses.Add(ctx, 1, metric.WithAttributes(attribute.String("catalog.query", query)))
}

func (m *metrics) fetched(ctx context.Context, query string, took time.Duration, err error) {
	attrs := []attribute.KeyValue{attribute.String("catalog.query", query)}
	if kind, ok := KindOf(err); ok {
		attrs = append(attrs, attribute.String("catalog.error", kind.String()))
		m.failures.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	m.duration.Record(ctx, took.Seconds(), metric.WithAttributes(attrs...))
}
