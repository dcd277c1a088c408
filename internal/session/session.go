// Package session binds a visitor to their own cart and catalog cache.
//
// Nothing is shared between sessions: each one owns a cart.Store and a
// catalog.Client whose memoized responses live exactly as long as the session.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/domain/cart"
)

// Session is one visitor's state.
type Session struct {
	ID      string
	Cart    *cart.Store
	Catalog *catalog.Client

	lastSeen time.Time
	inflight int // requests holding the session; guarded by Manager.mu
}

// CatalogFactory builds the catalog client of a new session.
type CatalogFactory func() (*catalog.Client, error)

// Config configures a Manager.
type Config struct {
	// IdleTTL is how long a session survives without requests.
	IdleTTL time.Duration
	// Prefetch warms a new session's catalog cache in the background.
	Prefetch bool
}

// Option configures optional Manager dependencies.
type Option func(*Manager)

// WithMeterProvider sets the provider for the active sessions gauge.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(m *Manager) { m.meterProvider = mp }
}

// Manager tracks live sessions and evicts idle ones.
type Manager struct {
	cfg        Config
	newCatalog CatalogFactory

	mu       sync.Mutex
	sessions map[string]*Session

	meterProvider metric.MeterProvider
	active        metric.Int64UpDownCounter
}

// NewManager creates a Manager.
func NewManager(cfg Config, newCatalog CatalogFactory, opts ...Option) (*Manager, error) {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = 30 * time.Minute
	}
	m := &Manager{
		cfg:           cfg,
		newCatalog:    newCatalog,
		sessions:      make(map[string]*Session),
		meterProvider: metricnoop.NewMeterProvider(),
	}
	for _, opt := range opts {
		opt(m)
	}

	active, err := m.meterProvider.Meter("github.com/xenking/storefront/internal/session").
		Int64UpDownCounter("storefront.sessions.active",
			metric.WithDescription("Sessions currently held in memory"),
		)
	if err != nil {
		return nil, errors.Wrap(err, "sessions gauge")
	}
	m.active = active
	return m, nil
}

// Get returns the live session with id and marks it as used.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, false
	}
	s.lastSeen = time.Now()
	return s, true
}

// Acquire returns the session with id, or a fresh session when id is
// unknown or expired. The fresh session never reuses the requested id.
//
// The session is held until Release and is never swept while held.
func (m *Manager) Acquire(ctx context.Context, id string) (s *Session, created bool, err error) {
	if id != "" {
		m.mu.Lock()
		s, ok := m.sessions[id]
		if ok {
			s.lastSeen = time.Now()
			s.inflight++
		}
		m.mu.Unlock()
		if ok {
			return s, false, nil
		}
	}
	s, err = m.create(ctx, 1)
	if err != nil {
		return nil, false, err
	}
	return s, true, nil
}

// Release ends a hold taken by Acquire and restarts the idle clock.
func (m *Manager) Release(s *Session) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.inflight > 0 {
		s.inflight--
	}
	s.lastSeen = time.Now()
}

// Create starts a new session.
func (m *Manager) Create(ctx context.Context) (*Session, error) {
	return m.create(ctx, 0)
}

func (m *Manager) create(ctx context.Context, holds int) (*Session, error) {
	client, err := m.newCatalog()
	if err != nil {
		return nil, errors.Wrap(err, "catalog client")
	}
	s := &Session{
		ID:       uuid.NewString(),
		Cart:     cart.NewStore(),
		Catalog:  client,
		lastSeen: time.Now(),
		inflight: holds,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.active.Add(ctx, 1)

	lg := zctx.From(ctx).With(zap.String("session", s.ID))
	lg.Debug("Session created")

	if m.cfg.Prefetch {
		// Outlives the request that created the session.
		bg := context.WithoutCancel(ctx)
		go func() {
			if err := client.Prefetch(bg); err != nil {
				lg.Warn("Catalog prefetch failed", zap.Error(err))
			}
		}()
	}
	return s, nil
}

// Delete ends the session with id and empties its cart.
func (m *Manager) Delete(ctx context.Context, id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if ok {
		m.active.Add(ctx, -1)
		s.Cart.ClearCart()
	}
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Sweep evicts every session idle since before now-IdleTTL and returns how
// many were removed. Held sessions are skipped. Evicted carts are cleared so
// subscribers see them empty.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	var expired []*Session

	m.mu.Lock()
	for id, s := range m.sessions {
		if s.inflight == 0 && now.Sub(s.lastSeen) >= m.cfg.IdleTTL {
			expired = append(expired, s)
			delete(m.sessions, id)
		}
	}
	m.mu.Unlock()

	for _, s := range expired {
		s.Cart.ClearCart()
	}
	if n := len(expired); n > 0 {
		m.active.Add(ctx, int64(-n))
		zctx.From(ctx).Debug("Expired idle sessions", zap.Int("count", n))
	}
	return len(expired)
}

// Run sweeps idle sessions every half IdleTTL until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	ticker := time.NewTicker(m.cfg.IdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			m.Sweep(ctx, now)
		}
	}
}
