// Package handler is the JSON and server-sent events API the storefront UI
// talks to. Every request is bound to a session that owns its cart and its
// catalog cache.
package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/display"
	"github.com/xenking/storefront/internal/session"
)

// Sessions resolves the session of a request.
type Sessions interface {
	Acquire(ctx context.Context, id string) (s *session.Session, created bool, err error)
	Release(s *session.Session)
	Delete(ctx context.Context, id string)
}

// Config holds non-dependency configuration for the Handler.
type Config struct {
	CookieName string
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool
	Currency     display.Currency
	// KeepAlive is the comment interval on idle event streams.
	KeepAlive time.Duration
}

// Handler serves the storefront API.
type Handler struct {
	sessions Sessions
	cfg      Config

	done     chan struct{}
	shutdown sync.Once
}

// New constructs a Handler.
func New(cfg Config, sessions Sessions) *Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = "storefront_session"
	}
	if cfg.Currency.Rate.IsZero() {
		cfg.Currency = display.DefaultCurrency()
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 15 * time.Second
	}
	return &Handler{
		sessions: sessions,
		cfg:      cfg,
		done:     make(chan struct{}),
	}
}

// Shutdown ends open event streams so the server can drain.
func (h *Handler) Shutdown() {
	h.shutdown.Do(func() { close(h.done) })
}

// Mount registers the API routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Use(h.withSession)

	r.Get("/products", h.ListProducts)
	r.Get("/products/top", h.TopProducts)
	r.Get("/products/{id}", h.GetProduct)
	r.Get("/categories", h.ListCategories)
	r.Delete("/session", h.EndSession)

	r.Route("/cart", func(r chi.Router) {
		r.Get("/", h.GetCart)
		r.Delete("/", h.ClearCart)
		r.Get("/events", h.CartEvents)
		r.Post("/items", h.AddItem)
		r.Put("/items/{id}", h.UpdateItem)
		r.Delete("/items/{id}", h.RemoveItem)
	})
}

type sessionKey struct{}

func sessionFrom(ctx context.Context) *session.Session {
	return ctx.Value(sessionKey{}).(*session.Session)
}

// withSession binds the request to the session named by the cookie, starting
// a new one (and setting the cookie) when it is missing or expired. The
// cookie carries no Max-Age: idle expiry is decided by the session sweep.
func (h *Handler) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var id string
		if c, err := r.Cookie(h.cfg.CookieName); err == nil {
			id = c.Value
		}

		s, created, err := h.sessions.Acquire(r.Context(), id)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		defer h.sessions.Release(s)
		if created {
			http.SetCookie(w, h.cookie(s.ID, 0))
		}

		ctx := context.WithValue(r.Context(), sessionKey{}, s)
		ctx = zctx.With(ctx, zap.String("session", s.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// EndSession drops the session with its cart and expires the cookie.
func (h *Handler) EndSession(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	h.sessions.Delete(r.Context(), s.ID)
	zctx.From(r.Context()).Debug("Session ended")

	w.Header().Del("Set-Cookie")
	http.SetCookie(w, h.cookie("", -1))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) cookie(value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     h.cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.cfg.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
}
