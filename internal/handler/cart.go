package handler

import (
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/domain/cart"
)

// GetCart returns the session cart.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	h.writeCart(w, sessionFrom(r.Context()).Cart.Snapshot())
}

// AddItem fetches {"productId":N} through the session catalog and adds one
// unit of it to the cart.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	id := 0
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "productId" {
			return d.Skip()
		}
		v, err := d.Int()
		if err != nil {
			return errors.Wrap(err, "productId")
		}
		id = v
		return nil
	}); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if id <= 0 {
		writeError(w, http.StatusUnprocessableEntity, "productId must be a positive integer")
		return
	}

	s := sessionFrom(r.Context())
	p, err := s.Catalog.FetchProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	s.Cart.AddToCart(p)
	h.logMutation(r, "Added to cart", id, s.Cart)

	h.writeCart(w, s.Cart.Snapshot())
}

// UpdateItem sets the quantity of a cart line from {"quantity":N}. A
// quantity below one removes the line.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var (
		quantity int
		set      bool
	)
	if err := decodeBody(r, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		v, err := d.Int()
		if err != nil {
			return errors.Wrap(err, "quantity")
		}
		quantity, set = v, true
		return nil
	}); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if !set {
		writeError(w, http.StatusUnprocessableEntity, "quantity is required")
		return
	}

	s := sessionFrom(r.Context())
	s.Cart.UpdateQuantity(id, quantity)
	h.logMutation(r, "Updated cart quantity", id, s.Cart)

	h.writeCart(w, s.Cart.Snapshot())
}

// RemoveItem drops a line from the cart.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}

	s := sessionFrom(r.Context())
	s.Cart.RemoveFromCart(id)
	h.logMutation(r, "Removed from cart", id, s.Cart)

	h.writeCart(w, s.Cart.Snapshot())
}

// ClearCart empties the cart.
func (h *Handler) ClearCart(w http.ResponseWriter, r *http.Request) {
	s := sessionFrom(r.Context())
	s.Cart.ClearCart()
	h.logMutation(r, "Cleared cart", 0, s.Cart)

	h.writeCart(w, s.Cart.Snapshot())
}

// CartEvents streams the cart as server-sent "cart" events: the current state
// first, then one event per mutation. A client that falls far behind gets the
// latest state rather than every intermediate one.
func (h *Handler) CartEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	s := sessionFrom(ctx)
	rc := http.NewResponseController(w)

	updates := make(chan cart.Snapshot, 32)
	cancel := s.Cart.Subscribe(func(snap cart.Snapshot) {
		for {
			select {
			case updates <- snap:
				return
			default:
				// Full: drop the oldest pending state.
				select {
				case <-updates:
				default:
				}
			}
		}
	})
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	send := func(snap cart.Snapshot) error {
		var e jx.Encoder
		h.encodeCart(&e, snap)
		if _, err := w.Write(sseFrame("cart", e.Bytes())); err != nil {
			return err
		}
		return rc.Flush()
	}

	if err := send(s.Cart.Snapshot()); err != nil {
		zctx.From(ctx).Debug("Event stream closed", zap.Error(err))
		return
	}

	keepAlive := time.NewTicker(h.cfg.KeepAlive)
	defer keepAlive.Stop()
	for {
		var err error
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return
		case snap := <-updates:
			err = send(snap)
		case <-keepAlive.C:
			if _, err = w.Write([]byte(": keep-alive\n\n")); err == nil {
				err = rc.Flush()
			}
		}
		if err != nil {
			zctx.From(ctx).Debug("Event stream closed", zap.Error(err))
			return
		}
	}
}

func sseFrame(event string, data []byte) []byte {
	b := make([]byte, 0, len(event)+len(data)+16)
	b = append(b, "event: "...)
	b = append(b, event...)
	b = append(b, "\ndata: "...)
	b = append(b, data...)
	return append(b, "\n\n"...)
}

func (h *Handler) writeCart(w http.ResponseWriter, snap cart.Snapshot) {
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeCart(e, snap)
	})
}

func (h *Handler) logMutation(r *http.Request, msg string, productID int, c *cart.Store) {
	zctx.From(r.Context()).Debug(msg,
		zap.Int("product_id", productID),
		zap.Int("count", c.ItemsCount()),
	)
}
