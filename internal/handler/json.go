package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront/internal/catalog"
	"github.com/xenking/storefront/internal/display"
	"github.com/xenking/storefront/internal/domain/cart"
	"github.com/xenking/storefront/internal/domain/product"
)

const maxRequestBody = 4 << 10

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(status)
		e.FieldStart("message")
		e.Str(msg)
		e.ObjEnd()
	})
}

// fail maps a catalog or session error to its HTTP status.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	lg := zctx.From(r.Context())
	switch kind, ok := catalog.KindOf(err); {
	case errors.Is(err, product.ErrNotFound):
		writeError(w, http.StatusNotFound, "product not found")
	case errors.Is(err, catalog.ErrTimeout):
		lg.Warn("Catalog timed out", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "catalog timed out")
	case ok && kind == catalog.KindCanceled:
		lg.Debug("Request abandoned", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, "request canceled")
	case ok:
		lg.Warn("Catalog unavailable", zap.Error(err))
		writeError(w, http.StatusBadGateway, "catalog unavailable")
	default:
		lg.Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// decodeBody reads a small JSON object and calls field for every key.
func decodeBody(r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	return jx.DecodeBytes(body).Obj(field)
}

func (h *Handler) encodeProduct(e *jx.Encoder, p product.Product) {
	e.ObjStart()
	p.EncodeFields(e)
	e.FieldStart("priceDisplay")
	e.Str(h.cfg.Currency.Format(p.Price))
	e.FieldStart("categoryLabel")
	e.Str(display.CategoryLabel(p.Category))
	e.FieldStart("quality")
	e.Str(display.Quality(p.Rating.Rate))
	e.ObjEnd()
}

func (h *Handler) encodeProducts(e *jx.Encoder, products []product.Product) {
	e.ArrStart()
	for _, p := range products {
		h.encodeProduct(e, p)
	}
	e.ArrEnd()
}

func (h *Handler) encodeCart(e *jx.Encoder, snap cart.Snapshot) {
	e.ObjStart()
	e.FieldStart("items")
	e.ArrStart()
	for _, entry := range snap.Entries {
		subtotal := entry.Subtotal()
		e.ObjStart()
		e.FieldStart("product")
		h.encodeProduct(e, entry.Product)
		e.FieldStart("quantity")
		e.Int(entry.Quantity)
		e.FieldStart("subtotal")
		product.EncodeDecimal(e, subtotal)
		e.FieldStart("subtotalDisplay")
		e.Str(h.cfg.Currency.Format(subtotal))
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("count")
	e.Int(snap.Count)
	e.FieldStart("total")
	product.EncodeDecimal(e, snap.Total)
	e.FieldStart("totalDisplay")
	e.Str(h.cfg.Currency.Format(snap.Total))
	e.ObjEnd()
}
