package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront/internal/display"
	"github.com/xenking/storefront/internal/domain/product"
)

// ListProducts returns the catalog, optionally narrowed to one category and
// sorted. An empty or "all" category lists everything.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	key, ok := product.ParseSortKey(q.Get("sort"))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown sort key")
		return
	}

	client := sessionFrom(r.Context()).Catalog
	var (
		products []product.Product
		err      error
	)
	switch category := q.Get("category"); category {
	case "", "all":
		products, err = client.FetchProducts(r.Context())
	default:
		products, err = client.FetchProductsByCategory(r.Context(), category)
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeProducts(e, product.Sorted(products, key))
	})
}

// TopProducts returns the most purchased products.
func (h *Handler) TopProducts(w http.ResponseWriter, r *http.Request) {
	limit := product.DefaultTopN
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	products, err := sessionFrom(r.Context()).Catalog.FetchProducts(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeProducts(e, product.Top(products, limit))
	})
}

// GetProduct returns a single product.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}

	p, err := sessionFrom(r.Context()).Catalog.FetchProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		h.encodeProduct(e, p)
	})
}

// ListCategories returns the category tags with their display labels.
func (h *Handler) ListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := sessionFrom(r.Context()).Catalog.FetchCategories(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, c := range categories {
			e.ObjStart()
			e.FieldStart("value")
			e.Str(c)
			e.FieldStart("label")
			e.Str(display.CategoryLabel(c))
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}

// productID parses the {id} path parameter, answering 400 when it is not a
// positive integer.
func productID(w http.ResponseWriter, r *http.Request) (int, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid product id")
		return 0, false
	}
	return id, true
}
