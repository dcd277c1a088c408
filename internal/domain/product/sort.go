package product

import (
	"cmp"
	"slices"
	"strings"
)

// SortKey selects the ordering applied to a product listing.
type SortKey string

// Supported sort keys. SortNone keeps the order the catalog returned.
const (
	SortNone      SortKey = ""
	SortPriceAsc  SortKey = "price-asc"
	SortPriceDesc SortKey = "price-desc"
	SortRating    SortKey = "rating"
	SortTitle     SortKey = "title"
)

// ParseSortKey validates a user supplied sort key.
func ParseSortKey(s string) (SortKey, bool) {
	switch k := SortKey(s); k {
	case SortNone, SortPriceAsc, SortPriceDesc, SortRating, SortTitle:
		return k, true
	default:
		return SortNone, false
	}
}

// Sorted returns a sorted copy of products. The input slice is left intact
// because it may be shared with the catalog cache.
func Sorted(products []Product, key SortKey) []Product {
	out := slices.Clone(products)

	var less func(a, b Product) int
	switch key {
	case SortPriceAsc:
		less = func(a, b Product) int { return a.Price.Cmp(b.Price) }
	case SortPriceDesc:
		less = func(a, b Product) int { return b.Price.Cmp(a.Price) }
	case SortRating:
		less = func(a, b Product) int { return b.Rating.Rate.Cmp(a.Rating.Rate) }
	case SortTitle:
		less = func(a, b Product) int {
			return cmp.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		}
	default:
		return out
	}

	slices.SortStableFunc(out, less)
	return out
}

// DefaultTopN is how many best sellers the storefront shows.
const DefaultTopN = 8

// Top returns up to n products with the highest Popularity, best first.
// Ties keep catalog order.
func Top(products []Product, n int) []Product {
	out := slices.Clone(products)
	slices.SortStableFunc(out, func(a, b Product) int {
		return b.Popularity().Cmp(a.Popularity())
	})
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}
