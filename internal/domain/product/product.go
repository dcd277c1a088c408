package product

import (
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Product represents a catalog entry. Values are never mutated after decoding.
type Product struct {
	ID          int
	Title       string
	Price       decimal.Decimal
	Description string
	Category    string
	Image       string
	Rating      Rating
}

// Rating holds the aggregate customer score of a product.
type Rating struct {
	Rate  decimal.Decimal
	Count int
}

// Popularity is the score used to rank best sellers: rate * count.
func (p Product) Popularity() decimal.Decimal {
	return p.Rating.Rate.Mul(decimal.NewFromInt(int64(p.Rating.Count)))
}
