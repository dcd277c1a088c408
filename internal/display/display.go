// Package display holds the static presentation lookups the storefront UI
// needs: the fixed display currency conversion, category labels and the
// rating quality ladder.
package display

import (
	"github.com/shopspring/decimal"
)

// Currency converts base catalog prices into the display currency.
type Currency struct {
	Rate   decimal.Decimal
	Symbol string
}

// DefaultCurrency converts catalog prices to Brazilian reais at a fixed rate.
func DefaultCurrency() Currency {
	return Currency{
		Rate:   decimal.RequireFromString("5.5"),
		Symbol: "R$",
	}
}

// Convert returns v in the display currency, unrounded.
func (c Currency) Convert(v decimal.Decimal) decimal.Decimal {
	return v.Mul(c.Rate)
}

// Format converts v and renders it with two decimals, e.g. "R$ 54.95".
func (c Currency) Format(v decimal.Decimal) string {
	s := c.Convert(v).StringFixed(2)
	if c.Symbol == "" {
		return s
	}
	return c.Symbol + " " + s
}

var categoryLabels = map[string]string{
	"electronics":      "Eletrônicos",
	"jewelery":         "Joias",
	"men's clothing":   "Roupas Masculinas",
	"women's clothing": "Roupas Femininas",
}

// CategoryLabel returns the display name of a category tag. Unknown tags are
// returned unchanged since the catalog may add categories at any time.
func CategoryLabel(category string) string {
	if label, ok := categoryLabels[category]; ok {
		return label
	}
	return category
}

var qualityLadder = []struct {
	min   decimal.Decimal
	label string
}{
	{decimal.RequireFromString("4.5"), "Excelente"},
	{decimal.RequireFromString("4.0"), "Muito Bom"},
	{decimal.RequireFromString("3.5"), "Bom"},
	{decimal.RequireFromString("3.0"), "Regular"},
}

// Quality maps a rating in [0,5] to its quality label.
func Quality(rate decimal.Decimal) string {
	for _, step := range qualityLadder {
		if rate.GreaterThanOrEqual(step.min) {
			return step.label
		}
	}
	return "Básico"
}
