package product

import (
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

// Decode reads a single product object in the catalog wire format:
//
//	{"id":1,"title":"...","price":109.95,"description":"...","category":"...",
//	 "image":"https://...","rating":{"rate":3.9,"count":120}}
//
// Unknown fields are skipped. Prices and rates keep the exact digits sent by
// the catalog.
func Decode(d *jx.Decoder) (Product, error) {
	var p Product
	if err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "id":
			p.ID, err = d.Int()
		case "title":
			p.Title, err = d.Str()
		case "price":
			p.Price, err = decodeDecimal(d)
		case "description":
			p.Description, err = d.Str()
		case "category":
			p.Category, err = d.Str()
		case "image":
			p.Image, err = d.Str()
		case "rating":
			p.Rating, err = decodeRating(d)
		default:
			return d.Skip()
		}
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		return nil
	}); err != nil {
		return Product{}, err
	}

	if p.ID <= 0 {
		return Product{}, errors.Errorf("invalid product id %d", p.ID)
	}
	if p.Title == "" {
		return Product{}, errors.Errorf("product %d: empty title", p.ID)
	}
	if p.Price.IsNegative() {
		return Product{}, errors.Errorf("product %d: negative price %s", p.ID, p.Price)
	}
	return p, nil
}

// DecodeList reads a JSON array of products, preserving order.
func DecodeList(d *jx.Decoder) ([]Product, error) {
	products := make([]Product, 0, 20)
	if err := d.Arr(func(d *jx.Decoder) error {
		p, err := Decode(d)
		if err != nil {
			return errors.Wrapf(err, "element %d", len(products))
		}
		products = append(products, p)
		return nil
	}); err != nil {
		return nil, err
	}
	return products, nil
}

func decodeRating(d *jx.Decoder) (Rating, error) {
	var r Rating
	err := d.Obj(func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "rate":
			r.Rate, err = decodeDecimal(d)
		case "count":
			r.Count, err = d.Int()
		default:
			return d.Skip()
		}
		return err
	})
	return r, err
}

// decodeDecimal accepts both bare numbers and numeric strings.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Zero, errors.Errorf("unexpected %v, want number", d.Next())
	}
}

// Encode writes p as a JSON object in the same shape Decode reads.
func (p Product) Encode(e *jx.Encoder) {
	e.ObjStart()
	p.EncodeFields(e)
	e.ObjEnd()
}

// EncodeFields writes the product fields without the surrounding braces so
// callers can append their own fields to the same object.
func (p Product) EncodeFields(e *jx.Encoder) {
	e.FieldStart("id")
	e.Int(p.ID)
	e.FieldStart("title")
	e.Str(p.Title)
	e.FieldStart("price")
	EncodeDecimal(e, p.Price)
	e.FieldStart("description")
	e.Str(p.Description)
	e.FieldStart("category")
	e.Str(p.Category)
	e.FieldStart("image")
	e.Str(p.Image)
	e.FieldStart("rating")
	e.ObjStart()
	e.FieldStart("rate")
	EncodeDecimal(e, p.Rating.Rate)
	e.FieldStart("count")
	e.Int(p.Rating.Count)
	e.ObjEnd()
}

// EncodeDecimal writes v as a bare JSON number with no precision loss.
func EncodeDecimal(e *jx.Encoder, v decimal.Decimal) {
	e.Num(jx.Num(v.String()))
}
