// Package product defines the normalized catalog record shared by the
// extractor, the store and the API.
package product

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// prices go over the wire as JSON numbers, not strings
	decimal.MarshalJSONWithoutQuotes = true
}

// Record is one catalog item keyed by Reference.
type Record struct {
	Reference       string              `json:"reference"`
	Name            string              `json:"name"`
	Brand           string              `json:"brand"`
	Category        string              `json:"category"`
	Description     string              `json:"description,omitempty"`
	Price           decimal.Decimal     `json:"price"`
	OriginalPrice   decimal.NullDecimal `json:"originalPrice"`
	DiscountPercent int                 `json:"discountPercent"`
	InStock         bool                `json:"inStock"`
	Sizes           []string            `json:"sizes"`
	Colors          []string            `json:"colors"`
	Images          []string            `json:"images"`
	SourceURL       string              `json:"sourceUrl"`
	ExtractedAt     time.Time           `json:"extractedAt"`
	RunID           string              `json:"runId"`
}

// Clone returns a copy that shares no slices with r.
func (r Record) Clone() Record {
	r.Sizes = slices.Clone(r.Sizes)
	r.Colors = slices.Clone(r.Colors)
	r.Images = slices.Clone(r.Images)
	return r
}

// SetPrices stores price (rounded to cents) and derives the original price
// and discount. original is kept only when it is above price.
func (r *Record) SetPrices(price decimal.Decimal, original decimal.NullDecimal) {
	r.Price = price.Round(2)
	r.OriginalPrice = decimal.NullDecimal{}
	r.DiscountPercent = 0
	if !original.Valid {
		return
	}
	orig := original.Decimal.Round(2)
	if !orig.GreaterThan(r.Price) {
		return
	}
	r.OriginalPrice = decimal.NewNullDecimal(orig)
	r.DiscountPercent = Discount(orig, r.Price)
}

// Discount returns the whole-number percentage off original that price
// represents.
func Discount(original, price decimal.Decimal) int {
	if !original.IsPositive() || !original.GreaterThan(price) {
		return 0
	}
	return int(original.Sub(price).Div(original).Mul(decimal.NewFromInt(100)).Round(0).IntPart())
}

// Validate checks the record invariants.
func (r Record) Validate() error {
	if r.Reference == "" {
		return errors.New("empty reference")
	}
	if r.Price.IsNegative() {
		return fmt.Errorf("%s: negative price %s", r.Reference, r.Price)
	}
	if r.OriginalPrice.Valid {
		if r.OriginalPrice.Decimal.LessThan(r.Price) {
			return fmt.Errorf("%s: original price %s below price %s", r.Reference, r.OriginalPrice.Decimal, r.Price)
		}
		if want := Discount(r.OriginalPrice.Decimal, r.Price); want != r.DiscountPercent {
			return fmt.Errorf("%s: discount %d, want %d", r.Reference, r.DiscountPercent, want)
		}
	} else if r.DiscountPercent != 0 {
		return fmt.Errorf("%s: discount %d without original price", r.Reference, r.DiscountPercent)
	}
	return nil
}
