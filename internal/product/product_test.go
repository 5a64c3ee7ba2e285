package product

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePrice(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"€29.99", "29.99", true},
		{"29,99 €", "29.99", true},
		{"1.299,00 €", "1299", true},
		{"1,299.00", "1299", true},
		{"EUR 1 299,50", "1299.5", true},
		{"1.299", "1299", true},
		{"0.500", "0.5", true},
		{"Price: 12", "12", true},
		{"€29.99 €39.99", "29.99", true},
		{"12.345.678", "12345678", true},
		{"19.999", "19999", true},
		{"", "", false},
		{"sold out", "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			got, ok := ParsePrice(tt.in)
			require.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.True(t, decimal.RequireFromString(tt.want).Equal(got), "got %s", got)
			}
		})
	}
}

func TestSetPrices(t *testing.T) {
	var r Record
	r.SetPrices(decimal.RequireFromString("75"), decimal.NewNullDecimal(decimal.RequireFromString("100")))
	assert.True(t, r.OriginalPrice.Valid)
	assert.Equal(t, 25, r.DiscountPercent)

	// original at or below price is not a discount
	r.SetPrices(decimal.RequireFromString("100"), decimal.NewNullDecimal(decimal.RequireFromString("80")))
	assert.False(t, r.OriginalPrice.Valid)
	assert.Equal(t, 0, r.DiscountPercent)

	r.SetPrices(decimal.RequireFromString("29.999"), decimal.NullDecimal{})
	assert.Equal(t, "30", r.Price.String())
}

func TestValidate(t *testing.T) {
	r := Record{Reference: "A1", Price: decimal.RequireFromString("10")}
	require.NoError(t, r.Validate())

	bad := r
	bad.Reference = ""
	assert.Error(t, bad.Validate())

	bad = r
	bad.Price = decimal.RequireFromString("-1")
	assert.Error(t, bad.Validate())

	bad = r
	bad.DiscountPercent = 10
	assert.Error(t, bad.Validate())

	good := r
	good.SetPrices(decimal.RequireFromString("10"), decimal.NewNullDecimal(decimal.RequireFromString("20")))
	assert.NoError(t, good.Validate())
}

func TestClone_DoesNotShareSlices(t *testing.T) {
	r := Record{Reference: "A", Sizes: []string{"S", "M"}}
	c := r.Clone()
	c.Sizes[0] = "XL"
	assert.Equal(t, "S", r.Sizes[0])
}

func TestRecordJSON_PriceIsNumber(t *testing.T) {
	r := Record{Reference: "A", Price: decimal.RequireFromString("29.99")}
	b, err := json.Marshal(r)
	require.NoError(t, err)
	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, 29.99, m["price"])
	assert.Nil(t, m["originalPrice"])
	assert.Equal(t, float64(0), m["discountPercent"])
}
