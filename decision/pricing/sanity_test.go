package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/units"
)

func TestApplySanityCapsOutliers(t *testing.T) {
	q := api.PriceQuote{UnitPrice: decimal.NewFromInt(50000), RateUnit: units.UnitSqm}

	got := ApplySanity(q, decimal.NewFromInt(1000), true)

	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(1000)))
	assert.False(t, got.Sanity.IsValid)
	assert.True(t, got.Sanity.OriginalPrice.Equal(decimal.NewFromInt(50000)))
	assert.Contains(t, got.Sanity.Reason, "capped to median")
}

func TestApplySanityBoundary(t *testing.T) {
	median := decimal.NewFromInt(1000)

	got := ApplySanity(api.PriceQuote{UnitPrice: decimal.NewFromInt(3000)}, median, true)
	assert.True(t, got.Sanity.IsValid)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(3000)))

	got = ApplySanity(api.PriceQuote{UnitPrice: decimal.NewFromFloat(3000.01)}, median, true)
	assert.False(t, got.Sanity.IsValid)
}

func TestApplySanityWithoutMedian(t *testing.T) {
	got := ApplySanity(api.PriceQuote{UnitPrice: decimal.NewFromInt(99999)}, decimal.Zero, false)

	assert.False(t, got.Sanity.Checked)
	assert.True(t, got.Sanity.IsValid)
	assert.True(t, got.UnitPrice.Equal(decimal.NewFromInt(99999)))
}
