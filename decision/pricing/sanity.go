package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/api"
)

// SanityMultiplier is how far above the same-unit median a price may sit
// before it is capped.
var SanityMultiplier = decimal.NewFromInt(3)

// ApplySanity caps q's unit price at the median when it exceeds
// SanityMultiplier × median, keeping the original price and the reason.
// Without a median the quote is left untouched and marked unchecked.
func ApplySanity(q api.PriceQuote, median decimal.Decimal, ok bool) api.PriceQuote {
	if !ok || !median.IsPositive() {
		q.Sanity = api.SanityCheck{Checked: false, IsValid: true}
		return q
	}

	q.Sanity = api.SanityCheck{Checked: true, IsValid: true, Median: median}
	if q.UnitPrice.GreaterThan(median.Mul(SanityMultiplier)) {
		q.Sanity.IsValid = false
		q.Sanity.OriginalPrice = q.UnitPrice
		q.Sanity.Reason = fmt.Sprintf("unit price %s exceeds %s× the %s median of %s; capped to median",
			q.UnitPrice.StringFixed(2), SanityMultiplier.String(), q.RateUnit, median.StringFixed(2))
		q.UnitPrice = median
	}
	return q
}
