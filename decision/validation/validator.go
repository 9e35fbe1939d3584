// Package validation runs side-effect free checks over priced
// interventions and scores estimates by the share of clean line items.
package validation

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/api"
	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/units"
)

// CheckType groups checks by what they inspect.
type CheckType string

const (
	CheckTypeQuantity     CheckType = "quantity"
	CheckTypePrice        CheckType = "price"
	CheckTypeDistribution CheckType = "distribution"
)

// Finding codes
const (
	CodeFractionalCount   = "QUANTITY_FRACTIONAL_COUNT"
	CodeNonPositiveQty    = "QUANTITY_NON_POSITIVE"
	CodeExcessiveQty      = "QUANTITY_IMPLAUSIBLE"
	CodeNonPositivePrice  = "PRICE_NON_POSITIVE"
	CodePriceOutOfRange   = "PRICE_OUT_OF_RANGE"
	CodeNonOfficialSource = "PRICE_NON_OFFICIAL"
	CodeMissingItemCode   = "PRICE_MISSING_ITEM_CODE"
	CodeSanityCapped      = "PRICE_SANITY_CAPPED"
	CodeCostConcentration = "COST_CONCENTRATION"
)

// MaxPlausibleQuantity is the quantity above which a line item is flagged.
const MaxPlausibleQuantity = 100000

// Cost share thresholds for the distribution check.
var (
	HighShare   = decimal.NewFromFloat(0.75)
	MediumShare = decimal.NewFromFloat(0.50)
)

// PriceRange is the plausible unit price band for a unit, in INR.
type PriceRange struct {
	Min decimal.Decimal
	Max decimal.Decimal
}

func band(min, max int64) PriceRange {
	return PriceRange{Min: decimal.NewFromInt(min), Max: decimal.NewFromInt(max)}
}

// DefaultPriceRanges covers the canonical units materials are priced in.
func DefaultPriceRanges() map[units.Unit]PriceRange {
	return map[units.Unit]PriceRange{
		units.UnitSqm:    band(50, 5000),
		units.UnitCum:    band(500, 20000),
		units.UnitKg:     band(10, 2000),
		units.UnitLitre:  band(50, 2000),
		units.UnitMetre:  band(20, 20000),
		units.UnitTonne:  band(5000, 150000),
		units.UnitNos:    band(5, 500000),
		units.UnitSet:    band(50, 500000),
		units.UnitPair:   band(10, 50000),
		units.UnitBundle: band(50, 50000),
		units.UnitUnit:   band(5, 500000),
	}
}

// Check is one validation rule.
type Check struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Type    CheckType `json:"type"`
	Enabled bool      `json:"enabled"`
}

// Validator evaluates checks against priced interventions
type Validator struct {
	checks []Check
	ranges map[units.Unit]PriceRange
}

// NewValidator creates a validator with every built-in check enabled
func NewValidator() *Validator {
	return &Validator{
		checks: defaultChecks(),
		ranges: DefaultPriceRanges(),
	}
}

// WithPriceRanges replaces the plausible price table.
func (v *Validator) WithPriceRanges(r map[units.Unit]PriceRange) *Validator {
	v.ranges = r
	return v
}

// Disable turns off a check by ID.
func (v *Validator) Disable(id string) {
	for i := range v.checks {
		if v.checks[i].ID == id {
			v.checks[i].Enabled = false
		}
	}
}

// Checks lists the configured checks.
func (v *Validator) Checks() []Check {
	return append([]Check(nil), v.checks...)
}

// Validate runs all enabled checks against one intervention. Findings are
// ordered by check, then by line item.
func (v *Validator) Validate(ic api.InterventionCost) []api.Finding {
	var out []api.Finding
	for _, c := range v.checks {
		if !c.Enabled {
			continue
		}
		switch c.Type {
		case CheckTypeQuantity:
			for i, m := range ic.Materials {
				out = append(out, checkQuantity(i+1, m)...)
			}
		case CheckTypePrice:
			for i, m := range ic.Materials {
				out = append(out, v.checkPrice(i+1, m)...)
			}
		case CheckTypeDistribution:
			out = append(out, checkDistribution(ic)...)
		}
	}
	return out
}

func checkQuantity(line int, m api.PricedMaterial) []api.Finding {
	var out []api.Finding
	q := m.Qty
	switch {
	case q <= 0 || math.IsNaN(q):
		out = append(out, finding(CodeNonPositiveQty, perrors.SeverityCritical, line, m,
			fmt.Sprintf("quantity %v must be positive", q)))
	case q > MaxPlausibleQuantity:
		out = append(out, finding(CodeExcessiveQty, perrors.SeverityMedium, line, m,
			fmt.Sprintf("quantity %v %s exceeds %d", q, m.CanonicalUnit, MaxPlausibleQuantity)))
	}
	if units.IsCountable(m.CanonicalUnit) && q != math.Trunc(q) {
		out = append(out, finding(CodeFractionalCount, perrors.SeverityHigh, line, m,
			fmt.Sprintf("countable unit %s has fractional quantity %v", m.CanonicalUnit, q)))
	}
	return out
}

func (v *Validator) checkPrice(line int, m api.PricedMaterial) []api.Finding {
	var out []api.Finding
	p := m.UnitPrice
	if !p.IsPositive() {
		out = append(out, finding(CodeNonPositivePrice, perrors.SeverityHigh, line, m,
			fmt.Sprintf("unit price %s must be positive", p.StringFixed(2))))
	} else if r, ok := v.ranges[m.CanonicalUnit]; ok && (p.LessThan(r.Min) || p.GreaterThan(r.Max)) {
		out = append(out, finding(CodePriceOutOfRange, perrors.SeverityMedium, line, m,
			fmt.Sprintf("unit price %s per %s outside plausible range %s-%s", p.StringFixed(2), m.CanonicalUnit, r.Min, r.Max)))
	}
	if !m.Official {
		out = append(out, finding(CodeNonOfficialSource, perrors.SeverityHigh, line, m,
			fmt.Sprintf("price from non-official source %q must be replaced before approval", m.Source)))
	}
	if m.ItemCode == "" {
		out = append(out, finding(CodeMissingItemCode, perrors.SeverityLow, line, m, "no item code for traceability"))
	}
	if m.Sanity.Checked && !m.Sanity.IsValid {
		out = append(out, finding(CodeSanityCapped, perrors.SeverityMedium, line, m,
			fmt.Sprintf("price capped from %s to median %s", m.Sanity.OriginalPrice.StringFixed(2), m.Sanity.Median.StringFixed(2))))
	}
	return out
}

// checkDistribution flags a line item carrying most of an intervention's
// cost. A lone material carries all of it and is flagged high.
func checkDistribution(ic api.InterventionCost) []api.Finding {
	total := decimal.Zero
	for _, m := range ic.Materials {
		total = total.Add(m.TotalPrice)
	}
	if !total.IsPositive() {
		return nil
	}
	var out []api.Finding
	for i, m := range ic.Materials {
		share := m.TotalPrice.Div(total)
		pct := share.Mul(decimal.NewFromInt(100)).StringFixed(1)
		switch {
		case share.GreaterThan(HighShare):
			out = append(out, finding(CodeCostConcentration, perrors.SeverityHigh, i+1, m,
				fmt.Sprintf("item carries %s%% of intervention cost", pct)))
		case share.GreaterThanOrEqual(MediumShare):
			out = append(out, finding(CodeCostConcentration, perrors.SeverityMedium, i+1, m,
				fmt.Sprintf("item carries %s%% of intervention cost", pct)))
		}
	}
	return out
}

func finding(code string, sev perrors.Severity, line int, m api.PricedMaterial, msg string) api.Finding {
	return api.Finding{Code: code, Severity: sev, Item: m.ItemName, Line: line, Message: msg}
}

// ComplianceScore is the percentage of priced line items in est with no
// finding against them, rounded to one decimal. Findings are tied to line
// items by Line; findings without one, such as those for dropped or
// unpriced materials, count against no line item. An estimate without line
// items scores zero.
func ComplianceScore(est *api.Estimate) float64 {
	if est == nil {
		return 0
	}
	var items, clean int
	for _, s := range est.Sections {
		for _, ic := range s.Interventions {
			flagged := make(map[int]bool)
			for _, f := range ic.Findings {
				if f.Line > 0 {
					flagged[f.Line] = true
				}
			}
			for i := range ic.Materials {
				items++
				if !flagged[i+1] {
					clean++
				}
			}
		}
	}
	if items == 0 {
		return 0
	}
	return math.Round(float64(clean)/float64(items)*1000) / 10
}

func defaultChecks() []Check {
	return []Check{
		{ID: "quantity", Name: "Quantity plausibility", Type: CheckTypeQuantity, Enabled: true},
		{ID: "price", Name: "Price plausibility and traceability", Type: CheckTypePrice, Enabled: true},
		{ID: "distribution", Name: "Cost distribution outliers", Type: CheckTypeDistribution, Enabled: true},
	}
}
