package api

import (
	"time"

	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/confidence"
	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/units"
)

// NormalizedMaterial carries a canonical unit and a quantity rounded to
// that unit's precision.
type NormalizedMaterial struct {
	MaterialRequirement
	CanonicalUnit units.Unit `json:"canonical_unit"`
	Qty           float64    `json:"normalized_quantity"`
}

// SanityCheck records the outcome of the median cap applied to a price.
type SanityCheck struct {
	Checked       bool            `json:"checked"`
	IsValid       bool            `json:"is_valid"`
	OriginalPrice decimal.Decimal `json:"original_price"`
	Median        decimal.Decimal `json:"median"`
	Reason        string          `json:"reason,omitempty"`
}

// PriceQuote is what the price resolver returns for one material.
type PriceQuote struct {
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	RateUnit      units.Unit       `json:"rate_unit"`
	MatchedName   string           `json:"matched_name,omitempty"`
	Source        string           `json:"source"`
	Tier          string           `json:"tier"`
	Confidence    confidence.Level `json:"confidence"`
	Official      bool             `json:"official"`
	ItemCode      string           `json:"item_code,omitempty"`
	ReferenceURL  string           `json:"reference_url,omitempty"`
	Specification string           `json:"specification,omitempty"`
	Sanity        SanityCheck      `json:"sanity"`
	Attempted     []string         `json:"tiers_attempted,omitempty"`
}

// PricedMaterial is a line item of the bill of materials.
type PricedMaterial struct {
	NormalizedMaterial
	PriceQuote
	TotalPrice decimal.Decimal `json:"total_price"`
}

// NewPricedMaterial builds a line item; the line total is always
// round(quantity × unit price, 2).
func NewPricedMaterial(m NormalizedMaterial, q PriceQuote) PricedMaterial {
	return PricedMaterial{
		NormalizedMaterial: m,
		PriceQuote:         q,
		TotalPrice:         LineTotal(m.Qty, q.UnitPrice),
	}
}

// LineTotal computes round(qty × unitPrice, 2).
func LineTotal(qty float64, unitPrice decimal.Decimal) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromFloat(qty)).Round(2)
}

// Finding is a validator or pipeline observation about a line item or an
// intervention.
type Finding struct {
	Code     string           `json:"code"`
	Severity perrors.Severity `json:"severity"`
	Item     string           `json:"item,omitempty"`
	// Line is the 1-based index of the priced line item the finding is
	// about, or 0.
	Line    int    `json:"line,omitempty"`
	Message string `json:"message"`
}

// DroppedMaterial is a requirement removed before pricing.
type DroppedMaterial struct {
	ItemName string `json:"item_name"`
	Reason   string `json:"reason"`
}

// ReviewItem is a material that could not be priced and needs a human.
type ReviewItem struct {
	InterventionID string   `json:"intervention_id"`
	ItemName       string   `json:"item_name"`
	Unit           string   `json:"unit"`
	Quantity       float64  `json:"quantity"`
	Reason         string   `json:"reason"`
	TiersAttempted []string `json:"tiers_attempted,omitempty"`
}

// InterventionCost is the priced result for one intervention.
type InterventionCost struct {
	Intervention    Intervention      `json:"intervention"`
	Category        Category          `json:"category"`
	Materials       []PricedMaterial  `json:"materials"`
	Unpriced        []ReviewItem      `json:"unpriced,omitempty"`
	Dropped         []DroppedMaterial `json:"dropped,omitempty"`
	TotalCost       decimal.Decimal   `json:"total_cost"`
	Rationale       string            `json:"rationale"`
	Assumptions     []string          `json:"assumptions"`
	NarrativeSource string            `json:"narrative_source"`
	Findings        []Finding         `json:"findings,omitempty"`
	Failed          bool              `json:"failed"`
}

// SectionCost groups interventions by caller-supplied section.
type SectionCost struct {
	SectionID     string             `json:"section_id"`
	SectionName   string             `json:"section_name"`
	Interventions []InterventionCost `json:"interventions"`
	TotalCost     decimal.Decimal    `json:"total_cost"`
}

// Estimate statuses.
const (
	StatusComplete   = "complete"
	StatusIncomplete = "incomplete"
	StatusFailed     = "failed"
)

// EstimationError records a non-fatal issue raised during a run.
type EstimationError struct {
	InterventionID string           `json:"intervention_id,omitempty"`
	Code           string           `json:"code"`
	Severity       perrors.Severity `json:"severity"`
	Message        string           `json:"message"`
	Recoverable    bool             `json:"recoverable"`
}

// AuditEntry records which source produced a number.
type AuditEntry struct {
	InterventionID string `json:"intervention_id"`
	Item           string `json:"item"`
	Step           string `json:"step"`
	Source         string `json:"source"`
	Detail         string `json:"detail"`
}

// Estimate is the full output of one pipeline run.
type Estimate struct {
	ID              string            `json:"id"`
	CreatedAt       time.Time         `json:"created_at"`
	Mode            string            `json:"mode"`
	Status          string            `json:"status"`
	Currency        string            `json:"currency"`
	Sections        []SectionCost     `json:"sections"`
	Total           decimal.Decimal   `json:"total"`
	ConfidenceScore float64           `json:"confidence_score"`
	ComplianceScore float64           `json:"compliance_score"`
	IsIncomplete    bool              `json:"is_incomplete"`
	ReviewItems     []ReviewItem      `json:"materials_requiring_review"`
	Errors          []EstimationError `json:"errors,omitempty"`
	AuditTrail      []AuditEntry      `json:"audit_trail"`
}
