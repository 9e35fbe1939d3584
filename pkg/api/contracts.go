// Package api defines the data model shared by the estimation pipeline,
// its stores and the CLI.
package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/confidence"
	"roadsafety-cost/pkg/units"
)

// Category classifies an intervention for quantity derivation and
// rule-based price fallbacks.
type Category string

const (
	CategoryMarking   Category = "marking"
	CategoryCrossing  Category = "crossing"
	CategoryStuds     Category = "studs"
	CategoryPothole   Category = "pothole"
	CategorySign      Category = "sign"
	CategoryGuardrail Category = "guardrail"
	CategoryChevron   Category = "chevron"
	CategorySpeedHump Category = "speed_hump"
	CategoryFootpath  Category = "footpath"
	CategoryDrainage  Category = "drainage"
	CategoryUnknown   Category = "unknown"
)

// Location describes where on the road an observation was made.
type Location struct {
	Road     string `json:"road,omitempty"`
	Chainage string `json:"chainage,omitempty"` // e.g. "10+900 to 11+100"
	Side     string `json:"side,omitempty"`     // LHS, RHS, both
}

// Intervention is one audit recommendation, already interpreted upstream
// and mapped to a governing standard clause. Read-only to the pipeline.
type Intervention struct {
	SectionID      string   `json:"section_id"`
	SectionName    string   `json:"section_name"`
	Sequence       int      `json:"sequence"`
	Location       Location `json:"location"`
	Observation    string   `json:"observation"`
	Recommendation string   `json:"recommendation"`
	Clause         string   `json:"clause,omitempty"`

	// Materials is the nominal material list from the standards mapping.
	// It may be empty or carry non-positive quantities.
	Materials []MaterialRequirement `json:"materials,omitempty"`
}

// ID returns a stable identifier for the intervention within a run.
func (i Intervention) ID() string {
	return fmt.Sprintf("%s#%d", i.SectionID, i.Sequence)
}

// Material origins.
const (
	OriginMapping   = "mapping"
	OriginDimension = "dimension-parser"
)

// MaterialRequirement is a nominal material need. Quantity is nil when the
// upstream value was absent or could not be read as a number.
type MaterialRequirement struct {
	ItemName    string   `json:"item_name"`
	Detail      string   `json:"detail,omitempty"`
	Quantity    *float64 `json:"quantity"`
	RawQuantity string   `json:"raw_quantity,omitempty"`
	Unit        string   `json:"unit"`
	Note        string   `json:"note,omitempty"`
	Origin      string   `json:"origin,omitempty"`
}

// HasPositiveQuantity reports whether the requirement carries a usable quantity.
func (m MaterialRequirement) HasPositiveQuantity() bool {
	return m.Quantity != nil && *m.Quantity > 0
}

// Qty is a convenience constructor for MaterialRequirement.Quantity.
func Qty(v float64) *float64 { return &v }

// PriceRecord is the persisted shape of a rate in any price store or in the
// reference dataset.
type PriceRecord struct {
	ItemName      string           `json:"item_name"`
	ItemCode      string           `json:"item_code,omitempty"`
	Keywords      []string         `json:"keywords,omitempty"`
	Unit          units.Unit       `json:"unit"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	Source        string           `json:"source"`
	Specification string           `json:"specification,omitempty"`
	ReferenceURL  string           `json:"reference_url,omitempty"`
	Confidence    confidence.Level `json:"confidence"`
	Official      bool             `json:"official"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// ItemKey is the case-insensitive lookup key of a record.
func (r PriceRecord) ItemKey() string {
	return ItemKey(r.ItemName)
}

// Validate rejects records a store must never hold.
func (r PriceRecord) Validate() error {
	switch {
	case strings.TrimSpace(r.ItemName) == "":
		return errors.New("price record has no item name")
	case r.Source == "":
		return fmt.Errorf("price record %q has no source", r.ItemName)
	case r.Unit == "":
		return fmt.Errorf("price record %q has no unit", r.ItemName)
	case !r.UnitPrice.IsPositive():
		return fmt.Errorf("price record %q has non-positive price %s", r.ItemName, r.UnitPrice)
	}
	return nil
}

// ItemKey folds an item name to its lookup form.
func ItemKey(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}
