// Package pricing resolves a unit price for each material through a
// cascade of sources: cache, price store, reference dataset, live
// catalogs and finally an estimate.
package pricing

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/units"
)

// Tier names, in cascade order.
const (
	TierCache     = "cache"
	TierStore     = "store"
	TierReference = "reference"
	TierLive      = "live"
	TierEstimate  = "estimate"
)

// Query is a single material price lookup.
type Query struct {
	Name     string
	Unit     units.Unit
	Category api.Category
}

// PriceStore is the persistent price database. FindExact returns nil and
// no error when nothing matches. Upsert is idempotent on item+source+unit.
type PriceStore interface {
	FindExact(ctx context.Context, name string, unit units.Unit) (*api.PriceRecord, error)
	Upsert(ctx context.Context, rec api.PriceRecord) error
}

// Candidate is one priced listing returned by a live source.
type Candidate struct {
	Name          string
	Unit          string
	UnitPrice     decimal.Decimal
	ItemCode      string
	URL           string
	Specification string
}

// LiveSource searches an external catalog. Implementations retry transient
// failures themselves.
type LiveSource interface {
	Name() string
	Search(ctx context.Context, query string) ([]Candidate, error)
}

// MinCandidateOverlap is the share of query terms a live listing must share.
const MinCandidateOverlap = 0.5

// BestCandidate keeps listings in the query's unit with enough term
// overlap and a positive price, and returns the one with the highest
// overlap (earliest on ties).
func BestCandidate(q Query, cands []Candidate) (Candidate, float64, bool) {
	qt := Terms(q.Name)
	type scored struct {
		c     Candidate
		score float64
		idx   int
	}
	kept := make([]scored, 0, len(cands))
	for i, c := range cands {
		if !c.UnitPrice.IsPositive() || units.Normalize(c.Unit) != q.Unit {
			continue
		}
		s := Overlap(qt, Terms(c.Name))
		if s >= MinCandidateOverlap {
			kept = append(kept, scored{c, s, i})
		}
	}
	if len(kept) == 0 {
		return Candidate{}, 0, false
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].score > kept[j].score })
	return kept[0].c, kept[0].score, true
}

// PriceRecordFromQuote converts an official quote into a storable record.
func PriceRecordFromQuote(name string, q api.PriceQuote) api.PriceRecord {
	return api.PriceRecord{
		ItemName:      name,
		ItemCode:      q.ItemCode,
		Unit:          q.RateUnit,
		UnitPrice:     q.UnitPrice,
		Source:        q.Source,
		Specification: q.Specification,
		ReferenceURL:  q.ReferenceURL,
		Confidence:    q.Confidence,
		Official:      q.Official,
	}
}
