package pricing

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	"roadsafety-cost/pkg/units"
)

// MatchKind says how a reference item was matched.
type MatchKind string

const (
	MatchExact   MatchKind = "exact"
	MatchKeyword MatchKind = "keyword"
	MatchPartial MatchKind = "partial"
)

// Match is a reference item chosen for a query.
type Match struct {
	Record api.PriceRecord
	Kind   MatchKind
	Score  float64
}

// ReferenceDataset is the offline schedule of rates. It is immutable after
// construction and safe for concurrent reads.
type ReferenceDataset struct {
	items   []refItem
	medians map[units.Unit]decimal.Decimal
}

type refItem struct {
	rec   api.PriceRecord
	key   string
	terms []string
}

// NewReferenceDataset indexes records. Units are normalized and records
// with a non-positive price are skipped.
func NewReferenceDataset(records []api.PriceRecord) *ReferenceDataset {
	d := &ReferenceDataset{medians: make(map[units.Unit]decimal.Decimal)}
	byUnit := make(map[units.Unit][]decimal.Decimal)

	for _, r := range records {
		if !r.UnitPrice.IsPositive() || strings.TrimSpace(r.ItemName) == "" {
			continue
		}
		r.Unit = units.Normalize(string(r.Unit))
		terms := Terms(r.ItemName + " " + strings.Join(r.Keywords, " "))
		d.items = append(d.items, refItem{rec: r, key: r.ItemKey(), terms: terms})
		byUnit[r.Unit] = append(byUnit[r.Unit], r.UnitPrice)
	}
	for u, prices := range byUnit {
		d.medians[u] = median(prices)
	}
	return d
}

// Len returns the number of indexed records.
func (d *ReferenceDataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.items)
}

// Records returns a copy of the indexed records.
func (d *ReferenceDataset) Records() []api.PriceRecord {
	out := make([]api.PriceRecord, 0, d.Len())
	if d == nil {
		return out
	}
	for _, it := range d.items {
		out = append(out, it.rec)
	}
	return out
}

// Median returns the median unit price of records in unit u.
func (d *ReferenceDataset) Median(u units.Unit) (decimal.Decimal, bool) {
	if d == nil {
		return decimal.Zero, false
	}
	m, ok := d.medians[u]
	return m, ok
}

// Match finds a record for name in unit u: exact name first, then the
// record whose terms contain the most query terms (ties go to the earlier
// record), then a prefix or substring match. Only records in unit u are
// considered. Score is the share of query terms matched.
func (d *ReferenceDataset) Match(name string, u units.Unit) (Match, bool) {
	if d == nil {
		return Match{}, false
	}
	key := api.ItemKey(name)
	if key == "" {
		return Match{}, false
	}

	candidates := make([]refItem, 0, len(d.items))
	for _, it := range d.items {
		if it.rec.Unit == u {
			candidates = append(candidates, it)
		}
	}

	for _, it := range candidates {
		if it.key == key {
			return Match{Record: it.rec, Kind: MatchExact, Score: 1}, true
		}
	}

	q := Terms(name)
	var (
		best     refItem
		bestHits int
	)
	for _, it := range candidates {
		if h := Hits(q, it.terms); h > bestHits {
			best, bestHits = it, h
		}
	}
	if bestHits > 0 {
		score := float64(bestHits) / float64(len(q))
		return Match{Record: best.rec, Kind: MatchKeyword, Score: score}, true
	}

	for _, it := range candidates {
		if strings.HasPrefix(it.key, key) || strings.HasPrefix(key, it.key) ||
			strings.Contains(it.key, key) || strings.Contains(key, it.key) {
			return Match{Record: it.rec, Kind: MatchPartial}, true
		}
	}
	return Match{}, false
}

// Quote converts a match into an official price quote.
func (m Match) Quote() api.PriceQuote {
	level := confidence.LevelMedium
	if m.Kind == MatchExact {
		level = confidence.LevelHigh
	}
	source := m.Record.Source
	if source == "" {
		source = "reference"
	}
	return api.PriceQuote{
		UnitPrice:     m.Record.UnitPrice,
		RateUnit:      m.Record.Unit,
		MatchedName:   m.Record.ItemName,
		Source:        source,
		Tier:          TierReference,
		Confidence:    level,
		Official:      true,
		ItemCode:      m.Record.ItemCode,
		ReferenceURL:  m.Record.ReferenceURL,
		Specification: m.Record.Specification,
	}
}

func median(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) == 0 {
		return decimal.Zero
	}
	sorted := make([]decimal.Decimal, len(prices))
	copy(sorted, prices)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}
