// Package dimension derives material quantities from free-text audit
// observations when the standards mapping supplies none.
package dimension

import (
	"log/slog"

	"roadsafety-cost/pkg/api"
	perrors "roadsafety-cost/pkg/errors"
)

// Parser dispatches interventions to per-category formulas.
type Parser struct {
	formulas map[api.Category]Formula
	logger   *slog.Logger
}

// NewParser creates a parser with the built-in formula table.
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Parser{
		formulas: make(map[api.Category]Formula, len(formulas)),
		logger:   logger,
	}
	for c, f := range formulas {
		p.formulas[c] = f
	}
	return p
}

// RegisterFormula adds or replaces the formula for a category.
func (p *Parser) RegisterFormula(c api.Category, f Formula) {
	p.formulas[c] = f
}

// SupportedCategories lists the categories a formula exists for.
func (p *Parser) SupportedCategories() []api.Category {
	out := make([]api.Category, 0, len(p.formulas))
	for _, ck := range categoryKeywords {
		if _, ok := p.formulas[ck.category]; ok {
			out = append(out, ck.category)
		}
	}
	return out
}

// NeedsDerivation reports whether the nominal materials are unusable: the
// list is empty or no entry carries a positive quantity.
func NeedsDerivation(materials []api.MaterialRequirement) bool {
	for _, m := range materials {
		if m.HasPositiveQuantity() {
			return false
		}
	}
	return true
}

// Parse derives materials for an intervention. Unknown categories yield an
// ExtractionEmpty error; the result still carries the category.
func (p *Parser) Parse(iv api.Intervention) (Result, error) {
	category := Classify(iv.SectionName, iv.Recommendation)
	f, ok := p.formulas[category]
	if !ok {
		return Result{Category: category}, perrors.NewExtractionEmptyError(iv.ID(), "no quantity formula for intervention category "+string(category))
	}

	res := f(Input{
		SectionName:    iv.SectionName,
		Observation:    iv.Observation,
		Recommendation: iv.Recommendation,
		Chainage:       iv.Location.Chainage,
	})
	res.Category = category

	if res.DefaultsUsed {
		p.logger.Info("dimension defaults substituted",
			"intervention", iv.ID(),
			"category", category,
			"assumptions", res.Assumptions)
	}
	if len(res.Materials) == 0 {
		return res, perrors.NewExtractionEmptyError(iv.ID(), "formula produced no materials")
	}
	return res, nil
}
