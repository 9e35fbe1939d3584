package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/llm"
	"roadsafety-cost/pkg/units"
)

// Estimator produces a non-official tier-5 price.
type Estimator interface {
	Estimate(ctx context.Context, q Query) (api.PriceQuote, error)
}

// ============================================================================
// RULE-BASED ESTIMATOR
// ============================================================================

// unitDefaults are indicative INR rates used when nothing better exists.
var unitDefaults = map[units.Unit]int64{
	units.UnitSqm:    450,
	units.UnitCum:    6500,
	units.UnitKg:     120,
	units.UnitLitre:  250,
	units.UnitNos:    1500,
	units.UnitSet:    5000,
	units.UnitMetre:  900,
	units.UnitTonne:  60000,
	units.UnitPair:   800,
	units.UnitBundle: 1200,
	units.UnitUnit:   1500,
}

// categoryDefaults override unitDefaults for a category.
var categoryDefaults = map[api.Category]map[units.Unit]int64{
	api.CategoryMarking:   {units.UnitKg: 140, units.UnitLitre: 300},
	api.CategoryCrossing:  {units.UnitKg: 140},
	api.CategoryStuds:     {units.UnitNos: 350, units.UnitKg: 900},
	api.CategoryPothole:   {units.UnitCum: 9500, units.UnitKg: 60},
	api.CategorySign:      {units.UnitSqm: 2200, units.UnitNos: 2500, units.UnitCum: 5500},
	api.CategoryGuardrail: {units.UnitNos: 6500, units.UnitCum: 6000, units.UnitMetre: 3500},
	api.CategoryChevron:   {units.UnitNos: 2000, units.UnitSqm: 2200},
	api.CategorySpeedHump: {units.UnitCum: 9000, units.UnitKg: 140, units.UnitNos: 2500},
	api.CategoryFootpath:  {units.UnitSqm: 850, units.UnitCum: 5500, units.UnitMetre: 450},
	api.CategoryDrainage:  {units.UnitCum: 7500, units.UnitKg: 75},
}

// RuleEstimator prices by category and unit from a fixed table.
type RuleEstimator struct{}

func (RuleEstimator) Estimate(_ context.Context, q Query) (api.PriceQuote, error) {
	rate, ok := categoryDefaults[q.Category][q.Unit]
	if !ok {
		rate, ok = unitDefaults[q.Unit]
	}
	if !ok {
		return api.PriceQuote{}, perrors.NewEstimationError(q.Name, fmt.Errorf("no default rate for unit %q", q.Unit))
	}
	return api.PriceQuote{
		UnitPrice:     decimal.NewFromInt(rate),
		RateUnit:      q.Unit,
		MatchedName:   q.Name,
		Source:        "rule-based",
		Tier:          TierEstimate,
		Confidence:    confidence.LevelVeryLow,
		Official:      false,
		Specification: fmt.Sprintf("indicative %s rate per %s", q.Category, q.Unit),
	}, nil
}

// ============================================================================
// AI ESTIMATOR
// ============================================================================

// AIEstimator asks a generative model for an indicative rate. Replies are
// coerced into a strict shape here; anything unusable is an error.
type AIEstimator struct {
	gen    llm.Generator
	logger *slog.Logger
}

func NewAIEstimator(gen llm.Generator, logger *slog.Logger) *AIEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AIEstimator{gen: gen, logger: logger}
}

const estimatePrompt = `You are a quantity surveyor for Indian road works.
Give an indicative current market rate in INR for the material below.
Reply with JSON only: {"unit_price": number, "unit": string, "basis": string}.
Material: %s
Unit: %s
Work category: %s`

type aiEstimate struct {
	UnitPrice json.RawMessage `json:"unit_price"`
	Unit      string          `json:"unit"`
	Basis     string          `json:"basis"`
}

func (e *AIEstimator) Estimate(ctx context.Context, q Query) (api.PriceQuote, error) {
	reply, err := e.gen.Generate(ctx, fmt.Sprintf(estimatePrompt, q.Name, q.Unit, q.Category))
	if err != nil {
		return api.PriceQuote{}, perrors.NewEstimationError(q.Name, err)
	}

	var out aiEstimate
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &out); err != nil {
		return api.PriceQuote{}, perrors.NewEstimationError(q.Name, fmt.Errorf("malformed reply: %w", err))
	}
	price, err := CoercePrice(out.UnitPrice)
	if err != nil {
		return api.PriceQuote{}, perrors.NewEstimationError(q.Name, err)
	}
	if out.Unit != "" && units.Normalize(out.Unit) != q.Unit {
		return api.PriceQuote{}, perrors.NewEstimationError(q.Name,
			fmt.Errorf("estimate given per %q, wanted %q", out.Unit, q.Unit))
	}

	return api.PriceQuote{
		UnitPrice:     price,
		RateUnit:      q.Unit,
		MatchedName:   q.Name,
		Source:        "ai-estimate",
		Tier:          TierEstimate,
		Confidence:    confidence.LevelLow,
		Official:      false,
		Specification: strings.TrimSpace(out.Basis),
	}, nil
}

var priceNumber = regexp.MustCompile(`-?\d[\d,]*(?:\.\d+)?`)

// CoercePrice reads a JSON number or a currency string such as "₹1,250.50"
// and requires a finite positive value.
func CoercePrice(raw json.RawMessage) (decimal.Decimal, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return decimal.Zero, errors.New("unit price missing")
	}
	if strings.HasPrefix(s, `"`) {
		var str string
		if err := json.Unmarshal(raw, &str); err != nil {
			return decimal.Zero, err
		}
		s = strings.ReplaceAll(priceNumber.FindString(str), ",", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("unit price %q is not numeric", string(raw))
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("unit price %s is not positive", d)
	}
	return d, nil
}

// ============================================================================
// CHAIN
// ============================================================================

// ChainEstimator tries each estimator in turn.
type ChainEstimator struct {
	estimators []Estimator
	logger     *slog.Logger
}

func NewChainEstimator(logger *slog.Logger, estimators ...Estimator) *ChainEstimator {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChainEstimator{estimators: estimators, logger: logger}
}

func (c *ChainEstimator) Estimate(ctx context.Context, q Query) (api.PriceQuote, error) {
	var lastErr error = perrors.NewEstimationError(q.Name, errors.New("no estimator configured"))
	for _, e := range c.estimators {
		quote, err := e.Estimate(ctx, q)
		if err == nil {
			return quote, nil
		}
		c.logger.Warn("price estimator failed", "item", q.Name, "unit", q.Unit, "error", err)
		lastErr = err
	}
	return api.PriceQuote{}, lastErr
}
