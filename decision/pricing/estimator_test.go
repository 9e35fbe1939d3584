package pricing

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/platform"
	"roadsafety-cost/pkg/units"
)

func TestRuleEstimator(t *testing.T) {
	q, err := RuleEstimator{}.Estimate(context.Background(), Query{Name: "Road stud", Unit: units.UnitNos, Category: api.CategoryStuds})
	require.NoError(t, err)
	assert.True(t, q.UnitPrice.Equal(decimal.NewFromInt(350)))
	assert.Equal(t, confidence.LevelVeryLow, q.Confidence)
	assert.False(t, q.Official)

	q, err = RuleEstimator{}.Estimate(context.Background(), Query{Name: "Paint", Unit: units.UnitKg, Category: api.CategoryUnknown})
	require.NoError(t, err)
	assert.True(t, q.UnitPrice.Equal(decimal.NewFromInt(120)))

	_, err = RuleEstimator{}.Estimate(context.Background(), Query{Name: "Drum", Unit: "drums"})
	assert.ErrorIs(t, err, perrors.ErrEstimationFailed)
}

func TestAIEstimatorCoercesReply(t *testing.T) {
	gen := fakeGenerator{reply: "```json\n{\"unit_price\": \"₹1,250.50\", \"unit\": \"sq.m\", \"basis\": \"Delhi market 2024\"}\n```"}
	e := NewAIEstimator(gen, platform.DiscardLogger())

	q, err := e.Estimate(context.Background(), Query{Name: "Sheeting", Unit: units.UnitSqm})
	require.NoError(t, err)
	assert.True(t, q.UnitPrice.Equal(decimal.RequireFromString("1250.50")))
	assert.Equal(t, confidence.LevelLow, q.Confidence)
	assert.False(t, q.Official)
	assert.Equal(t, "Delhi market 2024", q.Specification)
}

func TestAIEstimatorRejectsBadReplies(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"generator error", "", errBoom},
		{"not json", "I think about 500 rupees", nil},
		{"negative", `{"unit_price": -4, "unit": "sqm"}`, nil},
		{"null", `{"unit_price": null}`, nil},
		{"wrong unit", `{"unit_price": 400, "unit": "kg"}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewAIEstimator(fakeGenerator{reply: tt.reply, err: tt.err}, platform.DiscardLogger())
			_, err := e.Estimate(context.Background(), Query{Name: "Sheeting", Unit: units.UnitSqm})
			assert.ErrorIs(t, err, perrors.ErrEstimationFailed)
		})
	}
}

func TestCoercePrice(t *testing.T) {
	d, err := CoercePrice(json.RawMessage(`1200`))
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(1200)))

	d, err = CoercePrice(json.RawMessage(`"Rs. 2,400/-"`))
	require.NoError(t, err)
	assert.True(t, d.Equal(decimal.NewFromInt(2400)))

	_, err = CoercePrice(json.RawMessage(`"n/a"`))
	assert.Error(t, err)
}

func TestChainEstimatorFallsBackToRules(t *testing.T) {
	chain := NewChainEstimator(platform.DiscardLogger(),
		NewAIEstimator(fakeGenerator{err: errBoom}, platform.DiscardLogger()),
		RuleEstimator{},
	)

	q, err := chain.Estimate(context.Background(), Query{Name: "Cold mix", Unit: units.UnitCum, Category: api.CategoryPothole})
	require.NoError(t, err)
	assert.Equal(t, confidence.LevelVeryLow, q.Confidence)
	assert.Equal(t, "rule-based", q.Source)

	_, err = NewChainEstimator(nil).Estimate(context.Background(), Query{Name: "x"})
	assert.ErrorIs(t, err, perrors.ErrEstimationFailed)
}
