package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/units"
)

func sampleEstimate() *api.Estimate {
	paint := api.NewPricedMaterial(
		api.NormalizedMaterial{
			MaterialRequirement: api.MaterialRequirement{ItemName: "Thermoplastic paint"},
			CanonicalUnit:       units.UnitKg,
			Qty:                 576,
		},
		api.PriceQuote{UnitPrice: decimal.NewFromInt(185), Source: "state-sor-2023", Tier: "reference"},
	)
	return &api.Estimate{
		ID:       "est-1",
		Status:   api.StatusIncomplete,
		Currency: "INR",
		Total:    decimal.NewFromInt(106560),
		Sections: []api.SectionCost{{
			SectionID:   "RM",
			SectionName: "Road Markings",
			TotalCost:   decimal.NewFromInt(106560),
			Interventions: []api.InterventionCost{{
				Intervention: api.Intervention{SectionID: "RM", Sequence: 1, Recommendation: "Repaint edge line"},
				Materials:    []api.PricedMaterial{paint},
				Unpriced:     []api.ReviewItem{{ItemName: "Anti-skid coating", Unit: "sqm", Quantity: 40}},
				TotalCost:    decimal.NewFromInt(106560),
				Rationale:    "Repaint edge line.",
			}},
		}},
		ConfidenceScore: 0.95,
		ComplianceScore: 100,
		ReviewItems:     []api.ReviewItem{{InterventionID: "RM#1", ItemName: "Anti-skid coating", Reason: "no official rate"}},
	}
}

func TestRenderFormats(t *testing.T) {
	est := sampleEstimate()

	var table bytes.Buffer
	require.NoError(t, render(&table, "table", est))
	assert.Contains(t, table.String(), "INR 106560.00")
	assert.Contains(t, table.String(), "RM Road Markings")
	assert.Contains(t, table.String(), "576 kg Thermoplastic paint")
	assert.Contains(t, table.String(), "REVIEW")

	var md bytes.Buffer
	require.NoError(t, render(&md, "markdown", est))
	assert.Contains(t, md.String(), "| Thermoplastic paint | 576 | kg | 185.00 | 106560.00 | state-sor-2023 |")
	assert.Contains(t, md.String(), "**RM#1**: Repaint edge line.")
	assert.Contains(t, md.String(), "### Materials Requiring Review")

	var js bytes.Buffer
	require.NoError(t, render(&js, "json", est))
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(js.Bytes(), &decoded))
	assert.Equal(t, "est-1", decoded["id"])
	assert.Equal(t, "incomplete", decoded["status"])

	assert.Error(t, render(&js, "xml", est))
}

func TestRenderQuote(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderQuote(&buf, "glass beads", api.PriceQuote{
		UnitPrice:   decimal.NewFromInt(140),
		RateUnit:    units.UnitKg,
		MatchedName: "Glass Beads (drop-on)",
		Source:      "state-sor-2023",
		Tier:        "reference",
		Official:    true,
	}))
	assert.Contains(t, buf.String(), "Matched:     Glass Beads (drop-on)")
	assert.Contains(t, buf.String(), "140.00 per kg")
}

func TestTruncateAndCategory(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab...", truncate("abcdefgh", 5))
	assert.Equal(t, "unknown", string(categoryFlag("")))
	assert.Equal(t, "speed_hump", string(categoryFlag("speed_hump")))
}
