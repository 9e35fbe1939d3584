package narrative

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/platform"
	"roadsafety-cost/pkg/units"
)

type mockGenerator struct {
	mock.Mock
}

func (m *mockGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	args := m.Called(ctx, prompt)
	return args.String(0), args.Error(1)
}

func subject() Subject {
	paint := api.NewPricedMaterial(api.NormalizedMaterial{
		MaterialRequirement: api.MaterialRequirement{ItemName: "Thermoplastic road marking paint"},
		CanonicalUnit:       units.UnitKg,
		Qty:                 576,
	}, api.PriceQuote{UnitPrice: decimal.NewFromInt(185)})

	return Subject{
		Intervention: api.Intervention{
			SectionID:      "RM",
			Sequence:       1,
			Location:       api.Location{Chainage: "10+900 to 11+100"},
			Observation:    "Edge line faded",
			Recommendation: "Repaint edge line.",
			Clause:         "IRC:35-2015 cl. 4.3",
		},
		Category:  api.CategoryMarking,
		Materials: []api.PricedMaterial{paint},
		Unpriced:  []api.ReviewItem{{ItemName: "Glass beads (drop-on)"}},
		Total:     paint.TotalPrice,
	}
}

func TestRenderIsDeterministic(t *testing.T) {
	s := subject()
	want := "Repaint edge line as per IRC:35-2015 cl. 4.3 at chainage 10+900 to 11+100. " +
		"Bill of materials: 576 kg Thermoplastic road marking paint, totalling INR 106560.00. " +
		"1 item(s) need manual pricing."
	assert.Equal(t, want, Render(s))
	assert.Equal(t, Render(s), Render(s))
}

func TestRenderWithoutMaterials(t *testing.T) {
	s := Subject{Category: api.CategorySpeedHump, Assumptions: []string{"width 7 m"}}
	assert.Equal(t, "Treat speed hump. No material could be priced. Quantities rest on stated assumptions.", Render(s))
}

func TestAINarratorAppendsEngineSummary(t *testing.T) {
	gen := &mockGenerator{}
	gen.On("Generate", mock.Anything, mock.AnythingOfType("string")).
		Return("```json\n{\"rationale\": \"Faded edge lines reduce night-time delineation\"}\n```", nil)

	n := NewAINarrator(gen, platform.DiscardLogger())
	text, src := Compose(context.Background(), n, subject(), platform.DiscardLogger())

	assert.Equal(t, SourceAI, src)
	assert.Equal(t, "Faded edge lines reduce night-time delineation. "+
		"Estimated cost INR 106560.00 over 1 priced item(s) per IRC:35-2015 cl. 4.3.", text)
	gen.AssertExpectations(t)
}

func TestComposeFallsBackToTemplate(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		err   error
	}{
		{"generator error", "", errors.New("quota")},
		{"not json", "I cannot help with that", nil},
		{"empty rationale", `{"rationale": "  "}`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &mockGenerator{}
			gen.On("Generate", mock.Anything, mock.Anything).Return(tt.reply, tt.err)

			text, src := Compose(context.Background(), NewAINarrator(gen, nil), subject(), platform.DiscardLogger())
			assert.Equal(t, SourceTemplate, src)
			assert.Equal(t, Render(subject()), text)
		})
	}
}

func TestComposeNilNarrator(t *testing.T) {
	text, src := Compose(context.Background(), nil, subject(), nil)
	assert.Equal(t, SourceTemplate, src)
	assert.NotEmpty(t, text)
}
