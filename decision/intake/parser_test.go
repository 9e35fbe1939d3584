package intake

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"roadsafety-cost/pkg/api"
	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/platform"
)

const interpretation = `{
  "interventions": [
    {
      "section_id": "RM",
      "section_name": "Road Marking",
      "sequence": "2",
      "location": {"road": "NH-48", "chainage": "10+900 to 11+100", "side": "LHS"},
      "observation": "Edge line faded for about 120 m",
      "recommendation": "Repaint edge line with thermoplastic paint",
      "clause": "IRC:35-2015 cl. 4.3",
      "materials": [
        {"item_name": "Thermoplastic road marking paint", "quantity": "12,5", "unit": "Kgs."},
        {"item_name": "Glass beads (drop-on)", "quantity": null, "unit": "kg"},
        {"name": "Thermoplastic primer", "quantity": 3, "unit": "litre"},
        {"item_name": "", "quantity": 1, "unit": "nos"}
      ]
    },
    {
      "section_name": "Pothole",
      "chainage": "3+200",
      "observation": "2 potholes of 0.5 sqm each, 60 mm deep",
      "recommendation": "Patch with cold mix",
      "materials": "see annexure"
    }
  ]
}`

func TestParseCoercesLooseValues(t *testing.T) {
	p := NewParser(platform.DiscardLogger())
	b, err := p.Parse(strings.NewReader(interpretation))
	require.NoError(t, err)
	require.Len(t, b.Interventions, 2)

	rm := b.Interventions[0]
	assert.Equal(t, "RM#2", rm.ID())
	assert.Equal(t, "NH-48", rm.Location.Road)
	assert.Equal(t, "IRC:35-2015 cl. 4.3", rm.Clause)
	require.Len(t, rm.Materials, 3)

	paint := rm.Materials[0]
	require.NotNil(t, paint.Quantity)
	assert.Equal(t, 12.5, *paint.Quantity)
	assert.Equal(t, "12,5", paint.RawQuantity)
	assert.Equal(t, "Kgs.", paint.Unit)
	assert.Equal(t, api.OriginMapping, paint.Origin)

	assert.Nil(t, rm.Materials[1].Quantity)
	assert.Equal(t, "Thermoplastic primer", rm.Materials[2].ItemName)
	assert.Equal(t, 3.0, *rm.Materials[2].Quantity)

	ph := b.Interventions[1]
	assert.Equal(t, "Pothole", ph.SectionID)
	assert.Equal(t, 1, ph.Sequence)
	assert.Equal(t, "3+200", ph.Location.Chainage)
	assert.Empty(t, ph.Materials)

	assert.Contains(t, b.Notes, `RM#2: Thermoplastic road marking paint: quantity "12,5" read as 12.5`)
	assert.Contains(t, b.Notes, "RM#2: material without a name skipped")
	assert.Contains(t, b.Notes, "Pothole#1: material list unreadable, treated as empty")
}

func TestParseBareArray(t *testing.T) {
	p := NewParser(nil)
	b, err := p.ParseBytes([]byte(`[{"section_id":"S","observation":"x"},{"section_id":"S"}]`))
	require.NoError(t, err)
	require.Len(t, b.Interventions, 2)
	assert.Equal(t, 1, b.Interventions[0].Sequence)
	assert.Equal(t, 2, b.Interventions[1].Sequence)
}

func TestParseShapeMismatch(t *testing.T) {
	tests := []struct {
		name string
		in   string
	}{
		{"not json", `interventions: none`},
		{"wrong top-level type", `{"interventions": "none"}`},
		{"empty list", `{"interventions": []}`},
		{"intervention is a string", `["marking"]`},
		{"empty input", ``},
	}
	p := NewParser(platform.DiscardLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.ParseBytes([]byte(tt.in))
			assert.ErrorIs(t, err, perrors.ErrExtractionEmpty)
		})
	}
}

func TestCoerceQuantity(t *testing.T) {
	tests := []struct {
		in      string
		want    *float64
		wantRaw string
	}{
		{`12.5`, api.Qty(12.5), ""},
		{`0`, api.Qty(0), ""},
		{`-4`, api.Qty(-4), ""},
		{`"1,250"`, api.Qty(1250), "1,250"},
		{`"12,5"`, api.Qty(12.5), "12,5"},
		{`"1,250.75"`, api.Qty(1250.75), "1,250.75"},
		{`"42.5 sqm"`, api.Qty(42.5), "42.5 sqm"},
		{`"TBD"`, nil, "TBD"},
		{`null`, nil, ""},
		{``, nil, ""},
		{`true`, nil, "true"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, raw := CoerceQuantity(json.RawMessage(tt.in))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantRaw, raw)
		})
	}
}
