package units

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Unit
	}{
		{"plain nos", "nos", UnitNos},
		{"number word", "Number", UnitNos},
		{"each", "each", UnitNos},
		{"abbreviated no", "No.", UnitNos},
		{"square metre dotted", "sq.m", UnitSqm},
		{"sqmt", "SQMT", UnitSqm},
		{"m2", "m2", UnitSqm},
		{"superscript", "m²", UnitSqm},
		{"cubic superscript", "m³", UnitCum},
		{"cu.m", "Cu.M", UnitCum},
		{"running metre", "rmt", UnitMetre},
		{"litre", "Litres", UnitLitre},
		{"kgs", "KGS", UnitKg},
		{"padded", "  sq   m  ", UnitSqm},
		{"unknown keeps first token", "Drums of 200L", Unit("drums")},
		{"unknown trailing period", "Bags.", Unit("bags")},
		{"empty", "", Unit("")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.raw))
		})
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	for _, raw := range []string{"sq.m", "Each", "cu m", "Drums of 200L", "bags."} {
		once := Normalize(raw)
		assert.Equal(t, once, Normalize(string(once)), raw)
	}
}

func TestIsCountable(t *testing.T) {
	for _, u := range []Unit{UnitNos, UnitSet, UnitPair, UnitBundle, UnitUnit} {
		assert.True(t, IsCountable(u), u)
	}
	for _, u := range []Unit{UnitSqm, UnitCum, UnitKg, UnitMetre, Unit("drums")} {
		assert.False(t, IsCountable(u), u)
	}
}

func TestRound(t *testing.T) {
	assert.Equal(t, 3.0, Round(2.6, UnitNos))
	assert.Equal(t, 80.0, Round(80.0000001, UnitSqm))
	assert.Equal(t, 0.044, Round(0.0440000001, UnitCum))
	assert.Equal(t, 1.23, Round(1.234, UnitKg))
	assert.True(t, IsKnown(UnitCum))
	assert.False(t, IsKnown(Unit("drums")))
}
