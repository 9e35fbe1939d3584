// Package units provides canonical unit types and normalization.
package units

import (
	"math"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Unit represents a canonical unit of measure.
type Unit string

const (
	// Countable units
	UnitNos    Unit = "nos"
	UnitSet    Unit = "set"
	UnitPair   Unit = "pair"
	UnitBundle Unit = "bundle"
	UnitUnit   Unit = "unit"

	// Linear units
	UnitMetre     Unit = "m"
	UnitKilometre Unit = "km"
	UnitMM        Unit = "mm"

	// Area and volume
	UnitSqm Unit = "sqm"
	UnitCum Unit = "cum"

	// Mass and liquid
	UnitKg    Unit = "kg"
	UnitTonne Unit = "tonne"
	UnitLitre Unit = "ltr"
)

var countable = map[Unit]bool{
	UnitNos:    true,
	UnitSet:    true,
	UnitPair:   true,
	UnitBundle: true,
	UnitUnit:   true,
}

// aliases maps lower-cased, NFKC-folded spellings to canonical units.
var aliases = map[string]Unit{
	"nos": UnitNos, "no": UnitNos, "nos.": UnitNos, "no.": UnitNos, "number": UnitNos,
	"numbers": UnitNos, "each": UnitNos, "ea": UnitNos, "pc": UnitNos, "pcs": UnitNos,
	"piece": UnitNos, "pieces": UnitNos, "nr": UnitNos, "nrs": UnitNos,

	"set": UnitSet, "sets": UnitSet,
	"pair": UnitPair, "pairs": UnitPair,
	"bundle": UnitBundle, "bundles": UnitBundle,
	"unit": UnitUnit, "units": UnitUnit,

	"sqm": UnitSqm, "sq.m": UnitSqm, "sq m": UnitSqm, "sq.m.": UnitSqm, "sqmt": UnitSqm,
	"sq.mt": UnitSqm, "sq mt": UnitSqm, "m2": UnitSqm, "sq.metre": UnitSqm,
	"square meter": UnitSqm, "square meters": UnitSqm, "square metre": UnitSqm,
	"square metres": UnitSqm,

	"cum": UnitCum, "cu.m": UnitCum, "cu m": UnitCum, "cumt": UnitCum, "cu.mt": UnitCum,
	"m3": UnitCum, "cubic meter": UnitCum, "cubic meters": UnitCum, "cubic metre": UnitCum,
	"cubic metres": UnitCum,

	"m": UnitMetre, "mtr": UnitMetre, "mtrs": UnitMetre, "meter": UnitMetre,
	"meters": UnitMetre, "metre": UnitMetre, "metres": UnitMetre, "rm": UnitMetre,
	"rmt": UnitMetre, "lm": UnitMetre, "running metre": UnitMetre, "running meter": UnitMetre,
	"km": UnitKilometre, "kms": UnitKilometre, "kilometre": UnitKilometre,
	"kilometer": UnitKilometre, "mm": UnitMM,

	"kg": UnitKg, "kgs": UnitKg, "kilogram": UnitKg, "kilograms": UnitKg,
	"t": UnitTonne, "mt": UnitTonne, "ton": UnitTonne, "tons": UnitTonne, "tonne": UnitTonne,
	"tonnes": UnitTonne,

	"l": UnitLitre, "ltr": UnitLitre, "ltrs": UnitLitre, "lit": UnitLitre, "litre": UnitLitre,
	"litres": UnitLitre, "liter": UnitLitre, "liters": UnitLitre,
}

// Normalize maps a raw unit string to its canonical form. Unknown units
// degrade to their first whitespace-delimited token, lower-cased with
// trailing periods removed. It never fails.
func Normalize(raw string) Unit {
	s := strings.ToLower(strings.TrimSpace(norm.NFKC.String(raw)))
	if s == "" {
		return ""
	}
	s = strings.Join(strings.Fields(s), " ")

	if u, ok := aliases[s]; ok {
		return u
	}
	trimmed := strings.TrimRight(s, ".")
	if u, ok := aliases[trimmed]; ok {
		return u
	}

	first := strings.TrimRight(strings.Fields(s)[0], ".")
	if u, ok := aliases[first]; ok {
		return u
	}
	return Unit(first)
}

// IsCountable reports whether quantities in u must be integral.
func IsCountable(u Unit) bool {
	return countable[u]
}

// IsKnown reports whether u is part of the canonical vocabulary.
func IsKnown(u Unit) bool {
	for _, c := range aliases {
		if c == u {
			return true
		}
	}
	return false
}

// Precision returns the number of decimal places quantities in u keep.
func Precision(u Unit) int {
	if IsCountable(u) {
		return 0
	}
	switch u {
	case UnitSqm, UnitMetre, UnitKg, UnitLitre, UnitMM:
		return 2
	default:
		// cum, tonne, km and anything unknown
		return 3
	}
}

// Round rounds qty to the precision of u.
func Round(qty float64, u Unit) float64 {
	p := math.Pow(10, float64(Precision(u)))
	return math.Round(qty*p) / p
}

// MMToMetres converts millimetres to metres.
func MMToMetres(mm float64) float64 {
	return mm / 1000
}

// ChainageToMetres converts a km+m chainage pair into metres.
func ChainageToMetres(km, m float64) float64 {
	return km*1000 + m
}
