package dimension

import (
	"fmt"
	"math"
	"strings"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/units"
)

// Input is the text a formula may read.
type Input struct {
	SectionName    string
	Observation    string
	Recommendation string
	Chainage       string
}

func (in Input) text() string {
	return in.Observation + " " + in.Recommendation
}

// Result is the output of a formula: derived materials plus every default
// that had to be substituted.
type Result struct {
	Category     api.Category              `json:"category"`
	Materials    []api.MaterialRequirement `json:"materials"`
	Assumptions  []string                  `json:"assumptions"`
	DefaultsUsed bool                      `json:"defaults_used"`
}

// Formula derives material quantities for one category.
type Formula func(in Input) Result

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// Marking: two 150 mm edge lines plus a 100 mm centre line.
	DefaultMarkingLength = 100.0
	EdgeLineWidth        = 0.15
	CentreLineWidth      = 0.10
	MarkingThickness     = 0.003  // m, 3 mm thermoplastic
	ThermoplasticDensity = 2400.0 // kg/m3
	BeadsPerSqm          = 0.4    // kg
	PrimerPerSqm         = 0.1    // ltr

	DefaultCrossingWidth = 4.0
	CrossingLength       = 3.0
	CrossingStripeFactor = 0.5

	DefaultStudLength = 100.0
	StudSpacing       = 10.0
	AdhesivePerStud   = 0.5 // kg

	DefaultPotholeArea  = 1.0  // sqm
	DefaultPotholeDepth = 0.05 // m
	ColdMixWastage      = 1.1
	TackCoatPerSqm      = 0.25 // kg

	SignFootingVolume = 0.1 // cum

	DefaultGuardrailLength = 50.0
	GuardrailPanelLength   = 4.0
	GuardrailPostSpacing   = 2.0
	PostFootingVolume      = 0.08 // cum per post
	GuardrailEndTerminals  = 2

	DefaultChevronLength = 60.0
	ChevronSpacing       = 15.0
	ChevronSheeting      = 0.45 // sqm per board
	ChevronFooting       = 0.05 // cum per post

	DefaultRoadWidth    = 7.0
	HumpLength          = 3.7  // m along the carriageway
	HumpHeight          = 0.10 // m
	HumpProfileFactor   = 0.67 // parabolic segment
	HumpMarkingCoverage = 0.25
	HumpWarningSigns    = 2

	DefaultFootpathLength = 100.0
	DefaultFootpathWidth  = 1.5
	FootpathBaseDepth     = 0.10
	SandBeddingDepth      = 0.05

	DefaultDrainLength  = 100.0
	DrainExcavation     = 1.0  // cum per m
	DrainPCCBed         = 0.09 // cum per m
	DrainRCC            = 0.35 // cum per m
	ReinforcementPerCum = 80.0 // kg
)

// paintKg converts a marked area to thermoplastic mass.
func paintKg(area float64) float64 {
	return area * MarkingThickness * ThermoplasticDensity
}

// signTiers maps a sign size in mm to its retro-reflective sheeting area.
var signTiers = map[int]float64{
	600:  0.28,
	900:  0.35,
	1200: 0.62,
}

// ============================================================================
// DISPATCH TABLE
// ============================================================================

var formulas = map[api.Category]Formula{
	api.CategoryMarking:   markingFormula,
	api.CategoryCrossing:  crossingFormula,
	api.CategoryStuds:     studsFormula,
	api.CategoryPothole:   potholeFormula,
	api.CategorySign:      signFormula,
	api.CategoryGuardrail: guardrailFormula,
	api.CategoryChevron:   chevronFormula,
	api.CategorySpeedHump: speedHumpFormula,
	api.CategoryFootpath:  footpathFormula,
	api.CategoryDrainage:  drainageFormula,
}

// builder accumulates materials and assumptions for one formula run.
type builder struct {
	res Result
}

func newBuilder(c api.Category) *builder {
	return &builder{res: Result{Category: c, Materials: []api.MaterialRequirement{}, Assumptions: []string{}}}
}

func (b *builder) add(name string, qty float64, unit units.Unit, note string) {
	b.res.Materials = append(b.res.Materials, api.MaterialRequirement{
		ItemName: name,
		Quantity: api.Qty(qty),
		Unit:     string(unit),
		Note:     note,
		Origin:   api.OriginDimension,
	})
}

func (b *builder) assume(format string, args ...any) {
	b.res.DefaultsUsed = true
	b.res.Assumptions = append(b.res.Assumptions, fmt.Sprintf(format, args...))
}

func (b *builder) note(format string, args ...any) {
	b.res.Assumptions = append(b.res.Assumptions, fmt.Sprintf(format, args...))
}

// linearLength prefers the chainage span, then the observation, then def.
func (b *builder) linearLength(in Input, def float64, what string) float64 {
	if l, ok := ExtractChainageLength(in.Chainage); ok {
		b.note("%s length %.0f m taken from chainage %s", what, l, in.Chainage)
		return l
	}
	if l, ok := ExtractLength(in.Observation); ok {
		return l
	}
	b.assume("%s length not stated; default of %.0f m assumed", what, def)
	return def
}

// ============================================================================
// FORMULAS
// ============================================================================

func markingFormula(in Input) Result {
	b := newBuilder(api.CategoryMarking)
	// Chainage spans the whole stretch, not the faded portion.
	length, ok := ExtractLength(in.Observation)
	if !ok {
		length = DefaultMarkingLength
		b.assume("marking length not stated; default of %.0f m assumed", DefaultMarkingLength)
	}
	area := length * (2*EdgeLineWidth + CentreLineWidth)
	note := fmt.Sprintf("area = %.2f m × (2×%.2f + %.2f) = %.2f sqm", length, EdgeLineWidth, CentreLineWidth, area)

	b.add("Thermoplastic road marking paint", paintKg(area), units.UnitKg, note+"; × 3 mm × 2400 kg/m3")
	b.add("Glass beads (drop-on)", area*BeadsPerSqm, units.UnitKg, note+"; × 0.4 kg/sqm")
	b.add("Thermoplastic primer", area*PrimerPerSqm, units.UnitLitre, note+"; × 0.1 ltr/sqm")
	return b.res
}

func crossingFormula(in Input) Result {
	b := newBuilder(api.CategoryCrossing)
	text := in.text()
	width, ok := ExtractLaneWidth(text)
	if !ok {
		width, ok = ExtractWidth(text)
	}
	if !ok {
		width = DefaultCrossingWidth
		b.assume("carriageway width not stated; default of %.0f m assumed", DefaultCrossingWidth)
	}
	area := width * CrossingLength * CrossingStripeFactor
	note := fmt.Sprintf("area = %.2f m × %.0f m × %.1f stripe coverage = %.2f sqm", width, CrossingLength, CrossingStripeFactor, area)

	b.add("Thermoplastic road marking paint", paintKg(area), units.UnitKg, note+"; × 3 mm × 2400 kg/m3")
	b.add("Glass beads (drop-on)", area*BeadsPerSqm, units.UnitKg, note+"; × 0.4 kg/sqm")
	return b.res
}

func studsFormula(in Input) Result {
	b := newBuilder(api.CategoryStuds)
	length := b.linearLength(in, DefaultStudLength, "stud")
	studs := math.Ceil(length / StudSpacing)

	b.add("Road stud (raised pavement marker)", studs, units.UnitNos, fmt.Sprintf("ceil(%.0f m / %.0f m spacing)", length, StudSpacing))
	b.add("Epoxy adhesive for road studs", studs*AdhesivePerStud, units.UnitKg, fmt.Sprintf("%.0f studs × %.1f kg", studs, AdhesivePerStud))
	return b.res
}

func potholeFormula(in Input) Result {
	b := newBuilder(api.CategoryPothole)
	text := in.text()
	area, areaOK := ExtractArea(text)
	depth, depthOK := ExtractDepth(text)
	if !areaOK || !depthOK {
		area, depth = DefaultPotholeArea, DefaultPotholeDepth
		b.assume("pothole area and depth not both stated; default of %.0f sqm × %.0f mm assumed", DefaultPotholeArea, depth*1000)
	}
	volume := area * depth
	note := fmt.Sprintf("volume = %.2f sqm × %.3f m = %.3f cum", area, depth, volume)

	b.add("Cold mix asphalt", volume*ColdMixWastage, units.UnitCum, note+"; × 1.1 wastage")
	b.add("Bitumen emulsion tack coat", area*TackCoatPerSqm, units.UnitKg, fmt.Sprintf("%.2f sqm × %.2f kg/sqm", area, TackCoatPerSqm))
	return b.res
}

// SignSize picks the 600/900/1200 mm tier from the sign description.
func SignSize(text string) int {
	t := fold(text)
	switch {
	case strings.Contains(t, "1200 mm") || strings.Contains(t, "1200mm"):
		return 1200
	case strings.Contains(t, "600 mm") || strings.Contains(t, "600mm"):
		return 600
	case strings.Contains(t, "900 mm") || strings.Contains(t, "900mm"):
		return 900
	case strings.Contains(t, "speed limit"), strings.Contains(t, "no entry"),
		strings.Contains(t, "circular"), strings.Contains(t, "prohibitory"):
		return 600
	case strings.Contains(t, "major"):
		return 1200
	default:
		return 900
	}
}

func signFormula(in Input) Result {
	b := newBuilder(api.CategorySign)
	size := SignSize(in.text())
	count, ok := ExtractCount(in.text(), "sign", "signboard", "sign board")
	if !ok {
		count = 1
	}
	n := float64(count)
	b.note("sign size %d mm selected from description", size)

	b.add("Retro-reflective sheeting (Type XI)", n*signTiers[size], units.UnitSqm, fmt.Sprintf("%d × %.2f sqm for %d mm sign", count, signTiers[size], size))
	b.add(fmt.Sprintf("Aluminium sign plate %d mm", size), n, units.UnitNos, "one plate per sign")
	b.add("GI sign post", n, units.UnitNos, "one post per sign")
	b.add("PCC M15 for sign foundation", n*SignFootingVolume, units.UnitCum, fmt.Sprintf("%d × %.1f cum", count, SignFootingVolume))
	return b.res
}

func guardrailFormula(in Input) Result {
	b := newBuilder(api.CategoryGuardrail)
	length := b.linearLength(in, DefaultGuardrailLength, "barrier")
	panels := math.Ceil(length / GuardrailPanelLength)
	posts := math.Ceil(length/GuardrailPostSpacing) + 1

	b.add("W-beam metal crash barrier panel", panels, units.UnitNos, fmt.Sprintf("ceil(%.0f m / %.0f m)", length, GuardrailPanelLength))
	b.add("Steel post for W-beam barrier", posts, units.UnitNos, fmt.Sprintf("ceil(%.0f m / %.0f m) + 1", length, GuardrailPostSpacing))
	b.add("Spacer block", posts, units.UnitNos, "one per post")
	b.add("PCC M20 for post foundation", posts*PostFootingVolume, units.UnitCum, fmt.Sprintf("%.0f posts × %.2f cum", posts, PostFootingVolume))
	b.add("End terminal for crash barrier", GuardrailEndTerminals, units.UnitNos, "two terminals per run")
	return b.res
}

func chevronFormula(in Input) Result {
	b := newBuilder(api.CategoryChevron)
	count, ok := ExtractCount(in.text(), "chevron")
	if !ok {
		length, lok := ExtractLength(in.Observation)
		if !lok {
			length = DefaultChevronLength
			b.assume("curve length not stated; default of %.0f m assumed", DefaultChevronLength)
		}
		count = int(math.Ceil(length / ChevronSpacing))
		b.note("%d chevrons at %.0f m spacing over %.0f m", count, ChevronSpacing, length)
	}
	n := float64(count)

	b.add("Chevron sign board 600x750 mm", n, units.UnitNos, "one board per chevron")
	b.add("Retro-reflective sheeting (Type XI)", n*ChevronSheeting, units.UnitSqm, fmt.Sprintf("%d × %.2f sqm", count, ChevronSheeting))
	b.add("GI sign post", n, units.UnitNos, "one post per chevron")
	b.add("PCC M15 for sign foundation", n*ChevronFooting, units.UnitCum, fmt.Sprintf("%d × %.2f cum", count, ChevronFooting))
	return b.res
}

func speedHumpFormula(in Input) Result {
	b := newBuilder(api.CategorySpeedHump)
	text := in.text()
	count, ok := ExtractCount(text, "hump", "speed breaker", "breaker", "speed table")
	if !ok {
		count = 1
		b.assume("number of humps not stated; one hump assumed")
	}
	width, ok := ExtractWidth(text)
	if !ok {
		width = DefaultRoadWidth
		b.assume("road width not stated; default of %.0f m assumed", DefaultRoadWidth)
	}
	n := float64(count)
	volume := n * width * HumpLength * HumpHeight * HumpProfileFactor
	markArea := n * width * HumpLength * HumpMarkingCoverage

	b.add("Bituminous concrete", volume, units.UnitCum, fmt.Sprintf("%d × %.1f m × %.1f m × %.2f m × %.2f profile", count, width, HumpLength, HumpHeight, HumpProfileFactor))
	b.add("Thermoplastic road marking paint", paintKg(markArea), units.UnitKg, fmt.Sprintf("%.2f sqm marked (%.0f%% coverage)", markArea, HumpMarkingCoverage*100))
	b.add("Speed hump warning sign", n*HumpWarningSigns, units.UnitNos, "two signs per hump")
	return b.res
}

func footpathFormula(in Input) Result {
	b := newBuilder(api.CategoryFootpath)
	length := b.linearLength(in, DefaultFootpathLength, "footpath")
	width, ok := ExtractWidth(in.text())
	if !ok {
		width = DefaultFootpathWidth
		b.assume("footpath width not stated; default of %.1f m assumed", DefaultFootpathWidth)
	}
	area := length * width
	note := fmt.Sprintf("area = %.0f m × %.1f m = %.2f sqm", length, width, area)

	b.add("PCC M15", area*FootpathBaseDepth, units.UnitCum, note+"; × 0.10 m base")
	b.add("Interlocking paver block 60 mm", area, units.UnitSqm, note)
	b.add("Sand bedding", area*SandBeddingDepth, units.UnitCum, note+"; × 0.05 m bedding")
	b.add("Precast kerb stone", length, units.UnitMetre, "kerb along footpath length")
	return b.res
}

func drainageFormula(in Input) Result {
	b := newBuilder(api.CategoryDrainage)
	length := b.linearLength(in, DefaultDrainLength, "drain")
	rcc := length * DrainRCC

	b.add("Earthwork excavation", length*DrainExcavation, units.UnitCum, fmt.Sprintf("%.0f m × %.2f cum/m", length, DrainExcavation))
	b.add("PCC M15", length*DrainPCCBed, units.UnitCum, fmt.Sprintf("%.0f m × %.2f cum/m bed", length, DrainPCCBed))
	b.add("RCC M25", rcc, units.UnitCum, fmt.Sprintf("%.0f m × %.2f cum/m", length, DrainRCC))
	b.add("Reinforcement steel Fe500", rcc*ReinforcementPerCum, units.UnitKg, fmt.Sprintf("%.2f cum × %.0f kg/cum", rcc, ReinforcementPerCum))
	return b.res
}
