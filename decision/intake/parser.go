// Package intake decodes the interpretation service's output into strict
// pipeline inputs. All inputs flow through here: loosely-typed quantities,
// units and sequence numbers are coerced once at this boundary.
package intake

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"regexp"
	"strconv"
	"strings"

	"roadsafety-cost/pkg/api"
	perrors "roadsafety-cost/pkg/errors"
)

// Batch is a decoded interpretation result.
type Batch struct {
	Interventions []api.Intervention `json:"interventions"`
	// Notes lists every coercion applied, one line per value.
	Notes []string `json:"notes,omitempty"`
}

// rawDocument accepts either a bare array or an object wrapping it.
type rawDocument struct {
	Interventions []json.RawMessage `json:"interventions"`
}

type rawIntervention struct {
	SectionID      string          `json:"section_id"`
	SectionName    string          `json:"section_name"`
	Category       string          `json:"category"`
	Sequence       json.RawMessage `json:"sequence"`
	Location       *api.Location   `json:"location"`
	Road           string          `json:"road"`
	Chainage       string          `json:"chainage"`
	Side           string          `json:"side"`
	Observation    string          `json:"observation"`
	Recommendation string          `json:"recommendation"`
	Clause         string          `json:"clause"`
	Materials      json.RawMessage `json:"materials"`
}

type rawMaterial struct {
	ItemName string          `json:"item_name"`
	Name     string          `json:"name"`
	Detail   string          `json:"detail"`
	Quantity json.RawMessage `json:"quantity"`
	Unit     json.RawMessage `json:"unit"`
	Note     string          `json:"note"`
}

// Parser decodes interpretation JSON.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a new interpretation parser
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// ParseFile parses an interpretation JSON file
func (p *Parser) ParseFile(path string) (*Batch, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open interpretation file: %w", err)
	}
	defer f.Close()
	return p.Parse(f)
}

// Parse parses interpretation JSON from a reader
func (p *Parser) Parse(r io.Reader) (*Batch, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read interpretation: %w", err)
	}
	return p.ParseBytes(data)
}

// ParseBytes parses interpretation JSON from bytes. A document that is not
// an intervention list is reported as ExtractionEmpty.
func (p *Parser) ParseBytes(data []byte) (*Batch, error) {
	data = bytes.TrimSpace(data)
	var items []json.RawMessage
	switch {
	case len(data) > 0 && data[0] == '[':
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, shapeError("document", err)
		}
	default:
		var doc rawDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, shapeError("document", err)
		}
		items = doc.Interventions
	}
	if len(items) == 0 {
		return nil, perrors.NewExtractionEmptyError("document", "no interventions in interpretation output")
	}

	b := &Batch{}
	perSection := map[string]int{}
	for i, raw := range items {
		iv, notes, err := p.intervention(raw, i)
		if err != nil {
			return nil, err
		}
		perSection[iv.SectionID]++
		if iv.Sequence == 0 {
			iv.Sequence = perSection[iv.SectionID]
		}
		b.Interventions = append(b.Interventions, iv)
		for _, n := range notes {
			b.Notes = append(b.Notes, fmt.Sprintf("%s: %s", iv.ID(), n))
		}
	}
	for _, n := range b.Notes {
		p.logger.Debug("intake coercion", "note", n)
	}
	return b, nil
}

func (p *Parser) intervention(raw json.RawMessage, idx int) (api.Intervention, []string, error) {
	var r rawIntervention
	if err := json.Unmarshal(raw, &r); err != nil {
		return api.Intervention{}, nil, shapeError(fmt.Sprintf("intervention %d", idx+1), err)
	}

	iv := api.Intervention{
		SectionID:      strings.TrimSpace(r.SectionID),
		SectionName:    strings.TrimSpace(r.SectionName),
		Observation:    strings.TrimSpace(r.Observation),
		Recommendation: strings.TrimSpace(r.Recommendation),
		Clause:         strings.TrimSpace(r.Clause),
		Location:       api.Location{Road: r.Road, Chainage: r.Chainage, Side: r.Side},
	}
	if r.Location != nil {
		iv.Location = *r.Location
	}
	if iv.SectionName == "" {
		iv.SectionName = strings.TrimSpace(r.Category)
	}
	if iv.SectionID == "" {
		iv.SectionID = iv.SectionName
	}

	var notes []string
	if seq, ok := coerceInt(r.Sequence); ok {
		iv.Sequence = seq
	} else if !isNull(r.Sequence) {
		notes = append(notes, fmt.Sprintf("sequence %s ignored", string(r.Sequence)))
	}

	if isNull(r.Materials) {
		return iv, notes, nil
	}
	var mats []rawMaterial
	if err := json.Unmarshal(r.Materials, &mats); err != nil {
		// A malformed list is treated as absent so quantities get derived.
		p.logger.Warn("material list has unexpected shape", "intervention", iv.ID(), "error", err)
		return iv, append(notes, "material list unreadable, treated as empty"), nil
	}
	for _, m := range mats {
		req, note := coerceMaterial(m)
		if req.ItemName == "" {
			notes = append(notes, "material without a name skipped")
			continue
		}
		if note != "" {
			notes = append(notes, fmt.Sprintf("%s: %s", req.ItemName, note))
		}
		iv.Materials = append(iv.Materials, req)
	}
	return iv, notes, nil
}

func coerceMaterial(m rawMaterial) (api.MaterialRequirement, string) {
	name := strings.TrimSpace(m.ItemName)
	if name == "" {
		name = strings.TrimSpace(m.Name)
	}
	qty, raw := CoerceQuantity(m.Quantity)
	req := api.MaterialRequirement{
		ItemName:    name,
		Detail:      strings.TrimSpace(m.Detail),
		Quantity:    qty,
		RawQuantity: raw,
		Unit:        coerceString(m.Unit),
		Note:        strings.TrimSpace(m.Note),
		Origin:      api.OriginMapping,
	}
	switch {
	case qty == nil && raw != "":
		return req, fmt.Sprintf("quantity %q is not a number", raw)
	case qty != nil && raw != "":
		return req, fmt.Sprintf("quantity %q read as %s", raw, strconv.FormatFloat(*qty, 'f', -1, 64))
	}
	return req, ""
}

// ============================================================================
// Scalar coercion
// ============================================================================

var leadingNumber = regexp.MustCompile(`^[-+]?\d[\d,]*(?:\.\d+)?`)

// CoerceQuantity reads a JSON quantity. Numbers pass through; strings such
// as "12.5", "1,250", "12,5" or "12.5 sqm" are read by their leading
// number. Null, absent, non-finite or unreadable values return nil. The
// second result is the raw text whenever the value was not a plain number.
func CoerceQuantity(raw json.RawMessage) (*float64, string) {
	if isNull(raw) {
		return nil, ""
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return finite(f), ""
	}

	s := coerceString(raw)
	if s == "" {
		return nil, strings.TrimSpace(string(raw))
	}
	m := leadingNumber.FindString(s)
	if m == "" {
		return nil, s
	}
	v, err := strconv.ParseFloat(normalizeSeparators(m), 64)
	if err != nil {
		return nil, s
	}
	return finite(v), s
}

// normalizeSeparators treats a single comma followed by exactly three
// digits as a thousands separator and any other single comma as a decimal
// comma.
func normalizeSeparators(s string) string {
	if strings.Count(s, ",") != 1 || strings.Contains(s, ".") {
		return strings.ReplaceAll(s, ",", "")
	}
	i := strings.Index(s, ",")
	if len(s)-i-1 == 3 {
		return strings.ReplaceAll(s, ",", "")
	}
	return strings.Replace(s, ",", ".", 1)
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func coerceInt(raw json.RawMessage) (int, bool) {
	if isNull(raw) {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, n > 0
	}
	if s := coerceString(raw); s != "" {
		n, err := strconv.Atoi(s)
		return n, err == nil && n > 0
	}
	return 0, false
}

func coerceString(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || bytes.Equal(t, []byte("null"))
}

func shapeError(what string, err error) error {
	e := perrors.NewExtractionEmptyError(what, "interpretation output has unexpected shape")
	e.Err = err
	return e
}
