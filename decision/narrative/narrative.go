// Package narrative writes the rationale attached to each priced
// intervention. Narrators only supply prose; every quantity, price, total
// and clause in the output is rendered from engine values.
package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/llm"
)

// Narrative sources.
const (
	SourceAI       = "ai"
	SourceTemplate = "template"
)

// Subject is everything a narrator may describe.
type Subject struct {
	Intervention api.Intervention
	Category     api.Category
	Materials    []api.PricedMaterial
	Unpriced     []api.ReviewItem
	Total        decimal.Decimal
	Assumptions  []string
}

// Narrator produces a rationale for one intervention.
type Narrator interface {
	Narrate(ctx context.Context, s Subject) (string, error)
}

// ============================================================================
// Template
// ============================================================================

// Template is the deterministic narrator used when no model is configured
// or the model fails.
type Template struct{}

func (Template) Narrate(_ context.Context, s Subject) (string, error) {
	return Render(s), nil
}

// Render builds the deterministic rationale.
func Render(s Subject) string {
	var sb strings.Builder
	iv := s.Intervention

	rec := strings.TrimSuffix(strings.TrimSpace(iv.Recommendation), ".")
	if rec == "" {
		rec = fmt.Sprintf("Treat %s", strings.ReplaceAll(string(s.Category), "_", " "))
	}
	sb.WriteString(rec)
	if iv.Clause != "" {
		fmt.Fprintf(&sb, " as per %s", iv.Clause)
	}
	if iv.Location.Chainage != "" {
		fmt.Fprintf(&sb, " at chainage %s", iv.Location.Chainage)
	}
	sb.WriteString(".")

	switch len(s.Materials) {
	case 0:
		sb.WriteString(" No material could be priced.")
	default:
		names := make([]string, 0, len(s.Materials))
		for _, m := range s.Materials {
			names = append(names, fmt.Sprintf("%s %s %s", formatQty(m.Qty), m.CanonicalUnit, m.ItemName))
		}
		fmt.Fprintf(&sb, " Bill of materials: %s, totalling INR %s.", strings.Join(names, "; "), s.Total.StringFixed(2))
	}
	if n := len(s.Unpriced); n > 0 {
		fmt.Fprintf(&sb, " %d item(s) need manual pricing.", n)
	}
	if len(s.Assumptions) > 0 {
		sb.WriteString(" Quantities rest on stated assumptions.")
	}
	return sb.String()
}

func formatQty(q float64) string {
	return decimal.NewFromFloat(q).String()
}

// ============================================================================
// Model-backed narrator
// ============================================================================

// AINarrator asks a generative model for a short engineering rationale and
// appends the engine's bill-of-materials summary to it.
type AINarrator struct {
	gen    llm.Generator
	logger *slog.Logger
}

func NewAINarrator(gen llm.Generator, logger *slog.Logger) *AINarrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &AINarrator{gen: gen, logger: logger}
}

type aiReply struct {
	Rationale string `json:"rationale"`
}

func (n *AINarrator) Narrate(ctx context.Context, s Subject) (string, error) {
	if n.gen == nil {
		return "", errors.New("no generator configured")
	}
	reply, err := n.gen.Generate(ctx, prompt(s))
	if err != nil {
		return "", err
	}
	var r aiReply
	if err := json.Unmarshal([]byte(llm.ExtractJSON(reply)), &r); err != nil {
		return "", fmt.Errorf("narrative reply: %w", err)
	}
	text := strings.TrimSpace(r.Rationale)
	if text == "" {
		return "", errors.New("narrative reply has no rationale")
	}
	if !strings.HasSuffix(text, ".") {
		text += "."
	}
	return text + " " + summary(s), nil
}

func prompt(s Subject) string {
	var sb strings.Builder
	sb.WriteString("You are a road safety engineer. In at most three sentences, explain why the ")
	sb.WriteString("recommended intervention addresses the observed hazard. Do not state any ")
	sb.WriteString("quantities, prices or totals.\n")
	fmt.Fprintf(&sb, "Observation: %s\n", s.Intervention.Observation)
	fmt.Fprintf(&sb, "Recommendation: %s\n", s.Intervention.Recommendation)
	if s.Intervention.Clause != "" {
		fmt.Fprintf(&sb, "Governing clause: %s\n", s.Intervention.Clause)
	}
	sb.WriteString(`Reply as JSON: {"rationale": "..."}`)
	return sb.String()
}

func summary(s Subject) string {
	msg := fmt.Sprintf("Estimated cost INR %s over %d priced item(s)", s.Total.StringFixed(2), len(s.Materials))
	if s.Intervention.Clause != "" {
		msg += fmt.Sprintf(" per %s", s.Intervention.Clause)
	}
	return msg + "."
}

// Compose runs n and falls back to the template on any failure. It returns
// the rationale and its source.
func Compose(ctx context.Context, n Narrator, s Subject, logger *slog.Logger) (string, string) {
	if n == nil {
		return Render(s), SourceTemplate
	}
	if _, ok := n.(Template); ok {
		return Render(s), SourceTemplate
	}
	text, err := n.Narrate(ctx, s)
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("narrative generation failed, using template", "intervention", s.Intervention.ID(), "error", err)
		return Render(s), SourceTemplate
	}
	return text, SourceAI
}
