// Package estimation provides the Cost Aggregator
// Turns interventions into a priced bill of materials: quantities, unit
// normalization, price resolution, totals, narrative and validation
package estimation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"roadsafety-cost/decision/dimension"
	"roadsafety-cost/decision/narrative"
	"roadsafety-cost/decision/pricing"
	"roadsafety-cost/decision/validation"
	"roadsafety-cost/pkg/api"
	"roadsafety-cost/pkg/confidence"
	perrors "roadsafety-cost/pkg/errors"
	"roadsafety-cost/pkg/platform"
	"roadsafety-cost/pkg/units"
)

// Currency of every amount in an estimate.
const Currency = "INR"

// Audit trail steps.
const (
	StepQuantity = "quantity"
	StepDrop     = "drop"
	StepPrice    = "price"
	StepUnpriced = "unpriced"
)

// Finding codes raised by the engine itself.
const (
	CodeDefaultsUsed = "DIMENSION_DEFAULTS"
)

// PriceResolver prices one material. *pricing.Resolver implements it.
type PriceResolver interface {
	Resolve(ctx context.Context, q pricing.Query, mode pricing.Mode) (api.PriceQuote, error)
}

// Engine is the Cost Aggregator
type Engine struct {
	resolver    PriceResolver
	dimension   *dimension.Parser
	validator   *validation.Validator
	narrator    narrative.Narrator
	metrics     *platform.Metrics
	logger      *slog.Logger
	parallelism int
	now         func() time.Time
	newID       func() string
}

// Option configures an Engine.
type Option func(*Engine)

func WithDimensionParser(p *dimension.Parser) Option { return func(e *Engine) { e.dimension = p } }
func WithValidator(v *validation.Validator) Option   { return func(e *Engine) { e.validator = v } }
func WithNarrator(n narrative.Narrator) Option       { return func(e *Engine) { e.narrator = n } }
func WithMetrics(m *platform.Metrics) Option         { return func(e *Engine) { e.metrics = m } }
func WithLogger(l *slog.Logger) Option               { return func(e *Engine) { e.logger = l } }
func WithClock(now func() time.Time) Option          { return func(e *Engine) { e.now = now } }
func WithIDGenerator(f func() string) Option         { return func(e *Engine) { e.newID = f } }

// WithParallelism bounds concurrent price resolutions per intervention.
func WithParallelism(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// NewEngine creates a new estimation engine
func NewEngine(resolver PriceResolver, opts ...Option) *Engine {
	e := &Engine{
		resolver:    resolver,
		narrator:    narrative.Template{},
		logger:      slog.Default(),
		parallelism: 4,
		now:         time.Now,
		newID:       uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.dimension == nil {
		e.dimension = dimension.NewParser(e.logger)
	}
	if e.validator == nil {
		e.validator = validation.NewValidator()
	}
	return e
}

// Request contains inputs for cost estimation
type Request struct {
	Interventions []api.Intervention
	Mode          pricing.Mode
}

// Estimate runs the pipeline over every intervention. Material-level
// failures never abort the run. In strict mode an intervention left with
// no priced material fails the estimate: the full result is returned
// together with an ESTIMATE_FAILED error.
func (e *Engine) Estimate(ctx context.Context, req Request) (*api.Estimate, error) {
	est := &api.Estimate{
		ID:          e.newID(),
		CreatedAt:   e.now().UTC(),
		Mode:        req.Mode.String(),
		Currency:    Currency,
		Sections:    make([]api.SectionCost, 0),
		ReviewItems: make([]api.ReviewItem, 0),
		AuditTrail:  make([]api.AuditEntry, 0),
	}

	sectionIdx := make(map[string]int)
	var failed []string

	for _, iv := range req.Interventions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ic, err := e.estimateIntervention(ctx, iv, req.Mode, est)
		if err != nil {
			return nil, err
		}
		if ic.Failed {
			failed = append(failed, iv.ID())
		}

		i, ok := sectionIdx[iv.SectionID]
		if !ok {
			i = len(est.Sections)
			sectionIdx[iv.SectionID] = i
			est.Sections = append(est.Sections, api.SectionCost{
				SectionID:   iv.SectionID,
				SectionName: iv.SectionName,
			})
		}
		est.Sections[i].Interventions = append(est.Sections[i].Interventions, ic)
		est.ReviewItems = append(est.ReviewItems, ic.Unpriced...)
	}

	Aggregate(est)
	est.ConfidenceScore = estimateConfidence(est)
	est.ComplianceScore = validation.ComplianceScore(est)
	est.IsIncomplete = len(est.ReviewItems) > 0 || len(failed) > 0

	switch {
	case req.Mode == pricing.ModeStrict && len(failed) > 0:
		est.Status = api.StatusFailed
		ferr := perrors.NewEstimateFailedError(failed)
		est.Errors = append(est.Errors, estimationError("", ferr))
		e.logger.Error("estimate failed", "id", est.ID, "interventions", failed)
		return est, ferr
	case est.IsIncomplete:
		est.Status = api.StatusIncomplete
	default:
		est.Status = api.StatusComplete
	}

	e.logger.Info("estimate complete",
		"id", est.ID,
		"status", est.Status,
		"total", est.Total.StringFixed(2),
		"review_items", len(est.ReviewItems))
	return est, nil
}

// estimateIntervention prices a single intervention
func (e *Engine) estimateIntervention(ctx context.Context, iv api.Intervention, mode pricing.Mode, est *api.Estimate) (api.InterventionCost, error) {
	id := iv.ID()
	ic := api.InterventionCost{
		Intervention: iv,
		Category:     dimension.Classify(iv.SectionName, iv.Recommendation),
		Materials:    make([]api.PricedMaterial, 0),
		Assumptions:  make([]string, 0),
	}

	// Nominal materials: the mapping, else derived from the text.
	nominal := iv.Materials
	origin := api.OriginMapping
	if dimension.NeedsDerivation(iv.Materials) {
		origin = api.OriginDimension
		res, err := e.dimension.Parse(iv)
		ic.Category = res.Category
		nominal = res.Materials
		ic.Assumptions = append(ic.Assumptions, res.Assumptions...)
		if err != nil {
			e.recordError(est, id, err)
		}
		if res.DefaultsUsed {
			ic.Findings = append(ic.Findings, api.Finding{
				Code:     CodeDefaultsUsed,
				Severity: perrors.SeverityLow,
				Message:  "quantities derived from default dimensions",
			})
		}
	}

	// Quantity gate and unit normalization.
	var normalized []api.NormalizedMaterial
	for _, m := range nominal {
		if m.Origin == "" {
			m.Origin = origin
		}
		nm, reason := normalize(m)
		if reason != "" {
			e.drop(est, &ic, m, reason)
			continue
		}
		normalized = append(normalized, nm)
		est.AuditTrail = append(est.AuditTrail, api.AuditEntry{
			InterventionID: id,
			Item:           m.ItemName,
			Step:           StepQuantity,
			Source:         m.Origin,
			Detail:         fmt.Sprintf("%v %s", nm.Qty, nm.CanonicalUnit),
		})
	}

	quotes, errs, err := e.resolveAll(ctx, ic.Category, normalized, mode)
	if err != nil {
		return ic, err
	}

	for i, nm := range normalized {
		if errs[i] != nil {
			e.unpriced(est, &ic, nm, errs[i])
			continue
		}
		pm := api.NewPricedMaterial(nm, quotes[i])
		ic.Materials = append(ic.Materials, pm)
		est.AuditTrail = append(est.AuditTrail, api.AuditEntry{
			InterventionID: id,
			Item:           nm.ItemName,
			Step:           StepPrice,
			Source:         pm.Source,
			Detail:         fmt.Sprintf("tier=%s confidence=%s unit_price=%s", pm.Tier, pm.Confidence, pm.UnitPrice.StringFixed(2)),
		})
	}

	ic.TotalCost = interventionTotal(ic.Materials)
	ic.Failed = len(ic.Materials) == 0

	// Narrative
	subject := narrative.Subject{
		Intervention: iv,
		Category:     ic.Category,
		Materials:    ic.Materials,
		Unpriced:     ic.Unpriced,
		Total:        ic.TotalCost,
		Assumptions:  ic.Assumptions,
	}
	ic.Rationale, ic.NarrativeSource = narrative.Compose(ctx, e.narrator, subject, e.logger)
	if _, isTemplate := e.narrator.(narrative.Template); !isTemplate && e.narrator != nil && ic.NarrativeSource == narrative.SourceTemplate {
		est.Errors = append(est.Errors, api.EstimationError{
			InterventionID: id,
			Code:           perrors.ErrCodeNarrativeFallback,
			Severity:       perrors.SeverityLow,
			Message:        "narrative generator failed, template used",
			Recoverable:    true,
		})
	}

	ic.Findings = append(ic.Findings, e.validator.Validate(ic)...)
	return ic, nil
}

// normalize applies the quantity gate and canonical unit. A non-empty
// reason means the material must be dropped.
func normalize(m api.MaterialRequirement) (api.NormalizedMaterial, string) {
	if m.Quantity == nil && m.RawQuantity == "" {
		return api.NormalizedMaterial{}, "quantity absent"
	}
	if m.Quantity == nil || math.IsNaN(*m.Quantity) || math.IsInf(*m.Quantity, 0) || *m.Quantity <= 0 {
		raw := m.RawQuantity
		if raw == "" {
			raw = fmt.Sprint(*m.Quantity)
		}
		return api.NormalizedMaterial{}, perrors.NewInvalidQuantityError(m.ItemName, raw).Message
	}
	u := units.Normalize(m.Unit)
	qty := units.Round(*m.Quantity, u)
	if qty <= 0 {
		return api.NormalizedMaterial{}, fmt.Sprintf("quantity %v rounds to zero in %s", *m.Quantity, u)
	}
	return api.NormalizedMaterial{MaterialRequirement: m, CanonicalUnit: u, Qty: qty}, ""
}

// resolveAll prices materials concurrently. Results keep input order.
// Only cancellation of ctx is returned as an error.
func (e *Engine) resolveAll(ctx context.Context, cat api.Category, mats []api.NormalizedMaterial, mode pricing.Mode) ([]api.PriceQuote, []error, error) {
	quotes := make([]api.PriceQuote, len(mats))
	errs := make([]error, len(mats))

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	for i, m := range mats {
		g.Go(func() error {
			q := pricing.Query{Name: m.ItemName, Unit: m.CanonicalUnit, Category: cat}
			quotes[i], errs[i] = e.resolver.Resolve(ctx, q, mode)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return quotes, errs, nil
}

func (e *Engine) drop(est *api.Estimate, ic *api.InterventionCost, m api.MaterialRequirement, reason string) {
	id := ic.Intervention.ID()
	e.metrics.DroppedMaterial()
	e.logger.Warn("material dropped", "intervention", id, "item", m.ItemName, "reason", reason)

	ic.Dropped = append(ic.Dropped, api.DroppedMaterial{ItemName: m.ItemName, Reason: reason})
	ic.Findings = append(ic.Findings, api.Finding{
		Code:     perrors.ErrCodeInvalidQuantity,
		Severity: perrors.SeverityCritical,
		Item:     m.ItemName,
		Message:  reason,
	})
	est.AuditTrail = append(est.AuditTrail, api.AuditEntry{
		InterventionID: id,
		Item:           m.ItemName,
		Step:           StepDrop,
		Source:         m.Origin,
		Detail:         reason,
	})
}

func (e *Engine) unpriced(est *api.Estimate, ic *api.InterventionCost, nm api.NormalizedMaterial, err error) {
	id := ic.Intervention.ID()
	e.metrics.UnpricedMaterial()
	e.logger.Warn("material unpriced", "intervention", id, "item", nm.ItemName, "unit", nm.CanonicalUnit, "error", err)

	item := api.ReviewItem{
		InterventionID: id,
		ItemName:       nm.ItemName,
		Unit:           string(nm.CanonicalUnit),
		Quantity:       nm.Qty,
		Reason:         err.Error(),
	}
	code := perrors.ErrCodeNoOfficialRate
	var nor *perrors.NoOfficialRateError
	isNOR := errors.As(err, &nor)
	if isNOR {
		item.TiersAttempted = append([]string(nil), nor.Attempted...)
	}
	switch {
	case errors.Is(err, perrors.ErrEstimationFailed):
		code = perrors.ErrCodeEstimationFailed
		item.TiersAttempted = append(item.TiersAttempted, pricing.TierEstimate)
		e.recordError(est, id, err)
	case !isNOR:
		e.recordError(est, id, err)
	}

	ic.Unpriced = append(ic.Unpriced, item)
	ic.Findings = append(ic.Findings, api.Finding{
		Code:     code,
		Severity: perrors.SeverityHigh,
		Item:     nm.ItemName,
		Message:  "no price resolved; manual review required",
	})
	est.AuditTrail = append(est.AuditTrail, api.AuditEntry{
		InterventionID: id,
		Item:           nm.ItemName,
		Step:           StepUnpriced,
		Detail:         err.Error(),
	})
}

func (e *Engine) recordError(est *api.Estimate, interventionID string, err error) {
	est.Errors = append(est.Errors, estimationError(interventionID, err))
}

func estimationError(interventionID string, err error) api.EstimationError {
	var pe *perrors.PipelineError
	if errors.As(err, &pe) {
		return api.EstimationError{
			InterventionID: interventionID,
			Code:           pe.Code,
			Severity:       pe.Severity,
			Message:        pe.Message,
			Recoverable:    pe.Recoverable,
		}
	}
	return api.EstimationError{
		InterventionID: interventionID,
		Code:           perrors.ErrCodeTransientSource,
		Severity:       perrors.SeverityMedium,
		Message:        err.Error(),
		Recoverable:    true,
	}
}

// estimateConfidence is the geometric mean of line-item confidence.
func estimateConfidence(est *api.Estimate) float64 {
	var scores []float64
	for _, s := range est.Sections {
		for _, ic := range s.Interventions {
			for _, m := range ic.Materials {
				scores = append(scores, m.Confidence.Score())
			}
		}
	}
	return math.Round(confidence.Clamp(confidence.Aggregate(scores))*1000) / 1000
}

func interventionTotal(mats []api.PricedMaterial) decimal.Decimal {
	total := decimal.Zero
	for _, m := range mats {
		total = total.Add(m.TotalPrice)
	}
	return total.Round(2)
}
