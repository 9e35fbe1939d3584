// Package errors provides severity-aware error types for the estimation pipeline.
package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"time"
)

// Severity indicates finding or error impact level.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// MarshalText renders the severity by name in JSON output.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Error codes
const (
	ErrCodeExtractionEmpty   = "EXTRACTION_EMPTY"
	ErrCodeInvalidQuantity   = "INVALID_QUANTITY"
	ErrCodeNoOfficialRate    = "NO_OFFICIAL_RATE"
	ErrCodeEstimationFailed  = "PRICE_ESTIMATION_FAILED"
	ErrCodeTransientSource   = "TRANSIENT_SOURCE"
	ErrCodeEstimateFailed    = "ESTIMATE_FAILED"
	ErrCodeInvalidInput      = "INVALID_INPUT"
	ErrCodeNarrativeFallback = "NARRATIVE_FALLBACK"
)

// PipelineError is a structured error with context.
type PipelineError struct {
	Code        string   `json:"code"`
	Message     string   `json:"message"`
	Severity    Severity `json:"severity"`
	Item        string   `json:"item,omitempty"`
	Recoverable bool     `json:"recoverable"`
	Err         error    `json:"-"`
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Severity, e.Code, e.Message)
	if e.Item != "" {
		msg += fmt.Sprintf(" (item: %s)", e.Item)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() error { return e.Err }

// Is matches any PipelineError target carrying the same code.
func (e *PipelineError) Is(target error) bool {
	t, ok := target.(*PipelineError)
	return ok && t.Code == e.Code
}

// Sentinels for errors.Is checks.
var (
	ErrExtractionEmpty  = &PipelineError{Code: ErrCodeExtractionEmpty}
	ErrInvalidQuantity  = &PipelineError{Code: ErrCodeInvalidQuantity}
	ErrEstimationFailed = &PipelineError{Code: ErrCodeEstimationFailed}
	ErrEstimateFailed   = &PipelineError{Code: ErrCodeEstimateFailed}
)

// NewExtractionEmptyError reports that neither the mapping nor the
// dimension parser produced any material for an intervention.
func NewExtractionEmptyError(intervention, reason string) *PipelineError {
	return &PipelineError{
		Code:        ErrCodeExtractionEmpty,
		Message:     reason,
		Severity:    SeverityHigh,
		Item:        intervention,
		Recoverable: true,
	}
}

// NewInvalidQuantityError reports a material dropped before pricing.
func NewInvalidQuantityError(item, raw string) *PipelineError {
	return &PipelineError{
		Code:        ErrCodeInvalidQuantity,
		Message:     fmt.Sprintf("quantity %q is not a finite positive number", raw),
		Severity:    SeverityCritical,
		Item:        item,
		Recoverable: true,
	}
}

// NewEstimationError wraps a failed tier-5 estimate.
func NewEstimationError(item string, err error) *PipelineError {
	return &PipelineError{
		Code:        ErrCodeEstimationFailed,
		Message:     "price estimation failed",
		Severity:    SeverityMedium,
		Item:        item,
		Recoverable: true,
		Err:         err,
	}
}

// NewEstimateFailedError escalates a strict-mode run in which one or more
// interventions ended with no priced material.
func NewEstimateFailedError(interventions []string) *PipelineError {
	return &PipelineError{
		Code:        ErrCodeEstimateFailed,
		Message:     fmt.Sprintf("no official rate for any material of: %s", strings.Join(interventions, ", ")),
		Severity:    SeverityCritical,
		Recoverable: false,
	}
}

// NoOfficialRateError is returned when every official tier misses.
type NoOfficialRateError struct {
	Item      string   `json:"item"`
	Unit      string   `json:"unit"`
	Attempted []string `json:"tiers_attempted"`
}

func (e *NoOfficialRateError) Error() string {
	return fmt.Sprintf("no official rate for %q (%s) after tiers [%s]", e.Item, e.Unit, strings.Join(e.Attempted, ", "))
}

// Is lets errors.Is match any NoOfficialRateError.
func (e *NoOfficialRateError) Is(target error) bool {
	_, ok := target.(*NoOfficialRateError)
	return ok
}

// TransientError marks a retryable failure of an external source.
type TransientError struct {
	Source     string
	RetryAfter time.Duration
	Err        error
}

func (e *TransientError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("transient failure from %s (retry after %s): %v", e.Source, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("transient failure from %s: %v", e.Source, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or anything it wraps) is retryable.
func IsTransient(err error) bool {
	var t *TransientError
	return stderrors.As(err, &t)
}

// RetryAfter extracts a server-supplied retry delay, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var t *TransientError
	if stderrors.As(err, &t) && t.RetryAfter > 0 {
		return t.RetryAfter, true
	}
	return 0, false
}
