package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorMatchesByCode(t *testing.T) {
	err := fmt.Errorf("resolve: %w", NewEstimationError("glass beads", stderrors.New("quota")))

	assert.ErrorIs(t, err, ErrEstimationFailed)
	assert.NotErrorIs(t, err, ErrInvalidQuantity)
	assert.Contains(t, err.Error(), "quota")
	assert.Contains(t, err.Error(), "glass beads")
}

func TestNoOfficialRateError(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &NoOfficialRateError{Item: "Cat eye", Unit: "nos", Attempted: []string{"cache", "store"}})

	var nor *NoOfficialRateError
	require.ErrorAs(t, err, &nor)
	assert.Equal(t, []string{"cache", "store"}, nor.Attempted)
	assert.ErrorIs(t, err, &NoOfficialRateError{})
}

func TestTransientRetryAfter(t *testing.T) {
	err := fmt.Errorf("call: %w", &TransientError{Source: "gem", RetryAfter: 3 * time.Second, Err: stderrors.New("429")})

	assert.True(t, IsTransient(err))
	d, ok := RetryAfter(err)
	assert.True(t, ok)
	assert.Equal(t, 3*time.Second, d)

	_, ok = RetryAfter(stderrors.New("plain"))
	assert.False(t, ok)
	assert.False(t, IsTransient(stderrors.New("plain")))
}

func TestSeverityText(t *testing.T) {
	b, err := SeverityCritical.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "critical", string(b))
	assert.True(t, SeverityHigh > SeverityMedium)
}
