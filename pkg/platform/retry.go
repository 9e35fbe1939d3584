package platform

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	perrors "roadsafety-cost/pkg/errors"
)

// RetryPolicy controls retries of calls to external sources. Only errors
// classified as transient are retried.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the fraction of the computed delay randomly added or removed.
	Jitter float64

	// Sleep and Rand are replaceable for tests.
	Sleep   func(ctx context.Context, d time.Duration) error
	Rand    func() float64
	OnRetry func(op string, attempt int, delay time.Duration)
	Logger  *slog.Logger
}

// DefaultRetryPolicy returns three attempts with 200ms exponential backoff.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    5 * time.Second,
		Jitter:      0.2,
	}
}

// Backoff returns the delay before retry number attempt (1-based).
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.BaseDelay) * math.Pow(2, float64(attempt-1))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		r := rand.Float64
		if p.Rand != nil {
			r = p.Rand
		}
		d += d * p.Jitter * (2*r() - 1)
	}
	if d < 0 {
		d = 0
	}
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

// Do runs fn until it succeeds, returns a non-transient error, the attempts
// are exhausted or ctx is done. A server-supplied retry-after delay replaces
// the computed backoff.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if !perrors.IsTransient(err) || attempt == attempts {
			return err
		}

		delay := p.Backoff(attempt)
		if ra, ok := perrors.RetryAfter(err); ok {
			delay = ra
		}
		logger.Warn("transient failure, retrying", "op", op, "attempt", attempt, "delay", delay, "error", err)
		if p.OnRetry != nil {
			p.OnRetry(op, attempt, delay)
		}
		if serr := sleep(ctx, delay); serr != nil {
			return serr
		}
	}
	return err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
