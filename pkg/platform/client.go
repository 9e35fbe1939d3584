package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	perrors "roadsafety-cost/pkg/errors"
)

// HTTPClient issues GET requests under a RetryPolicy. 429 and 5xx
// responses and network failures are transient; other 4xx are not.
type HTTPClient struct {
	Client    *http.Client
	Policy    RetryPolicy
	UserAgent string
	Logger    *slog.Logger
}

func NewHTTPClient(policy RetryPolicy, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		Client: &http.Client{
			Timeout: timeout,
		},
		Policy:    policy,
		UserAgent: "roadsafety-cost/1.0",
		Logger:    slog.Default(),
	}
}

// Get fetches url and returns the response body.
func (c *HTTPClient) Get(ctx context.Context, source, url string) ([]byte, error) {
	var body []byte
	err := c.Policy.Do(ctx, source, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", c.UserAgent)

		resp, err := c.Client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &perrors.TransientError{Source: source, Err: err}
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return &perrors.TransientError{
				Source:     source,
				RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()),
				Err:        fmt.Errorf("status %d", resp.StatusCode),
			}
		case resp.StatusCode >= 500:
			return &perrors.TransientError{Source: source, Err: fmt.Errorf("status %d", resp.StatusCode)}
		case resp.StatusCode >= 400:
			return fmt.Errorf("%s: status %d", source, resp.StatusCode)
		}

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return &perrors.TransientError{Source: source, Err: err}
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// ParseRetryAfter reads a Retry-After header given as seconds or an HTTP date.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
