package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"
)

const (
	defaultBurst       = 1
	defaultBaseBackoff = time.Second
)

// throttle rate-limits backend calls and retries transient failures with
// exponential backoff.
type throttle struct {
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
}

func newThrottle(perSecond float64, maxRetries int) *throttle {
	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &throttle{
		limiter:     rate.NewLimiter(limit, defaultBurst),
		maxRetries:  maxRetries,
		baseBackoff: defaultBaseBackoff,
	}
}

// do runs fn until it succeeds, fails permanently or retries run out.
func (t *throttle) do(ctx context.Context, fn func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := t.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !isRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// retryableError marks an error as transient.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

var transientStatus = regexp.MustCompile(`status code:? (429|5\d\d)`)

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var re *retryableError
	if errors.As(err, &re) {
		return true
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Code == 429 || apiErr.Code >= 500
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return transientStatus.MatchString(err.Error())
}
