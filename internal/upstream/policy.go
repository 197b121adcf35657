package upstream

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"
)

// ErrRetriesExhausted is returned by RetryPolicy.Await once MaxAttempts is reached.
var ErrRetriesExhausted = errors.New("rate-limit retries exhausted")

// RetryPolicy bounds how often a rate-limited request is resubmitted.
type RetryPolicy struct {
	// MaxAttempts counts every request for one key, the first included.
	MaxAttempts int
	// Cooldown is the pause after a rate-limited response.
	Cooldown time.Duration
}

// Await sleeps for the cooldown after attempt number attempt (1-based) was rate limited.
// It returns ErrRetriesExhausted instead of sleeping when no attempts remain,
// and ctx.Err() if the context ends first.
func (p RetryPolicy) Await(ctx context.Context, attempt int) error {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return ErrRetriesExhausted
	}

	return Sleep(ctx, p.Cooldown)
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer spaces out sequential requests to one upstream.
type Pacer struct {
	limiter *rate.Limiter
}

// NewIntervalPacer allows one request per interval. A zero interval disables pacing.
func NewIntervalPacer(interval time.Duration) *Pacer {
	if interval <= 0 {
		return &Pacer{limiter: rate.NewLimiter(rate.Inf, 1)}
	}

	return &Pacer{limiter: rate.NewLimiter(rate.Every(interval), 1)}
}

// NewWindowPacer allows requests per window, e.g. 10 per 10 seconds.
// Requests are spread evenly across the window without a burst.
func NewWindowPacer(requests int, window time.Duration) *Pacer {
	if requests <= 0 || window <= 0 {
		return NewIntervalPacer(0)
	}

	return NewIntervalPacer(window / time.Duration(requests))
}

// Wait blocks until the next request may be sent.
func (p *Pacer) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
