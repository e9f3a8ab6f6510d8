package executor

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy is an exponential backoff for transient step failures
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryPolicy retries three times after 1s, 2s and 4s
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:  4,
	InitialDelay: time.Second,
	MaxDelay:     30 * time.Second,
	Multiplier:   2,
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultRetryPolicy.InitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultRetryPolicy.MaxDelay
	}
	if p.Multiplier < 1 {
		p.Multiplier = DefaultRetryPolicy.Multiplier
	}
	return p
}

// Backoff returns the wait before retry number n (1 based), capped at MaxDelay
func (p RetryPolicy) Backoff(n int) time.Duration {
	p = p.withDefaults()
	delay := float64(p.InitialDelay)
	for i := 1; i < n; i++ {
		delay *= p.Multiplier
		if delay >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	return time.Duration(delay)
}

// Do runs op until it succeeds, fails with an error IsTransient rejects, or
// MaxAttempts is reached. onRetry is called before every wait. Waiting stops
// as soon as ctx ends.
func (p RetryPolicy) Do(ctx context.Context, op func(context.Context) error, onRetry func(retry int, err error, wait time.Duration)) error {
	p = p.withDefaults()
	for attempt := 1; ; attempt++ {
		err := op(ctx)
		if err == nil || attempt >= p.MaxAttempts || !IsTransient(err) {
			return err
		}

		wait := p.Backoff(attempt)
		if onRetry != nil {
			onRetry(attempt, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("%w (retry aborted: %v)", err, ctx.Err())
		case <-timer.C:
		}
	}
}
