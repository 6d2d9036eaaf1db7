// Package retry runs an operation under a bounded exponential backoff policy.
// It is shared by the upstream HTTP client and the OAuth2 token flow.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/i2y/oapimcp/internal/domain"
)

// Policy bounds how an operation is retried.
type Policy struct {
	// MaxAttempts counts the first attempt. Values below 1 mean 1.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter is the randomization factor in [0, 1]. Delays never shrink from
	// one wait to the next whatever the factor; zero makes them deterministic.
	Jitter float64
	// PerAttemptTimeout bounds each attempt. Zero leaves only the caller deadline.
	PerAttemptTimeout time.Duration
	// AllowNonIdempotent permits retrying POST and PATCH.
	AllowNonIdempotent bool
	// Notify, if set, is called before each wait with the error that caused it.
	Notify func(err error, delay time.Duration)
}

// DefaultPolicy returns the engine defaults: 3 attempts, 200ms base, 5s cap.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:       3,
		BaseDelay:         200 * time.Millisecond,
		MaxDelay:          5 * time.Second,
		Jitter:            0.2,
		PerAttemptTimeout: 10 * time.Second,
	}
}

// AllowsMethod reports whether a failed request with method may be attempted again.
func (p Policy) AllowsMethod(method string) bool {
	return domain.IsIdempotentMethod(method) || p.AllowNonIdempotent
}

// Verdict is an attempt's opinion on whether another attempt may help.
type Verdict struct {
	Retry bool
	// After overrides the computed backoff for the next wait, e.g. from Retry-After.
	// It is capped by MaxDelay.
	After time.Duration
}

// Attempt is one try. attempt starts at 1.
type Attempt func(ctx context.Context, attempt int) (Verdict, error)

// Do calls fn until it returns a nil error, a Verdict without Retry, or the
// policy runs out of attempts. It returns the number of attempts made and
// the last error. A cancelled ctx stops the loop during the wait; the
// returned error then joins the last attempt error with ctx.Err().
func Do(ctx context.Context, p Policy, fn Attempt) (int, error) {
	p = p.normalized()
	b := p.backOff()

	var (
		attempts int
		lastErr  error
		prev     time.Duration
	)
	for attempts < p.MaxAttempts {
		attempts++
		verdict, err := p.run(ctx, attempts, fn)
		if err == nil {
			return attempts, nil
		}
		lastErr = err
		if !verdict.Retry || attempts >= p.MaxAttempts {
			break
		}

		// A large jitter can draw a sample below the previous one.
		delay := max(b.NextBackOff(), prev)
		prev = delay
		if verdict.After > 0 {
			delay = verdict.After
		}
		if delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if p.Notify != nil {
			p.Notify(err, delay)
		}
		if werr := wait(ctx, delay); werr != nil {
			return attempts, fmt.Errorf("retry aborted after %d attempt(s): %w", attempts, errors.Join(lastErr, werr))
		}
	}
	return attempts, lastErr
}

func (p Policy) run(ctx context.Context, attempt int, fn Attempt) (Verdict, error) {
	if p.PerAttemptTimeout <= 0 {
		return fn(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.PerAttemptTimeout)
	defer cancel()
	return fn(attemptCtx, attempt)
}

func (p Policy) normalized() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Jitter > 1 {
		p.Jitter = 1
	}
	return p
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = p.Jitter
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
