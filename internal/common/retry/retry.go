// Package retry runs a call against an external collaborator under a bounded
// attempt budget. Upstream failures back off exponentially; output rejected
// by the validator is re-requested immediately.
package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	apperrors "legal-rag-workers/internal/common/errors"
)

// Policy bounds a retried call.
type Policy struct {
	Name         string
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// OnRetry is called before every attempt after the first.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultPolicy returns three attempts starting at 100ms.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:         name,
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     2 * time.Second,
		Multiplier:   2.0,
	}
}

// Validator inspects a result that came back without a transport error.
// A non-nil return marks the result malformed.
type Validator[T any] func(T) error

// Do calls fn until it returns a result accepted by validate, the attempt
// budget is spent, or fn fails with an error that is neither upstream nor
// malformed. The returned error keeps the code of the last failure.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error), validate Validator[T]) (T, error) {
	p = p.normalized()

	var zero T
	var lastErr error
	delay := time.Duration(0)

	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if attempt > 1 {
			if p.OnRetry != nil {
				p.OnRetry(attempt, lastErr, delay)
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					timer.Stop()
					return zero, apperrors.NewUpstreamTimeoutError(p.Name, ctx.Err())
				case <-timer.C:
				}
			}
		}
		if err := ctx.Err(); err != nil {
			return zero, apperrors.NewUpstreamTimeoutError(p.Name, err)
		}

		result, err := fn(ctx)
		if err == nil && validate != nil {
			if verr := validate(result); verr != nil {
				err = asMalformed(p.Name, verr)
			}
		}
		if err == nil {
			return result, nil
		}
		lastErr = err

		switch {
		case apperrors.IsMalformed(err):
			delay = 0
		case apperrors.IsUpstream(err):
			delay = p.backoff(attempt)
		default:
			return zero, err
		}
	}

	return zero, fmt.Errorf("%s: %d attempts exhausted: %w", p.Name, p.MaxAttempts, lastErr)
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 2.0
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 30 * time.Second
	}
	if p.Name == "" {
		p.Name = "call"
	}
	return p
}

// backoff returns InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p Policy) backoff(attempt int) time.Duration {
	d := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attempt-1))
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func asMalformed(name string, err error) error {
	if apperrors.IsMalformed(err) {
		return err
	}
	return apperrors.NewMalformedOutputError(name, err.Error())
}
