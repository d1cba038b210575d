package resilience

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy decides whether a failed attempt is retried and how long to wait.
// Decide is a pure function of the attempt number and error, apart from
// optional jitter.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt.
	InitialBackoff time.Duration
	// MaxBackoff caps any single delay.
	MaxBackoff time.Duration
	// Multiplier scales the delay after each attempt.
	Multiplier float64
	// JitterFraction adds ±fraction of the delay. Zero disables jitter.
	JitterFraction float64
	// Retryable classifies errors. Nil means IsTransient.
	Retryable func(err error) bool
}

// DefaultPolicy is three attempts with 1s then 2s between them.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialBackoff: time.Second,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
	}
}

// Decision is the result of Policy.Decide.
type Decision struct {
	Retry bool
	Delay time.Duration
}

// Decide returns whether to retry after attempt (1-based) failed with err.
func (p Policy) Decide(attempt int, err error) Decision {
	p = p.withDefaults()
	if err == nil || attempt >= p.MaxAttempts {
		return Decision{}
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = IsTransient
	}
	if !retryable(err) {
		return Decision{}
	}
	return Decision{Retry: true, Delay: p.backoff(attempt)}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialBackoff < 0 {
		p.InitialBackoff = 0
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = 30 * time.Second
	}
	if p.Multiplier <= 0 {
		p.Multiplier = 2.0
	}
	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}
	return p
}

// backoff is the delay after the given 1-based failed attempt.
func (p Policy) backoff(attempt int) time.Duration {
	delay := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt-1))
	if delay > float64(p.MaxBackoff) {
		delay = float64(p.MaxBackoff)
	}
	if p.JitterFraction > 0 {
		jitterRange := delay * p.JitterFraction
		delay += (rand.Float64()*2 - 1) * jitterRange
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Outcome is the result of Run.
type Outcome[T any] struct {
	Value    T
	Err      error
	Attempts int
}

// Run calls fn until it succeeds, the policy declines a retry, or ctx is
// done. fn receives the 1-based attempt number. onRetry, if set, is called
// before each backoff sleep.
func Run[T any](ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) (T, error), onRetry func(attempt int, err error)) Outcome[T] {
	var out Outcome[T]
	for attempt := 1; ; attempt++ {
		out.Attempts = attempt
		v, err := fn(ctx, attempt)
		if err == nil {
			out.Value = v
			out.Err = nil
			return out
		}
		out.Err = err

		if ctx.Err() != nil {
			return out
		}
		d := p.Decide(attempt, err)
		if !d.Retry {
			return out
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}

		timer := time.NewTimer(d.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return out
		case <-timer.C:
		}
	}
}

// Do is Run for functions without a result value.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context) error) error {
	out := Run(ctx, p, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, fn(ctx)
	}, nil)
	return out.Err
}

// RetryLogger returns an onRetry callback that logs each retry.
func RetryLogger(service, operation string) func(int, error) {
	return func(attempt int, err error) {
		zap.L().Warn("resilience: retrying",
			zap.String("service", service),
			zap.String("operation", operation),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}
}
