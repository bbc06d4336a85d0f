package resilience

import (
	"context"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"
)

// Policy controls retries with exponential backoff and full jitter.
type Policy struct {
	Attempts int           // total attempts including the first, default 3
	Base     time.Duration // first backoff, default 250ms
	Max      time.Duration // backoff ceiling, default 5s

	// Retryable overrides IsTransient when set.
	Retryable func(error) bool
}

func (p Policy) withDefaults() Policy {
	if p.Attempts <= 0 {
		p.Attempts = 3
	}
	if p.Base <= 0 {
		p.Base = 250 * time.Millisecond
	}
	if p.Max <= 0 {
		p.Max = 5 * time.Second
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// backoff returns a random delay in [0, min(Max, Base*2^attempt)].
func (p Policy) backoff(attempt int) time.Duration {
	d := p.Base << attempt
	if d <= 0 || d > p.Max {
		d = p.Max
	}
	return time.Duration(rand.Int64N(int64(d) + 1))
}

// Retry calls fn until it succeeds, returns a non-retryable error, the
// attempts run out or ctx is done. op names the call in logs.
func Retry[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	p = p.withDefaults()

	var (
		val T
		err error
	)
	for attempt := 0; attempt < p.Attempts; attempt++ {
		val, err = fn(ctx)
		if err == nil || ctx.Err() != nil || !p.Retryable(err) || attempt == p.Attempts-1 {
			return val, err
		}

		delay := p.backoff(attempt)
		zap.L().Warn("resilience: retrying",
			zap.String("op", op),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return val, err
		case <-t.C:
		}
	}
	return val, err
}
