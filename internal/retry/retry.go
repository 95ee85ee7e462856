// Package retry holds the exponential backoff policy shared by the
// datafeed loop and the auth session.
package retry

import (
	"context"
	"time"
)

const (
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMultiplier      = 2.0
	DefaultMaxInterval     = 60 * time.Second
)

// Policy describes an exponential backoff. MaxAttempts bounds the total
// number of tries, the first included; 0 means the policy is bounded only
// by MaxInterval.
type Policy struct {
	MaxAttempts     int           `mapstructure:"maxAttempts"`
	InitialInterval time.Duration `mapstructure:"initialInterval"`
	Multiplier      float64       `mapstructure:"multiplier"`
	MaxInterval     time.Duration `mapstructure:"maxInterval"`
}

// DefaultPolicy returns the datafeed defaults: unbounded attempts, 500ms
// initial delay doubling up to a 60s ceiling.
func DefaultPolicy() Policy {
	return Policy{
		InitialInterval: DefaultInitialInterval,
		Multiplier:      DefaultMultiplier,
		MaxInterval:     DefaultMaxInterval,
	}
}

// WithDefaults fills zero fields from DefaultPolicy.
func (p Policy) WithDefaults() Policy {
	d := DefaultPolicy()
	if p.InitialInterval <= 0 {
		p.InitialInterval = d.InitialInterval
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.MaxInterval <= 0 {
		p.MaxInterval = d.MaxInterval
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// Backoff is the mutable retry state for one loop. Not safe for
// concurrent use.
type Backoff struct {
	policy   Policy
	current  time.Duration
	attempts int
}

func NewBackoff(p Policy) *Backoff {
	p = p.WithDefaults()
	return &Backoff{policy: p, current: p.InitialInterval}
}

// Current is the delay the next failure will sleep for.
func (b *Backoff) Current() time.Duration {
	return b.current
}

// Attempts counts failures since the last Reset.
func (b *Backoff) Attempts() int {
	return b.attempts
}

// Next records a failure and returns how long to sleep before retrying.
// It returns false once the delay has grown past MaxInterval or the
// attempt budget is spent; the caller must then give up.
func (b *Backoff) Next() (time.Duration, bool) {
	if b.current > b.policy.MaxInterval {
		return 0, false
	}
	if b.policy.MaxAttempts > 0 && b.attempts+1 >= b.policy.MaxAttempts {
		return 0, false
	}
	delay := b.current
	b.attempts++
	b.current = time.Duration(float64(b.current) * b.policy.Multiplier)
	return delay, true
}

// Reset returns the state to the initial interval.
func (b *Backoff) Reset() {
	b.current = b.policy.InitialInterval
	b.attempts = 0
}

// Sleeper waits for a duration unless ctx ends first.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// TimerSleeper sleeps on a real timer.
type TimerSleeper struct{}

func (TimerSleeper) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
