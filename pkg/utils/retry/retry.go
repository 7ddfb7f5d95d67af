// Package retry is the single retry and backoff utility shared by the
// paginated fetcher and the dispatch engine. What gets retried is decided by
// the model error taxonomy: transient network errors and rate limits are
// retried, upstream rejections and unknown errors are returned immediately.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/switchboard/pkg/domain/model"
)

// Policy controls attempts and backoff
type Policy struct {
	// MaxAttempts includes the first call. Rate-limited attempts count too.
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64

	// DefaultCooldown is waited after a rate-limit response that carries no
	// RetryAfter
	DefaultCooldown time.Duration
}

// DefaultPolicy is 3 attempts with exponential backoff
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		BaseDelay:       200 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		Multiplier:      2,
		DefaultCooldown: 30 * time.Second,
	}
}

// Backoff returns the delay before attempt+1
func (p Policy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	d := float64(p.BaseDelay)
	for i := 1; i < attempt; i++ {
		d *= mult
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && time.Duration(d) > p.MaxDelay {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Cooldown returns how long to wait after the rate-limited error err
func (p Policy) Cooldown(err error) time.Duration {
	if d, ok := model.RetryAfter(err); ok && d > 0 {
		return d
	}
	return p.DefaultCooldown
}

type config struct {
	beforeAttempt func(ctx context.Context) error
	onRateLimit   func(ctx context.Context, wait time.Duration)
	sleep         func(ctx context.Context, d time.Duration) error
}

// Option customizes Do
type Option func(*config)

// WithBeforeAttempt registers a hook called before every attempt, such as
// waiting on a shared gate or a rate limiter. An error from the hook stops Do.
func WithBeforeAttempt(fn func(ctx context.Context) error) Option {
	return func(c *config) {
		c.beforeAttempt = fn
	}
}

// WithOnRateLimit hands rate-limit cooldowns to the caller instead of
// sleeping in Do. The hook typically pauses a gate shared by several workers
// and the before-attempt hook then waits on it.
func WithOnRateLimit(fn func(ctx context.Context, wait time.Duration)) Option {
	return func(c *config) {
		c.onRateLimit = fn
	}
}

// WithSleep replaces the sleep function, mainly for tests
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *config) {
		c.sleep = fn
	}
}

// Do calls fn until it succeeds, returns a non-retryable error or the policy
// runs out of attempts. It returns the number of attempts made.
func Do(ctx context.Context, p Policy, fn func(ctx context.Context, attempt int) error, opts ...Option) (int, error) {
	cfg := &config{sleep: Sleep}
	for _, opt := range opts {
		opt(cfg)
	}
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if cfg.beforeAttempt != nil {
			if err := cfg.beforeAttempt(ctx); err != nil {
				return attempt - 1, joinLast(err, lastErr)
			}
		}
		if err := ctx.Err(); err != nil {
			return attempt - 1, joinLast(err, lastErr)
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		lastErr = err

		if !model.IsRetryable(err) {
			return attempt, err
		}
		if attempt == p.MaxAttempts {
			break
		}

		if errors.Is(err, model.ErrRateLimited) {
			wait := p.Cooldown(err)
			if cfg.onRateLimit != nil {
				cfg.onRateLimit(ctx, wait)
				continue
			}
			if err := cfg.sleep(ctx, wait); err != nil {
				return attempt, joinLast(err, lastErr)
			}
			continue
		}

		if err := cfg.sleep(ctx, p.Backoff(attempt)); err != nil {
			return attempt, joinLast(err, lastErr)
		}
	}

	return p.MaxAttempts, goerr.Wrap(lastErr, "retry attempts exhausted", goerr.V("attempts", p.MaxAttempts))
}

// Sleep waits for d or until ctx is done
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case <-timer.C:
		return nil
	}
}

func joinLast(err, last error) error {
	if last == nil {
		return goerr.Wrap(err, "retry interrupted")
	}
	return goerr.Wrap(errors.Join(err, last), "retry interrupted")
}
