package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/m-mizutani/goerr/v2"
)

// Error taxonomy shared by the fetcher, the sync orchestrator and the
// dispatch engine. Adapters translate library errors into these sentinels.
var (
	// ErrTransientNetwork is retried with backoff
	ErrTransientNetwork = goerr.New("transient network error")

	// ErrPaginationExhausted terminates a fetch after truncation recovery failed
	ErrPaginationExhausted = goerr.New("pagination exhausted before reaching reported total")

	// ErrRateLimited triggers a cooldown and is not a failure by itself
	ErrRateLimited = goerr.New("rate limited by upstream")

	// ErrUpstreamRejected is a 4xx-class rejection and is never retried
	ErrUpstreamRejected = goerr.New("rejected by upstream")

	// ErrConcurrencyConflict is reported when a single-flight lock is held
	ErrConcurrencyConflict = goerr.New("operation already in progress")

	// ErrNotFound is returned by every Cache Store backend for a missing record
	ErrNotFound = goerr.New("not found")
)

// RateLimitedError carries the provider-specified cooldown.
// errors.Is(err, ErrRateLimited) holds for it.
type RateLimitedError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited by upstream, retry after %s", e.RetryAfter)
	}
	return "rate limited by upstream"
}

func (e *RateLimitedError) Is(target error) bool {
	return target == ErrRateLimited
}

func (e *RateLimitedError) Unwrap() error {
	return e.Cause
}

// RetryAfter extracts the cooldown from a rate-limit error.
// ok is false when err is not rate limited; d is zero when no cooldown was given.
func RetryAfter(err error) (d time.Duration, ok bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, errors.Is(err, ErrRateLimited)
}

// IsRetryable reports whether err belongs to a class that is retried locally
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientNetwork) || errors.Is(err, ErrRateLimited)
}

// Context keys for error values
const (
	SyncTypeKey  = "sync_type"
	SyncRunIDKey = "sync_run_id"
	JobIDKey     = "job_id"
	TargetIDKey  = "target_id"
	PageKey      = "page"
)
