package interfaces

import (
	"context"
	"time"
)

// Locker provides non-blocking mutual exclusion keyed by name. It backs the
// single-flight guarantee of sync runs.
type Locker interface {
	// TryLock acquires key without waiting. ok is false when another owner
	// holds it. The lock expires after ttl if never released.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(ctx context.Context) error, ok bool, err error)
}
