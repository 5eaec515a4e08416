// Package lease implements a time-bounded leadership lease over a shared
// compare-and-set store. At most one holder is valid at any instant. A crashed
// holder's key expires TTL after its last successful renewal, and a follower
// acquires it on its next tick, so takeover completes within TTL+RenewInterval
// of the crash.
package lease

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned by Release when the caller is not the recorded holder.
var ErrNotHeld = errors.New("lease: not held")

// Store is the shared state behind a lease. Every operation must be atomic
// on the store side.
type Store interface {
	// Acquire sets key to holder with the ttl only if key is unset.
	Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Holder returns the current holder, or "" when the key is unset or expired.
	Holder(ctx context.Context, key string) (string, error)
	// Renew resets the ttl only if holder still owns key.
	Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error)
	// Release deletes key only if holder still owns it.
	Release(ctx context.Context, key, holder string) (bool, error)
}
