package reconcile

import (
	"errors"
	"fmt"
	"time"
)

// Error taxonomy for a reconciliation pass. Transient classes retry on the
// next scheduled pass with no user-visible effect beyond delay; fatal
// per-scope classes stop that scope only.
var (
	// ErrExternalDataUnavailable: gateway outage or malformed response.
	// Affected orders are left untouched.
	ErrExternalDataUnavailable = errors.New("external contract data unavailable")

	// ErrScopeAuthorizationMissing: the gateway refuses the scope. Fatal for
	// the scope until an operator re-authorizes; other scopes continue.
	ErrScopeAuthorizationMissing = errors.New("scope authorization missing")

	// ErrStaleEmptyCache: the gateway said "not modified" but the local cache
	// is empty. Triggers a forced refresh, never surfaced on an order.
	ErrStaleEmptyCache = errors.New("not-modified with empty local contract cache")

	// ErrConcurrentModification: the order's version moved between read and
	// write; the pass discards its computed transition for that order.
	ErrConcurrentModification = errors.New("order modified concurrently")
)

// RateLimitedError carries the server-provided delay before the next fetch
// in the scope is allowed.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("gateway rate limited, retry after %s", e.RetryAfter)
}

func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}
