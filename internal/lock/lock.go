package lock

import (
	"context"
	"time"
)

// Locker hands out short-lived exclusive leases. Acquire reports false when
// another holder owns key. A lease that is never released expires after ttl.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}
