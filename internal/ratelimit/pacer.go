package ratelimit

import (
	"context"
	"time"
)

// Pacer enforces a minimum spacing between consecutive operations that share
// a key. Wait blocks until the caller may proceed.
type Pacer interface {
	Wait(ctx context.Context, key string, spacing time.Duration) error
}
