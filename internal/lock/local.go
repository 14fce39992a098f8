package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

var _ Locker = (*LocalLocker)(nil)

// LocalLocker is an in-process Locker. It serializes passes within one
// process when no shared lock store is configured.
type LocalLocker struct {
	mu     sync.Mutex
	leases map[string]lease
	now    func() time.Time
}

type lease struct {
	token     string
	expiresAt time.Time
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{
		leases: make(map[string]lease),
		now:    time.Now,
	}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.pruneLocked(now)
	if _, held := l.leases[key]; held {
		return "", false, nil
	}

	token := uuid.NewString()
	l.leases[key] = lease{token: token, expiresAt: now.Add(ttl)}
	return token, true, nil
}

// Release drops the lease only if token still owns it.
func (l *LocalLocker) Release(_ context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if current, ok := l.leases[key]; ok && current.token == token {
		delete(l.leases, key)
	}
	return nil
}

func (l *LocalLocker) pruneLocked(now time.Time) {
	for key, current := range l.leases {
		if !now.Before(current.expiresAt) {
			delete(l.leases, key)
		}
	}
}
