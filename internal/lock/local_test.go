package lock

import (
	"context"
	"testing"
	"time"
)

func TestLocalLockerExclusive(t *testing.T) {
	t.Parallel()

	l := NewLocalLocker()
	ctx := context.Background()

	token, ok, err := l.Acquire(ctx, "pass:initial", time.Hour)
	if err != nil || !ok {
		t.Fatalf("Acquire() = %v, %v, want lease", ok, err)
	}
	if _, ok, _ := l.Acquire(ctx, "pass:initial", time.Hour); ok {
		t.Fatal("second Acquire() should fail while the lease is held")
	}
	if _, ok, _ := l.Acquire(ctx, "pass:followup", time.Hour); !ok {
		t.Fatal("Acquire() on another key should succeed")
	}

	if err := l.Release(ctx, "pass:initial", "not-the-token"); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, ok, _ := l.Acquire(ctx, "pass:initial", time.Hour); ok {
		t.Fatal("Release() with a foreign token must not free the lease")
	}

	if err := l.Release(ctx, "pass:initial", token); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, ok, _ := l.Acquire(ctx, "pass:initial", time.Hour); !ok {
		t.Fatal("Acquire() after Release() should succeed")
	}
}

func TestLocalLockerExpiry(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := NewLocalLocker()
	l.now = func() time.Time { return now }

	if _, ok, _ := l.Acquire(context.Background(), "tick", time.Minute); !ok {
		t.Fatal("Acquire() should succeed")
	}
	now = now.Add(59 * time.Second)
	if _, ok, _ := l.Acquire(context.Background(), "tick", time.Minute); ok {
		t.Fatal("lease should still be held before ttl")
	}
	now = now.Add(time.Second)
	if _, ok, _ := l.Acquire(context.Background(), "tick", time.Minute); !ok {
		t.Fatal("lease should expire after ttl")
	}
}

func TestLocalLockerCanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok, err := NewLocalLocker().Acquire(ctx, "k", time.Minute); err == nil || ok {
		t.Fatalf("Acquire() = %v, %v, want context error", ok, err)
	}
}
