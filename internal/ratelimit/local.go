package ratelimit

import (
	"context"
	"sync"
	"time"
)

// LocalPacer is an in-process Pacer. It is used when the shared pacer is
// unavailable and by one-shot CLI runs.
type LocalPacer struct {
	mu    sync.Mutex
	last  map[string]time.Time
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewLocalPacer() *LocalPacer {
	return &LocalPacer{
		last:  make(map[string]time.Time),
		now:   time.Now,
		sleep: sleepWithContext,
	}
}

func (p *LocalPacer) Wait(ctx context.Context, key string, spacing time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if spacing > 0 {
		if last, ok := p.last[key]; ok {
			if wait := last.Add(spacing).Sub(p.now()); wait > 0 {
				if err := p.sleep(ctx, wait); err != nil {
					return err
				}
			}
		}
	}
	p.last[key] = p.now()
	return nil
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
