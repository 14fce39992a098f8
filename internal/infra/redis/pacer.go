package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kursadbilgin/outreach-engine/internal/ratelimit"
	goredis "github.com/redis/go-redis/v9"
)

const (
	paceKeyPrefix = "outreach:pace:"
	paceMinSleep  = 50 * time.Millisecond
)

// paceScript claims the slot for ARGV[1] ms, or returns how long the current
// holder still owns it.
var paceScript = goredis.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "PX", ARGV[1]) then
  return 0
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  return 0
end
return ttl
`)

var _ ratelimit.Pacer = (*RedisPacer)(nil)

// RedisPacer spaces sends across every process sharing the same Redis. The
// first caller proceeds at once; the next waits until the spacing has passed
// since the previous one.
type RedisPacer struct {
	client *goredis.Client
	sleep  func(ctx context.Context, d time.Duration) error
	script *goredis.Script
}

func NewRedisPacer(client *goredis.Client) (*RedisPacer, error) {
	return newRedisPacer(client, sleepWithContext)
}

func newRedisPacer(client *goredis.Client, sleepFn func(ctx context.Context, d time.Duration) error) (*RedisPacer, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if sleepFn == nil {
		sleepFn = sleepWithContext
	}
	return &RedisPacer{client: client, sleep: sleepFn, script: paceScript}, nil
}

func (p *RedisPacer) Wait(ctx context.Context, key string, spacing time.Duration) error {
	if spacing <= 0 {
		return nil
	}
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" {
		return fmt.Errorf("pace key is required")
	}

	ms := spacing.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	for {
		remaining, err := p.script.Run(ctx, p.client, []string{paceKeyPrefix + key}, ms).Int64()
		if err != nil {
			return fmt.Errorf("failed to evaluate pace: %w", err)
		}
		if remaining == 0 {
			return nil
		}

		wait := time.Duration(remaining) * time.Millisecond
		if wait < paceMinSleep {
			wait = paceMinSleep
		}
		if err := p.sleep(ctx, wait); err != nil {
			return err
		}
	}
}
