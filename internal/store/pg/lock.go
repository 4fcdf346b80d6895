package pg

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	commonredis "github.com/lyzr/workflowengine/common/redis"
)

// Locker is the per-execution advisory lock spec §11.3 layers on top of the
// unique-constraint backstop in AppendEvent: it serializes concurrent
// appends to the same execution across engine-api instances so two
// processes racing the same execution never both read the same
// MAX(event_index) before either has inserted.
type Locker interface {
	// Lock blocks (bounded by ctx) until key is acquired, returning a
	// release func. A nil Locker means AppendEvent relies solely on the
	// DB unique-constraint backstop (fine for a single instance / tests).
	Lock(ctx context.Context, key string) (release func(), err error)
}

// RedisLocker implements Locker with a Redis SET-NX spin lock, matching
// the SetNX/Delete primitives common/redis.Client already exposes.
type RedisLocker struct {
	client       *commonredis.Client
	lockTTL      time.Duration
	pollInterval time.Duration
	waitTimeout  time.Duration
}

// NewRedisLocker builds a RedisLocker with spec-sized defaults: locks
// expire after 5s (covers a slow insert, never outlives a crashed holder
// for long), polling every 25ms up to a 2s wait before giving up.
func NewRedisLocker(client *commonredis.Client) *RedisLocker {
	return &RedisLocker{
		client:       client,
		lockTTL:      5 * time.Second,
		pollInterval: 25 * time.Millisecond,
		waitTimeout:  2 * time.Second,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	lockKey := fmt.Sprintf("execlock:%s", key)
	token := uuid.New().String()

	deadline := time.Now().Add(l.waitTimeout)
	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, l.lockTTL)
		if err != nil {
			return nil, fmt.Errorf("acquire execution lock: %w", err)
		}
		if ok {
			return func() { l.client.Delete(context.Background(), lockKey) }, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("acquire execution lock %s: timed out", key)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
