package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/soltraderbot/internal/domain"
)

// unlockLua releases a lock only when the stored token matches, so an
// expired holder cannot free a lock someone else has since taken.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// LockManager implements domain.LockManager over SET NX with a TTL. The
// executor locks per mint around a sell, so the API trigger and the
// automation path cannot submit the same sell twice.
type LockManager struct {
	rdb    *redis.Client
	unlock *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		rdb:    c.Underlying(),
		unlock: redis.NewScript(unlockLua),
	}
}

// Acquire takes the lock for a key, returning the release func. A held lock
// yields domain.ErrLockHeld. Release is idempotent and uses its own timeout
// so it still works after the caller's context is gone.
func (lm *LockManager) Acquire(ctx context.Context, lockedKey string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	k := key("lock", lockedKey)

	ok, err := lm.rdb.SetNX(ctx, k, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", lockedKey, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			relCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlock.Run(relCtx, lm.rdb, []string{k}, token).Err()
		})
	}
	return release, nil
}

var _ domain.LockManager = (*LockManager)(nil)
