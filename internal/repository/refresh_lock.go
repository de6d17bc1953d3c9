package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/melodia-ai/melodia/internal/config"
	"github.com/melodia-ai/melodia/internal/service"
)

const refreshLockKey = "spotify:token_lock"

// releaseScript deletes the lock only when this instance still owns it,
// so a holder that outlived the lock TTL cannot release a successor's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type refreshLock struct {
	rdb   *redis.Client
	owner string
	ttl   time.Duration
}

// NewRefreshLock builds the cross-process refresh lock. Each process gets
// its own owner id; the lock self-expires after the configured timeout so
// a crashed holder never wedges refreshes.
func NewRefreshLock(rdb *redis.Client, cfg *config.Config) service.RefreshLock {
	return &refreshLock{
		rdb:   rdb,
		owner: uuid.NewString(),
		ttl:   cfg.Token.LockTimeout(),
	}
}

func (l *refreshLock) TryAcquire(ctx context.Context) (bool, error) {
	return l.rdb.SetNX(ctx, refreshLockKey, l.owner, l.ttl).Result()
}

func (l *refreshLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.rdb, []string{refreshLockKey}, l.owner).Err()
}
