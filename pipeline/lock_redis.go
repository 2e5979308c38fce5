package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/redis/go-redis/v9"
)

const redisBuildLockPrefix = "segstream:build:"

// Deletes the key only if it still holds the value we set, so an expired lock taken over by
// another process is left alone
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLock implements BuildLock with SET NX PX keys shared by every process using the same Redis.
// A held lock is refreshed in the background until released, so TTL only matters when the owning
// process dies.
type RedisLock struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisLock(client redis.UniversalClient, ttl time.Duration) *RedisLock {
	return &RedisLock{client: client, ttl: ttl}
}

func (l *RedisLock) TryAcquire(ctx context.Context, cacheKey string) (func(), bool, error) {
	key := redisBuildLockPrefix + cacheKey
	owner := uuid.New().String()
	ok, err := l.client.SetNX(ctx, key, owner, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire build lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	stop := make(chan struct{})
	go l.refresh(key, owner, stop)

	release := func() {
		close(stop)
		// The caller's context may already be gone by the time a build finishes
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{key}, owner).Err(); err != nil {
			log.LogNoRequestID("failed to release build lock", "cache_key", cacheKey, "err", err)
		}
	}
	return release, true, nil
}

func (l *RedisLock) refresh(key, owner string, stop <-chan struct{}) {
	ticker := time.NewTicker(l.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			current, err := l.client.Get(ctx, key).Result()
			if err == nil && current == owner {
				err = l.client.PExpire(ctx, key, l.ttl).Err()
			}
			cancel()
			if err != nil {
				log.LogNoRequestID("failed to refresh build lock", "key", key, "err", err)
			}
		}
	}
}

func (l *RedisLock) IsHeld(ctx context.Context, cacheKey string) bool {
	n, err := l.client.Exists(ctx, redisBuildLockPrefix+cacheKey).Result()
	if err != nil {
		log.LogNoRequestID("failed to check build lock", "cache_key", cacheKey, "err", err)
		return false
	}
	return n > 0
}
