package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisReferencePrefix = "segstream:refs:"

// ReferenceIndex records which sessions use which entries somewhere every process sharing the cache
// root can see. Each reference expires on its own unless it is registered again.
type ReferenceIndex interface {
	AddReference(ctx context.Context, cacheKey, sessionID string, expiresAt time.Time) error
	RemoveReference(ctx context.Context, cacheKey, sessionID string) error
	// LiveReferences counts the references to cacheKey that have not expired at now
	LiveReferences(ctx context.Context, cacheKey string, now time.Time) (int64, error)
}

// Adds the member scored by its expiry, drops members that have already expired and keeps the key
// alive until its last member expires
var addReferenceScript = redis.NewScript(`
redis.call("ZADD", KEYS[1], ARGV[1], ARGV[2])
redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", "(" .. ARGV[3])
local last = redis.call("ZRANGE", KEYS[1], -1, -1, "WITHSCORES")
if last[2] then
	redis.call("PEXPIREAT", KEYS[1], last[2])
end
return 1
`)

// RedisReferences implements ReferenceIndex with one sorted set per cache key, members are session
// IDs scored by their expiry in unix milliseconds
type RedisReferences struct {
	client redis.UniversalClient
}

func NewRedisReferences(client redis.UniversalClient) *RedisReferences {
	return &RedisReferences{client: client}
}

func (r *RedisReferences) AddReference(ctx context.Context, cacheKey, sessionID string, expiresAt time.Time) error {
	key := redisReferencePrefix + cacheKey
	err := addReferenceScript.Run(ctx, r.client, []string{key},
		expiresAt.UnixMilli(), sessionID, time.Now().UnixMilli()).Err()
	if err != nil {
		return fmt.Errorf("failed to add reference to %s: %w", key, err)
	}
	return nil
}

func (r *RedisReferences) RemoveReference(ctx context.Context, cacheKey, sessionID string) error {
	key := redisReferencePrefix + cacheKey
	if err := r.client.ZRem(ctx, key, sessionID).Err(); err != nil {
		return fmt.Errorf("failed to remove reference from %s: %w", key, err)
	}
	return nil
}

func (r *RedisReferences) LiveReferences(ctx context.Context, cacheKey string, now time.Time) (int64, error) {
	key := redisReferencePrefix + cacheKey
	n, err := r.client.ZCount(ctx, key, strconv.FormatInt(now.UnixMilli(), 10), "+inf").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count references of %s: %w", key, err)
	}
	return n, nil
}
