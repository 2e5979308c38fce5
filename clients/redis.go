package clients

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient connects to a Redis cluster when clusterAddrs is set and to the single server
// named by url otherwise
func NewRedisClient(url string, clusterAddrs []string) (redis.UniversalClient, error) {
	if len(clusterAddrs) > 0 {
		return redis.NewUniversalClient(&redis.UniversalOptions{Addrs: clusterAddrs}), nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}
