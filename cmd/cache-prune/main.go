package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/livepeer/catalyst-audio/cache"
	"github.com/livepeer/catalyst-audio/clients"
	"github.com/livepeer/catalyst-audio/config"
	"github.com/peterbourgon/ff/v3"
)

// Runs a single prune pass over a cache root and prints what it did. Point it at the servers' Redis
// so entries their sessions reference are kept; without it only the min-age rule protects them.
func main() {
	fs := flag.NewFlagSet("cache-prune", flag.ExitOnError)
	cli := config.Cli{}

	fs.StringVar(&cli.CacheRoot, "cache-root", "/var/cache/segstream", "Directory holding built streaming assets")
	config.ByteSizeFlag(fs, &cli.CacheMaxBytes, "cache-max-bytes", 20<<30, "Cache size that triggers pruning. Accepts K, M, G and T suffixes")
	fs.Float64Var(&cli.CacheTargetRatio, "cache-target-ratio", 0.85, "Fraction of cache-max-bytes that the pass shrinks the cache to")
	fs.DurationVar(&cli.CacheMinAge, "cache-min-age", 10*time.Minute, "Cache entries modified more recently than this are never pruned")
	fs.StringVar(&cli.RedisURL, "redis-url", "", "Redis URL holding the servers' shared cache references")
	config.CommaSliceFlag(fs, &cli.RedisClusterAddrs, "redis-cluster-addrs", []string{}, "Comma delimited Redis cluster addresses, used instead of redis-url")
	timeout := fs.Duration("timeout", 10*time.Minute, "Give up on the pass after this long")
	_ = fs.String("config", "", "config file (optional)")

	err := ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("SEGSTREAM"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if cli.CacheTargetRatio <= 0 || cli.CacheTargetRatio >= 1 {
		glog.Fatalf("cache-target-ratio must be between 0 and 1, got %v", cli.CacheTargetRatio)
	}

	cacheConfig := cache.Config{
		Root:        cli.CacheRoot,
		MaxBytes:    cli.CacheMaxBytes,
		TargetRatio: cli.CacheTargetRatio,
		MinAge:      cli.CacheMinAge,
	}
	if cli.UseSharedStore() {
		redisClient, err := clients.NewRedisClient(cli.RedisURL, cli.RedisClusterAddrs)
		if err != nil {
			glog.Fatalf("Error creating redis client: %v", err)
		}
		defer redisClient.Close()
		cacheConfig.References = cache.NewRedisReferences(redisClient)
	} else {
		glog.Warning("Redis was not configured, entries referenced by running servers are only protected by cache-min-age")
	}
	store := cache.NewStore(cacheConfig)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	result := store.PruneIfNeeded(ctx)

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		glog.Fatalf("failed to encode prune result: %s", err)
	}
	fmt.Println(string(out))
}
