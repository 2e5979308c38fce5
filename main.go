package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/livepeer/catalyst-audio/api"
	"github.com/livepeer/catalyst-audio/cache"
	"github.com/livepeer/catalyst-audio/catalog"
	"github.com/livepeer/catalyst-audio/clients"
	"github.com/livepeer/catalyst-audio/config"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/metrics"
	"github.com/livepeer/catalyst-audio/pipeline"
	"github.com/livepeer/catalyst-audio/pprof"
	"github.com/livepeer/catalyst-audio/session"
	"github.com/peterbourgon/ff/v3"
	"golang.org/x/sync/errgroup"
)

const redisBuildLockTTL = 30 * time.Second

func main() {
	err := flag.Set("logtostderr", "true")
	if err != nil {
		glog.Fatal(err)
	}
	vFlag := flag.Lookup("v")
	fs := flag.NewFlagSet("segstream", flag.ExitOnError)
	cli := config.Cli{}

	version := fs.Bool("version", false, "print application version")

	// listen addresses
	config.AddrFlag(fs, &cli.HTTPAddress, "http-addr", "0.0.0.0:8989", "Address to bind for the streaming HTTP API")
	fs.IntVar(&cli.PromPort, "prom-port", 2112, "Prometheus metrics listen port")
	fs.IntVar(&cli.PprofPort, "pprof-port", 6061, "Pprof listen port")
	fs.StringVar(&cli.APIToken, "api-token", "", "Auth header value required to create sessions. Empty disables the check")
	fs.StringVar(&cli.PublicURL, "public-url", "http://localhost:8989", "Base URL clients use to reach this API, used to build manifest URLs")

	// cache store
	fs.StringVar(&cli.CacheRoot, "cache-root", "/var/cache/segstream", "Directory holding built streaming assets")
	config.ByteSizeFlag(fs, &cli.CacheMaxBytes, "cache-max-bytes", 20<<30, "Cache size that triggers pruning. Accepts K, M, G and T suffixes")
	fs.Float64Var(&cli.CacheTargetRatio, "cache-target-ratio", 0.85, "Fraction of cache-max-bytes that a prune pass shrinks the cache to")
	fs.DurationVar(&cli.CacheMinAge, "cache-min-age", 10*time.Minute, "Cache entries modified more recently than this are never pruned")
	fs.DurationVar(&cli.PruneInterval, "prune-interval", time.Minute, "Minimum time between scheduled prune passes")
	config.InvertedBoolFlag(fs, &cli.PruneOnSession, "prune-on-session", true, "Do not schedule a prune pass when sessions are created")
	fs.IntVar(&cli.CacheSchemaVersion, "cache-schema-version", 1, "Bump to invalidate every cached asset")

	// sessions and tokens
	fs.StringVar(&cli.TokenSecret, "token-secret", "", "HMAC secret used to sign session tokens")
	fs.DurationVar(&cli.SessionTTL, "session-ttl", config.DefaultSessionTTL, "How long a session lives without a heartbeat")
	fs.DurationVar(&cli.TokenTTL, "token-ttl", config.DefaultTokenTTL, "Lifetime of an issued session token")
	fs.DurationVar(&cli.SoftExpiryWindow, "soft-expiry-window", config.DefaultSoftExpiryWindow, "How long past expiry a token of a recently refreshed session is still accepted")
	fs.DurationVar(&cli.StartupWindow, "startup-window", config.DefaultStartupWindow, "How long a manifest request waits for the first segments of a build")
	fs.DurationVar(&cli.ReadinessPollInterval, "readiness-poll-interval", config.DefaultReadinessPollInterval, "How often a waiting manifest request checks for new segments")
	fs.DurationVar(&cli.RetryAfter, "retry-after", config.DefaultRetryAfter, "Retry hint sent with not-ready responses")
	fs.DurationVar(&cli.SweepInterval, "sweep-interval", 30*time.Second, "How often references held by expired sessions are cleared")

	// collaborators
	fs.StringVar(&cli.CatalogDBConnectionString, "catalog-db-connection-string", "", "Connection string for the track catalog Postgres DB. Takes the form: host=X port=X user=X password=X dbname=X")
	fs.StringVar(&cli.RedisURL, "redis-url", "", "Redis URL for shared session records, cache references and build locks. Empty keeps them in process")
	config.CommaSliceFlag(fs, &cli.RedisClusterAddrs, "redis-cluster-addrs", []string{}, "Comma delimited Redis cluster addresses, used instead of redis-url")
	fs.StringVar(&cli.FFmpegPath, "ffmpeg-path", "ffmpeg", "Path to the ffmpeg binary")
	fs.StringVar(&cli.FFprobePath, "ffprobe-path", "ffprobe", "Path to the ffprobe binary")
	fs.IntVar(&cli.LossyBitrateKbps, "lossy-bitrate", config.DefaultLossyBitrateKbps, "Bitrate in kbps of the top lossy quality tier")
	fs.IntVar(&cli.SegmentSeconds, "segment-seconds", 4, "Target duration of each segment")
	fs.DurationVar(&cli.BuildTimeout, "build-timeout", 10*time.Minute, "Builds running longer than this are cancelled")
	fs.IntVar(&cli.MaxInFlightBuilds, "max-inflight-builds", 8, "Session creation is refused while this many builds are running. 0 disables the limit")

	// special parameters
	verbosity := fs.String("v", "", "Log verbosity.  {4|5|6}")
	_ = fs.String("config", "", "config file (optional)")

	err = ff.Parse(fs, os.Args[1:],
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithEnvVarPrefix("SEGSTREAM"),
	)
	if err != nil {
		glog.Fatalf("error parsing cli: %s", err)
	}
	if len(fs.Args()) > 0 {
		glog.Fatalf("unexpected extra arguments on command line: %v", fs.Args())
	}
	err = flag.CommandLine.Parse(nil)
	if err != nil {
		glog.Fatal(err)
	}

	if *version {
		fmt.Printf("segstream version: %s", config.Version)
		return
	}

	if *verbosity != "" {
		err = vFlag.Value.Set(*verbosity)
		if err != nil {
			glog.Fatal(err)
		}
	}

	if err := cli.Validate(); err != nil {
		glog.Fatalf("invalid configuration: %s", err)
	}
	if err := os.MkdirAll(cli.CacheRoot, 0755); err != nil {
		glog.Fatalf("Error creating cache root %s: %v", cli.CacheRoot, err)
	}

	go func() {
		glog.Info(pprof.ListenAndServe(cli.PprofPort))
	}()

	// Initialize root context; cancelling this prompts all components to shut down cleanly
	group, ctx := errgroup.WithContext(context.Background())

	cacheConfig := cache.Config{
		Root:          cli.CacheRoot,
		MaxBytes:      cli.CacheMaxBytes,
		TargetRatio:   cli.CacheTargetRatio,
		MinAge:        cli.CacheMinAge,
		PruneInterval: cli.PruneInterval,
		// Matches the lifetime of the session record the reference belongs to
		ReferenceTTL: cli.SessionTTL + cli.SoftExpiryWindow,
	}

	var (
		sessionStore session.Store
		buildLock    pipeline.BuildLock
	)
	if cli.UseSharedStore() {
		redisClient, err := clients.NewRedisClient(cli.RedisURL, cli.RedisClusterAddrs)
		if err != nil {
			glog.Fatalf("Error creating redis client: %v", err)
		}
		defer redisClient.Close()
		sessionStore = session.NewRedisStore(redisClient)
		buildLock = pipeline.NewRedisLock(redisClient, redisBuildLockTTL)
		cacheConfig.References = cache.NewRedisReferences(redisClient)
	} else {
		glog.Info("Redis was not configured, session records, cache references and build locks are kept in process.")
		sessionStore = session.NewMemoryStore(time.Minute)
		buildLock = pipeline.NewFileLock(filepath.Join(cli.CacheRoot, ".locks"))
	}
	cacheStore := cache.NewStore(cacheConfig)

	worker := pipeline.NewLocalWorker(&pipeline.FFmpegSegmenter{
		FFmpegPath:     cli.FFmpegPath,
		SegmentSeconds: cli.SegmentSeconds,
	}, cli.BuildTimeout)
	coordinator := pipeline.NewCoordinator(ctx, cacheStore, worker, buildLock)

	if cli.CatalogDBConnectionString == "" {
		glog.Fatal("catalog-db-connection-string must be set")
	}
	catalogDB, err := catalog.Open(cli.CatalogDBConnectionString)
	if err != nil {
		glog.Fatalf("Error creating postgres catalog connection: %v", err)
	}
	defer catalogDB.Close()

	registry := session.NewRegistry(session.RegistryConfig{
		PublicURL:        cli.PublicURL,
		SessionTTL:       cli.SessionTTL,
		SchemaVersion:    cli.CacheSchemaVersion,
		SoftExpiryWindow: cli.SoftExpiryWindow,
		StartupWindow:    cli.StartupWindow,
		PollInterval:     cli.ReadinessPollInterval,
		RetryAfter:       cli.RetryAfter,
		LossyBitrateKbps: cli.LossyBitrateKbps,
		PruneOnSession:   cli.PruneOnSession,
	},
		sessionStore,
		cacheStore,
		coordinator,
		catalog.NewPostgresCatalog(catalogDB),
		catalog.NewInspector(cli.FFprobePath),
		session.NewTokenIssuer(cli.TokenSecret, cli.TokenTTL, config.Clock),
		config.Clock,
	)

	group.Go(func() error {
		return handleSignals(ctx)
	})

	group.Go(func() error {
		return api.ListenAndServe(ctx, cli, registry, worker)
	})

	group.Go(func() error {
		return metrics.ListenAndServe(ctx, cli.PromPort)
	})

	group.Go(func() error {
		return runCacheMaintenance(ctx, registry, cacheStore, cli.SweepInterval)
	})

	err = group.Wait()
	cacheStore.WaitForScheduledPrune()
	glog.Infof("Shutdown complete. Reason for shutdown: %s", err)
}

// runCacheMaintenance drops references held by sessions that have gone away and then asks for a
// prune pass, so entries they protected become evictable
func runCacheMaintenance(ctx context.Context, registry *session.Registry, cacheStore *cache.Store, interval time.Duration) error {
	ctx = log.WithLogValues(ctx, "component", "cache_maintenance")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cleared := registry.SweepExpiredReferences(ctx)
			if cacheStore.SchedulePrune() {
				log.V(5).LogCtx(ctx, "scheduled cache prune", "cleared_references", cleared)
			}
		}
	}
}

func handleSignals(ctx context.Context) error {
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
	for {
		select {
		case s := <-c:
			glog.Errorf("caught signal=%v, attempting clean shutdown", s)
			return fmt.Errorf("caught signal=%v", s)
		case <-ctx.Done():
			return nil
		}
	}
}
