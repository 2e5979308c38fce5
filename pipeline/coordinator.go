package pipeline

import (
	"context"
	"errors"
	"os"

	"github.com/livepeer/catalyst-audio/cache"
	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/metrics"
	"golang.org/x/sync/singleflight"
)

// AssetHandle describes where an asset lives, whether or not it has finished building
type AssetHandle struct {
	CacheKey     string
	OutputDir    string
	ManifestPath string
	// True when a build for this key is running, in this process or another
	BuildInFlight bool
	// True when this call joined a build that someone else started
	Attached bool
}

// Coordinator makes sure at most one build runs per cache key and answers status questions about
// builds. Requests never wait for a build to finish.
type Coordinator struct {
	store  *cache.Store
	worker Worker
	lock   BuildLock
	group  singleflight.Group
	// Builds outlive the request that started them
	buildCtx context.Context
}

func NewCoordinator(buildCtx context.Context, store *cache.Store, worker Worker, lock BuildLock) *Coordinator {
	return &Coordinator{
		store:    store,
		worker:   worker,
		lock:     lock,
		buildCtx: buildCtx,
	}
}

// GetOrCreateAsset returns the asset for cacheKey, starting a build if the asset is missing and
// nobody is building it yet
func (c *Coordinator) GetOrCreateAsset(ctx context.Context, cacheKey string, req BuildRequest) (AssetHandle, error) {
	paths := c.store.ResolveAssetPaths(cacheKey)
	req.CacheKey = cacheKey
	req.OutputDir = paths.OutputDir
	req.ManifestPath = paths.ManifestPath
	handle := AssetHandle{
		CacheKey:     cacheKey,
		OutputDir:    paths.OutputDir,
		ManifestPath: paths.ManifestPath,
	}

	// Concurrent callers in this process share one start decision per key
	v, err, _ := c.group.Do(cacheKey, func() (interface{}, error) {
		return c.ensureBuild(ctx, req)
	})
	if err != nil {
		return AssetHandle{}, err
	}
	state := v.(buildState)
	handle.BuildInFlight = state.inFlight
	handle.Attached = state.attached
	return handle, nil
}

type buildState struct {
	inFlight bool
	attached bool
}

func (c *Coordinator) ensureBuild(ctx context.Context, req BuildRequest) (buildState, error) {
	if c.HasInFlightBuild(ctx, req.CacheKey) {
		return c.attach(req), nil
	}
	if IsCompleteManifest(req.ManifestPath) {
		return buildState{}, nil
	}

	release, acquired, err := c.lock.TryAcquire(ctx, req.CacheKey)
	if err != nil {
		return buildState{}, caterrs.NewBuildFailedError(req.CacheKey, err)
	}
	if !acquired {
		return c.attach(req), nil
	}

	// Another process may have finished the asset between the checks above and taking the lock
	if IsCompleteManifest(req.ManifestPath) {
		release()
		return buildState{}, nil
	}
	if _, err := os.Stat(req.OutputDir); err == nil {
		// Left behind by a build that died with its process
		log.Log(req.RequestID, "Removing incomplete streaming asset", "cache_key", req.CacheKey)
		if err := os.RemoveAll(req.OutputDir); err != nil {
			release()
			return buildState{}, caterrs.NewBuildFailedError(req.CacheKey, err)
		}
	}

	done, err := c.worker.StartBuild(c.buildCtx, req)
	if errors.Is(err, ErrBuildInFlight) {
		release()
		return c.attach(req), nil
	}
	if err != nil {
		release()
		return buildState{}, caterrs.NewBuildFailedError(req.CacheKey, err)
	}

	go func() {
		defer release()
		<-done
	}()
	return buildState{inFlight: true}, nil
}

func (c *Coordinator) attach(req BuildRequest) buildState {
	metrics.Metrics.Builds.Attached.Inc()
	log.Log(req.RequestID, "Attached to in-flight streaming asset build", "cache_key", req.CacheKey)
	return buildState{inFlight: true, attached: true}
}

func (c *Coordinator) HasInFlightBuild(ctx context.Context, cacheKey string) bool {
	return c.worker.HasInFlightBuild(cacheKey) || c.lock.IsHeld(ctx, cacheKey)
}

// GetBuildFailure returns the error of the last failed build of cacheKey, or nil
func (c *Coordinator) GetBuildFailure(cacheKey string) error {
	return c.worker.GetBuildFailure(cacheKey)
}
