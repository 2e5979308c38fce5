package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/livepeer/catalyst-audio/cache"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/metrics"
)

// ErrBuildInFlight is returned by a Worker asked to start a build for a key it is already building
var ErrBuildInFlight = errors.New("build already in flight")

// Profile describes the encoding a streaming asset is built with
type Profile struct {
	Codec string `json:"codec"`
	// Zero for lossless profiles
	BitrateKbps int  `json:"bitrateKbps"`
	Lossless    bool `json:"lossless"`
}

// BuildRequest is everything a Worker needs to populate one cache entry
type BuildRequest struct {
	RequestID    string
	CacheKey     string
	TrackID      string
	SourcePath   string
	OutputDir    string
	ManifestPath string
	Profile      Profile
}

// Worker is the transcode/segmentation backend. It eventually populates OutputDir with a manifest
// and chunk files, and never leaves a finished but incomplete manifest behind once it stops
// reporting a build as in flight.
type Worker interface {
	// StartBuild returns immediately. The returned channel receives the build outcome once.
	StartBuild(ctx context.Context, req BuildRequest) (<-chan error, error)
	HasInFlightBuild(cacheKey string) bool
	GetBuildFailure(cacheKey string) error
}

// Segmenter does the actual work of a build, synchronously
type Segmenter interface {
	Segment(ctx context.Context, req BuildRequest) error
}

type buildJob struct {
	req     BuildRequest
	started time.Time
}

// LocalWorker runs builds in background goroutines of this process and remembers their failures
type LocalWorker struct {
	segmenter Segmenter
	timeout   time.Duration

	inFlight *cache.Cache[*buildJob]
	failures *cache.Cache[error]
}

func NewLocalWorker(segmenter Segmenter, timeout time.Duration) *LocalWorker {
	return &LocalWorker{
		segmenter: segmenter,
		timeout:   timeout,
		inFlight:  cache.New[*buildJob](),
		failures:  cache.New[error](),
	}
}

func (w *LocalWorker) StartBuild(ctx context.Context, req BuildRequest) (<-chan error, error) {
	job := &buildJob{req: req, started: time.Now()}
	if _, stored := w.inFlight.StoreIfAbsent(req.CacheKey, job); !stored {
		return nil, ErrBuildInFlight
	}
	w.failures.Remove(req.CacheKey)
	metrics.Metrics.Builds.Started.Inc()
	metrics.Metrics.Builds.InFlight.Inc()
	log.Log(req.RequestID, "Starting streaming asset build", "cache_key", req.CacheKey, "codec", req.Profile.Codec, "bitrate_kbps", req.Profile.BitrateKbps)

	done := make(chan error, 1)
	go func() {
		defer close(done)
		err := w.run(ctx, job)
		done <- err
	}()
	return done, nil
}

func (w *LocalWorker) run(ctx context.Context, job *buildJob) error {
	req := job.req
	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	_, err := recovered(func() (bool, error) {
		return true, w.segmenter.Segment(ctx, req)
	})

	if err != nil {
		// Partial output must not be mistaken for a finished asset later on
		if rmErr := os.RemoveAll(req.OutputDir); rmErr != nil {
			log.LogError(req.RequestID, "failed to remove output of failed build", rmErr, "cache_key", req.CacheKey)
		}
		w.failures.Store(req.CacheKey, err)
		metrics.Metrics.Builds.Failed.Inc()
		log.LogError(req.RequestID, "Streaming asset build failed", err, "cache_key", req.CacheKey)
	} else {
		log.Log(req.RequestID, "Streaming asset build finished", "cache_key", req.CacheKey, "duration", time.Since(job.started))
	}

	// Record the failure before the key stops being reported as in flight so that pollers never
	// observe a build that is neither running nor failed
	w.inFlight.RemoveIf(req.CacheKey, func(j *buildJob) bool { return j == job })
	metrics.Metrics.Builds.InFlight.Dec()
	metrics.Metrics.Builds.BuildDurationSec.WithLabelValues(strconv.FormatBool(err == nil)).Observe(time.Since(job.started).Seconds())
	return err
}

func (w *LocalWorker) HasInFlightBuild(cacheKey string) bool {
	_, ok := w.inFlight.Lookup(cacheKey)
	return ok
}

func (w *LocalWorker) GetBuildFailure(cacheKey string) error {
	err, ok := w.failures.Lookup(cacheKey)
	if !ok {
		return nil
	}
	return err
}

// InFlightBuilds is the number of builds currently running in this process
func (w *LocalWorker) InFlightBuilds() int {
	return w.inFlight.Len()
}

func recovered[T any](f func() (T, error)) (t T, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoRequestID("panic in build worker goroutine, recovering", "err", rec)
			err = fmt.Errorf("panic in build worker: %v", rec)
		}
	}()
	return f()
}
