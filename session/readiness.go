package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"github.com/cenkalti/backoff/v4"
	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/metrics"
	"github.com/livepeer/catalyst-audio/pipeline"
)

// Chunks that must exist before a client can start playback of a still-building asset
const startupChunks = 2

// WaitForManifestReady blocks until the session's manifest can be handed to a client. While a build
// is running that means the manifest, its init segment and the first chunks are on disk. Once no
// build is running the manifest existing is enough.
func (r *Registry) WaitForManifestReady(ctx context.Context, s *Session) error {
	start := time.Now()
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.StartupWindow)
	defer cancel()

	var notReady error
	operation := func() error {
		if failure := r.assets.GetBuildFailure(s.CacheKey); failure != nil {
			return caterrs.Unretriable(caterrs.NewBuildFailedError(s.CacheKey, failure))
		}
		notReady = r.checkManifestReady(waitCtx, s)
		return notReady
	}
	err := backoff.Retry(operation, backoff.WithContext(backoff.NewConstantBackOff(r.cfg.PollInterval), waitCtx))

	outcome := "ready"
	switch {
	case err == nil:
	case caterrs.IsCode(err, caterrs.AssetBuildFailed):
		outcome = "failed"
	case ctx.Err() != nil:
		outcome = "cancelled"
		err = ctx.Err()
	default:
		outcome = "not_ready"
		if notReady == nil {
			notReady = err
		}
		err = caterrs.NewAssetNotReadyError(r.cfg.RetryAfter, notReady)
	}
	metrics.Metrics.ReadinessWaitSec.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if err != nil {
		log.LogCtx(ctx, "Streaming manifest not handed out", "session_id", s.SessionID, "cache_key", s.CacheKey, "outcome", outcome, "err", err)
	}
	return err
}

func (r *Registry) checkManifestReady(ctx context.Context, s *Session) error {
	if !r.assets.HasInFlightBuild(ctx, s.CacheKey) {
		if _, err := os.Stat(s.ManifestPath); err != nil {
			return fmt.Errorf("manifest not available: %w", err)
		}
		return nil
	}

	playlist, err := pipeline.ReadMediaPlaylist(s.ManifestPath)
	if err != nil {
		return err
	}
	segments := pipeline.Segments(playlist)
	if len(segments) < startupChunks {
		return fmt.Errorf("manifest lists %d of %d startup chunks", len(segments), startupChunks)
	}

	if initURI := pipeline.InitSegmentURI(playlist); initURI != "" {
		if err := requireSegmentFile(s, initURI); err != nil {
			return err
		}
	} else if !IsLegacySegment(path.Base(segments[0].URI)) {
		return errors.New("manifest has no init segment")
	}
	for _, seg := range segments[:startupChunks] {
		if err := requireSegmentFile(s, seg.URI); err != nil {
			return err
		}
	}
	return nil
}

func requireSegmentFile(s *Session, uri string) error {
	p, err := ResolveSegmentPath(s, path.Base(uri))
	if err != nil {
		return err
	}
	info, err := os.Stat(p)
	if err != nil {
		return fmt.Errorf("segment %s not available: %w", uri, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("segment %s is empty", uri)
	}
	return nil
}
