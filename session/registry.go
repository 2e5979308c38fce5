package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/livepeer/catalyst-audio/cache"
	"github.com/livepeer/catalyst-audio/catalog"
	"github.com/livepeer/catalyst-audio/config"
	caterrs "github.com/livepeer/catalyst-audio/errors"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/metrics"
	"github.com/livepeer/catalyst-audio/pipeline"
)

const ManifestPathFormat = "/api/stream/sessions/%s/manifest"

// Assets is the part of the build coordinator sessions depend on
type Assets interface {
	GetOrCreateAsset(ctx context.Context, cacheKey string, req pipeline.BuildRequest) (pipeline.AssetHandle, error)
	HasInFlightBuild(ctx context.Context, cacheKey string) bool
	GetBuildFailure(cacheKey string) error
}

type SourceInspector interface {
	Inspect(ctx context.Context, path, codecHint string) (catalog.SourceFile, error)
}

type RegistryConfig struct {
	PublicURL     string
	SessionTTL    time.Duration
	SchemaVersion int
	// How long past its expiry a refreshed session's tokens stay acceptable
	SoftExpiryWindow time.Duration
	StartupWindow    time.Duration
	PollInterval     time.Duration
	RetryAfter       time.Duration
	LossyBitrateKbps int
	PruneOnSession   bool
}

// Registry owns the lifecycle of playback sessions
type Registry struct {
	cfg       RegistryConfig
	store     Store
	cache     *cache.Store
	assets    Assets
	catalog   catalog.Catalog
	inspector SourceInspector
	tokens    *TokenIssuer
	clock     config.TimestampGenerator
}

func NewRegistry(cfg RegistryConfig, store Store, cacheStore *cache.Store, assets Assets, cat catalog.Catalog, inspector SourceInspector, tokens *TokenIssuer, clock config.TimestampGenerator) *Registry {
	if clock == nil {
		clock = config.Clock
	}
	return &Registry{
		cfg:       cfg,
		store:     store,
		cache:     cacheStore,
		assets:    assets,
		catalog:   cat,
		inspector: inspector,
		tokens:    tokens,
		clock:     clock,
	}
}

// recordTTL keeps a record around long enough for soft expiry to be evaluated
func (r *Registry) recordTTL(s *Session) time.Duration {
	return s.ExpiresAt.Sub(r.clock.Now()) + r.cfg.SoftExpiryWindow
}

func (r *Registry) resolveQuality(ctx context.Context, req CreateRequest) (Quality, error) {
	desired := req.DesiredQuality
	if desired == "" {
		preferred, err := r.catalog.DefaultQuality(ctx, req.UserID)
		if err != nil {
			log.LogError(req.RequestID, "failed to load default quality, using the default tier", err, "user_id", req.UserID)
		}
		desired = preferred
	}
	if desired == "" {
		return DefaultQuality, nil
	}
	q, err := ParseQuality(desired)
	if err != nil && req.DesiredQuality == "" {
		// A stale stored preference should not block playback
		log.Log(req.RequestID, "ignoring unknown stored quality preference", "user_id", req.UserID, "quality", desired)
		return DefaultQuality, nil
	}
	return q, err
}

// CreateLocalSession starts playback of a track from the local library
func (r *Registry) CreateLocalSession(ctx context.Context, req CreateRequest) (Descriptor, error) {
	if req.SourceType != "" && req.SourceType != SourceTypeLocal {
		return Descriptor{}, fmt.Errorf("%w: %q", caterrs.ErrUnsupportedSource, req.SourceType)
	}
	quality, err := r.resolveQuality(ctx, req)
	if err != nil {
		return Descriptor{}, err
	}

	track, err := r.catalog.GetTrack(ctx, req.TrackID)
	if err != nil {
		return Descriptor{}, err
	}
	src, err := r.inspector.Inspect(ctx, track.FilePath, track.Codec)
	if err != nil {
		return Descriptor{}, caterrs.NewTrackNotFoundError(req.TrackID, err)
	}

	profile := ProfileFor(src.Lossless, quality, r.cfg.LossyBitrateKbps)
	cacheKey := cache.DeriveCacheKey(cache.KeyInputs{
		TrackID:       track.ID,
		SourcePath:    src.Path,
		SourceModTime: src.ModTime,
		Quality:       string(quality),
		SchemaVersion: r.cfg.SchemaVersion,
	})
	sessionID := uuid.New().String()
	log.AddContext(req.RequestID, "session_id", sessionID, "cache_key", cacheKey)

	// Referenced before the asset is looked up so a concurrent prune cannot remove it in between
	r.cache.RegisterSessionReference(cacheKey, sessionID)
	descriptor, err := r.createSession(ctx, req, sessionID, cacheKey, quality, profile, src)
	if err != nil {
		r.cache.ClearSessionReference(cacheKey, sessionID)
		return Descriptor{}, err
	}

	if r.cfg.PruneOnSession {
		r.cache.SchedulePrune()
	}
	metrics.Metrics.SessionsCreated.WithLabelValues(profile.Codec).Inc()
	log.Log(req.RequestID, "Created streaming session", "track_id", req.TrackID, "quality", quality, "codec", profile.Codec, "build_in_flight", descriptor.EngineHints.BuildInFlight)
	return descriptor, nil
}

func (r *Registry) createSession(ctx context.Context, req CreateRequest, sessionID, cacheKey string, quality Quality, profile pipeline.Profile, src catalog.SourceFile) (Descriptor, error) {
	handle, err := r.assets.GetOrCreateAsset(ctx, cacheKey, pipeline.BuildRequest{
		RequestID:  req.RequestID,
		TrackID:    req.TrackID,
		SourcePath: src.Path,
		Profile:    profile,
	})
	if err != nil {
		return Descriptor{}, err
	}

	now := r.clock.Now()
	s := Session{
		SessionID:    sessionID,
		UserID:       req.UserID,
		TrackID:      req.TrackID,
		CacheKey:     cacheKey,
		Quality:      quality,
		SourceType:   SourceTypeLocal,
		Profile:      profile,
		ManifestPath: handle.ManifestPath,
		AssetDir:     handle.OutputDir,
		CreatedAt:    now,
		ExpiresAt:    now.Add(r.cfg.SessionTTL),
	}
	if err := r.store.Put(ctx, s, r.recordTTL(&s)); err != nil {
		return Descriptor{}, err
	}

	token, _, err := r.tokens.Issue(s)
	if err != nil {
		_ = r.store.Delete(ctx, sessionID)
		return Descriptor{}, err
	}

	return Descriptor{
		SessionID:    sessionID,
		ManifestURL:  strings.TrimRight(r.cfg.PublicURL, "/") + fmt.Sprintf(ManifestPathFormat, sessionID),
		SessionToken: token,
		ExpiresAt:    s.ExpiresAt,
		Profile:      profile,
		EngineHints: EngineHints{
			BuildInFlight:   handle.BuildInFlight,
			PlaylistClosed:  !handle.BuildInFlight,
			StartupWindowMs: r.cfg.StartupWindow.Milliseconds(),
			RetryAfterMs:    r.cfg.RetryAfter.Milliseconds(),
		},
	}, nil
}

// GetAuthorizedSession returns the session only if it exists and belongs to userID
func (r *Registry) GetAuthorizedSession(ctx context.Context, sessionID, userID string) (*Session, error) {
	s, err := r.store.Get(ctx, sessionID)
	if err != nil || s == nil {
		return nil, err
	}
	if s.UserID != userID {
		return nil, nil
	}
	return s, nil
}

// HeartbeatSession extends the session and records playback progress. Existing tokens are kept.
func (r *Registry) HeartbeatSession(ctx context.Context, s *Session, update HeartbeatUpdate) error {
	now := r.clock.Now()
	s.ExpiresAt = now.Add(r.cfg.SessionTTL)
	s.LastRefreshedAt = now
	s.PositionSec = update.PositionSec
	s.IsPlaying = update.IsPlaying
	if err := r.store.Put(ctx, *s, r.recordTTL(s)); err != nil {
		return err
	}
	// Restores the reference if this process did not create the session or has restarted since
	r.cache.RegisterSessionReference(s.CacheKey, s.SessionID)
	metrics.Metrics.SessionHeartbeats.Inc()
	return nil
}

// EndSession tears a session down when the client stops playback
func (r *Registry) EndSession(ctx context.Context, s *Session) error {
	r.cache.ClearSessionReference(s.CacheKey, s.SessionID)
	return r.store.Delete(ctx, s.SessionID)
}

// ValidateSessionToken checks that token is a well formed credential for s
func (r *Registry) ValidateSessionToken(s *Session, token string, opts ValidateOptions) error {
	err := r.validateSessionToken(s, token, opts)
	if err != nil {
		metrics.Metrics.TokensRejected.WithLabelValues(string(caterrs.CodeOf(err))).Inc()
	}
	return err
}

func (r *Registry) validateSessionToken(s *Session, token string, opts ValidateOptions) error {
	claims, err := r.tokens.Parse(token)
	if err != nil {
		return caterrs.NewTokenInvalidError("malformed session token", err)
	}
	if claims.UserID != s.UserID || claims.TrackID != s.TrackID {
		return caterrs.NewTokenScopeMismatchError("token is scoped to another user or track")
	}
	if claims.SessionID != s.SessionID && !opts.AllowSessionIDMismatch {
		return caterrs.NewTokenScopeMismatchError("token is scoped to another session")
	}

	now := r.clock.Now()
	issuedAt := claims.IssuedAt.Time
	if !r.acceptableAt(s, issuedAt, claims.ExpiresAt.Time, now) {
		return caterrs.NewTokenInvalidError("session token expired", nil)
	}
	if !r.acceptableAt(s, issuedAt, s.ExpiresAt, now) {
		return caterrs.NewTokenInvalidError("session expired", nil)
	}
	return nil
}

// TokenSubject returns the user a correctly signed token was issued to, without checking expiry
// or scope. Media players cannot attach identity headers, so this is how their requests are attributed.
func (r *Registry) TokenSubject(token string) (string, error) {
	claims, err := r.tokens.Parse(token)
	if err != nil {
		return "", caterrs.NewTokenInvalidError("malformed session token", err)
	}
	return claims.UserID, nil
}

// acceptableAt applies soft expiry to deadline. Past it, a token stays acceptable for a bounded
// window if the session was refreshed after the token was issued. Token times have second
// precision, so the refresh has to land in a later second than the issuance.
func (r *Registry) acceptableAt(s *Session, issuedAt, deadline, now time.Time) bool {
	if !now.After(deadline) {
		return true
	}
	refreshed := s.LastRefreshedAt.Truncate(time.Second)
	return refreshed.After(issuedAt) && now.Sub(deadline) <= r.cfg.SoftExpiryWindow
}

// SweepExpiredReferences drops cache references held for sessions that no longer exist or are past
// their soft expiry window. It returns the number of references cleared.
func (r *Registry) SweepExpiredReferences(ctx context.Context) int {
	now := r.clock.Now()
	cleared := 0
	for cacheKey, sessionIDs := range r.cache.ReferenceSnapshot() {
		for _, sessionID := range sessionIDs {
			s, err := r.store.Get(ctx, sessionID)
			if err != nil {
				log.LogNoRequestID("failed to look up session during sweep", "session_id", sessionID, "err", err)
				continue
			}
			if s != nil && now.Sub(s.ExpiresAt) <= r.cfg.SoftExpiryWindow {
				continue
			}
			r.cache.ClearSessionReference(cacheKey, sessionID)
			cleared++
		}
	}
	if cleared > 0 {
		log.LogNoRequestID("cleared expired session references", "count", cleared)
	}
	return cleared
}

// IsBadRequest reports whether err was caused by invalid client input
func IsBadRequest(err error) bool {
	return errors.Is(err, caterrs.ErrInvalidQuality) || errors.Is(err, caterrs.ErrUnsupportedSource)
}
