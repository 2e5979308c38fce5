package cache

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/livepeer/catalyst-audio/config"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/metrics"
	"golang.org/x/sync/singleflight"
)

const (
	ManifestFileName = "index.m3u8"
	InitFileName     = "init.mp4"

	defaultReferenceTTL = 15 * time.Minute
	referenceTimeout    = 2 * time.Second
)

type Config struct {
	Root string
	// Pruning starts once the cache reaches this many bytes
	MaxBytes int64
	// Pruning stops once the cache is at or below MaxBytes * TargetRatio
	TargetRatio float64
	// Entries modified more recently than this are never evicted
	MinAge time.Duration
	// Minimum time between two scheduled prune passes
	PruneInterval time.Duration
	// Optional. When set, references are also recorded here so prune passes in other processes
	// sharing Root respect them.
	References ReferenceIndex
	// How long a shared reference outlives its last registration
	ReferenceTTL time.Duration
	Clock        config.TimestampGenerator
}

type AssetPaths struct {
	OutputDir    string `json:"outputDir"`
	ManifestPath string `json:"manifestPath"`
}

// Store owns the on-disk streaming cache and the table of which sessions are using which entries.
// The table is kept in memory and, when a ReferenceIndex is configured, mirrored into it.
type Store struct {
	cfg Config

	refsMu sync.Mutex
	refs   map[string]map[string]struct{}

	scheduleMu   sync.Mutex
	pruneRunning bool
	lastPruneAt  time.Time
	pruneWG      sync.WaitGroup
	pruneGroup   singleflight.Group
	// overridden in tests
	pruneFunc  func(ctx context.Context) PruneResult
	usageFunc  func(dir string) (int64, time.Time, error)
	removeFunc func(dir string) error
}

func NewStore(cfg Config) *Store {
	if cfg.Clock == nil {
		cfg.Clock = config.Clock
	}
	if cfg.ReferenceTTL <= 0 {
		cfg.ReferenceTTL = defaultReferenceTTL
	}
	s := &Store{
		cfg:  cfg,
		refs: map[string]map[string]struct{}{},
	}
	s.pruneFunc = s.PruneIfNeeded
	s.usageFunc = entryUsage
	s.removeFunc = os.RemoveAll
	return s
}

func (s *Store) Root() string {
	return s.cfg.Root
}

// ResolveAssetPaths maps a cache key onto its location on disk without touching the filesystem
func (s *Store) ResolveAssetPaths(cacheKey string) AssetPaths {
	dir := filepath.Join(s.cfg.Root, cacheKey)
	return AssetPaths{
		OutputDir:    dir,
		ManifestPath: filepath.Join(dir, ManifestFileName),
	}
}

func (s *Store) RegisterSessionReference(cacheKey, sessionID string) {
	s.refsMu.Lock()
	sessions, ok := s.refs[cacheKey]
	if !ok {
		sessions = map[string]struct{}{}
		s.refs[cacheKey] = sessions
	}
	sessions[sessionID] = struct{}{}
	metrics.Metrics.Cache.ActiveReferences.Set(float64(len(s.refs)))
	s.refsMu.Unlock()

	if s.cfg.References == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), referenceTimeout)
	defer cancel()
	expiresAt := s.cfg.Clock.Now().Add(s.cfg.ReferenceTTL)
	if err := s.cfg.References.AddReference(ctx, cacheKey, sessionID, expiresAt); err != nil {
		log.LogNoRequestID("failed to share session reference", "cache_key", cacheKey, "session_id", sessionID, "err", err)
	}
}

func (s *Store) ClearSessionReference(cacheKey, sessionID string) {
	s.refsMu.Lock()
	if sessions, ok := s.refs[cacheKey]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(s.refs, cacheKey)
		}
	}
	metrics.Metrics.Cache.ActiveReferences.Set(float64(len(s.refs)))
	s.refsMu.Unlock()

	if s.cfg.References == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), referenceTimeout)
	defer cancel()
	if err := s.cfg.References.RemoveReference(ctx, cacheKey, sessionID); err != nil {
		log.LogNoRequestID("failed to clear shared session reference", "cache_key", cacheKey, "session_id", sessionID, "err", err)
	}
}

func (s *Store) IsReferenced(cacheKey string) bool {
	s.refsMu.Lock()
	defer s.refsMu.Unlock()
	return len(s.refs[cacheKey]) > 0
}

// isProtected reports whether cacheKey is referenced by a session in this process or, with a
// shared index, in any process. An unreachable index protects every entry.
func (s *Store) isProtected(ctx context.Context, cacheKey string, now time.Time) bool {
	if s.IsReferenced(cacheKey) {
		return true
	}
	if s.cfg.References == nil {
		return false
	}
	n, err := s.cfg.References.LiveReferences(ctx, cacheKey, now)
	if err != nil {
		log.LogNoRequestID("failed to read shared session references", "cache_key", cacheKey, "err", err)
		return true
	}
	return n > 0
}

// ReferenceSnapshot returns a copy of the reference table, sorted session IDs per key
func (s *Store) ReferenceSnapshot() map[string][]string {
	s.refsMu.Lock()
	defer s.refsMu.Unlock()
	snapshot := make(map[string][]string, len(s.refs))
	for key, sessions := range s.refs {
		ids := make([]string, 0, len(sessions))
		for id := range sessions {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		snapshot[key] = ids
	}
	return snapshot
}

// SchedulePrune starts a background prune pass unless one is already running or one started
// less than PruneInterval ago. It reports whether a pass was started.
func (s *Store) SchedulePrune() bool {
	s.scheduleMu.Lock()
	now := s.cfg.Clock.Now()
	if s.pruneRunning || (!s.lastPruneAt.IsZero() && now.Sub(s.lastPruneAt) < s.cfg.PruneInterval) {
		s.scheduleMu.Unlock()
		return false
	}
	s.pruneRunning = true
	s.lastPruneAt = now
	s.scheduleMu.Unlock()

	s.pruneWG.Add(1)
	go func() {
		defer s.pruneWG.Done()
		defer func() {
			s.scheduleMu.Lock()
			s.pruneRunning = false
			s.lastPruneAt = s.cfg.Clock.Now()
			s.scheduleMu.Unlock()
		}()
		s.pruneFunc(context.Background())
	}()
	return true
}

// WaitForScheduledPrune blocks until any background prune pass has finished
func (s *Store) WaitForScheduledPrune() {
	s.pruneWG.Wait()
}
