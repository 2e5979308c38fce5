package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/livepeer/catalyst-audio/cache"
	"github.com/livepeer/catalyst-audio/log"
)

// BuildLock is the interlock that keeps processes sharing a cache root from building the same key
// at the same time
type BuildLock interface {
	// TryAcquire never blocks. When acquired is true the caller owns the lock until release is called.
	TryAcquire(ctx context.Context, cacheKey string) (release func(), acquired bool, err error)
	IsHeld(ctx context.Context, cacheKey string) bool
}

// FileLock implements BuildLock with flock(2) locks, one file per key, under dir
type FileLock struct {
	dir  string
	held *cache.Cache[*flock.Flock]
}

func NewFileLock(dir string) *FileLock {
	return &FileLock{dir: dir, held: cache.New[*flock.Flock]()}
}

func (l *FileLock) path(cacheKey string) string {
	return filepath.Join(l.dir, cacheKey+".lock")
}

func (l *FileLock) TryAcquire(ctx context.Context, cacheKey string) (func(), bool, error) {
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, false, fmt.Errorf("failed to create lock directory: %w", err)
	}
	fl := flock.New(l.path(cacheKey))
	ok, err := fl.TryLock()
	if err != nil {
		return nil, false, fmt.Errorf("failed to lock %s: %w", fl.Path(), err)
	}
	if !ok {
		return nil, false, nil
	}
	if _, stored := l.held.StoreIfAbsent(cacheKey, fl); !stored {
		// Held by this process through another descriptor
		_ = fl.Unlock()
		return nil, false, nil
	}
	release := func() {
		l.held.RemoveIf(cacheKey, func(held *flock.Flock) bool { return held == fl })
		if err := fl.Unlock(); err != nil {
			log.LogNoRequestID("failed to release build lock", "cache_key", cacheKey, "err", err)
		}
	}
	return release, true, nil
}

func (l *FileLock) IsHeld(ctx context.Context, cacheKey string) bool {
	if _, ok := l.held.Lookup(cacheKey); ok {
		return true
	}
	if _, err := os.Stat(l.path(cacheKey)); err != nil {
		return false
	}
	probe := flock.New(l.path(cacheKey))
	ok, err := probe.TryRLock()
	if err != nil {
		return false
	}
	if ok {
		_ = probe.Unlock()
		return false
	}
	return true
}
