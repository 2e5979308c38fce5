package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/livepeer/catalyst-audio/config"
	"github.com/stretchr/testify/require"
)

func keyFor(trackID string) string {
	return DeriveCacheKey(KeyInputs{
		TrackID:       trackID,
		SourcePath:    "/music/" + trackID + ".flac",
		SourceModTime: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Quality:       "lossless",
		SchemaVersion: 1,
	})
}

// writeEntry creates a cache entry made of two segments totalling size bytes, all with the given
// modification time
func writeEntry(t *testing.T, root, key string, size int, modTime time.Time) {
	dir := filepath.Join(root, key)
	require.NoError(t, os.MkdirAll(dir, 0755))
	files := map[string]int{
		"chunk-00000.m4s": size / 2,
		"chunk-00001.m4s": size - size/2,
	}
	for name, n := range files {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, make([]byte, n), 0644))
		require.NoError(t, os.Chtimes(path, modTime, modTime))
	}
}

func newTestStore(t *testing.T, maxBytes int64, now time.Time) *Store {
	return NewStore(Config{
		Root:          t.TempDir(),
		MaxBytes:      maxBytes,
		TargetRatio:   0.5,
		MinAge:        10 * time.Minute,
		PruneInterval: time.Minute,
		Clock:         config.FixedTimestampGenerator{Timestamp: now},
	})
}

func TestResolveAssetPaths(t *testing.T) {
	s := NewStore(Config{Root: "/var/cache/segments"})
	key := keyFor("track-1")
	paths := s.ResolveAssetPaths(key)
	require.Equal(t, "/var/cache/segments/"+key, paths.OutputDir)
	require.Equal(t, "/var/cache/segments/"+key+"/index.m3u8", paths.ManifestPath)
	require.Equal(t, paths, s.ResolveAssetPaths(key))

	_, err := os.Stat(paths.OutputDir)
	require.True(t, os.IsNotExist(err))
}

func TestSessionReferences(t *testing.T) {
	s := NewStore(Config{Root: t.TempDir()})
	key := keyFor("track-1")

	s.RegisterSessionReference(key, "session-b")
	s.RegisterSessionReference(key, "session-a")
	s.RegisterSessionReference(key, "session-a")
	require.True(t, s.IsReferenced(key))
	require.Equal(t, map[string][]string{key: {"session-a", "session-b"}}, s.ReferenceSnapshot())

	s.ClearSessionReference(key, "session-a")
	require.True(t, s.IsReferenced(key))
	s.ClearSessionReference(key, "session-b")
	require.False(t, s.IsReferenced(key))
	require.Empty(t, s.ReferenceSnapshot())

	// Clearing an unknown reference is a no-op
	s.ClearSessionReference("unknown", "session-c")
}

func TestPruneRemovesOldestEntriesUntilTarget(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, 2400, now)
	oldest, middle, newest := keyFor("oldest"), keyFor("middle"), keyFor("newest")
	writeEntry(t, s.Root(), oldest, 800, now.Add(-3*time.Hour))
	writeEntry(t, s.Root(), middle, 800, now.Add(-2*time.Hour))
	writeEntry(t, s.Root(), newest, 800, now.Add(-1*time.Hour))

	result := s.PruneIfNeeded(context.Background())
	require.Equal(t, PruneResult{
		InspectedEntries: 3,
		RemovedEntries:   2,
		TotalBytesBefore: 2400,
		TotalBytesAfter:  800,
		MaxBytes:         2400,
	}, result)

	require.NoDirExists(t, filepath.Join(s.Root(), oldest))
	require.NoDirExists(t, filepath.Join(s.Root(), middle))
	require.DirExists(t, filepath.Join(s.Root(), newest))
}

func TestPruneIsNoOpUnderQuota(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, 2400, now)
	writeEntry(t, s.Root(), keyFor("a"), 1200, now.Add(-3*time.Hour))
	writeEntry(t, s.Root(), keyFor("b"), 1199, now.Add(-3*time.Hour))

	result := s.PruneIfNeeded(context.Background())
	require.Equal(t, 0, result.RemovedEntries)
	require.Equal(t, 2, result.InspectedEntries)
	require.Equal(t, int64(2399), result.TotalBytesBefore)
	require.Equal(t, int64(2399), result.TotalBytesAfter)
}

func TestPruneNeverRemovesProtectedEntries(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, 1000, now)
	active, recent := keyFor("active"), keyFor("recent")
	writeEntry(t, s.Root(), active, 800, now.Add(-5*time.Hour))
	writeEntry(t, s.Root(), recent, 800, now.Add(-time.Minute))
	s.RegisterSessionReference(active, "session-1")

	result := s.PruneIfNeeded(context.Background())
	require.Equal(t, 0, result.RemovedEntries)
	require.Equal(t, 1, result.SkippedActiveEntries)
	require.Equal(t, 1, result.SkippedRecentEntries)
	require.Equal(t, result.TotalBytesBefore, result.TotalBytesAfter)
	require.DirExists(t, filepath.Join(s.Root(), active))
	require.DirExists(t, filepath.Join(s.Root(), recent))
}

func TestPruneSkipsProtectedAndRemovesTheRest(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, 2000, now)
	keys := make([]string, 5)
	for i := range keys {
		keys[i] = keyFor(fmt.Sprintf("track-%d", i))
		writeEntry(t, s.Root(), keys[i], 500, now.Add(-time.Duration(10-i)*time.Hour))
	}
	// The oldest is in use, so eviction has to move on to the younger ones
	s.RegisterSessionReference(keys[0], "s0")

	result := s.PruneIfNeeded(context.Background())
	require.Equal(t, 1, result.SkippedActiveEntries)
	require.Equal(t, 3, result.RemovedEntries)
	require.Equal(t, int64(1000), result.TotalBytesAfter)
	require.DirExists(t, filepath.Join(s.Root(), keys[0]))
	require.NoDirExists(t, filepath.Join(s.Root(), keys[1]))
	require.NoDirExists(t, filepath.Join(s.Root(), keys[2]))
	require.NoDirExists(t, filepath.Join(s.Root(), keys[3]))
	require.DirExists(t, filepath.Join(s.Root(), keys[4]))
}

func TestPruneSkipsEntriesItCannotInspectOrRemove(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, 2000, now)
	keys := make([]string, 5)
	for i := range keys {
		keys[i] = keyFor(fmt.Sprintf("track-%d", i))
		writeEntry(t, s.Root(), keys[i], 500, now.Add(-time.Duration(10-i)*time.Hour))
	}
	unreadable, undeletable := keys[1], keys[0]
	s.usageFunc = func(dir string) (int64, time.Time, error) {
		if filepath.Base(dir) == unreadable {
			return 0, time.Time{}, errors.New("permission denied")
		}
		return entryUsage(dir)
	}
	s.removeFunc = func(dir string) error {
		if filepath.Base(dir) == undeletable {
			return errors.New("read-only file system")
		}
		return os.RemoveAll(dir)
	}

	result := s.PruneIfNeeded(context.Background())
	require.Equal(t, PruneResult{
		InspectedEntries: 5,
		RemovedEntries:   2,
		TotalBytesBefore: 2000,
		TotalBytesAfter:  1000,
		MaxBytes:         2000,
	}, result)
	require.DirExists(t, filepath.Join(s.Root(), undeletable))
	require.DirExists(t, filepath.Join(s.Root(), unreadable))
	require.NoDirExists(t, filepath.Join(s.Root(), keys[2]))
	require.NoDirExists(t, filepath.Join(s.Root(), keys[3]))
	require.DirExists(t, filepath.Join(s.Root(), keys[4]))
}

func TestPruneIgnoresNonEntryDirectories(t *testing.T) {
	now := time.Now()
	s := newTestStore(t, 1000, now)
	locks := filepath.Join(s.Root(), ".locks")
	require.NoError(t, os.MkdirAll(locks, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(locks, "big.lock"), make([]byte, 5000), 0644))

	result := s.PruneIfNeeded(context.Background())
	require.Equal(t, 0, result.InspectedEntries)
	require.Equal(t, int64(0), result.TotalBytesBefore)
	require.DirExists(t, locks)
}

func TestPruneWithMissingRoot(t *testing.T) {
	s := NewStore(Config{Root: filepath.Join(t.TempDir(), "does-not-exist"), MaxBytes: 1, TargetRatio: 0.5})
	require.Equal(t, PruneResult{MaxBytes: 1}, s.PruneIfNeeded(context.Background()))
}

func TestSchedulePruneCollapsesAndThrottles(t *testing.T) {
	clock := config.NewSteppedTimestampGenerator(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := NewStore(Config{Root: t.TempDir(), PruneInterval: time.Minute, Clock: clock})

	var runs int64
	started := make(chan struct{}, 10)
	release := make(chan struct{})
	s.pruneFunc = func(ctx context.Context) PruneResult {
		atomic.AddInt64(&runs, 1)
		started <- struct{}{}
		<-release
		return PruneResult{}
	}

	require.True(t, s.SchedulePrune())
	<-started
	for i := 0; i < 5; i++ {
		require.False(t, s.SchedulePrune(), "a pass is already running")
	}
	close(release)
	s.WaitForScheduledPrune()

	clock.Advance(30 * time.Second)
	require.False(t, s.SchedulePrune(), "the previous pass finished too recently")

	clock.Advance(time.Minute)
	require.True(t, s.SchedulePrune())
	s.WaitForScheduledPrune()
	require.Equal(t, int64(2), atomic.LoadInt64(&runs))
}
