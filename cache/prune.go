package cache

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/glog"
	"github.com/livepeer/catalyst-audio/log"
	"github.com/livepeer/catalyst-audio/metrics"
)

type PruneResult struct {
	InspectedEntries     int   `json:"inspectedEntries"`
	RemovedEntries       int   `json:"removedEntries"`
	SkippedActiveEntries int   `json:"skippedActiveEntries"`
	SkippedRecentEntries int   `json:"skippedRecentEntries"`
	TotalBytesBefore     int64 `json:"totalBytesBefore"`
	TotalBytesAfter      int64 `json:"totalBytesAfter"`
	MaxBytes             int64 `json:"maxBytes"`
}

type entryInfo struct {
	key     string
	dir     string
	size    int64
	lastMod time.Time
}

// PruneIfNeeded evicts whole cache entries, least recently modified first, once the cache has
// reached its quota. Entries referenced by a live session or modified within MinAge are kept.
// Concurrent callers share the result of a single pass.
func (s *Store) PruneIfNeeded(ctx context.Context) PruneResult {
	v, _, _ := s.pruneGroup.Do("prune", func() (interface{}, error) {
		return s.prune(ctx), nil
	})
	return v.(PruneResult)
}

func (s *Store) prune(ctx context.Context) PruneResult {
	start := time.Now()
	result := PruneResult{MaxBytes: s.cfg.MaxBytes}
	defer func() {
		metrics.Metrics.Cache.PruneRuns.Inc()
		metrics.Metrics.Cache.PruneDurationSec.Observe(time.Since(start).Seconds())
		metrics.Metrics.Cache.BytesAfterPrune.Set(float64(result.TotalBytesAfter))
	}()

	entries, inspected := s.inspectEntries()
	result.InspectedEntries = inspected

	var total int64
	for _, e := range entries {
		total += e.size
	}
	result.TotalBytesBefore = total
	result.TotalBytesAfter = total
	if total < s.cfg.MaxBytes {
		return result
	}

	target := int64(float64(s.cfg.MaxBytes) * s.cfg.TargetRatio)
	now := s.cfg.Clock.Now()

	var candidates []entryInfo
	for _, e := range entries {
		if s.isProtected(ctx, e.key, now) {
			result.SkippedActiveEntries++
			metrics.Metrics.Cache.EntriesSkipped.WithLabelValues("active").Inc()
			continue
		}
		if now.Sub(e.lastMod) < s.cfg.MinAge {
			result.SkippedRecentEntries++
			metrics.Metrics.Cache.EntriesSkipped.WithLabelValues("recent").Inc()
			continue
		}
		candidates = append(candidates, e)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].lastMod.Equal(candidates[j].lastMod) {
			return candidates[i].key < candidates[j].key
		}
		return candidates[i].lastMod.Before(candidates[j].lastMod)
	})

	for _, e := range candidates {
		if total <= target {
			break
		}
		if ctx.Err() != nil {
			log.LogNoRequestID("cache prune interrupted", "err", ctx.Err())
			break
		}
		// A session may have attached since the snapshot was taken
		if s.isProtected(ctx, e.key, s.cfg.Clock.Now()) {
			result.SkippedActiveEntries++
			metrics.Metrics.Cache.EntriesSkipped.WithLabelValues("active").Inc()
			continue
		}
		if err := s.removeFunc(e.dir); err != nil {
			log.LogNoRequestID("failed to remove cache entry", "cache_key", e.key, "err", err)
			continue
		}
		glog.V(5).Infof("Evicted cache entry key=%s bytes=%d", e.key, e.size)
		total -= e.size
		result.RemovedEntries++
		metrics.Metrics.Cache.EntriesRemoved.Inc()
	}
	result.TotalBytesAfter = total

	log.LogNoRequestID("pruned streaming cache",
		"inspected", result.InspectedEntries,
		"removed", result.RemovedEntries,
		"skipped_active", result.SkippedActiveEntries,
		"skipped_recent", result.SkippedRecentEntries,
		"bytes_before", result.TotalBytesBefore,
		"bytes_after", result.TotalBytesAfter,
		"max_bytes", result.MaxBytes,
	)
	return result
}

// inspectEntries returns every readable cache entry along with the number of entries looked at,
// including ones that could not be read
func (s *Store) inspectEntries() ([]entryInfo, int) {
	dirEntries, err := os.ReadDir(s.cfg.Root)
	if err != nil {
		if !os.IsNotExist(err) {
			log.LogNoRequestID("failed to list cache root", "root", s.cfg.Root, "err", err)
		}
		return nil, 0
	}

	var entries []entryInfo
	inspected := 0
	for _, d := range dirEntries {
		if !d.IsDir() || !IsValidKey(d.Name()) {
			continue
		}
		inspected++
		dir := filepath.Join(s.cfg.Root, d.Name())
		size, lastMod, err := s.usageFunc(dir)
		if err != nil {
			log.LogNoRequestID("failed to inspect cache entry", "cache_key", d.Name(), "err", err)
			continue
		}
		entries = append(entries, entryInfo{key: d.Name(), dir: dir, size: size, lastMod: lastMod})
	}
	return entries, inspected
}

// entryUsage sums the size of every regular file under dir and finds the newest modification time.
// An empty directory reports its own modification time.
func entryUsage(dir string) (int64, time.Time, error) {
	var size int64
	var lastMod, dirMod time.Time
	files := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if path == dir {
			dirMod = info.ModTime()
			return nil
		}
		if !info.Mode().IsRegular() {
			return nil
		}
		files++
		size += info.Size()
		if info.ModTime().After(lastMod) {
			lastMod = info.ModTime()
		}
		return nil
	})
	if files == 0 {
		lastMod = dirMod
	}
	return size, lastMod, err
}
