package orchestrate

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kegpm/kegpm/internal/cache"
	"github.com/kegpm/kegpm/internal/config"
	"github.com/kegpm/kegpm/internal/log"
	"github.com/kegpm/kegpm/internal/store"
)

// CleanupReport totals what a cleanup run removed.
type CleanupReport struct {
	CacheEntriesRemoved int
	CacheEntriesEvicted int
	CacheBytesFreed     int64
	DownloadsRemoved    int
	VersionsRemoved     []string // "<pkg> <version>"
}

// CleanupQueue purges cache entries past their per-category TTL and
// package versions superseded by the currently active one.
type CleanupQueue struct {
	Store  *store.Store
	Cache  *cache.Cache
	Cfg    config.Cleanup
	Logger log.Logger
}

// NewCleanupQueue returns a CleanupQueue over s and c, using cfg's TTLs.
func NewCleanupQueue(s *store.Store, c *cache.Cache, cfg config.Cleanup, logger log.Logger) *CleanupQueue {
	if logger == nil {
		logger = log.NewNoop()
	}
	return &CleanupQueue{Store: s, Cache: c, Cfg: cfg, Logger: logger}
}

// Run purges the metadata cache, stale download archives, and any
// non-pinned, non-active installed version, reporting what was removed.
func (q *CleanupQueue) Run(now time.Time) (CleanupReport, error) {
	var report CleanupReport

	if q.Cache != nil {
		removed, err := q.Cache.Purge(now)
		if err != nil {
			return report, fmt.Errorf("purging cache: %w", err)
		}
		report.CacheEntriesRemoved = removed

		evicted, freed, err := q.Cache.PurgeOverLimit(q.Cfg.CacheSizeLimit)
		if err != nil {
			return report, fmt.Errorf("enforcing cache size limit: %w", err)
		}
		report.CacheEntriesEvicted = evicted
		report.CacheBytesFreed = freed
	}

	downloadsRemoved, err := q.purgeDownloads(now)
	if err != nil {
		return report, fmt.Errorf("purging downloads: %w", err)
	}
	report.DownloadsRemoved = downloadsRemoved

	versionsRemoved, err := q.purgeOldVersions()
	if err != nil {
		return report, fmt.Errorf("purging old versions: %w", err)
	}
	report.VersionsRemoved = versionsRemoved

	return report, nil
}

func (q *CleanupQueue) purgeDownloads(now time.Time) (int, error) {
	entries, err := os.ReadDir(q.Store.DownloadDir())
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	ttl := q.Cfg.Download
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= ttl {
			continue
		}
		path := filepath.Join(q.Store.DownloadDir(), e.Name())
		if err := os.Remove(path); err != nil {
			q.Logger.Warn("removing stale download", "path", path, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

// purgeOldVersions removes every installed version of every package
// except its active (opt-linked) version, skipping pinned packages
// entirely - an old version is kept around exactly as long as it's
// reachable, and a pin freezes that reachability decision.
func (q *CleanupQueue) purgeOldVersions() ([]string, error) {
	installed, err := q.Store.InstalledPackages()
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, pkg := range installed {
		h, err := store.Open(q.Store, pkg)
		if err != nil {
			return removed, fmt.Errorf("opening %s: %w", pkg, err)
		}
		if h.Pinned || h.ActiveVersion == nil {
			continue
		}

		for _, ver := range h.Versions {
			if ver == *h.ActiveVersion {
				continue
			}
			if err := q.Store.RemoveVersion(pkg, ver); err != nil {
				return removed, fmt.Errorf("removing %s %s: %w", pkg, ver, err)
			}
			removed = append(removed, fmt.Sprintf("%s %s", pkg, ver))
		}
	}
	return removed, nil
}
