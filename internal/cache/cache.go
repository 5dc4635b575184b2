// Package cache implements the on-disk sidecar cache shared by
// internal/registry's two HTTP clients: formula manifests, GHCR tag lists,
// OCI manifests, bottle blobs, and the GHCR auth token each get their own
// file under the store's cache directory, with a JSON metadata sidecar
// recording when the entry was cached and when it expires. Entries are
// keyed by an arbitrary Category/Key pair so the registry clients can
// share one cache implementation across five different kinds of entry.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Category names a class of cached entry and doubles as its on-disk file
// suffix.
type Category string

const (
	CategoryBrewManifest Category = "brew.manifest.json"
	CategoryGHCRTags     Category = "ghcr.tags.json"
	CategoryGHCRManifest Category = "ghcr.manifest.json"
	CategoryBottleBlob   Category = "bottle.tar.gz"

	// CategoryAuthToken is shared (not per-package): it is always stored
	// under the empty key, yielding the fixed filename "_auth-token.json".
	CategoryAuthToken Category = "_auth-token.json"
)

// Metadata is the sidecar JSON recorded alongside every cached entry.
type Metadata struct {
	CachedAt    time.Time `json:"cached_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	LastAccess  time.Time `json:"last_access"`
	Size        int64     `json:"size"`
	ContentHash string    `json:"content_hash"`
}

// Expired reports whether the entry is past its TTL as of now.
func (m *Metadata) Expired(now time.Time) bool {
	return now.After(m.ExpiresAt)
}

// Cache stores entries under Dir, one data file plus one ".meta.json"
// sidecar per (category, key) pair.
type Cache struct {
	Dir string
}

// New returns a Cache rooted at dir, creating it if necessary.
func New(dir string) (*Cache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating cache directory %s: %w", dir, err)
	}
	return &Cache{Dir: dir}, nil
}

// entryName builds the base filename for a (key, category) pair, e.g.
// "wget.brew.manifest.json" or "wget-1.21.3.ghcr.manifest.json". An empty
// key names a shared, category-wide entry and uses the category string
// alone.
func entryName(key string, category Category) string {
	if key == "" {
		return string(category)
	}
	return fmt.Sprintf("%s.%s", sanitizeKey(key), category)
}

func sanitizeKey(key string) string {
	return strings.NewReplacer("/", "_", "\\", "_").Replace(key)
}

func (c *Cache) dataPath(key string, category Category) string {
	return filepath.Join(c.Dir, entryName(key, category))
}

func (c *Cache) metaPath(key string, category Category) string {
	return c.dataPath(key, category) + ".meta.json"
}

// Get reads a cached entry's data if present and returns its metadata.
// A missing entry returns (nil, nil, nil): not an error, simply a cache
// miss. A present-but-expired entry is still returned (callers decide
// whether to serve stale data on a network failure), with
// meta.Expired(time.Now()) reporting true.
func (c *Cache) Get(key string, category Category) (data []byte, meta *Metadata, err error) {
	dataPath := c.dataPath(key, category)
	data, err = os.ReadFile(dataPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("reading cache entry %s: %w", dataPath, err)
	}

	meta, err = c.readMeta(key, category)
	if err != nil {
		return nil, nil, err
	}
	if meta == nil {
		meta = metadataFromFile(dataPath, data, 0)
	} else {
		meta.LastAccess = time.Now()
		_ = c.writeMeta(key, category, meta)
	}

	return data, meta, nil
}

// Put writes data and a fresh metadata sidecar with the given TTL.
func (c *Cache) Put(key string, category Category, data []byte, ttl time.Duration) error {
	dataPath := c.dataPath(key, category)
	if err := os.MkdirAll(filepath.Dir(dataPath), 0755); err != nil {
		return fmt.Errorf("creating cache directory: %w", err)
	}
	if err := os.WriteFile(dataPath, data, 0644); err != nil {
		return fmt.Errorf("writing cache entry %s: %w", dataPath, err)
	}

	now := time.Now()
	meta := &Metadata{
		CachedAt:    now,
		ExpiresAt:   now.Add(ttl),
		LastAccess:  now,
		Size:        int64(len(data)),
		ContentHash: contentHash(data),
	}
	return c.writeMeta(key, category, meta)
}

// Purge removes every cached entry (and its sidecar) whose metadata has
// expired as of now. It runs once at startup and returns the number of
// entries removed.
func (c *Cache) Purge(now time.Time) (removed int, err error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading cache directory: %w", err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		metaPath := filepath.Join(c.Dir, name)
		raw, err := os.ReadFile(metaPath)
		if err != nil {
			continue
		}
		var meta Metadata
		if err := json.Unmarshal(raw, &meta); err != nil {
			continue
		}
		if !meta.Expired(now) {
			continue
		}

		dataPath := strings.TrimSuffix(metaPath, ".meta.json")
		os.Remove(dataPath)
		os.Remove(metaPath)
		removed++
	}

	return removed, nil
}

// PurgeOverLimit evicts entries least-recently accessed first until the
// cache directory's total size is at or under limit. A non-positive
// limit disables size-based eviction entirely (TTL-based Purge still
// applies). It returns the number of entries evicted and the bytes freed.
func (c *Cache) PurgeOverLimit(limit int64) (evicted int, freed int64, err error) {
	if limit <= 0 {
		return 0, 0, nil
	}

	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("reading cache directory: %w", err)
	}

	type sidecar struct {
		dataPath string
		metaPath string
		meta     Metadata
	}
	var sidecars []sidecar
	var total int64

	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".meta.json") {
			continue
		}
		metaPath := filepath.Join(c.Dir, name)
		raw, readErr := os.ReadFile(metaPath)
		if readErr != nil {
			continue
		}
		var meta Metadata
		if jsonErr := json.Unmarshal(raw, &meta); jsonErr != nil {
			continue
		}
		sidecars = append(sidecars, sidecar{
			dataPath: strings.TrimSuffix(metaPath, ".meta.json"),
			metaPath: metaPath,
			meta:     meta,
		})
		total += meta.Size
	}

	if total <= limit {
		return 0, 0, nil
	}

	sort.Slice(sidecars, func(i, j int) bool {
		return sidecars[i].meta.LastAccess.Before(sidecars[j].meta.LastAccess)
	})

	for _, s := range sidecars {
		if total <= limit {
			break
		}
		if err := os.Remove(s.dataPath); err != nil && !os.IsNotExist(err) {
			continue
		}
		os.Remove(s.metaPath)
		total -= s.meta.Size
		freed += s.meta.Size
		evicted++
	}

	return evicted, freed, nil
}

func (c *Cache) readMeta(key string, category Category) (*Metadata, error) {
	path := c.metaPath(key, category)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading cache metadata %s: %w", path, err)
	}
	var meta Metadata
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("parsing cache metadata %s: %w", path, err)
	}
	return &meta, nil
}

func (c *Cache) writeMeta(key string, category Category, meta *Metadata) error {
	path := c.metaPath(key, category)
	raw, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling cache metadata: %w", err)
	}
	return os.WriteFile(path, raw, 0644)
}

func metadataFromFile(path string, data []byte, ttl time.Duration) *Metadata {
	info, err := os.Stat(path)
	modTime := time.Now()
	if err == nil {
		modTime = info.ModTime()
	}
	return &Metadata{
		CachedAt:    modTime,
		ExpiresAt:   modTime.Add(ttl),
		LastAccess:  time.Now(),
		Size:        int64(len(data)),
		ContentHash: contentHash(data),
	}
}

func contentHash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
