package modelclient

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// CacheConfig configures the local client's response cache.
type CacheConfig struct {
	// Dir is the directory holding one JSON file per cached response.
	Dir string

	// TTL is the maximum age of a usable entry. Zero means entries never
	// expire.
	TTL time.Duration

	// MaxEntries caps the in-memory layer. When exceeded, the oldest
	// third of entries is evicted. Zero means unbounded.
	MaxEntries int

	// MaxBytes caps the on-disk layer. When exceeded, files are removed
	// oldest-first until usage drops to 80% of the cap. Zero means
	// unbounded.
	MaxBytes int64
}

// CacheInfo is a point-in-time snapshot of cache statistics. Purely
// observational; never affects lookup results.
type CacheInfo struct {
	Hits       int   `json:"hits"`
	Misses     int   `json:"misses"`
	MemoryHits int   `json:"memory_hits"`
	DiskHits   int   `json:"disk_hits"`
	APICalls   int   `json:"api_calls"`
	Entries    int   `json:"entries"`
	Bytes      int64 `json:"bytes"`
}

// cacheEntry is the on-disk record format, one file per entry.
type cacheEntry struct {
	Key       string    `json:"key"`
	Response  string    `json:"response"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// responseCache is the two-layer (memory + disk) response cache. The memory
// layer fronts the disk layer; disk hits are promoted. Safe for concurrent
// use; cache-miss races may duplicate model work but never corrupt state.
type responseCache struct {
	mu      sync.Mutex
	cfg     CacheConfig
	memory  map[string]cacheEntry
	hits    int
	misses  int
	memHits int
	dskHits int
	now     func() time.Time
}

func newResponseCache(cfg CacheConfig) (*responseCache, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("modelclient: cache dir must not be empty")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("modelclient: create cache dir: %w", err)
	}
	return &responseCache{
		cfg:    cfg,
		memory: map[string]cacheEntry{},
		now:    time.Now,
	}, nil
}

// cacheKey derives the lookup key for a generation call.
func cacheKey(input, requestType, model string) string {
	sum := sha256.Sum256([]byte(input + "|" + requestType + "|" + model))
	return hex.EncodeToString(sum[:])
}

func (c *responseCache) entryPath(key string) string {
	return filepath.Join(c.cfg.Dir, key+".json")
}

func (c *responseCache) expired(e cacheEntry) bool {
	return c.cfg.TTL > 0 && c.now().Sub(e.Timestamp) > c.cfg.TTL
}

// get looks up key in memory, then on disk. Expired entries are treated as
// absent and removed on access.
func (c *responseCache) get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.memory[key]; ok {
		if c.expired(e) {
			delete(c.memory, key)
			os.Remove(c.entryPath(key))
		} else {
			c.hits++
			c.memHits++
			return e.Response, true
		}
	}

	data, err := os.ReadFile(c.entryPath(key))
	if err == nil {
		var e cacheEntry
		if json.Unmarshal(data, &e) == nil && !c.expired(e) {
			c.memory[key] = e
			c.hits++
			c.dskHits++
			return e.Response, true
		}
		os.Remove(c.entryPath(key))
	}

	c.misses++
	return "", false
}

// put stores a response in both layers and enforces the size caps.
func (c *responseCache) put(key, model, response string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := cacheEntry{Key: key, Response: response, Model: model, Timestamp: c.now()}
	c.memory[key] = e
	if c.cfg.MaxEntries > 0 && len(c.memory) > c.cfg.MaxEntries {
		c.evictOldestThird()
	}

	data, err := json.Marshal(e)
	if err != nil {
		slog.Error("modelclient: marshal cache entry", "key", key, "error", err)
		return
	}
	if err := os.WriteFile(c.entryPath(key), data, 0o644); err != nil {
		slog.Warn("modelclient: write cache entry", "key", key, "error", err)
		return
	}
	if c.cfg.MaxBytes > 0 {
		c.pruneDisk()
	}
}

// evictOldestThird drops the third of memory entries with the oldest
// timestamps, at least one, so the layer always shrinks back under the cap
// even when MaxEntries is smaller than three. Callers must hold c.mu.
func (c *responseCache) evictOldestThird() {
	entries := make([]cacheEntry, 0, len(c.memory))
	for _, e := range c.memory {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Timestamp.Before(entries[j].Timestamp)
	})
	n := len(entries) / 3
	if n == 0 {
		n = 1
	}
	for _, e := range entries[:n] {
		delete(c.memory, e.Key)
	}
}

// pruneDisk removes cache files oldest-mtime-first until total size is at
// most 80% of MaxBytes. Callers must hold c.mu.
func (c *responseCache) pruneDisk() {
	type diskFile struct {
		path  string
		size  int64
		mtime time.Time
	}
	var (
		files []diskFile
		total int64
	)
	dirEntries, err := os.ReadDir(c.cfg.Dir)
	if err != nil {
		slog.Warn("modelclient: read cache dir", "error", err)
		return
	}
	for _, de := range dirEntries {
		info, err := de.Info()
		if err != nil || de.IsDir() {
			continue
		}
		files = append(files, diskFile{
			path:  filepath.Join(c.cfg.Dir, de.Name()),
			size:  info.Size(),
			mtime: info.ModTime(),
		})
		total += info.Size()
	}
	if total <= c.cfg.MaxBytes {
		return
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mtime.Before(files[j].mtime) })
	target := c.cfg.MaxBytes * 8 / 10
	for _, f := range files {
		if total <= target {
			break
		}
		if err := os.Remove(f.path); err != nil {
			continue
		}
		total -= f.size
		delete(c.memory, trimJSONExt(filepath.Base(f.path)))
	}
}

func trimJSONExt(name string) string {
	return name[:len(name)-len(filepath.Ext(name))]
}

// info snapshots the statistics. Disk usage is recomputed on each call.
func (c *responseCache) info() CacheInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	var bytes int64
	if dirEntries, err := os.ReadDir(c.cfg.Dir); err == nil {
		for _, de := range dirEntries {
			if info, err := de.Info(); err == nil && !de.IsDir() {
				bytes += info.Size()
			}
		}
	}
	return CacheInfo{
		Hits:       c.hits,
		Misses:     c.misses,
		MemoryHits: c.memHits,
		DiskHits:   c.dskHits,
		Entries:    len(c.memory),
		Bytes:      bytes,
	}
}
