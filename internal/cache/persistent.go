package cache

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/objectfs/objstore/pkg/types"
	"github.com/objectfs/objstore/pkg/utils"
)

const indexFileName = "cache-index.json"

// Settings configures a FileCache.
type Settings struct {
	BasePath   string
	MaxSize    int64
	MaxEntries int
	Codec      Codec

	// ReadOnly caches serve hits but are never populated by reads.
	ReadOnly bool
	// CacheOnWriteOperations lets writers populate the cache with what they upload.
	CacheOnWriteOperations bool
}

// Cache is the local object cache consulted by storage backends.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, data []byte) error
	Delete(key string)
	RecordBypass()
	Settings() Settings
	Stats() types.CacheStats
}

// FileCache keeps whole objects as files under BasePath with an LRU index.
type FileCache struct {
	mu       sync.Mutex
	settings Settings
	index    *lruIndex
	stats    types.CacheStats
	logger   *slog.Logger
	closed   bool
}

// NewFileCache opens or creates a cache directory and reloads its index.
func NewFileCache(settings Settings, logger *slog.Logger) (*FileCache, error) {
	if settings.BasePath == "" {
		return nil, fmt.Errorf("cache base path cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(settings.BasePath, 0750); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	c := &FileCache{
		settings: settings,
		index:    newLRUIndex(settings.MaxSize, settings.MaxEntries),
		stats:    types.CacheStats{Capacity: settings.MaxSize},
		logger:   logger.With("component", "cache", "base_path", settings.BasePath),
	}

	if err := c.loadIndex(); err != nil {
		return nil, fmt.Errorf("failed to load cache index: %w", err)
	}

	return c, nil
}

// Settings returns the cache policy.
func (c *FileCache) Settings() Settings {
	return c.settings
}

// Get returns a copy of the cached object.
func (c *FileCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.index.get(key)
	if !ok {
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}

	data, err := c.readEntry(entry)
	if err != nil {
		c.logger.Warn("dropping unreadable cache entry", "key", key, "error", err)
		c.index.remove(key)
		_ = os.Remove(entry.File)
		c.stats.Misses++
		c.updateHitRate()
		return nil, false
	}

	c.stats.Hits++
	c.updateHitRate()
	return data, true
}

// Put stores data under key, evicting least recently used entries when full.
// Objects larger than the whole cache are skipped.
func (c *FileCache) Put(key string, data []byte) error {
	raw, err := encodeEntry(data, c.settings.Codec)
	if err != nil {
		return fmt.Errorf("failed to encode cache entry: %w", err)
	}
	if c.settings.MaxSize > 0 && int64(len(raw)) > c.settings.MaxSize {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("cache %s is closed", c.settings.BasePath)
	}

	file, err := utils.SecureJoin(c.settings.BasePath, fileNameFor(key))
	if err != nil {
		return err
	}

	tmp := file + utils.TemporaryFileExtension
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	if err := os.Rename(tmp, file); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to commit cache entry: %w", err)
	}

	_, evicted := c.index.add(&indexEntry{
		Key:        key,
		File:       file,
		Size:       int64(len(data)),
		StoredSize: int64(len(raw)),
		AccessTime: time.Now(),
	})
	for _, e := range evicted {
		_ = os.Remove(e.File)
		c.stats.Evictions++
	}
	return nil
}

// Delete drops key from the cache.
func (c *FileCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.index.remove(key); ok {
		_ = os.Remove(e.File)
	}
}

// RecordBypass counts a read that skipped the cache on a miss.
func (c *FileCache) RecordBypass() {
	c.mu.Lock()
	c.stats.Bypasses++
	c.mu.Unlock()
}

// Stats returns cache statistics.
func (c *FileCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.index.currentSize
	stats.Entries = c.index.len()
	if c.settings.MaxSize > 0 {
		stats.Utilization = float64(stats.Size) / float64(c.settings.MaxSize)
	}
	return stats
}

// Close persists the index. Further writes fail.
func (c *FileCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	return c.saveIndex()
}

func (c *FileCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}

func (c *FileCache) readEntry(e *indexEntry) ([]byte, error) {
	raw, err := os.ReadFile(e.File)
	if err != nil {
		return nil, err
	}
	data, err := decodeEntry(raw)
	if err != nil {
		return nil, err
	}
	if int64(len(data)) != e.Size {
		return nil, errCorruptEntry
	}
	return data, nil
}

func (c *FileCache) loadIndex() error {
	path := filepath.Join(c.settings.BasePath, indexFileName)

	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var entries []*indexEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		c.logger.Warn("ignoring malformed cache index", "error", err)
		return nil
	}

	for _, e := range entries {
		if _, err := os.Stat(e.File); err != nil {
			continue
		}
		c.index.pushBack(e)
	}
	return nil
}

func (c *FileCache) saveIndex() error {
	path := filepath.Join(c.settings.BasePath, indexFileName)
	tmp := path + utils.TemporaryFileExtension

	raw, err := json.Marshal(c.index.entries())
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func fileNameFor(key string) string {
	sum := sha256.Sum256([]byte(key))
	return fmt.Sprintf("%x.cache", sum[:16])
}
