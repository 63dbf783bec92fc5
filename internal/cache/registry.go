package cache

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"

	"github.com/objectfs/objstore/internal/config"
)

// Registry shares one FileCache per base path across storage instances.
type Registry struct {
	mu     sync.Mutex
	caches map[string]*FileCache
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		caches: make(map[string]*FileCache),
		logger: logger,
	}
}

var defaultRegistry = NewRegistry(nil)

// Default returns the process wide registry.
func Default() *Registry {
	return defaultRegistry
}

// SettingsFromConfig converts the cache section of a configuration.
func SettingsFromConfig(cfg config.CacheConfig) (Settings, error) {
	codec, err := ParseCodec(cfg.Compression)
	if err != nil {
		return Settings{}, err
	}

	var maxSize uint64
	if cfg.MaxSize != "" {
		maxSize, err = config.ParseSize(cfg.MaxSize)
		if err != nil {
			return Settings{}, fmt.Errorf("invalid cache max_size: %w", err)
		}
	}

	return Settings{
		BasePath:               filepath.Clean(cfg.BasePath),
		MaxSize:                int64(maxSize),
		MaxEntries:             cfg.MaxEntries,
		Codec:                  codec,
		ReadOnly:               cfg.ReadOnly,
		CacheOnWriteOperations: cfg.CacheOnWriteOperations,
	}, nil
}

// Get returns the cache for cfg, or nil when caching is disabled. A cache
// already opened for the same base path is reused.
func (r *Registry) Get(cfg config.CacheConfig) (*FileCache, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	settings, err := SettingsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.caches[settings.BasePath]; ok {
		return c, nil
	}

	c, err := NewFileCache(settings, r.logger)
	if err != nil {
		return nil, err
	}
	r.caches[settings.BasePath] = c
	return c, nil
}

// Close closes every registered cache.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	for path, c := range r.caches {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(r.caches, path)
	}
	return firstErr
}
