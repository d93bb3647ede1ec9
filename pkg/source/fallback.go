package source

import (
	"context"
	"fmt"
	"time"

	"github.com/illmade-knight/go-query/pkg/cache"
	"github.com/rs/zerolog"
)

// FallbackConfig holds configuration for CacheFallback.
type FallbackConfig struct {
	CacheWriteTimeout time.Duration `yaml:"cache_write_timeout"`
}

// CacheFallback is a Fetcher that answers from a cache and falls back to a source of
// truth on a miss, writing the fetched value back to the cache in the background.
type CacheFallback[K comparable, V any] struct {
	cacheTimeout time.Duration
	cache        cache.Cache[K, V]
	fallback     Fetcher[K, V]
	logger       zerolog.Logger
}

// NewCacheFallback creates a cache-then-source Fetcher.
func NewCacheFallback[K comparable, V any](
	cfg *FallbackConfig,
	c cache.Cache[K, V],
	fallback Fetcher[K, V],
	logger zerolog.Logger,
) (*CacheFallback[K, V], error) {
	if c == nil || fallback == nil {
		return nil, fmt.Errorf("cache and fallback cannot be nil")
	}
	timeout := cfg.CacheWriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &CacheFallback[K, V]{
		cacheTimeout: timeout,
		cache:        c,
		fallback:     fallback,
		logger:       logger.With().Str("component", "CacheFallback").Logger(),
	}, nil
}

// Fetch returns the cached value for key, or fetches it from the fallback.
func (c *CacheFallback[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	value, err := c.cache.FetchFromCache(ctx, key)
	if err == nil {
		c.logger.Debug().Msg("Cache hit.")
		return value, nil
	}
	c.logger.Debug().Err(err).Msg("Cache miss. Falling back to source.")

	value, err = c.fallback.Fetch(ctx, key)
	if err != nil {
		return zero, fmt.Errorf("error fetching from source: %w", err)
	}

	// The write-back outlives the caller's context, which is cancelled when the owning
	// query is invalidated.
	go func(k K, v V) {
		writeCtx, cancel := context.WithTimeout(context.Background(), c.cacheTimeout)
		defer cancel()
		if writeErr := c.cache.WriteToCache(writeCtx, k, v); writeErr != nil {
			c.logger.Error().Err(writeErr).Msg("Failed to write to cache in background.")
		}
	}(key, value)

	return value, nil
}

// Invalidate drops key from the cache so the next Fetch goes to the source.
func (c *CacheFallback[K, V]) Invalidate(ctx context.Context, key K) error {
	return c.cache.Invalidate(ctx, key)
}

// Close closes the fallback source.
func (c *CacheFallback[K, V]) Close() error {
	if err := c.fallback.Close(); err != nil {
		c.logger.Error().Err(err).Msg("Error closing source.")
		return fmt.Errorf("error closing source: %w", err)
	}
	return nil
}
