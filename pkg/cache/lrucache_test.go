package cache_test

import (
	"context"
	"testing"

	"github.com/illmade-knight/go-query/pkg/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryLRUCache(t *testing.T) {
	ctx := context.Background()

	t.Run("Rejects non-positive size", func(t *testing.T) {
		_, err := cache.NewInMemoryLRUCache[string, int](0)
		require.Error(t, err)
	})

	t.Run("Eviction policy works correctly", func(t *testing.T) {
		// Arrange: a cache with a max size of 2.
		lru, err := cache.NewInMemoryLRUCache[string, int](2)
		require.NoError(t, err)
		require.NoError(t, lru.WriteToCache(ctx, "key1", 1))
		require.NoError(t, lru.WriteToCache(ctx, "key2", 2))

		// Act 1: touch key1 so key2 becomes the least recently used.
		val1, err := lru.FetchFromCache(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, 1, val1)

		// Act 2: a third key evicts key2.
		require.NoError(t, lru.WriteToCache(ctx, "key3", 3))

		// Assert
		assert.Equal(t, 2, lru.Len())
		_, err = lru.FetchFromCache(ctx, "key2")
		assert.ErrorIs(t, err, cache.ErrNotFound, "key2 should have been evicted")
		val1, err = lru.FetchFromCache(ctx, "key1")
		require.NoError(t, err)
		assert.Equal(t, 1, val1)
		val3, err := lru.FetchFromCache(ctx, "key3")
		require.NoError(t, err)
		assert.Equal(t, 3, val3)
	})

	t.Run("Overwrite refreshes value and recency", func(t *testing.T) {
		// Arrange
		lru, err := cache.NewInMemoryLRUCache[string, int](2)
		require.NoError(t, err)
		require.NoError(t, lru.WriteToCache(ctx, "a", 1))
		require.NoError(t, lru.WriteToCache(ctx, "b", 2))

		// Act: rewriting "a" makes "b" the eviction candidate.
		require.NoError(t, lru.WriteToCache(ctx, "a", 10))
		require.NoError(t, lru.WriteToCache(ctx, "c", 3))

		// Assert
		a, err := lru.FetchFromCache(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, 10, a)
		_, err = lru.FetchFromCache(ctx, "b")
		assert.ErrorIs(t, err, cache.ErrNotFound)
	})

	t.Run("Invalidate", func(t *testing.T) {
		lru, err := cache.NewInMemoryLRUCache[string, int](2)
		require.NoError(t, err)
		require.NoError(t, lru.WriteToCache(ctx, "a", 1))

		require.NoError(t, lru.Invalidate(ctx, "a"))

		_, err = lru.FetchFromCache(ctx, "a")
		assert.ErrorIs(t, err, cache.ErrNotFound)
		assert.Equal(t, 0, lru.Len())
	})
}
