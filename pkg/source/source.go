// Package source adapts sources of truth (Redis, Firestore, or any keyed fetcher) into
// query fetch functions.
package source

import (
	"context"
	"errors"
	"io"

	"github.com/illmade-knight/go-query/pkg/query"
)

// ErrNotFound is returned when a source has no value for a key.
var ErrNotFound = errors.New("not found in source")

// Fetcher is a keyed source of truth.
type Fetcher[K any, V any] interface {
	Fetch(ctx context.Context, key K) (V, error)
	io.Closer
}

// FetcherFunc adapts a plain function into a Fetcher with a no-op Close.
type FetcherFunc[K any, V any] func(ctx context.Context, key K) (V, error)

// Fetch calls f.
func (f FetcherFunc[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	return f(ctx, key)
}

// Close is a no-op.
func (f FetcherFunc[K, V]) Close() error {
	return nil
}

// Bind fixes key and returns a fetch function suitable for query.NewQuery.
func Bind[K any, V any](f Fetcher[K, V], key K) query.FetchFunc[V] {
	return func(ctx context.Context) (V, error) {
		return f.Fetch(ctx, key)
	}
}
