package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rs/zerolog"
)

// GCSClient abstracts the top-level *storage.Client so GCSSource can be tested
// without a real bucket.
type GCSClient interface {
	Bucket(name string) GCSBucketHandle
}

// GCSBucketHandle abstracts a *storage.BucketHandle.
type GCSBucketHandle interface {
	Object(name string) GCSObjectHandle
}

// GCSObjectHandle abstracts a *storage.ObjectHandle.
type GCSObjectHandle interface {
	NewReader(ctx context.Context) (io.ReadCloser, error)
	NewWriter(ctx context.Context) io.WriteCloser
}

type gcsClientAdapter struct {
	client *storage.Client
}

// NewGCSClientAdapter makes a *storage.Client conform to GCSClient.
func NewGCSClientAdapter(client *storage.Client) GCSClient {
	if client == nil {
		return nil
	}
	return &gcsClientAdapter{client: client}
}

func (a *gcsClientAdapter) Bucket(name string) GCSBucketHandle {
	return &gcsBucketHandleAdapter{handle: a.client.Bucket(name)}
}

type gcsBucketHandleAdapter struct {
	handle *storage.BucketHandle
}

func (a *gcsBucketHandleAdapter) Object(name string) GCSObjectHandle {
	return &gcsObjectHandleAdapter{handle: a.handle.Object(name)}
}

type gcsObjectHandleAdapter struct {
	handle *storage.ObjectHandle
}

func (a *gcsObjectHandleAdapter) NewReader(ctx context.Context) (io.ReadCloser, error) {
	r, err := a.handle.NewReader(ctx)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (a *gcsObjectHandleAdapter) NewWriter(ctx context.Context) io.WriteCloser {
	return a.handle.NewWriter(ctx)
}

// GCSConfig holds configuration for the GCS source.
type GCSConfig struct {
	BucketName   string `yaml:"bucket_name"`
	ObjectPrefix string `yaml:"object_prefix"`
}

// GCSSource reads JSON objects named ObjectPrefix+key from a bucket.
type GCSSource[V any] struct {
	bucket GCSBucketHandle
	prefix string
	logger zerolog.Logger
}

// NewGCSSource creates a GCSSource. The client's lifecycle is managed by the caller.
func NewGCSSource[V any](cfg *GCSConfig, client GCSClient, logger zerolog.Logger) (*GCSSource[V], error) {
	if client == nil {
		return nil, errors.New("GCS client cannot be nil")
	}
	if cfg.BucketName == "" {
		return nil, errors.New("bucket name cannot be empty")
	}
	return &GCSSource[V]{
		bucket: client.Bucket(cfg.BucketName),
		prefix: cfg.ObjectPrefix,
		logger: logger.With().Str("component", "GCSSource").Str("bucket", cfg.BucketName).Logger(),
	}, nil
}

// Fetch reads and decodes the object for key.
func (s *GCSSource[V]) Fetch(ctx context.Context, key string) (V, error) {
	var zero V
	name := s.prefix + key
	r, err := s.bucket.Object(name).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return zero, fmt.Errorf("gcs object %s: %w", name, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("object", name).Msg("Failed to open GCS object.")
		return zero, fmt.Errorf("gcs read for %s: %w", name, err)
	}
	defer func() { _ = r.Close() }()

	var value V
	if err := json.NewDecoder(r).Decode(&value); err != nil {
		s.logger.Error().Err(err).Str("object", name).Msg("Failed to decode GCS object.")
		return zero, fmt.Errorf("failed to decode object %s: %w", name, err)
	}
	return value, nil
}

// Write JSON-encodes value into the object for key.
func (s *GCSSource[V]) Write(ctx context.Context, key string, value V) error {
	name := s.prefix + key
	w := s.bucket.Object(name).NewWriter(ctx)
	if err := json.NewEncoder(w).Encode(value); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to encode object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		s.logger.Error().Err(err).Str("object", name).Msg("Failed to finalize GCS object.")
		return fmt.Errorf("gcs write for %s: %w", name, err)
	}
	return nil
}

// Close is a no-op as the storage client's lifecycle is managed externally.
func (s *GCSSource[V]) Close() error {
	return nil
}
