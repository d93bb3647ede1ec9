package source

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// BigQueryConfig holds configuration for the BigQuery source.
//
// SQL must reference the fetched key as the named parameter @key and is expected to
// return at most one row, e.g.
//
//	SELECT name, visits FROM `proj.ds.users` WHERE id = @key LIMIT 1
type BigQueryConfig struct {
	ProjectID       string `yaml:"project_id"`
	CredentialsFile string `yaml:"credentials_file"`
	SQL             string `yaml:"sql"`
}

// NewProductionBigQueryClient creates a BigQuery client, using the credentials file
// when one is configured and Application Default Credentials otherwise.
func NewProductionBigQueryClient(ctx context.Context, cfg *BigQueryConfig, logger zerolog.Logger, opts ...option.ClientOption) (*bigquery.Client, error) {
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for BigQuery client.")
	} else {
		logger.Info().Msg("Using Application Default Credentials (ADC) for BigQuery client.")
	}

	client, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", cfg.ProjectID).Msg("Failed to create BigQuery client.")
		return nil, fmt.Errorf("bigquery.NewClient: %w", err)
	}
	return client, nil
}

// BigQuerySource reads a single row per key with a parameterised query. V is populated
// the way bigquery.RowIterator.Next populates structs.
type BigQuerySource[K any, V any] struct {
	client *bigquery.Client
	sql    string
	logger zerolog.Logger
}

// NewBigQuerySource creates a BigQuerySource. The client's lifecycle is managed by the
// caller.
func NewBigQuerySource[K any, V any](cfg *BigQueryConfig, client *bigquery.Client, logger zerolog.Logger) (*BigQuerySource[K, V], error) {
	if client == nil {
		return nil, errors.New("bigquery client cannot be nil")
	}
	if cfg.SQL == "" {
		return nil, errors.New("sql cannot be empty")
	}
	return &BigQuerySource[K, V]{
		client: client,
		sql:    cfg.SQL,
		logger: logger.With().Str("component", "BigQuerySource").Logger(),
	}, nil
}

// Fetch runs the configured query with @key bound to key and decodes the first row.
func (s *BigQuerySource[K, V]) Fetch(ctx context.Context, key K) (V, error) {
	var zero V
	q := s.client.Query(s.sql)
	q.Parameters = []bigquery.QueryParameter{{Name: "key", Value: key}}

	it, err := q.Read(ctx)
	if err != nil {
		s.logger.Error().Err(err).Interface("key", key).Msg("BigQuery query failed.")
		return zero, fmt.Errorf("bigquery read for %v: %w", key, err)
	}

	var value V
	err = it.Next(&value)
	if errors.Is(err, iterator.Done) {
		return zero, fmt.Errorf("bigquery row for %v: %w", key, ErrNotFound)
	}
	if err != nil {
		s.logger.Error().Err(err).Interface("key", key).Msg("Failed to read BigQuery row.")
		return zero, fmt.Errorf("bigquery row for %v: %w", key, err)
	}
	return value, nil
}

// Close is a no-op as the BigQuery client's lifecycle is managed externally.
func (s *BigQuerySource[K, V]) Close() error {
	return nil
}
