package source

import (
	"context"
	"fmt"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreConfig holds configuration for the Firestore source.
type FirestoreConfig struct {
	ProjectID      string `yaml:"project_id"`
	CollectionName string `yaml:"collection_name"`
}

// FirestoreSource reads documents from a single Firestore collection by ID.
type FirestoreSource[V any] struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreSource creates a new FirestoreSource. The client's lifecycle is managed
// by the caller.
func NewFirestoreSource[V any](
	cfg *FirestoreConfig,
	client *firestore.Client,
	logger zerolog.Logger,
) (*FirestoreSource[V], error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client cannot be nil")
	}
	if cfg.CollectionName == "" {
		return nil, fmt.Errorf("collection name cannot be empty")
	}

	logger.Info().Str("project_id", cfg.ProjectID).Str("collection", cfg.CollectionName).Msg("FirestoreSource initialized.")

	return &FirestoreSource[V]{
		client:         client,
		collectionName: cfg.CollectionName,
		logger:         logger.With().Str("component", "FirestoreSource").Logger(),
	}, nil
}

// Fetch retrieves a single document by its ID.
func (s *FirestoreSource[V]) Fetch(ctx context.Context, docID string) (V, error) {
	var zero V
	docSnap, err := s.client.Collection(s.collectionName).Doc(docID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			s.logger.Debug().Str("doc_id", docID).Msg("Document not found in Firestore.")
			return zero, fmt.Errorf("firestore document %s: %w", docID, ErrNotFound)
		}
		s.logger.Error().Err(err).Str("doc_id", docID).Msg("Failed to get document from Firestore.")
		return zero, fmt.Errorf("firestore get for %s: %w", docID, err)
	}

	var value V
	if err := docSnap.DataTo(&value); err != nil {
		s.logger.Error().Err(err).Str("doc_id", docID).Msg("Failed to map Firestore document data.")
		return zero, fmt.Errorf("firestore DataTo for %s: %w", docID, err)
	}
	return value, nil
}

// Write stores value as the document with the given ID.
func (s *FirestoreSource[V]) Write(ctx context.Context, docID string, value V) error {
	if _, err := s.client.Collection(s.collectionName).Doc(docID).Set(ctx, value); err != nil {
		s.logger.Error().Err(err).Str("doc_id", docID).Msg("Failed to write document to Firestore.")
		return fmt.Errorf("firestore set for %s: %w", docID, err)
	}
	return nil
}

// Close is a no-op as the Firestore client's lifecycle is managed externally.
func (s *FirestoreSource[V]) Close() error {
	return nil
}
