//go:build integration

package source_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/illmade-knight/go-query/pkg/source"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

type firestoreTestDoc struct {
	Name  string `firestore:"name"`
	Count int    `firestore:"count"`
}

func TestFirestoreSource_Integration(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	const projectID = "goquery-test"
	client, err := firestore.NewClient(ctx, projectID, option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	cfg := &source.FirestoreConfig{ProjectID: projectID, CollectionName: "profiles"}
	src, err := source.NewFirestoreSource[firestoreTestDoc](cfg, client, zerolog.Nop())
	require.NoError(t, err)

	t.Run("Write and Fetch", func(t *testing.T) {
		doc := firestoreTestDoc{Name: "ada", Count: 3}
		require.NoError(t, src.Write(ctx, "ada", doc))

		got, err := src.Fetch(ctx, "ada")
		require.NoError(t, err)
		assert.Equal(t, doc, got)
	})

	t.Run("Missing document", func(t *testing.T) {
		_, err := src.Fetch(ctx, "nobody")
		assert.ErrorIs(t, err, source.ErrNotFound)
	})
}
