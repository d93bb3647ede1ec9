package query_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/illmade-knight/go-query/pkg/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQueryConfig(t *testing.T) {
	t.Run("Overlays defaults", func(t *testing.T) {
		cfg, err := query.ParseQueryConfig([]byte(`
refetch_interval: 30s
retry_delay: 250ms
policy: subscription
initial_subscribers: 2
`))
		require.NoError(t, err)

		assert.Equal(t, 30*time.Second, cfg.RefetchInterval)
		assert.Equal(t, 250*time.Millisecond, cfg.RetryDelay)
		assert.Equal(t, uint(3), cfg.RetryLimit, "unset fields keep their defaults")
		assert.Equal(t, query.SubscriptionBased(2), cfg.Policy)
	})

	t.Run("Empty document yields defaults", func(t *testing.T) {
		cfg, err := query.ParseQueryConfig(nil)
		require.NoError(t, err)
		assert.Equal(t, query.DefaultQueryConfig(), cfg)
	})

	t.Run("Rejects unknown policy", func(t *testing.T) {
		_, err := query.ParseQueryConfig([]byte("policy: sometimes"))
		require.Error(t, err)
	})

	t.Run("Rejects negative durations", func(t *testing.T) {
		_, err := query.ParseQueryConfig([]byte("retry_delay: -1s"))
		require.Error(t, err)
	})
}

func TestLoadQueryConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "query.yaml")
	require.NoError(t, os.WriteFile(path, []byte("retry_limit: 5\n"), 0o600))

	cfg, err := query.LoadQueryConfig(path)
	require.NoError(t, err)
	assert.Equal(t, uint(5), cfg.RetryLimit)

	_, err = query.LoadQueryConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
