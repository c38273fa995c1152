package odm_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pytsite/odm"
	"github.com/pytsite/odm/dialect"
)

func TestParseConfig(t *testing.T) {
	t.Parallel()
	cfg, err := odm.ParseConfig([]byte(`
storage:
  dialect: sqlite
  dsn: "file:test.db"
cache:
  ttl: 30s
log:
  level: debug
slow_query: 200ms
`))
	require.NoError(t, err)
	assert.Equal(t, dialect.SQLite, cfg.Storage.Dialect)
	assert.Equal(t, "file:test.db", cfg.Storage.DSN)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 200*time.Millisecond, cfg.SlowQuery)

	empty, err := odm.ParseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, dialect.Memory, empty.Storage.Dialect)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
	}{
		{"UnknownDialect", "storage: {dialect: oracle}"},
		{"MissingDSN", "storage: {dialect: postgres}"},
		{"NegativeTTL", "cache: {ttl: -1s}"},
		{"NegativeSlowQuery", "slow_query: -1s"},
		{"BadLevel", "log: {level: loud}"},
		{"Malformed", "storage: ["},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := odm.ParseConfig([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "odm:")
		})
	}
}

func TestLoadConfig(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "odm.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache:\n  ttl: 1m\n"), 0o600))

	cfg, err := odm.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, cfg.Cache.TTL)

	_, err = odm.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestOpen(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("Memory", func(t *testing.T) {
		snapshot := filepath.Join(t.TempDir(), "snapshot.msgpack")
		cfg := &odm.Config{
			Storage: odm.StorageConfig{Dialect: dialect.Memory, Snapshot: snapshot},
			Cache:   odm.CacheConfig{TTL: time.Minute},
			Log:     odm.LogConfig{Level: "warn"},
		}
		m, err := odm.Open(ctx, cfg)
		require.NoError(t, err)
		registerModels(t, m)
		w := create(t, m, "widget", map[string]any{"title": "persisted"})
		require.NoError(t, m.Close())

		m2, err := odm.Open(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = m2.Close() })
		registerModels(t, m2)
		got, err := m2.Load(ctx, "widget", w.ID())
		require.NoError(t, err)
		title, err := got.Get(ctx, "title")
		require.NoError(t, err)
		assert.Equal(t, "persisted", title)
	})

	t.Run("SQLite", func(t *testing.T) {
		cfg := &odm.Config{
			Storage:   odm.StorageConfig{Dialect: dialect.SQLite, DSN: "file:" + filepath.Join(t.TempDir(), "odm.db")},
			SlowQuery: time.Second,
		}
		m, err := odm.Open(ctx, cfg)
		require.NoError(t, err)
		t.Cleanup(func() { _ = m.Close() })
		registerModels(t, m)
		w := create(t, m, "widget", map[string]any{"title": "row"})
		m.Cache().Clear()
		got, err := m.Load(ctx, "widget", w.ID())
		require.NoError(t, err)
		assert.NotSame(t, w, got)
	})

	t.Run("Invalid", func(t *testing.T) {
		_, err := odm.Open(ctx, &odm.Config{Storage: odm.StorageConfig{Dialect: "oracle"}})
		assert.Error(t, err)
	})
}
