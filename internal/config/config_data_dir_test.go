package config

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_DataDirDefault(t *testing.T) {
	t.Setenv("DATA_DIR", "")
	t.Setenv("STATS_DB", "")
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("LIBRARY_BACKEND", "")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/app/data", cfg.System.DataDir)
	assert.Equal(t, filepath.Join("/app/data", "photosweep.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join("/app/data", "catalog.fs"), cfg.Library.CatalogPath)
}

func TestNewFromEnv_DataDirFromEnv(t *testing.T) {
	t.Setenv("DATA_DIR", "/tmp/sweep-data")
	t.Setenv("STATS_DB", "")
	t.Setenv("CATALOG_PATH", "")
	t.Setenv("LIBRARY_BACKEND", "pebble")

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, "/tmp/sweep-data", cfg.System.DataDir)
	assert.Equal(t, filepath.Join("/tmp/sweep-data", "photosweep.db"), cfg.DBPath())
	assert.Equal(t, filepath.Join("/tmp/sweep-data", "catalog.pebble"), cfg.Library.CatalogPath)
}

func TestNewFromEnv_StatsDBOverride(t *testing.T) {
	t.Setenv("STATS_DB", "/var/lib/sweep/stats.db")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/sweep/stats.db", cfg.DBPath())
}
