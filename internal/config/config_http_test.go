package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/traversal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFromEnv_Defaults(t *testing.T) {
	for _, key := range []string{
		"HTTP_ADDR", "HTTP_SHUTDOWN_TIMEOUT", "LIBRARY_ROOTS", "LIBRARY_BACKEND",
		"PAGE_SIZE", "PREFETCH_THRESHOLD", "DEFAULT_MODE", "INDEX_CRON", "UI_ENABLED", "UI_STATIC_DIR",
	} {
		t.Setenv(key, "")
	}

	cfg, err := NewFromEnv()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "/app/web", cfg.HTTP.UIStaticDir)
	assert.True(t, cfg.HTTP.UIEnabled)
	assert.Equal(t, []string{"/photos"}, cfg.Library.Roots)
	assert.Equal(t, BackendFS, cfg.Library.Backend)
	assert.Equal(t, 30, cfg.Traversal.PageSize)
	assert.Zero(t, cfg.Traversal.PrefetchThreshold)
	assert.Equal(t, traversal.ModeRandom, cfg.Mode())
	assert.Equal(t, "0 3 * * *", cfg.Index.CronExpr)
}

func TestNewFromEnv_ParsesLists(t *testing.T) {
	t.Setenv("LIBRARY_ROOTS", " /a , ,/b/c,")
	t.Setenv("DEFAULT_MODE", "oldest")
	t.Setenv("MTIME_AS_DATE", "true")

	cfg, err := NewFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"/a", "/b/c"}, cfg.Library.Roots)
	assert.Equal(t, traversal.ModeOldestFirst, cfg.Mode())
	assert.True(t, cfg.Library.ModTimeFallback)
}

func TestNewFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{key: "LIBRARY_BACKEND", value: "mysql"},
		{key: "PAGE_SIZE", value: "-1"},
		{key: "PREFETCH_THRESHOLD", value: "-3"},
		{key: "DEFAULT_MODE", value: "shuffle"},
		{key: "INDEX_CRON", value: "every day"},
		{key: "LIBRARY_ROOTS", value: " , "},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := NewFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	tmp := t.TempDir()
	envFile := filepath.Join(tmp, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("PHOTOSWEEP_TEST_VALUE=from-file\n"), 0o644))
	t.Setenv("PHOTOSWEEP_TEST_VALUE", "")
	require.NoError(t, os.Unsetenv("PHOTOSWEEP_TEST_VALUE"))

	require.NoError(t, LoadDotEnv(filepath.Join(tmp, "missing.env"), envFile))
	assert.Equal(t, "from-file", os.Getenv("PHOTOSWEEP_TEST_VALUE"))
}
