package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings() RuntimeSettings {
	return RuntimeSettings{
		PageSize:          30,
		PrefetchThreshold: 5,
		DefaultMode:       "newest",
		IndexCron:         "*/5 * * * *",
	}
}

func TestRuntimeSettings_Validate(t *testing.T) {
	require.NoError(t, validSettings().Validate())

	invalid := validSettings()
	invalid.IndexCron = "bad cron"
	require.Error(t, invalid.Validate())

	invalidMode := validSettings()
	invalidMode.DefaultMode = "sideways"
	require.Error(t, invalidMode.Validate())

	invalidPage := validSettings()
	invalidPage.PageSize = 0
	require.Error(t, invalidPage.Validate())
}

func TestRuntimeSettingsFile_RoundTrip(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "settings", "runtime.json")
	input := validSettings()

	require.NoError(t, WriteRuntimeSettingsFile(filePath, input))

	got, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, input, got)

	info, err := os.Stat(filePath)
	require.NoError(t, err)
	assert.False(t, info.IsDir())
	_, err = os.Stat(filePath + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestWithRuntimeSettings_OverridesConfig(t *testing.T) {
	t.Setenv("PAGE_SIZE", "50")
	t.Setenv("DEFAULT_MODE", "random")
	t.Setenv("INDEX_CRON", "0 1 * * *")

	override := validSettings()
	cfg, err := NewFromEnv(WithRuntimeSettings(override))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Traversal.PageSize)
	assert.Equal(t, 5, cfg.Traversal.PrefetchThreshold)
	assert.Equal(t, "newest", cfg.Traversal.DefaultMode)
	assert.Equal(t, override.IndexCron, cfg.Index.CronExpr)
	assert.Equal(t, override, cfg.RuntimeSettings())
}

func TestRuntimeSettingsStore_UpdatePersistsFile(t *testing.T) {
	tmp := t.TempDir()
	filePath := filepath.Join(tmp, "runtime-settings.json")

	store, err := NewRuntimeSettingsStore(filePath, validSettings())
	require.NoError(t, err)

	next := validSettings()
	next.DefaultMode = "oldest"
	next.IndexCron = "*/10 * * * *"
	got, err := store.UpdateRuntimeSettings(next)
	require.NoError(t, err)
	assert.Equal(t, next, got)

	loaded, err := LoadRuntimeSettingsFile(filePath)
	require.NoError(t, err)
	assert.Equal(t, next, loaded)

	bad := next
	bad.PageSize = -1
	_, err = store.UpdateRuntimeSettings(bad)
	require.Error(t, err)
	current, err := store.GetRuntimeSettings()
	require.NoError(t, err)
	assert.Equal(t, next, current)
}
