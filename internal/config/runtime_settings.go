package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/MimeLyc/photo-sweeper/internal/traversal"
	"github.com/robfig/cron/v3"
)

const DefaultRuntimeSettingsFile = "/app/config/settings.json"

// RuntimeSettings are the knobs editable while the service runs. The page
// size applies to the next launch; mode and schedule apply immediately.
type RuntimeSettings struct {
	PageSize          int    `json:"page_size"`
	PrefetchThreshold int    `json:"prefetch_threshold"`
	DefaultMode       string `json:"default_mode"`
	IndexCron         string `json:"index_cron"`
}

func RuntimeSettingsFilePath() string {
	return getEnvString("SETTINGS_FILE", DefaultRuntimeSettingsFile)
}

func (s RuntimeSettings) Validate() error {
	if s.PageSize <= 0 {
		return fmt.Errorf("page_size must be positive")
	}
	if s.PrefetchThreshold < 0 {
		return fmt.Errorf("prefetch_threshold must not be negative")
	}
	if _, err := traversal.ParseMode(s.DefaultMode); err != nil {
		return fmt.Errorf("invalid default_mode: %w", err)
	}
	if strings.TrimSpace(s.IndexCron) == "" {
		return fmt.Errorf("index_cron is required")
	}
	if _, err := cron.ParseStandard(s.IndexCron); err != nil {
		return fmt.Errorf("invalid index_cron: %w", err)
	}
	return nil
}

func (c *Config) RuntimeSettings() RuntimeSettings {
	return RuntimeSettings{
		PageSize:          c.Traversal.PageSize,
		PrefetchThreshold: c.Traversal.PrefetchThreshold,
		DefaultMode:       c.Traversal.DefaultMode,
		IndexCron:         c.Index.CronExpr,
	}
}

func WithRuntimeSettings(settings RuntimeSettings) Option {
	return func(c *Config) {
		if settings.PageSize > 0 {
			c.Traversal.PageSize = settings.PageSize
		}
		if settings.PrefetchThreshold > 0 {
			c.Traversal.PrefetchThreshold = settings.PrefetchThreshold
		}
		if _, err := traversal.ParseMode(settings.DefaultMode); err == nil && settings.DefaultMode != "" {
			c.Traversal.DefaultMode = settings.DefaultMode
		}
		if strings.TrimSpace(settings.IndexCron) != "" {
			c.Index.CronExpr = settings.IndexCron
		}
	}
}

func LoadRuntimeSettingsFile(path string) (RuntimeSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RuntimeSettings{}, err
	}
	var settings RuntimeSettings
	if err := json.Unmarshal(data, &settings); err != nil {
		return RuntimeSettings{}, fmt.Errorf("invalid settings file: %w", err)
	}
	return settings, nil
}

func WriteRuntimeSettingsFile(path string, settings RuntimeSettings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	content, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return err
	}
	content = append(content, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, content, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

type RuntimeSettingsStore struct {
	path string

	mu      sync.RWMutex
	current RuntimeSettings
}

func NewRuntimeSettingsStore(path string, initial RuntimeSettings) (*RuntimeSettingsStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("settings file path is required")
	}
	if err := initial.Validate(); err != nil {
		return nil, err
	}
	return &RuntimeSettingsStore{
		path:    path,
		current: initial,
	}, nil
}

func (s *RuntimeSettingsStore) GetRuntimeSettings() (RuntimeSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current, nil
}

func (s *RuntimeSettingsStore) UpdateRuntimeSettings(next RuntimeSettings) (RuntimeSettings, error) {
	if err := next.Validate(); err != nil {
		return RuntimeSettings{}, err
	}
	if err := WriteRuntimeSettingsFile(s.path, next); err != nil {
		return RuntimeSettings{}, err
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()
	return next, nil
}
