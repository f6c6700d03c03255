package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/traversal"
	"github.com/MimeLyc/photo-sweeper/pkg/log"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Config holds all application configuration.
//
// Environment Variables:
// Library:
// - LIBRARY_ROOTS: comma separated photo directories (default: /photos)
// - LIBRARY_BACKEND: fs, bolt or pebble (default: fs)
// - CATALOG_PATH: catalog location for bolt/pebble (default: $DATA_DIR/catalog.<backend>)
// - TRASH_DIR: move deleted files here instead of removing them (optional)
// - MTIME_AS_DATE: use the file modification time when EXIF has no date (default: false)
//
// Traversal:
// - PAGE_SIZE: assets per fetched page (default: 30)
// - PREFETCH_THRESHOLD: prefetch when fewer assets remain in the window (default: 0, off)
// - DEFAULT_MODE: random, oldest or newest (default: random)
//
// System:
// - DATA_DIR: state directory (default: /app/data)
// - STATS_DB: sqlite statistics database (default: $DATA_DIR/photosweep.db)
// - HTTP_ADDR: listen address (default: :8080)
// - HTTP_SHUTDOWN_TIMEOUT: graceful shutdown budget (default: 10s)
// - UI_ENABLED: serve the web UI from UI_STATIC_DIR (default: true)
// - UI_STATIC_DIR: web UI assets (default: /app/web)
// - INDEX_CRON: catalog re-index schedule (default: 0 3 * * *)
// - SETTINGS_FILE: runtime settings file (default: /app/config/settings.json)
// - LOG_LEVEL: debug, info, warn or error (default: info)
type Config struct {
	Library   LibraryConfig   `json:"library"`
	Traversal TraversalConfig `json:"traversal"`
	HTTP      HTTPConfig      `json:"http"`
	Index     IndexConfig     `json:"index"`
	System    SystemConfig    `json:"system"`
}

const (
	BackendFS     = "fs"
	BackendBolt   = "bolt"
	BackendPebble = "pebble"
)

type LibraryConfig struct {
	Roots           []string `json:"roots"`
	Backend         string   `json:"backend"`
	CatalogPath     string   `json:"catalog_path"`
	TrashDir        string   `json:"trash_dir"`
	ModTimeFallback bool     `json:"mtime_as_date"`
}

type TraversalConfig struct {
	PageSize          int    `json:"page_size"`
	PrefetchThreshold int    `json:"prefetch_threshold"`
	DefaultMode       string `json:"default_mode"`
}

type HTTPConfig struct {
	Addr            string        `json:"addr"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
	UIEnabled       bool          `json:"ui_enabled"`
	UIStaticDir     string        `json:"ui_static_dir"`
}

type IndexConfig struct {
	CronExpr string `json:"cron_expr"`
}

type SystemConfig struct {
	DataDir  string `json:"data_dir"`
	StatsDB  string `json:"stats_db"`
	LogLevel string `json:"log_level"`
}

// Option is a function type for configuring Config
type Option func(*Config)

// LoadDotEnv loads .env style files into the process environment. Missing
// files are ignored; variables already set win.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", file, err)
		}
		log.Debug("Loaded environment from %s", file)
	}
	return nil
}

// NewFromEnv creates a new Config instance with values from environment variables and options
func NewFromEnv(opts ...Option) (*Config, error) {
	dataDir := getEnvString("DATA_DIR", "/app/data")
	backend := strings.ToLower(getEnvString("LIBRARY_BACKEND", BackendFS))

	config := &Config{
		Library: LibraryConfig{
			Roots:           getEnvList("LIBRARY_ROOTS", []string{"/photos"}),
			Backend:         backend,
			CatalogPath:     getEnvString("CATALOG_PATH", filepath.Join(dataDir, "catalog."+backend)),
			TrashDir:        getEnvString("TRASH_DIR", ""),
			ModTimeFallback: getEnvBool("MTIME_AS_DATE", false),
		},
		Traversal: TraversalConfig{
			PageSize:          getEnvInt("PAGE_SIZE", traversal.DefaultPageSize),
			PrefetchThreshold: getEnvInt("PREFETCH_THRESHOLD", 0),
			DefaultMode:       getEnvString("DEFAULT_MODE", traversal.ModeRandom.String()),
		},
		HTTP: HTTPConfig{
			Addr:            getEnvString("HTTP_ADDR", ":8080"),
			ShutdownTimeout: getEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second),
			UIEnabled:       getEnvBool("UI_ENABLED", true),
			UIStaticDir:     getEnvString("UI_STATIC_DIR", "/app/web"),
		},
		Index: IndexConfig{
			CronExpr: getEnvString("INDEX_CRON", "0 3 * * *"),
		},
		System: SystemConfig{
			DataDir:  dataDir,
			StatsDB:  getEnvString("STATS_DB", ""),
			LogLevel: getEnvString("LOG_LEVEL", "info"),
		},
	}

	for _, opt := range opts {
		opt(config)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	log.Debug("Config: %+v", *config)
	return config, nil
}

// DBPath is the statistics database location.
func (c *Config) DBPath() string {
	if strings.TrimSpace(c.System.StatsDB) != "" {
		return c.System.StatsDB
	}
	return filepath.Join(c.System.DataDir, "photosweep.db")
}

// Mode is the parsed default traversal mode.
func (c *Config) Mode() traversal.Mode {
	mode, err := traversal.ParseMode(c.Traversal.DefaultMode)
	if err != nil {
		return traversal.ModeRandom
	}
	return mode
}

// validate checks if all required configuration is properly set
func (c *Config) validate() error {
	if len(c.Library.Roots) == 0 {
		return fmt.Errorf("LIBRARY_ROOTS is required")
	}
	switch c.Library.Backend {
	case BackendFS:
	case BackendBolt, BackendPebble:
		if strings.TrimSpace(c.Library.CatalogPath) == "" {
			return fmt.Errorf("CATALOG_PATH is required for the %s backend", c.Library.Backend)
		}
	default:
		return fmt.Errorf("invalid LIBRARY_BACKEND %q (must be fs, bolt or pebble)", c.Library.Backend)
	}
	if c.Traversal.PageSize <= 0 {
		return fmt.Errorf("PAGE_SIZE must be positive, got %d", c.Traversal.PageSize)
	}
	if c.Traversal.PrefetchThreshold < 0 {
		return fmt.Errorf("PREFETCH_THRESHOLD must not be negative, got %d", c.Traversal.PrefetchThreshold)
	}
	if _, err := traversal.ParseMode(c.Traversal.DefaultMode); err != nil {
		return fmt.Errorf("invalid DEFAULT_MODE: %w", err)
	}
	if _, err := cron.ParseStandard(c.Index.CronExpr); err != nil {
		return fmt.Errorf("invalid INDEX_CRON: %w", err)
	}
	return nil
}

// getEnvString gets a string value from environment variables with default
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer value from environment variables with default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	ret := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			ret = append(ret, part)
		}
	}
	return ret
}
