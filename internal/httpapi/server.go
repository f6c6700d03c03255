package httpapi

import (
	"context"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/catalog"
	"github.com/MimeLyc/photo-sweeper/internal/config"
	"github.com/MimeLyc/photo-sweeper/internal/media"
	"github.com/MimeLyc/photo-sweeper/internal/persistence"
	"github.com/MimeLyc/photo-sweeper/internal/photostore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type runtimeSettingsStore interface {
	GetRuntimeSettings() (config.RuntimeSettings, error)
	UpdateRuntimeSettings(next config.RuntimeSettings) (config.RuntimeSettings, error)
}

type runtimeSettingsApplier func(next config.RuntimeSettings) error

type statsReader interface {
	Totals(ctx context.Context) (persistence.Totals, error)
	Session(ctx context.Context, sessionID string) (persistence.SessionStats, bool, error)
	RecentSessions(ctx context.Context, limit int) ([]persistence.SessionStats, error)
}

type indexRunner interface {
	Run(ctx context.Context) (catalog.IndexResult, error)
	LastResult() (catalog.IndexResult, bool)
}

type Server struct {
	store    *photostore.Store
	content  media.ContentSource
	stats    statsReader
	indexer  indexRunner
	settings runtimeSettingsStore
	apply    runtimeSettingsApplier
	gatherer prometheus.Gatherer
	now      func() time.Time

	uiEnabled   bool
	uiStaticDir string

	mux    *http.ServeMux
	server *http.Server
}

type Option func(*Server)

func WithUI(staticDir string, enabled bool) Option {
	return func(s *Server) {
		s.uiStaticDir = staticDir
		s.uiEnabled = enabled
	}
}

func WithRuntimeSettingsStore(store runtimeSettingsStore) Option {
	return func(s *Server) {
		s.settings = store
	}
}

func WithRuntimeSettingsApplier(apply runtimeSettingsApplier) Option {
	return func(s *Server) {
		s.apply = apply
	}
}

// WithContent enables GET /api/photos/{token}/content.
func WithContent(content media.ContentSource) Option {
	return func(s *Server) {
		s.content = content
	}
}

func WithStats(stats statsReader) Option {
	return func(s *Server) {
		s.stats = stats
	}
}

// WithIndexer enables the catalog index endpoints.
func WithIndexer(indexer indexRunner) Option {
	return func(s *Server) {
		s.indexer = indexer
	}
}

// WithMetrics exposes g on /metrics.
func WithMetrics(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

func NewServer(store *photostore.Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		now:       time.Now,
		uiEnabled: false,
		mux:       http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s.server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/api/session", s.handleSession)
	s.mux.HandleFunc("/api/photos/current", s.handleCurrent)
	s.mux.HandleFunc("/api/photos/current/", s.handleDecision)
	s.mux.HandleFunc("/api/photos/", s.handleContent)
	s.mux.HandleFunc("/api/filter", s.handleFilter)
	s.mux.HandleFunc("/api/progress", s.handleProgress)
	s.mux.HandleFunc("/api/stream", s.handleProgressStream)
	s.mux.HandleFunc("/api/stats", s.handleStats)
	s.mux.HandleFunc("/api/index", s.handleIndex)
	s.mux.HandleFunc("/api/settings", s.handleSettings)
	if s.gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	s.mux.HandleFunc("/", s.handleStatic)
}

func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if !s.uiEnabled || s.uiStaticDir == "" {
		http.NotFound(w, r)
		return
	}

	rel := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	indexPath := filepath.Join(s.uiStaticDir, "index.html")

	if rel == "" || !strings.Contains(filepath.Base(rel), ".") {
		http.ServeFile(w, r, indexPath)
		return
	}

	filePath := filepath.Join(s.uiStaticDir, rel)
	if _, err := os.Stat(filePath); err != nil {
		// SPA fallback: non-existing static file path returns index
		http.ServeFile(w, r, indexPath)
		return
	}
	http.ServeFile(w, r, filePath)
}
