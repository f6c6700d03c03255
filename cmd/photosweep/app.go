package main

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MimeLyc/photo-sweeper/internal/catalog"
	"github.com/MimeLyc/photo-sweeper/internal/config"
	"github.com/MimeLyc/photo-sweeper/internal/httpapi"
	"github.com/MimeLyc/photo-sweeper/internal/media"
	"github.com/MimeLyc/photo-sweeper/internal/media/fsys"
	"github.com/MimeLyc/photo-sweeper/internal/persistence"
	"github.com/MimeLyc/photo-sweeper/internal/photostore"
	"github.com/MimeLyc/photo-sweeper/internal/traversal"
	"github.com/MimeLyc/photo-sweeper/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
)

type app struct {
	store     *photostore.Store
	scheduler *indexSchedule
	cron      *cron.Cron
	server    *httpapi.Server

	closers []func() error
}

// newApp wires the library source, traversal, statistics and HTTP surface
// from cfg.
func newApp(cfg *config.Config, settingsPath string) (*app, error) {
	a := &app{cron: cron.New()}

	files := fsys.New(cfg.Library.Roots,
		fsys.WithTrashDir(cfg.Library.TrashDir),
		fsys.WithModTimeFallback(cfg.Library.ModTimeFallback),
	)

	var (
		source  media.Source = files
		indexer *catalog.Indexer
	)
	if cfg.Library.Backend != config.BackendFS {
		backend, err := catalog.Open(cfg.Library.Backend, cfg.Library.CatalogPath)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, backend.Close)
		source = catalog.New(backend,
			catalog.WithRemover(files.DeleteAsset),
			catalog.WithContent(files),
		)
		indexer = catalog.NewIndexer(files, backend)
		log.Info("Serving library from %s catalog at %s", cfg.Library.Backend, cfg.Library.CatalogPath)
	}
	a.scheduler = &indexSchedule{indexer: indexer, cron: a.cron, expr: cfg.Index.CronExpr}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	manager := traversal.NewManager(source,
		traversal.WithPageSize(cfg.Traversal.PageSize),
		traversal.WithPrefetchThreshold(cfg.Traversal.PrefetchThreshold),
		traversal.WithMode(cfg.Mode()),
		traversal.WithMetrics(traversal.NewMetrics(reg)),
	)

	stats, err := persistence.NewSQLiteStore(cfg.DBPath())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("open statistics: %w", err)
	}
	a.closers = append(a.closers, stats.Close)

	a.store = photostore.New(source, manager, photostore.WithStats(stats))

	settings, err := config.NewRuntimeSettingsStore(settingsPath, cfg.RuntimeSettings())
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := []httpapi.Option{
		httpapi.WithUI(cfg.HTTP.UIStaticDir, cfg.HTTP.UIEnabled),
		httpapi.WithRuntimeSettingsStore(settings),
		httpapi.WithRuntimeSettingsApplier(a.applySettings),
		httpapi.WithStats(stats),
		httpapi.WithMetrics(reg),
	}
	if content, ok := source.(media.ContentSource); ok {
		opts = append(opts, httpapi.WithContent(content))
	}
	if indexer != nil {
		opts = append(opts, httpapi.WithIndexer(indexer))
	}
	a.server = httpapi.NewServer(a.store, opts...)
	return a, nil
}

// applySettings makes saved runtime settings take effect. The page size is
// read at startup only.
func (a *app) applySettings(next config.RuntimeSettings) error {
	mode, err := traversal.ParseMode(next.DefaultMode)
	if err != nil {
		return err
	}
	a.store.SetMode(mode)
	return a.scheduler.Reschedule(next.IndexCron)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Warn("Close failed: %v", err)
		}
	}
	a.closers = nil
}

// indexSchedule keeps the catalog in sync with the file system on a cron
// schedule. Without a catalog there is nothing to index.
type indexSchedule struct {
	indexer *catalog.Indexer
	cron    *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	expr    string
	entry   cron.EntryID
	entered bool
}

// Schedule registers the periodic run and starts a first pass in the
// background so a fresh catalog fills up right away.
func (s *indexSchedule) Schedule(ctx context.Context) error {
	if s.indexer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ctx = ctx
	if err := s.registerLocked(s.expr); err != nil {
		return err
	}
	go func() {
		if _, err := s.indexer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error("Initial index failed: %v", err)
		}
	}()
	return nil
}

// Reschedule replaces the periodic run with one on expr.
func (s *indexSchedule) Reschedule(expr string) error {
	if s.indexer == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		s.expr = expr
		return nil
	}
	if expr == s.expr && s.entered {
		return nil
	}
	return s.registerLocked(expr)
}

func (s *indexSchedule) registerLocked(expr string) error {
	id, err := s.indexer.Schedule(s.ctx, s.cron, expr)
	if err != nil {
		return fmt.Errorf("schedule index %q: %w", expr, err)
	}
	if s.entered {
		s.cron.Remove(s.entry)
	}
	s.entry, s.entered, s.expr = id, true, expr
	log.Info("Catalog index scheduled: %s", expr)
	return nil
}
