package traversal

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"

	"github.com/MimeLyc/photo-sweeper/internal/media"
	"github.com/MimeLyc/photo-sweeper/pkg/log"
)

// maxEmptyFetches bounds how many consecutive pages without new assets a
// single Next call pulls before giving up for this call.
const maxEmptyFetches = 16

type State string

const (
	StateUninitialized State = "uninitialized"
	StateLoading       State = "loading"
	StateReady         State = "ready"
	StateExhausted     State = "exhausted"
)

// Progress is a snapshot of one session. It is comparable.
type Progress struct {
	Session         uint64  `json:"session"`
	State           State   `json:"state"`
	Mode            Mode    `json:"mode"`
	LoadingProgress float64 `json:"loading_progress"`
	LoadedBatches   int     `json:"loaded_batches"`
	TotalPhotoCount int     `json:"total_photo_count"`
	HasMorePhotos   bool    `json:"has_more_photos"`
	Remaining       int     `json:"remaining_in_window"`
	Presented       int     `json:"presented"`
}

type managerOptions struct {
	pageSize      int
	prefetchBelow int
	mode          Mode
	rng           *rand.Rand
	metrics       *Metrics
}

type Option func(*managerOptions)

func WithPageSize(n int) Option {
	return func(o *managerOptions) {
		o.pageSize = n
	}
}

// WithPrefetchThreshold starts a background fetch of the next page whenever
// fewer than n assets remain in the window. Zero disables prefetching.
func WithPrefetchThreshold(n int) Option {
	return func(o *managerOptions) {
		o.prefetchBelow = n
	}
}

func WithMode(mode Mode) Option {
	return func(o *managerOptions) {
		o.mode = mode
	}
}

// WithRand fixes the random source, mostly for tests.
func WithRand(rng *rand.Rand) Option {
	return func(o *managerOptions) {
		o.rng = rng
	}
}

func WithMetrics(m *Metrics) Option {
	return func(o *managerOptions) {
		o.metrics = m
	}
}

// Manager decides which asset is shown next. One manager serves one
// traversal owner; create another for an independent session.
type Manager struct {
	cursor        *Cursor
	prefetchBelow int
	rng           *rand.Rand
	metrics       *Metrics

	mu        sync.Mutex
	mode      Mode
	presented int

	changes *broadcaster
}

func NewManager(source media.Source, opts ...Option) *Manager {
	o := managerOptions{
		pageSize: DefaultPageSize,
		mode:     ModeRandom,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Manager{
		cursor:        NewCursor(source, o.pageSize, o.metrics),
		prefetchBelow: o.prefetchBelow,
		rng:           o.rng,
		metrics:       o.metrics,
		mode:          o.mode,
		changes:       newBroadcaster(),
	}
}

// QuickStart begins a new session: any outstanding fetch is abandoned, all
// session state is cleared and the first page is loaded.
func (m *Manager) QuickStart(ctx context.Context) {
	m.mu.Lock()
	m.presented = 0
	m.mu.Unlock()
	m.metrics.recordSession()

	m.cursor.reset(ctx)
	// subscribers of the previous session observe the new generation and end
	m.changes.notify()
	if _, err := m.cursor.FetchNextPage(ctx); err != nil {
		log.Warn("First page fetch failed: %v", err)
	}
	m.changes.notify()

	p := m.Progress()
	log.Info("Session %d started: %d assets known, has more=%v", p.Session, p.TotalPhotoCount, p.HasMorePhotos)
}

// Next removes and returns the next asset under mode, fetching further pages
// when the window runs dry. ok is false when nothing is available: either the
// library is exhausted or the fetch failed, in which case a later call retries.
// mode also becomes the manager's current mode.
func (m *Manager) Next(ctx context.Context, mode Mode) (media.AssetRef, bool) {
	if p := m.Progress(); p.State == StateExhausted {
		return media.AssetRef{}, false
	}

	m.mu.Lock()
	m.mode = mode
	m.mu.Unlock()

	defer m.changes.notify()
	for fetches := 0; ; fetches++ {
		if asset, left, ok := m.cursor.take(mode, m.rng); ok {
			m.mu.Lock()
			m.presented++
			m.mu.Unlock()
			m.metrics.recordPresented(mode)
			m.maybePrefetch(left)
			return asset, true
		}
		if m.cursor.State().Exhausted || fetches >= maxEmptyFetches {
			return media.AssetRef{}, false
		}

		m.changes.notify()
		if _, err := m.cursor.FetchNextPage(ctx); err != nil {
			if !errors.Is(err, ErrStalePage) {
				log.Warn("Next page unavailable: %v", err)
			}
			return media.AssetRef{}, false
		}
	}
}

func (m *Manager) maybePrefetch(left int) {
	if m.prefetchBelow <= 0 || left >= m.prefetchBelow {
		return
	}
	st := m.cursor.State()
	if st.Exhausted || st.InFlight {
		return
	}
	go func() {
		if _, err := m.cursor.FetchNextPage(context.Background()); err != nil && !errors.Is(err, ErrStalePage) {
			log.Debug("Prefetch failed: %v", err)
		}
		m.changes.notify()
	}()
}

// ApplyFilter switches the traversal mode. Ordering is derived from the
// remaining window on the next call; nothing is refetched and consumed
// assets stay consumed.
func (m *Manager) ApplyFilter(mode Mode) {
	m.mu.Lock()
	changed := m.mode != mode
	m.mode = mode
	m.mu.Unlock()
	if changed {
		log.Debug("Traversal mode set to %s", mode)
		m.changes.notify()
	}
}

func (m *Manager) Mode() Mode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mode
}

// PhotoDeleted records that asset was deleted from the library. The caller
// must only report deletions the source has confirmed. Idempotent.
func (m *Manager) PhotoDeleted(asset media.AssetRef) {
	if m.cursor.Remove(asset.ID) {
		m.metrics.recordDeleted()
		m.changes.notify()
	}
}

// Restore returns a consumed asset to the window so it can be presented
// again. It backs single-step undo and is a no-op for deleted assets.
func (m *Manager) Restore(asset media.AssetRef) bool {
	if !m.cursor.restore(asset) {
		return false
	}
	m.mu.Lock()
	if m.presented > 0 {
		m.presented--
	}
	m.mu.Unlock()
	m.changes.notify()
	return true
}

func (m *Manager) Progress() Progress {
	st := m.cursor.State()

	m.mu.Lock()
	mode := m.mode
	presented := m.presented
	m.mu.Unlock()

	p := Progress{
		Session:         st.Generation,
		Mode:            mode,
		LoadedBatches:   st.LoadedBatches,
		TotalPhotoCount: st.TotalKnown,
		Remaining:       st.Window,
		Presented:       presented,
		HasMorePhotos:   st.Window > 0 || (st.LoadedBatches > 0 && !st.Exhausted),
	}

	loaded := float64(st.LoadedBatches * m.cursor.PageSize())
	p.LoadingProgress = min(max(loaded/float64(max(st.TotalKnown, 1)), 0), 1)

	switch {
	case st.InFlight:
		p.State = StateLoading
	case st.LoadedBatches == 0 && !st.Exhausted:
		p.State = StateUninitialized
	case st.Exhausted && st.Window == 0:
		p.State = StateExhausted
	default:
		p.State = StateReady
	}
	return p
}
