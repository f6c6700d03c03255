package photostore

import (
	"context"
	"errors"
	"sync"

	"github.com/MimeLyc/photo-sweeper/internal/media"
	"github.com/MimeLyc/photo-sweeper/internal/traversal"
	"github.com/MimeLyc/photo-sweeper/pkg/log"
	"github.com/google/uuid"
)

// StatsRecorder persists sweep statistics. Failures are logged and never
// undo a traversal step.
type StatsRecorder interface {
	StartSession(ctx context.Context, sessionID string, mode string) error
	RecordDeletion(ctx context.Context, sessionID string, asset media.AssetRef) error
	RecordSkip(ctx context.Context, sessionID string) error
	UndoSkip(ctx context.Context, sessionID string) error
}

type Option func(*Store)

func WithStats(stats StatsRecorder) Option {
	return func(s *Store) {
		s.stats = stats
	}
}

// Store holds the one asset currently presented and turns user decisions
// into library and traversal updates.
type Store struct {
	source  media.Source
	manager *traversal.Manager
	stats   StatsRecorder

	mu          sync.Mutex
	started     bool
	sessionID   string
	current     *media.AssetRef
	lastSkipped *media.AssetRef
}

func New(source media.Source, manager *traversal.Manager, opts ...Option) *Store {
	s := &Store{
		source:  source,
		manager: manager,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Manager() *traversal.Manager {
	return s.manager
}

func (s *Store) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessionID
}

// Start checks library access and begins a new session, dropping the
// current asset and any pending undo.
func (s *Store) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

func (s *Store) startLocked(ctx context.Context) error {
	switch perm := s.source.PermissionState(ctx); perm {
	case media.PermissionDenied:
		return NewError(ErrPermission, "library access denied").WithContext("permission", perm)
	case media.PermissionNotDetermined:
		log.Warn("Library permission not determined, starting with what is readable")
	}

	s.sessionID = uuid.NewString()
	s.current = nil
	s.lastSkipped = nil
	s.started = true

	s.manager.QuickStart(ctx)
	if s.stats != nil {
		if err := s.stats.StartSession(ctx, s.sessionID, s.manager.Mode().String()); err != nil {
			log.Warn("Failed to record session %s: %v", s.sessionID, err)
		}
	}
	log.Info("Session %s started in %s mode", s.sessionID, s.manager.Mode())
	return nil
}

// Current returns the presented asset, pulling the next one when nothing is
// presented. ok is false once the traversal has nothing to offer right now.
// A session is started on first use.
func (s *Store) Current(ctx context.Context) (media.AssetRef, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked(ctx)
}

func (s *Store) currentLocked(ctx context.Context) (media.AssetRef, bool, error) {
	if !s.started {
		if err := s.startLocked(ctx); err != nil {
			return media.AssetRef{}, false, err
		}
	}
	if s.current != nil {
		return *s.current, true, nil
	}
	next, ok := s.manager.Next(ctx, s.manager.Mode())
	if !ok {
		return media.AssetRef{}, false, nil
	}
	s.current = &next
	return next, true, nil
}

// Skip keeps the current asset and advances. The skip can be undone until
// the next decision.
func (s *Store) Skip(ctx context.Context) (media.AssetRef, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return media.AssetRef{}, false, NewError(ErrNoCurrent, "no asset to skip")
	}
	skipped := *s.current
	s.current = nil
	s.lastSkipped = &skipped
	if s.stats != nil {
		if err := s.stats.RecordSkip(ctx, s.sessionID); err != nil {
			log.Warn("Failed to record skip of %s: %v", skipped.ID, err)
		}
	}
	log.Debug("Skipped %s", skipped.ID)
	return s.currentLocked(ctx)
}

// Delete removes the current asset from the library and advances. When the
// library refuses, the asset stays current and an ErrDelete error is returned.
func (s *Store) Delete(ctx context.Context) (media.AssetRef, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return media.AssetRef{}, false, NewError(ErrNoCurrent, "no asset to delete")
	}
	target := *s.current

	err := s.source.DeleteAsset(ctx, target.ID)
	switch {
	case err == nil:
		if s.stats != nil {
			if err := s.stats.RecordDeletion(ctx, s.sessionID, target); err != nil {
				log.Warn("Failed to record deletion of %s: %v", target.ID, err)
			}
		}
		log.Info("Deleted %s", target.ID)
	case errors.Is(err, media.ErrNotFound):
		// already gone from the library, so drop it without counting it
		log.Warn("Asset %s vanished before deletion", target.ID)
	default:
		return target, true, WrapError(err, ErrDelete, "failed to delete asset").WithContext("id", target.ID)
	}

	s.manager.PhotoDeleted(target)
	s.current = nil
	s.lastSkipped = nil
	return s.currentLocked(ctx)
}

// UndoSkip presents the most recently skipped asset again. The asset that
// replaced it goes back into the traversal.
func (s *Store) UndoSkip(ctx context.Context) (media.AssetRef, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.lastSkipped == nil {
		return media.AssetRef{}, NewError(ErrNothingToUndo, "no skip to undo")
	}
	restored := *s.lastSkipped
	if s.current != nil {
		s.manager.Restore(*s.current)
	}
	s.current = &restored
	s.lastSkipped = nil
	if s.stats != nil {
		if err := s.stats.UndoSkip(ctx, s.sessionID); err != nil {
			log.Warn("Failed to record undo of %s: %v", restored.ID, err)
		}
	}
	log.Debug("Undid skip of %s", restored.ID)
	return restored, nil
}

func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSkipped != nil
}

// SetMode switches the traversal mode. The current asset stays presented.
func (s *Store) SetMode(mode traversal.Mode) {
	s.manager.ApplyFilter(mode)
}

func (s *Store) Progress() traversal.Progress {
	return s.manager.Progress()
}
