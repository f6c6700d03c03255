package fsys

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/media"
	"github.com/MimeLyc/photo-sweeper/pkg/file"
	"github.com/MimeLyc/photo-sweeper/pkg/log"
	"golang.org/x/text/unicode/norm"
)

// DateReader extracts a capture date from a file. A zero time means unknown.
type DateReader func(path string) time.Time

type options struct {
	trashDir      string
	dateReader    DateReader
	modTimeAsDate bool
	cacheTTL      time.Duration
}

type Option func(*options)

// WithTrashDir moves deleted files into dir instead of unlinking them.
func WithTrashDir(dir string) Option {
	return func(o *options) {
		o.trashDir = dir
	}
}

func WithDateReader(reader DateReader) Option {
	return func(o *options) {
		o.dateReader = reader
	}
}

// WithModTimeFallback uses the file modification time when no capture date is found.
func WithModTimeFallback(enabled bool) Option {
	return func(o *options) {
		o.modTimeAsDate = enabled
	}
}

func WithCacheTTL(ttl time.Duration) Option {
	return func(o *options) {
		o.cacheTTL = ttl
	}
}

type listing struct {
	version uint64
	scanned time.Time
	ids     []string          // sorted
	paths   map[string]string // id -> on-disk path
}

// Source serves media files below a set of root directories. Asset ids are
// NFC-normalized absolute paths so that the same file always maps to one id.
type Source struct {
	roots []string
	opts  options

	mu      sync.RWMutex
	cache   *listing
	version uint64
}

func New(roots []string, opts ...Option) *Source {
	o := options{
		dateReader: ReadExifDate,
		cacheTTL:   time.Minute,
	}
	for _, opt := range opts {
		opt(&o)
	}

	cleaned := make([]string, 0, len(roots))
	for _, root := range roots {
		root = strings.TrimSpace(root)
		if root == "" {
			continue
		}
		if abs, err := filepath.Abs(root); err == nil {
			root = abs
		}
		cleaned = append(cleaned, root)
	}
	if o.trashDir != "" {
		if abs, err := filepath.Abs(o.trashDir); err == nil {
			o.trashDir = abs
		}
	}

	return &Source{
		roots: cleaned,
		opts:  o,
	}
}

func (s *Source) Roots() []string {
	return append([]string(nil), s.roots...)
}

// Invalidate drops the cached directory listing.
func (s *Source) Invalidate() {
	s.mu.Lock()
	s.cache = nil
	s.version++
	s.mu.Unlock()
}

func (s *Source) PermissionState(_ context.Context) media.Permission {
	if len(s.roots) == 0 {
		return media.PermissionNotDetermined
	}
	for _, root := range s.roots {
		if err := probeDir(root); err != nil && errors.Is(err, fs.ErrPermission) {
			return media.PermissionDenied
		}
	}
	return media.PermissionGranted
}

func probeDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := f.Readdirnames(1); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// FetchPage pages by id: token is the last id of the previous page, so
// deletions between calls never shift later pages.
func (s *Source) FetchPage(ctx context.Context, token string, limit int) (media.Page, error) {
	if limit <= 0 {
		return media.Page{}, fmt.Errorf("invalid page limit %d", limit)
	}
	if s.PermissionState(ctx) == media.PermissionDenied {
		return media.Page{}, media.ErrPermissionDenied
	}

	lst, err := s.list(ctx)
	if err != nil {
		return media.Page{}, err
	}

	// forget mutates the cached map, so copy the page out under the lock
	s.mu.RLock()
	start := 0
	if token != "" {
		start = sort.Search(len(lst.ids), func(i int) bool { return lst.ids[i] > token })
	}
	end := min(start+limit, len(lst.ids))
	ids := lst.ids[start:end]
	paths := make([]string, len(ids))
	for i, id := range ids {
		paths[i] = lst.paths[id]
	}
	total := len(lst.ids)
	nextToken := ""
	if end < len(lst.ids) && end > start {
		nextToken = lst.ids[end-1]
	}
	s.mu.RUnlock()

	page := media.Page{
		Assets:        make([]media.AssetRef, 0, len(ids)),
		NextToken:     nextToken,
		TotalEstimate: total,
	}
	for i, id := range ids {
		select {
		case <-ctx.Done():
			return media.Page{}, ctx.Err()
		default:
		}
		asset, err := s.describe(id, paths[i])
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				// removed behind our back; the next listing will drop it
				continue
			}
			return media.Page{}, err
		}
		page.Assets = append(page.Assets, asset)
	}
	return page, nil
}

func (s *Source) describe(id, path string) (media.AssetRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return media.AssetRef{}, err
	}
	kind, _ := media.KindOf(path)
	asset := media.AssetRef{
		ID:   id,
		Name: filepath.Base(path),
		Kind: kind,
		Size: info.Size(),
	}
	if kind == media.KindPhoto && s.opts.dateReader != nil {
		asset.CreatedAt = s.opts.dateReader(path)
	}
	if asset.CreatedAt.IsZero() && s.opts.modTimeAsDate {
		asset.CreatedAt = info.ModTime()
	}
	return asset, nil
}

func (s *Source) DeleteAsset(ctx context.Context, id string) error {
	path, ok := s.resolve(ctx, id)
	if !ok {
		return fmt.Errorf("delete %s: %w", id, media.ErrNotFound)
	}

	var err error
	if s.opts.trashDir != "" {
		err = s.moveToTrash(path)
	} else {
		err = os.Remove(path)
	}
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist):
		s.forget(id)
		return fmt.Errorf("delete %s: %w", id, media.ErrNotFound)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("delete %s: %w", id, media.ErrPermissionDenied)
	default:
		return fmt.Errorf("delete %s: %w", id, err)
	}

	s.forget(id)
	log.Debug("Deleted asset %s", id)
	return nil
}

func (s *Source) OpenAsset(ctx context.Context, id string) (io.ReadCloser, error) {
	path, ok := s.resolve(ctx, id)
	if !ok {
		return nil, media.ErrNotFound
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, media.ErrNotFound
		}
		return nil, err
	}
	return f, nil
}

func (s *Source) moveToTrash(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	if err := os.MkdirAll(s.opts.trashDir, 0o755); err != nil {
		return err
	}
	target, err := file.AvailablePath(s.opts.trashDir, filepath.Base(path))
	if err != nil {
		return err
	}
	return os.Rename(path, target)
}

// resolve maps id to its file. Ids are NFC while names on disk may not be,
// so a cache miss rescans before taking id as the path. Ids outside the
// library roots or of non-media files are unknown.
func (s *Source) resolve(ctx context.Context, id string) (string, bool) {
	if path, ok := s.cached(id); ok {
		return path, true
	}
	if _, err := s.list(ctx); err != nil {
		log.Debug("Listing to resolve %s failed: %v", id, err)
	} else if path, ok := s.cached(id); ok {
		return path, true
	}

	if _, ok := media.KindOf(id); !ok || !filepath.IsAbs(id) {
		return "", false
	}
	path := filepath.Clean(id)
	for _, root := range s.roots {
		rel, err := filepath.Rel(root, path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return path, true
		}
	}
	return "", false
}

func (s *Source) cached(id string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cache == nil {
		return "", false
	}
	path, ok := s.cache.paths[id]
	return path, ok
}

// forget removes id from the cached listing without a rescan.
func (s *Source) forget(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cache == nil {
		return
	}
	if _, ok := s.cache.paths[id]; !ok {
		return
	}
	delete(s.cache.paths, id)
	i := sort.SearchStrings(s.cache.ids, id)
	if i < len(s.cache.ids) && s.cache.ids[i] == id {
		s.cache.ids = append(s.cache.ids[:i:i], s.cache.ids[i+1:]...)
	}
}

func (s *Source) list(ctx context.Context) (*listing, error) {
	s.mu.RLock()
	version := s.version
	ttl := s.opts.cacheTTL
	if s.cache != nil && s.cache.version == version && (ttl <= 0 || time.Since(s.cache.scanned) < ttl) {
		cached := s.cache
		s.mu.RUnlock()
		return cached, nil
	}
	s.mu.RUnlock()

	ret := &listing{
		version: version,
		scanned: time.Now(),
		ids:     make([]string, 0),
		paths:   make(map[string]string),
	}
	for _, root := range s.roots {
		if _, err := os.Stat(root); err != nil {
			if os.IsNotExist(err) {
				log.Warn("Library root %s does not exist, skipping", root)
				continue
			}
			return nil, err
		}
		files, err := s.findMediaFiles(ctx, root)
		if err != nil {
			return nil, err
		}
		for _, path := range files {
			id := norm.NFC.String(path)
			if _, dup := ret.paths[id]; dup {
				continue
			}
			ret.paths[id] = path
			ret.ids = append(ret.ids, id)
		}
	}
	sort.Strings(ret.ids)

	s.mu.Lock()
	if s.version == version {
		s.cache = ret
	}
	s.mu.Unlock()

	log.Debug("Listed %d media files under %d roots", len(ret.ids), len(s.roots))
	return ret, nil
}

func (s *Source) findMediaFiles(ctx context.Context, root string) ([]string, error) {
	ret := make([]string, 0)
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && (strings.HasPrefix(d.Name(), ".") || path == s.opts.trashDir) {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") {
			return nil
		}
		if _, ok := media.KindOf(path); ok {
			ret = append(ret, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}
