package media

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

var (
	ErrNotFound         = errors.New("asset not found")
	ErrPermissionDenied = errors.New("library access denied")
)

type Kind string

const (
	KindPhoto Kind = "photo"
	KindVideo Kind = "video"
)

// AssetRef is one library item as seen by the traversal core.
// CreatedAt is the zero time when the asset carries no capture date.
type AssetRef struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Kind      Kind      `json:"kind"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	Size      int64     `json:"size"`
}

func (a AssetRef) HasCreatedAt() bool {
	return !a.CreatedAt.IsZero()
}

// Page is one fetch unit. An empty NextToken means the source has no further pages.
type Page struct {
	Assets        []AssetRef
	NextToken     string
	TotalEstimate int
}

type Permission string

const (
	PermissionGranted       Permission = "granted"
	PermissionDenied        Permission = "denied"
	PermissionNotDetermined Permission = "not_determined"
)

// Source is the library access layer the traversal core pulls from.
type Source interface {
	// FetchPage returns up to limit assets following token. The empty token
	// addresses the first page. Ordering must be stable across calls.
	FetchPage(ctx context.Context, token string, limit int) (Page, error)
	// DeleteAsset physically removes the asset. Deleting an unknown id returns ErrNotFound.
	DeleteAsset(ctx context.Context, id string) error
	PermissionState(ctx context.Context) Permission
}

// ContentSource is implemented by sources that can stream asset bytes.
type ContentSource interface {
	OpenAsset(ctx context.Context, id string) (io.ReadCloser, error)
}

var photoExts = []string{
	".jpg", ".jpeg", ".png", ".heic", ".heif", ".gif", ".webp", ".tif", ".tiff",
	".bmp", ".dng", ".cr2", ".nef", ".arw", ".raf", ".orf", ".rw2",
}

var videoExts = []string{
	".mp4", ".m4v", ".mov", ".avi", ".mkv", ".3gp", ".webm", ".mts", ".m2ts",
}

// KindOf classifies a file path by extension. ok is false for non-media files.
func KindOf(path string) (Kind, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	switch {
	case slices.Contains(photoExts, ext):
		return KindPhoto, true
	case slices.Contains(videoExts, ext):
		return KindVideo, true
	default:
		return "", false
	}
}
