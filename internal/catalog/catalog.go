package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/media"
)

const (
	BackendBolt   = "bolt"
	BackendPebble = "pebble"
)

// Record is the stored form of one indexed asset.
type Record struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Kind      media.Kind `json:"kind"`
	CreatedAt time.Time  `json:"created_at,omitzero"`
	Size      int64      `json:"size"`
	IndexedAt time.Time  `json:"indexed_at"`
}

func recordFromAsset(a media.AssetRef, indexedAt time.Time) Record {
	return Record{
		ID:        a.ID,
		Name:      a.Name,
		Kind:      a.Kind,
		CreatedAt: a.CreatedAt,
		Size:      a.Size,
		IndexedAt: indexedAt,
	}
}

func (r Record) Asset() media.AssetRef {
	return media.AssetRef{
		ID:        r.ID,
		Name:      r.Name,
		Kind:      r.Kind,
		CreatedAt: r.CreatedAt,
		Size:      r.Size,
	}
}

func encodeRecord(r Record) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(data []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return Record{}, fmt.Errorf("decode catalog record: %w", err)
	}
	return r, nil
}

// Backend is the key-value layer under a Catalog. Records are kept in id order.
type Backend interface {
	// Scan returns up to limit records with id strictly greater than after.
	Scan(after string, limit int) ([]Record, error)
	Put(records []Record) error
	// Delete reports whether the id was present.
	Delete(id string) (bool, error)
	ForEach(fn func(id string) error) error
	Count() (int, error)
	Close() error
}

// Open opens a catalog backend by name ("bolt" or "pebble").
func Open(backend, path string) (Backend, error) {
	switch backend {
	case BackendBolt:
		return OpenBolt(path)
	case BackendPebble:
		return OpenPebble(path)
	default:
		return nil, fmt.Errorf("unknown catalog backend: %s (must be 'bolt' or 'pebble')", backend)
	}
}

// RemoveFunc physically deletes the asset behind a catalog entry.
type RemoveFunc func(ctx context.Context, id string) error

type Option func(*Catalog)

func WithRemover(remove RemoveFunc) Option {
	return func(c *Catalog) {
		c.remove = remove
	}
}

// WithContent lets the catalog stream asset bytes through another source.
func WithContent(content media.ContentSource) Option {
	return func(c *Catalog) {
		c.content = content
	}
}

// Catalog serves a pre-indexed library as a media.Source.
type Catalog struct {
	backend Backend
	remove  RemoveFunc
	content media.ContentSource
}

func New(backend Backend, opts ...Option) *Catalog {
	c := &Catalog{backend: backend}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Catalog) Backend() Backend {
	return c.backend
}

func (c *Catalog) Close() error {
	return c.backend.Close()
}

func (c *Catalog) PermissionState(_ context.Context) media.Permission {
	return media.PermissionGranted
}

func (c *Catalog) FetchPage(ctx context.Context, token string, limit int) (media.Page, error) {
	if limit <= 0 {
		return media.Page{}, fmt.Errorf("invalid page limit %d", limit)
	}
	if err := ctx.Err(); err != nil {
		return media.Page{}, err
	}

	// one extra row tells us whether another page exists
	records, err := c.backend.Scan(token, limit+1)
	if err != nil {
		return media.Page{}, err
	}
	total, err := c.backend.Count()
	if err != nil {
		return media.Page{}, err
	}

	page := media.Page{TotalEstimate: total}
	if len(records) > limit {
		records = records[:limit]
		page.NextToken = records[limit-1].ID
	}
	page.Assets = make([]media.AssetRef, 0, len(records))
	for _, r := range records {
		page.Assets = append(page.Assets, r.Asset())
	}
	return page, nil
}

func (c *Catalog) DeleteAsset(ctx context.Context, id string) error {
	vanished := false
	if c.remove != nil {
		// a file that is already gone still drops its stale entry, but the
		// caller hears it was not found
		if err := c.remove(ctx, id); err != nil {
			if !errors.Is(err, media.ErrNotFound) {
				return err
			}
			vanished = true
		}
	}
	existed, err := c.backend.Delete(id)
	if err != nil {
		return fmt.Errorf("delete catalog entry %s: %w", id, err)
	}
	if !existed || vanished {
		return fmt.Errorf("delete %s: %w", id, media.ErrNotFound)
	}
	return nil
}

func (c *Catalog) OpenAsset(ctx context.Context, id string) (io.ReadCloser, error) {
	if c.content == nil {
		return nil, errors.New("catalog has no content source")
	}
	return c.content.OpenAsset(ctx, id)
}
