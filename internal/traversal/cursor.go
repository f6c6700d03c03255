package traversal

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/media"
	"github.com/MimeLyc/photo-sweeper/pkg/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

const DefaultPageSize = 30

// ErrStalePage is returned to callers whose fetch belonged to a session that
// was restarted while the page was loading. The page is discarded.
var ErrStalePage = errors.New("page belongs to a previous session")

var tracer = otel.Tracer("github.com/MimeLyc/photo-sweeper/internal/traversal")

// CursorState is a point-in-time view of the cursor.
type CursorState struct {
	TotalKnown    int
	LoadedBatches int
	Exhausted     bool
	Window        int
	InFlight      bool
	Generation    uint64
}

// Cursor owns the window of fetched, not yet consumed assets and pulls
// further pages from the source on demand. At most one fetch per session is
// in flight; concurrent callers share its result.
type Cursor struct {
	source   media.Source
	pageSize int
	metrics  *Metrics

	mu         sync.Mutex
	window     []media.AssetRef
	seen       map[string]struct{}
	deleted    map[string]struct{}
	token      string
	total      int
	batches    int
	exhausted  bool
	generation uint64
	sessionCtx context.Context
	cancel     context.CancelFunc

	flight   singleflight.Group
	inFlight atomic.Int32
}

func NewCursor(source media.Source, pageSize int, metrics *Metrics) *Cursor {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	c := &Cursor{
		source:   source,
		pageSize: pageSize,
		metrics:  metrics,
		seen:     make(map[string]struct{}),
		deleted:  make(map[string]struct{}),
	}
	c.sessionCtx, c.cancel = context.WithCancel(context.Background())
	return c
}

func (c *Cursor) PageSize() int {
	return c.pageSize
}

// QuickStart abandons the current session, including any fetch in flight,
// and loads the first page of a new one. Failures leave an empty window.
func (c *Cursor) QuickStart(ctx context.Context) {
	c.reset(ctx)
	if _, err := c.FetchNextPage(ctx); err != nil {
		log.Warn("First page fetch failed: %v", err)
	}
}

func (c *Cursor) reset(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.cancel()
	c.generation++
	// the session outlives the request that started it
	c.sessionCtx, c.cancel = context.WithCancel(context.WithoutCancel(ctx))
	c.window = nil
	c.seen = make(map[string]struct{})
	c.deleted = make(map[string]struct{})
	c.token = ""
	c.total = 0
	c.batches = 0
	c.exhausted = false
	c.metrics.recordWindow(0)
}

// FetchNextPage appends the next page to the window and reports whether it
// added any asset. It is a no-op once the source has no further pages.
func (c *Cursor) FetchNextPage(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.exhausted {
		c.mu.Unlock()
		return false, nil
	}
	gen := c.generation
	sessionCtx := c.sessionCtx
	c.mu.Unlock()

	ch := c.flight.DoChan(fmt.Sprintf("page-%d", gen), func() (any, error) {
		return c.fetch(sessionCtx, gen)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return false, res.Err
		}
		return res.Val.(bool), nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

func (c *Cursor) fetch(ctx context.Context, gen uint64) (bool, error) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return false, ErrStalePage
	}
	token := c.token
	c.mu.Unlock()

	c.inFlight.Add(1)
	defer c.inFlight.Add(-1)

	ctx, span := tracer.Start(ctx, "traversal.FetchPage", trace.WithAttributes(
		attribute.Int("page.size", c.pageSize),
		attribute.Int64("session.generation", int64(gen)),
	))
	defer span.End()

	started := time.Now()
	page, err := c.source.FetchPage(ctx, token, c.pageSize)
	elapsed := time.Since(started)
	if err != nil {
		if c.currentGeneration() != gen {
			c.metrics.recordFetch(elapsed, "stale")
			return false, ErrStalePage
		}
		c.metrics.recordFetch(elapsed, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, fmt.Errorf("fetch page: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		c.metrics.recordFetch(elapsed, "stale")
		return false, ErrStalePage
	}
	c.metrics.recordFetch(elapsed, "success")

	added := 0
	for _, asset := range page.Assets {
		if _, dup := c.seen[asset.ID]; dup {
			continue
		}
		c.seen[asset.ID] = struct{}{}
		c.window = append(c.window, asset)
		added++
	}
	c.batches++
	c.total = max(page.TotalEstimate, 0)
	c.token = page.NextToken
	if page.NextToken == "" {
		c.exhausted = true
	}
	c.metrics.recordWindow(len(c.window))
	span.SetAttributes(attribute.Int("page.added", added), attribute.Bool("page.last", c.exhausted))

	log.Debug("Fetched page %d: %d new assets, total estimate %d, exhausted=%v",
		c.batches, added, c.total, c.exhausted)
	return added > 0, nil
}

func (c *Cursor) currentGeneration() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generation
}

// take removes and returns the asset SelectNext picks under mode.
func (c *Cursor) take(mode Mode, rng *rand.Rand) (media.AssetRef, int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	i, ok := SelectNext(c.window, mode, rng)
	if !ok {
		return media.AssetRef{}, 0, false
	}
	asset := c.window[i]
	c.window = append(c.window[:i], c.window[i+1:]...)
	c.metrics.recordWindow(len(c.window))
	return asset, len(c.window), true
}

// restore puts a consumed asset back at the front of the window. Ids that
// were never fetched this session, were deleted or are still queued are refused.
func (c *Cursor) restore(asset media.AssetRef) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, known := c.seen[asset.ID]; !known {
		return false
	}
	if _, gone := c.deleted[asset.ID]; gone {
		return false
	}
	for _, queued := range c.window {
		if queued.ID == asset.ID {
			return false
		}
	}
	c.window = append([]media.AssetRef{asset}, c.window...)
	c.metrics.recordWindow(len(c.window))
	return true
}

// Remove records a confirmed deletion of id. It drops id from the window if
// it is still there and lowers the total when the asset was known to this
// session. Repeated calls for the same id are no-ops. An id never fetched is
// marked seen so a later page cannot bring it back.
func (c *Cursor) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, done := c.deleted[id]; done {
		return false
	}
	c.deleted[id] = struct{}{}
	if _, known := c.seen[id]; !known {
		c.seen[id] = struct{}{}
		return false
	}

	for i, asset := range c.window {
		if asset.ID == id {
			c.window = append(c.window[:i], c.window[i+1:]...)
			break
		}
	}
	if c.total > 0 {
		c.total--
	}
	c.metrics.recordWindow(len(c.window))
	return true
}

// Window returns a copy of the unconsumed assets in fetch order.
func (c *Cursor) Window() []media.AssetRef {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]media.AssetRef(nil), c.window...)
}

// TotalCount is the source's latest size estimate, for progress display only.
func (c *Cursor) TotalCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

func (c *Cursor) State() CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CursorState{
		TotalKnown:    c.total,
		LoadedBatches: c.batches,
		Exhausted:     c.exhausted,
		Window:        len(c.window),
		InFlight:      c.inFlight.Load() > 0,
		Generation:    c.generation,
	}
}
