package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/media"
	"github.com/MimeLyc/photo-sweeper/pkg/log"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const indexPageSize = 256

type invalidator interface {
	Invalidate()
}

// IndexResult summarizes one indexing pass.
type IndexResult struct {
	Indexed  int           `json:"indexed"`
	Pruned   int           `json:"pruned"`
	Duration time.Duration `json:"duration"`
	Finished time.Time     `json:"finished"`
}

// Indexer copies a live source into a catalog backend and prunes entries
// whose asset disappeared.
type Indexer struct {
	source  media.Source
	backend Backend
	group   singleflight.Group
	now     func() time.Time

	mu   sync.Mutex
	last *IndexResult
}

func NewIndexer(source media.Source, backend Backend) *Indexer {
	return &Indexer{
		source:  source,
		backend: backend,
		now:     time.Now,
	}
}

// Run indexes the source. Concurrent calls share one pass.
func (ix *Indexer) Run(ctx context.Context) (IndexResult, error) {
	v, err, shared := ix.group.Do("index", func() (any, error) {
		return ix.run(ctx)
	})
	if shared {
		log.Debug("Index run joined an in-flight pass")
	}
	if err != nil {
		return IndexResult{}, err
	}
	res := v.(IndexResult)
	ix.mu.Lock()
	ix.last = &res
	ix.mu.Unlock()
	return res, nil
}

// LastResult is the outcome of the most recent successful pass.
func (ix *Indexer) LastResult() (IndexResult, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.last == nil {
		return IndexResult{}, false
	}
	return *ix.last, true
}

func (ix *Indexer) run(ctx context.Context) (IndexResult, error) {
	started := ix.now()
	if inv, ok := ix.source.(invalidator); ok {
		inv.Invalidate()
	}

	seen := make(map[string]struct{})
	pages := make(chan []media.AssetRef, 2)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(pages)
		token := ""
		for {
			page, err := ix.source.FetchPage(gctx, token, indexPageSize)
			if err != nil {
				return fmt.Errorf("fetch index page: %w", err)
			}
			select {
			case pages <- page.Assets:
			case <-gctx.Done():
				return gctx.Err()
			}
			if page.NextToken == "" {
				return nil
			}
			token = page.NextToken
		}
	})
	g.Go(func() error {
		for assets := range pages {
			records := make([]Record, 0, len(assets))
			for _, a := range assets {
				seen[a.ID] = struct{}{}
				records = append(records, recordFromAsset(a, started))
			}
			if err := ix.backend.Put(records); err != nil {
				return fmt.Errorf("store index page: %w", err)
			}
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return IndexResult{}, err
	}

	stale := make([]string, 0)
	err := ix.backend.ForEach(func(id string) error {
		if _, ok := seen[id]; !ok {
			stale = append(stale, id)
		}
		return nil
	})
	if err != nil {
		return IndexResult{}, fmt.Errorf("scan catalog: %w", err)
	}
	for _, id := range stale {
		if _, err := ix.backend.Delete(id); err != nil {
			return IndexResult{}, fmt.Errorf("prune %s: %w", id, err)
		}
	}

	finished := ix.now()
	res := IndexResult{
		Indexed:  len(seen),
		Pruned:   len(stale),
		Duration: finished.Sub(started),
		Finished: finished,
	}
	log.Info("Indexed %d assets, pruned %d stale entries in %s", res.Indexed, res.Pruned, res.Duration)
	return res, nil
}

// Schedule registers a periodic index run on c.
func (ix *Indexer) Schedule(ctx context.Context, c *cron.Cron, expr string) (cron.EntryID, error) {
	return c.AddFunc(expr, func() {
		if _, err := ix.Run(ctx); err != nil {
			log.Error("Scheduled index failed: %v", err)
		}
	})
}
