package traversal

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/media"
)

var errFakeIO = errors.New("simulated library i/o failure")

// fakeSource pages over an in-memory asset list. Tokens are offsets.
type fakeSource struct {
	mu           sync.Mutex
	assets       []media.AssetRef
	fetches      int
	failNext     int
	gate         chan struct{}
	entered      chan struct{}
	ignoreCancel bool
	totalBias    int
}

func newFakeSource(assets []media.AssetRef) *fakeSource {
	return &fakeSource{assets: assets}
}

func (f *fakeSource) FetchPage(ctx context.Context, token string, limit int) (media.Page, error) {
	f.mu.Lock()
	f.fetches++
	gate, entered := f.gate, f.entered
	fail := f.failNext > 0
	if fail {
		f.failNext--
	}
	f.mu.Unlock()

	if entered != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
	}
	if gate != nil {
		if f.ignoreCancel {
			<-gate
		} else {
			select {
			case <-gate:
			case <-ctx.Done():
				return media.Page{}, ctx.Err()
			}
		}
	}
	if fail {
		return media.Page{}, errFakeIO
	}

	start := 0
	if token != "" {
		n, err := strconv.Atoi(token)
		if err != nil {
			return media.Page{}, err
		}
		start = n
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	start = min(start, len(f.assets))
	end := min(start+limit, len(f.assets))
	page := media.Page{
		Assets:        slices.Clone(f.assets[start:end]),
		TotalEstimate: len(f.assets) + f.totalBias,
	}
	if end < len(f.assets) {
		page.NextToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeSource) DeleteAsset(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, a := range f.assets {
		if a.ID == id {
			f.assets = append(f.assets[:i], f.assets[i+1:]...)
			return nil
		}
	}
	return media.ErrNotFound
}

func (f *fakeSource) PermissionState(context.Context) media.Permission {
	return media.PermissionGranted
}

func (f *fakeSource) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches
}

var day0 = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// makeAssets builds n dated assets with ids asset-000.. in fetch order.
func makeAssets(n int) []media.AssetRef {
	ret := make([]media.AssetRef, n)
	for i := range n {
		ret[i] = media.AssetRef{
			ID:        fmt.Sprintf("asset-%03d", i),
			Kind:      media.KindPhoto,
			CreatedAt: day0.Add(time.Duration(i) * time.Hour),
			Size:      int64(1000 + i),
		}
	}
	return ret
}

func ids(assets []media.AssetRef) []string {
	ret := make([]string, len(assets))
	for i, a := range assets {
		ret[i] = a.ID
	}
	return ret
}
