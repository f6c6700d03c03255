package traversal

import (
	"context"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/MimeLyc/photo-sweeper/internal/media"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, src media.Source, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithRand(rand.New(rand.NewPCG(7, 11)))}, opts...)
	m := NewManager(src, opts...)
	m.QuickStart(context.Background())
	return m
}

func drain(t *testing.T, m *Manager, mode Mode) []string {
	t.Helper()
	var got []string
	for range 10_000 {
		asset, ok := m.Next(context.Background(), mode)
		if !ok {
			return got
		}
		got = append(got, asset.ID)
	}
	t.Fatal("traversal did not terminate")
	return nil
}

func TestManager_NeverRepeatsWithinSession(t *testing.T) {
	for _, mode := range []Mode{ModeRandom, ModeOldestFirst, ModeNewestFirst} {
		t.Run(mode.String(), func(t *testing.T) {
			m := newTestManager(t, newFakeSource(makeAssets(100)), WithPageSize(7))

			got := drain(t, m, mode)
			assert.Len(t, got, 100)
			assert.ElementsMatch(t, ids(makeAssets(100)), got)

			p := m.Progress()
			assert.Equal(t, StateExhausted, p.State)
			assert.False(t, p.HasMorePhotos)
			assert.Equal(t, 100, p.Presented)
		})
	}
}

func TestManager_ChronologicalScenario(t *testing.T) {
	window := scenarioWindow()

	m := newTestManager(t, newFakeSource(window))
	assert.Equal(t, []string{"A", "B", "C"}, drain(t, m, ModeOldestFirst))

	m = newTestManager(t, newFakeSource(window))
	assert.Equal(t, []string{"B", "A", "C"}, drain(t, m, ModeNewestFirst))
}

func TestManager_DeleteBeforePresented(t *testing.T) {
	m := newTestManager(t, newFakeSource(scenarioWindow()))
	require.Equal(t, 3, m.Progress().TotalPhotoCount)

	m.PhotoDeleted(media.AssetRef{ID: "B"})
	assert.Equal(t, 2, m.Progress().TotalPhotoCount)

	assert.Equal(t, []string{"A", "C"}, drain(t, m, ModeOldestFirst))
}

func TestManager_DeleteCurrentAsset(t *testing.T) {
	m := newTestManager(t, newFakeSource(makeAssets(5)))

	current, ok := m.Next(context.Background(), ModeOldestFirst)
	require.True(t, ok)
	m.PhotoDeleted(current)
	m.PhotoDeleted(current)

	p := m.Progress()
	assert.Equal(t, 4, p.TotalPhotoCount)
	assert.Equal(t, 4, p.Remaining)
}

func TestManager_DeleteDuringInFlightFetch(t *testing.T) {
	src := newFakeSource(makeAssets(9))
	m := newTestManager(t, src, WithPageSize(3), WithMode(ModeOldestFirst))
	require.Equal(t, []string{"asset-000", "asset-001", "asset-002"}, ids(m.cursor.Window()))

	src.mu.Lock()
	src.gate = make(chan struct{})
	src.entered = make(chan struct{}, 1)
	src.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		_, err := m.cursor.FetchNextPage(context.Background())
		errCh <- err
	}()
	<-src.entered

	// one id already in the window, one on the page being loaded
	m.PhotoDeleted(media.AssetRef{ID: "asset-001"})
	m.PhotoDeleted(media.AssetRef{ID: "asset-004"})
	close(src.gate)
	require.NoError(t, <-errCh)

	got := drain(t, m, ModeOldestFirst)
	assert.NotContains(t, got, "asset-001")
	assert.NotContains(t, got, "asset-004")
	assert.Equal(t, []string{
		"asset-000", "asset-002", "asset-003", "asset-005",
		"asset-006", "asset-007", "asset-008",
	}, got)
}

func TestManager_OrderingHoldsAcrossWindow(t *testing.T) {
	assets := makeAssets(20)
	// reverse so fetch order is newest first
	for i, j := 0, len(assets)-1; i < j; i, j = i+1, j-1 {
		assets[i], assets[j] = assets[j], assets[i]
	}
	m := newTestManager(t, newFakeSource(assets), WithPageSize(50))

	got := drain(t, m, ModeOldestFirst)
	assert.Equal(t, ids(makeAssets(20)), got)
}

func TestManager_ExhaustionIsSticky(t *testing.T) {
	src := newFakeSource(makeAssets(3))
	m := newTestManager(t, src)
	drain(t, m, ModeRandom)
	fetches := src.fetchCount()

	for range 3 {
		_, ok := m.Next(context.Background(), ModeRandom)
		assert.False(t, ok)
	}
	assert.Equal(t, fetches, src.fetchCount())
	assert.Equal(t, StateExhausted, m.Progress().State)
}

func TestManager_EmptyLibrary(t *testing.T) {
	m := newTestManager(t, newFakeSource(nil))

	p := m.Progress()
	assert.Equal(t, StateExhausted, p.State)
	assert.False(t, p.HasMorePhotos)
	assert.Zero(t, p.TotalPhotoCount)

	_, ok := m.Next(context.Background(), ModeRandom)
	assert.False(t, ok)
}

func TestManager_FailedFirstPageIsRetried(t *testing.T) {
	src := newFakeSource(makeAssets(2))
	src.failNext = 1
	m := newTestManager(t, src)

	p := m.Progress()
	assert.Equal(t, StateUninitialized, p.State)
	assert.False(t, p.HasMorePhotos)

	asset, ok := m.Next(context.Background(), ModeOldestFirst)
	require.True(t, ok)
	assert.Equal(t, "asset-000", asset.ID)
}

func TestManager_FetchFailureMidSessionReturnsNone(t *testing.T) {
	src := newFakeSource(makeAssets(4))
	m := newTestManager(t, src, WithPageSize(2))
	drainN := func(n int) {
		for range n {
			_, ok := m.Next(context.Background(), ModeOldestFirst)
			require.True(t, ok)
		}
	}
	drainN(2)

	src.mu.Lock()
	src.failNext = 1
	src.mu.Unlock()
	_, ok := m.Next(context.Background(), ModeOldestFirst)
	assert.False(t, ok)
	assert.NotEqual(t, StateExhausted, m.Progress().State)

	drainN(2)
}

func TestManager_ApplyFilterDoesNotRefetch(t *testing.T) {
	src := newFakeSource(scenarioWindow())
	m := newTestManager(t, src)
	fetches := src.fetchCount()

	first, ok := m.Next(context.Background(), ModeOldestFirst)
	require.True(t, ok)
	assert.Equal(t, "A", first.ID)

	m.ApplyFilter(ModeNewestFirst)
	assert.Equal(t, ModeNewestFirst, m.Mode())
	assert.Equal(t, fetches, src.fetchCount())

	next, ok := m.Next(context.Background(), m.Mode())
	require.True(t, ok)
	assert.Equal(t, "B", next.ID)
}

func TestManager_QuickStartBeginsNewSession(t *testing.T) {
	src := newFakeSource(makeAssets(5))
	m := newTestManager(t, src)
	drain(t, m, ModeRandom)
	first := m.Progress().Session

	m.QuickStart(context.Background())
	p := m.Progress()
	assert.Greater(t, p.Session, first)
	assert.Zero(t, p.Presented)
	assert.Len(t, drain(t, m, ModeRandom), 5)
}

func TestManager_LoadingProgress(t *testing.T) {
	m := newTestManager(t, newFakeSource(makeAssets(100)))
	assert.InDelta(t, 0.3, m.Progress().LoadingProgress, 1e-9)

	small := newTestManager(t, newFakeSource(makeAssets(10)))
	assert.InDelta(t, 1.0, small.Progress().LoadingProgress, 1e-9)
}

func TestManager_PrefetchKeepsWindowFilled(t *testing.T) {
	src := newFakeSource(makeAssets(20))
	m := newTestManager(t, src, WithPageSize(5), WithPrefetchThreshold(3))

	for range 3 {
		_, ok := m.Next(context.Background(), ModeRandom)
		require.True(t, ok)
	}
	require.Eventually(t, func() bool {
		return src.fetchCount() >= 2 && m.Progress().LoadedBatches >= 2
	}, time.Second, 10*time.Millisecond)
}

func TestManager_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	m := newTestManager(t, newFakeSource(makeAssets(4)), WithMetrics(metrics), WithPageSize(2))

	asset, ok := m.Next(context.Background(), ModeNewestFirst)
	require.True(t, ok)
	m.PhotoDeleted(asset)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Presented.WithLabelValues("newest")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.Deleted))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SessionsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PagesFetched.WithLabelValues("success")))
}

func TestManager_SubscribeEndsOnExhaustion(t *testing.T) {
	m := newTestManager(t, newFakeSource(makeAssets(3)))

	done := make(chan []Progress, 1)
	go func() {
		var snaps []Progress
		for p := range m.Subscribe(context.Background()) {
			snaps = append(snaps, p)
		}
		done <- snaps
	}()

	drain(t, m, ModeOldestFirst)

	select {
	case snaps := <-done:
		require.NotEmpty(t, snaps)
		assert.Equal(t, StateExhausted, snaps[len(snaps)-1].State)
		for i := 1; i < len(snaps); i++ {
			assert.NotEqual(t, snaps[i-1], snaps[i])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("subscription did not end")
	}
}

func TestManager_SubscribeEndsOnNewSession(t *testing.T) {
	m := newTestManager(t, newFakeSource(makeAssets(10)))

	subscribed := make(chan struct{})
	done := make(chan struct{})
	go func() {
		first := true
		for range m.Subscribe(context.Background()) {
			if first {
				close(subscribed)
				first = false
			}
		}
		close(done)
	}()

	<-subscribed
	m.QuickStart(context.Background())
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("subscription outlived its session")
	}
}

func TestManager_SubscribeStopsOnContext(t *testing.T) {
	m := newTestManager(t, newFakeSource(makeAssets(10)))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan int)
	go func() {
		n := 0
		for range m.Subscribe(ctx) {
			n++
		}
		done <- n
	}()
	cancel()

	select {
	case n := <-done:
		assert.LessOrEqual(t, n, 1)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription ignored cancellation")
	}
}

func TestManager_RestoreReturnsConsumedAsset(t *testing.T) {
	m := newTestManager(t, newFakeSource(makeAssets(3)))

	first, ok := m.Next(context.Background(), ModeOldestFirst)
	require.True(t, ok)
	require.True(t, m.Restore(first))
	assert.False(t, m.Restore(first), "already queued")
	assert.Zero(t, m.Progress().Presented)

	again, ok := m.Next(context.Background(), ModeOldestFirst)
	require.True(t, ok)
	assert.Equal(t, first.ID, again.ID)

	m.PhotoDeleted(again)
	assert.False(t, m.Restore(again), "deleted assets stay gone")
	assert.False(t, m.Restore(media.AssetRef{ID: "never-fetched"}))
}
