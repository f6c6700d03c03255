package traversal

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the prometheus collectors of one traversal manager.
// All methods are safe on a nil receiver.
type Metrics struct {
	PagesFetched    *prometheus.CounterVec
	FetchLatency    prometheus.Histogram
	Presented       *prometheus.CounterVec
	Deleted         prometheus.Counter
	WindowSize      prometheus.Gauge
	SessionsStarted prometheus.Counter
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PagesFetched: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photosweep_pages_fetched_total",
				Help: "Library pages requested from the media source",
			},
			[]string{"result"}, // "success", "error" or "stale"
		),
		FetchLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name: "photosweep_page_fetch_duration_seconds",
				Help: "Latency of media source page fetches in seconds",
				Buckets: []float64{
					0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0,
				},
			},
		),
		Presented: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "photosweep_assets_presented_total",
				Help: "Assets handed out for review",
			},
			[]string{"mode"},
		),
		Deleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "photosweep_assets_deleted_total",
				Help: "Assets removed from the traversal window after confirmed deletion",
			},
		),
		WindowSize: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "photosweep_window_size",
				Help: "Fetched assets not yet presented",
			},
		),
		SessionsStarted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "photosweep_sessions_started_total",
				Help: "Traversal sessions started or restarted",
			},
		),
	}
}

func (m *Metrics) recordFetch(d time.Duration, result string) {
	if m == nil {
		return
	}
	m.PagesFetched.WithLabelValues(result).Inc()
	if result != "stale" {
		m.FetchLatency.Observe(d.Seconds())
	}
}

func (m *Metrics) recordPresented(mode Mode) {
	if m == nil {
		return
	}
	m.Presented.WithLabelValues(mode.String()).Inc()
}

func (m *Metrics) recordDeleted() {
	if m == nil {
		return
	}
	m.Deleted.Inc()
}

func (m *Metrics) recordWindow(n int) {
	if m == nil {
		return
	}
	m.WindowSize.Set(float64(n))
}

func (m *Metrics) recordSession() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}
