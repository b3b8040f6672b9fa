package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// TangleMetrics are updated by the tangle. A nil *TangleMetrics is not valid, use NewNop in tests.
type TangleMetrics struct {
	Vertices             prometheus.Gauge
	NewVertices          prometheus.Counter
	Solidified           prometheus.Counter
	Tips                 prometheus.Gauge
	SolidMilestoneIndex  prometheus.Gauge
	LatestMilestoneIndex prometheus.Gauge
	ConfirmedMessages    prometheus.Counter
	RejectedMilestones   prometheus.Counter
	PrunedVertices       prometheus.Counter
	SolidEntryPoints     prometheus.Gauge
	BackendFetchFailures prometheus.Counter
}

// New creates the tangle metrics and registers them together with the Go and process collectors
func New(reg prometheus.Registerer) *TangleMetrics {
	m := newMetrics()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Vertices,
		m.NewVertices,
		m.Solidified,
		m.Tips,
		m.SolidMilestoneIndex,
		m.LatestMilestoneIndex,
		m.ConfirmedMessages,
		m.RejectedMilestones,
		m.PrunedVertices,
		m.SolidEntryPoints,
		m.BackendFetchFailures,
	)
	return m
}

// NewNop returns metrics not registered anywhere
func NewNop() *TangleMetrics {
	return newMetrics()
}

func newMetrics() *TangleMetrics {
	return &TangleMetrics{
		Vertices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tangle_vertices",
			Help: "vertices in the in-memory store, placeholders included",
		}),
		NewVertices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tangle_new_vertices_total",
			Help: "messages inserted",
		}),
		Solidified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tangle_solidified_total",
			Help: "messages that became solid",
		}),
		Tips: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tangle_tips",
			Help: "size of the tip pool",
		}),
		SolidMilestoneIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tangle_solid_milestone_index",
			Help: "latest solid (confirmed) milestone index",
		}),
		LatestMilestoneIndex: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tangle_latest_milestone_index",
			Help: "latest known milestone index",
		}),
		ConfirmedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tangle_confirmed_messages_total",
			Help: "messages assigned a milestone index",
		}),
		RejectedMilestones: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tangle_rejected_milestones_total",
			Help: "milestones rejected as regressions or conflicts",
		}),
		PrunedVertices: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tangle_pruned_vertices_total",
			Help: "vertices evicted by pruning",
		}),
		SolidEntryPoints: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tangle_solid_entry_points",
			Help: "size of the current solid entry point set",
		}),
		BackendFetchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "tangle_backend_fetch_failures_total",
			Help: "storage backend fetches failed with an error or timeout",
		}),
	}
}

// Handler exposes the registry for scraping
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
