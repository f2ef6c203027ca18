package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/banshee-data/hypgraph/internal/lidar/l5tracks"
)

const metricsNamespace = "hypgraph"

// Metrics holds the Prometheus instruments for the tracking loop.
type Metrics struct {
	Batches        prometheus.Counter
	StaleBatches   prometheus.Counter
	Hypotheses     prometheus.Counter
	Merges         prometheus.Counter
	Splits         prometheus.Counter
	Evictions      prometheus.Counter
	NodesRemoved   *prometheus.CounterVec
	SinkErrors     *prometheus.CounterVec
	Components     prometheus.Gauge
	Nodes          prometheus.Gauge
	UpdateDuration prometheus.Histogram
}

// NewMetrics registers the tracking metrics with reg. Pass
// prometheus.NewRegistry() in tests to keep registrations isolated.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Batches: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "batches_total",
			Help:      "Hypothesis batches applied to the graph",
		}),
		StaleBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "stale_batches_total",
			Help:      "Batches rejected for inconsistent or non-monotonic timestamps",
		}),
		Hypotheses: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "hypotheses_total",
			Help:      "Hypotheses ingested as graph nodes",
		}),
		Merges: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "component_merges_total",
			Help:      "Components absorbed by a bridging hypothesis",
		}),
		Splits: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "component_splits_total",
			Help:      "Components created by splitting after aging",
		}),
		Evictions: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "component_evictions_total",
			Help:      "Components evicted to stay within capacity",
		}),
		NodesRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "nodes_removed_total",
			Help:      "Graph nodes removed, by reason",
		}, []string{"reason"}),
		SinkErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sink_errors_total",
			Help:      "Track frames a sink failed to consume",
		}, []string{"sink"}),
		Components: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "components",
			Help:      "Live components after the last update",
		}),
		Nodes: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "nodes",
			Help:      "Live graph nodes after the last update",
		}),
		UpdateDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "update_duration_seconds",
			Help:      "Wall time of one graph update",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		}),
	}
}

// observe records the outcome of a successful update.
func (m *Metrics) observe(res l5tracks.UpdateResult, seconds float64) {
	if m == nil {
		return
	}
	m.Batches.Inc()
	m.Hypotheses.Add(float64(res.NodesCreated))
	m.Merges.Add(float64(res.Merges))
	m.Splits.Add(float64(res.Splits))
	m.Evictions.Add(float64(res.Evictions))
	m.NodesRemoved.WithLabelValues("aged").Add(float64(res.NodesAged))
	m.NodesRemoved.WithLabelValues("retired").Add(float64(res.NodesRetired))
	m.NodesRemoved.WithLabelValues("evicted").Add(float64(res.NodesEvicted))
	m.Components.Set(float64(res.Components))
	m.Nodes.Set(float64(res.Nodes))
	m.UpdateDuration.Observe(seconds)
}

func (m *Metrics) stale() {
	if m != nil {
		m.StaleBatches.Inc()
	}
}

func (m *Metrics) sinkError(name string) {
	if m != nil {
		m.SinkErrors.WithLabelValues(name).Inc()
	}
}
