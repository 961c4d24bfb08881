// Package metrics provides Prometheus metrics for the segmentation console.
// It tracks remote calls, their failures and latency, validation rejects,
// persistence failures and the current size of each history.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the console.
type Metrics struct {
	RemoteCalls       *prometheus.CounterVec   // Remote calls by op
	RemoteFailures    *prometheus.CounterVec   // Remote call failures by op and kind
	RemoteLatency     *prometheus.HistogramVec // Remote round trip latency by op
	ValidationRejects *prometheus.CounterVec   // Inputs rejected before any call, by op
	PersistenceErrors *prometheus.CounterVec   // Failed slot writes by history kind
	HistoryEntries    *prometheus.GaugeVec     // Retained entries by history kind
	SilhouetteScore   prometheus.Gauge         // Last extracted silhouette score
	ClusterAssigned   *prometheus.CounterVec   // Predictions by assigned cluster
}

// New creates and registers all metrics with the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		RemoteCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "segmentation_remote_calls_total",
			Help: "Total number of calls issued to the clustering service",
		}, []string{"op"}),
		RemoteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "segmentation_remote_failures_total",
			Help: "Total number of failed calls to the clustering service",
		}, []string{"op", "kind"}),
		RemoteLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "segmentation_remote_latency_seconds",
			Help:    "Clustering service round trip latency in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"op"}),
		ValidationRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "segmentation_validation_rejects_total",
			Help: "Total number of inputs rejected before a remote call",
		}, []string{"op"}),
		PersistenceErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "segmentation_persistence_errors_total",
			Help: "Total number of failed history writes",
		}, []string{"history"}),
		HistoryEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "segmentation_history_entries",
			Help: "Number of entries currently retained per history",
		}, []string{"history"}),
		SilhouetteScore: factory.NewGauge(prometheus.GaugeOpts{
			Name: "segmentation_silhouette_score",
			Help: "Silhouette score reported by the last successful retrain",
		}),
		ClusterAssigned: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "segmentation_cluster_assignments_total",
			Help: "Total number of predictions per assigned cluster",
		}, []string{"cluster"}),
	}
}

// RemoteCall counts one call to op and observes its latency.
func (m *Metrics) RemoteCall(op string, seconds float64) {
	m.RemoteCalls.WithLabelValues(op).Inc()
	m.RemoteLatency.WithLabelValues(op).Observe(seconds)
}

// RemoteFailure counts a failed call; kind is "remote" or "transport".
func (m *Metrics) RemoteFailure(op, kind string) {
	m.RemoteFailures.WithLabelValues(op, kind).Inc()
}

// ValidationReject counts an input rejected before any call.
func (m *Metrics) ValidationReject(op string) {
	m.ValidationRejects.WithLabelValues(op).Inc()
}

// PersistenceError counts a failed history write.
func (m *Metrics) PersistenceError(history string) {
	m.PersistenceErrors.WithLabelValues(history).Inc()
}

// HistorySize records how many entries a history retains.
func (m *Metrics) HistorySize(history string, n int) {
	m.HistoryEntries.WithLabelValues(history).Set(float64(n))
}

// Silhouette records the score of the last successful retrain.
func (m *Metrics) Silhouette(score float64) {
	m.SilhouetteScore.Set(score)
}

// Cluster counts a prediction assigned to cluster.
func (m *Metrics) Cluster(cluster int) {
	m.ClusterAssigned.WithLabelValues(strconv.Itoa(cluster)).Inc()
}
