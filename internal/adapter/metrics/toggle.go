package metrics

import "github.com/prometheus/client_golang/prometheus"

// Toggle results.
const (
	ToggleAccepted         = "accepted"
	ToggleOutOfRange       = "out_of_range"
	ToggleStoreUnavailable = "store_unavailable"
	ToggleMalformed        = "malformed"
)

// ToggleMetrics holds Prometheus metrics for the toggle pipeline.
type ToggleMetrics struct {
	TogglesProcessed   *prometheus.CounterVec
	ProcessingDuration prometheus.Histogram
	BroadcastFanout    prometheus.Histogram
	SnapshotsServed    *prometheus.CounterVec
}

// NewToggleMetrics creates and registers toggle pipeline metrics on the given registry.
func NewToggleMetrics(reg prometheus.Registerer) *ToggleMetrics {
	m := &ToggleMetrics{
		TogglesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "toggles_processed_total",
			Help:      "Total number of inbound toggle frames, by result.",
		}, []string{"result"}),
		ProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "toggle_processing_duration_seconds",
			Help:      "Duration from toggle receipt to broadcast in seconds.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		BroadcastFanout: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "broadcast_recipients",
			Help:      "Number of clients a change notification was queued for.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		SnapshotsServed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_served_total",
			Help:      "Total number of full snapshots read from the store, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.TogglesProcessed, m.ProcessingDuration, m.BroadcastFanout, m.SnapshotsServed)
	return m
}
