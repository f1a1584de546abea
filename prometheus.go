package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metric collectors for the acquisition
// pipeline and the WebSocket fan-out.
type Metrics struct {
	// Pipeline metrics
	StreamState       prometheus.Gauge     // 1 while the acquisition loop is running
	SamplesProcessed  prometheus.Counter   // Total samples pulled through the loop
	WindowsDropped    prometheus.Counter   // Windows skipped due to adapter errors
	LoopDuration      prometheus.Histogram // Loop iteration duration (poll + filter + publish)
	CalibrationsTotal prometheus.Counter   // Completed calibration runs

	// Fan-out metrics
	ActiveSubscribers prometheus.Gauge   // Currently connected WebSocket subscribers
	ConnectionsTotal  prometheus.Counter // Total WebSocket connections established
	MessagesSent      prometheus.Counter // Total messages written to subscribers
	PublishDrops      prometheus.Counter // Messages dropped because a subscriber buffer was full

	// Control surface metrics
	ExportsTotal prometheus.Counter // CSV exports served
}

// NewMetrics creates and registers all metric collectors
func NewMetrics() *Metrics {
	return &Metrics{
		StreamState: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eeg_stream_state",
			Help: "1 while the acquisition loop is running, 0 when idle",
		}),
		SamplesProcessed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eeg_samples_processed_total",
			Help: "Total samples pulled through the acquisition loop",
		}),
		WindowsDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eeg_windows_dropped_total",
			Help: "Sample windows skipped due to adapter errors",
		}),
		LoopDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "eeg_loop_iteration_seconds",
			Help:    "Acquisition loop iteration duration",
			Buckets: prometheus.DefBuckets,
		}),
		CalibrationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eeg_calibrations_total",
			Help: "Completed calibration runs",
		}),
		ActiveSubscribers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "eeg_ws_subscribers",
			Help: "Currently connected WebSocket subscribers",
		}),
		ConnectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eeg_ws_connections_total",
			Help: "Total WebSocket connections established",
		}),
		MessagesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eeg_ws_messages_sent_total",
			Help: "Total messages written to WebSocket subscribers",
		}),
		PublishDrops: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eeg_ws_publish_drops_total",
			Help: "Messages dropped because a subscriber buffer was full",
		}),
		ExportsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "eeg_exports_total",
			Help: "CSV exports served",
		}),
	}
}
