package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TransfersTotal tracks finished transfers by terminal status
	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deemusic_transfers_total",
			Help: "Total number of finished transfers",
		},
		[]string{"status"},
	)

	// TransferDuration tracks transfer duration in seconds
	TransferDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deemusic_transfer_duration_seconds",
			Help:    "Transfer duration in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17min
		},
	)

	// TransferBytesTotal tracks total bytes transferred
	TransferBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deemusic_transfer_bytes_total",
			Help: "Total bytes transferred",
		},
	)

	// QueueSize tracks the number of records in the transfer queue
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deemusic_queue_size",
			Help: "Current transfer queue size",
		},
	)

	// ActiveTransfers tracks transfers currently holding a worker slot
	ActiveTransfers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "deemusic_active_transfers",
			Help: "Number of transfers holding a worker slot",
		},
	)

	// PlaybackEventsTotal tracks playback notifications by event
	PlaybackEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deemusic_playback_events_total",
			Help: "Total number of playback notifications",
		},
		[]string{"event"},
	)

	// ResolverRequestsTotal tracks content resolver requests by status
	ResolverRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deemusic_resolver_requests_total",
			Help: "Total number of content resolver requests",
		},
		[]string{"status"},
	)

	// ResolverRequestDuration tracks resolver request duration
	ResolverRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "deemusic_resolver_request_duration_seconds",
			Help:    "Content resolver request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// EventsDropped tracks events dropped for slow subscribers
	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "deemusic_events_dropped_total",
			Help: "Events dropped because a subscriber buffer was full",
		},
	)

	// ErrorsTotal tracks errors by type
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "deemusic_errors_total",
			Help: "Total number of errors",
		},
		[]string{"type"},
	)
)

// RecordTransferStart records a transfer taking a worker slot
func RecordTransferStart() {
	ActiveTransfers.Inc()
}

// RecordTransferFinished records a transfer leaving its worker slot
func RecordTransferFinished(status string, duration time.Duration, bytes int64) {
	TransfersTotal.WithLabelValues(status).Inc()
	TransferDuration.Observe(duration.Seconds())
	if bytes > 0 {
		TransferBytesTotal.Add(float64(bytes))
	}
	ActiveTransfers.Dec()
}

// UpdateQueueSize updates the queue size metric
func UpdateQueueSize(size int) {
	QueueSize.Set(float64(size))
}

// RecordPlaybackEvent records a playback notification
func RecordPlaybackEvent(event string) {
	PlaybackEventsTotal.WithLabelValues(event).Inc()
}

// RecordResolverRequest records a content resolver request
func RecordResolverRequest(status string, duration time.Duration) {
	ResolverRequestsTotal.WithLabelValues(status).Inc()
	ResolverRequestDuration.Observe(duration.Seconds())
}

// RecordEventDropped records an event a subscriber could not take
func RecordEventDropped() {
	EventsDropped.Inc()
}

// RecordError records an error
func RecordError(errorType string) {
	ErrorsTotal.WithLabelValues(errorType).Inc()
}

// Handler returns the HTTP handler serving the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
