// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "interview_media_relay"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Ingest metrics
	ChunksIngested     prometheus.Counter
	ChunkBytesIngested prometheus.Counter
	ActiveBuffers      prometheus.Gauge

	// Utterance metrics
	UtterancesFlushed *prometheus.CounterVec
	UtteranceDuration prometheus.Histogram
	UtteranceBytes    prometheus.Histogram

	// Talk-time metrics
	AlertsFired     prometheus.Counter
	TrackedSpeakers prometheus.Gauge

	// Directory metrics
	ResolutionFailures prometheus.Counter

	// Transport metrics
	TransportSends        *prometheus.CounterVec
	TransportSendErrors   *prometheus.CounterVec
	TransportSendsDropped *prometheus.CounterVec
	TransportConnects     prometheus.Counter
	TransportDisconnects  prometheus.Counter
	VideoFramesRelayed    prometheus.Counter

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_ingested_total",
			Help:      "Total number of raw audio chunks ingested",
		}),
		ChunkBytesIngested: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunk_bytes_ingested_total",
			Help:      "Total audio bytes ingested",
		}),
		ActiveBuffers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_buffers",
			Help:      "Number of speakers with an open (unflushed) buffer",
		}),

		UtterancesFlushed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "utterances_flushed_total",
			Help:      "Total number of utterances flushed",
		}, []string{"reason"}),
		UtteranceDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_duration_seconds",
			Help:      "Duration of flushed utterances in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		UtteranceBytes: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "utterance_bytes",
			Help:      "Size of flushed utterances in bytes",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8),
		}),

		AlertsFired: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "talk_alerts_fired_total",
			Help:      "Total number of panelist speaking alerts fired",
		}),
		TrackedSpeakers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "tracked_speakers",
			Help:      "Number of participants with talk-time state",
		}),

		ResolutionFailures: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolution_failures_total",
			Help:      "Total number of failed or empty identity resolutions",
		}),

		TransportSends: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_sends_total",
			Help:      "Total number of messages written to the collector",
		}, []string{"type"}),
		TransportSendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_send_errors_total",
			Help:      "Total number of failed collector writes",
		}, []string{"type"}),
		TransportSendsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_sends_dropped_total",
			Help:      "Total number of sends skipped because the session was disconnected",
		}, []string{"type"}),
		TransportConnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_connects_total",
			Help:      "Total number of successful collector connects",
		}),
		TransportDisconnects: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_disconnects_total",
			Help:      "Total number of collector disconnects",
		}),
		VideoFramesRelayed: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "video_frames_relayed_total",
			Help:      "Total number of video frames relayed to the collector",
		}),

		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "eventType"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of failed Kafka publishes",
		}, []string{"topic", "eventType"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Latency of Kafka publish operations",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"topic"}),
	}
}

// RecordChunk records a raw audio chunk arrival.
func (m *Metrics) RecordChunk(bytes int) {
	m.ChunksIngested.Inc()
	m.ChunkBytesIngested.Add(float64(bytes))
}

// RecordFlush records an utterance flush with its trigger reason.
func (m *Metrics) RecordFlush(reason string, durationMs int64, bytes int) {
	m.UtterancesFlushed.WithLabelValues(reason).Inc()
	m.UtteranceDuration.Observe(float64(durationMs) / 1000)
	m.UtteranceBytes.Observe(float64(bytes))
}

// RecordSend records a collector write attempt for a message type.
func (m *Metrics) RecordSend(msgType string, err error) {
	m.TransportSends.WithLabelValues(msgType).Inc()
	if err != nil {
		m.TransportSendErrors.WithLabelValues(msgType).Inc()
	}
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
