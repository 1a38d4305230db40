package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "soundsight"

// Metrics contains all Prometheus metrics for the captioning service.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Audio metrics
	ChunksReceived prometheus.Counter
	ChunksDropped  prometheus.Counter
	AudioEnergy    prometheus.Gauge

	// Segmenter metrics
	SegmentsEmitted prometheus.Counter
	SegmentsForced  prometheus.Counter
	SegmentDuration prometheus.Histogram

	// Direction sensor metrics
	DirectionSamples prometheus.Counter
	SensorErrors     prometheus.Counter

	// Transcription and classification metrics
	TranscriptionRequests *prometheus.CounterVec
	TranscriptionDuration prometheus.Histogram
	TranscriptionRetries  prometheus.Counter
	Classifications       *prometheus.CounterVec
	TasksDropped          *prometheus.CounterVec

	// Caption metrics
	CaptionsEmitted    *prometheus.CounterVec
	CaptionsSuppressed *prometheus.CounterVec

	// Transport metrics
	ActiveConnections *prometheus.GaugeVec
	FramesSent        *prometheus.CounterVec
	SendFailures      *prometheus.CounterVec
	FramesRelayed     prometheus.Counter
	Reconnects        prometheus.Counter

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with the default registry.
func NewMetrics() *Metrics {
	return New(prometheus.DefaultRegisterer)
}

// New creates all metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		ChunksReceived: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_received_total",
			Help:      "Total number of audio chunks delivered by the capture source",
		}),
		ChunksDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_chunks_dropped_total",
			Help:      "Total number of audio chunks dropped because the loop queue was full",
		}),
		AudioEnergy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "audio_energy_rms",
			Help:      "RMS energy of the most recent audio chunk",
		}),

		SegmentsEmitted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_segments_total",
			Help:      "Total number of finalized speech segments",
		}),
		SegmentsForced: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vad_segments_forced_total",
			Help:      "Total number of speech segments closed by the max speech limit",
		}),
		SegmentDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vad_segment_duration_seconds",
			Help:      "Duration of finalized speech segments",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 7), // 0.5s to 32s
		}),

		DirectionSamples: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_direction_samples_total",
			Help:      "Total number of direction samples received",
		}),
		SensorErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_errors_total",
			Help:      "Total number of malformed or failed sensor reads",
		}),

		TranscriptionRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_requests_total",
			Help:      "Total number of transcription requests by result",
		}, []string{"result"}),
		TranscriptionDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_duration_seconds",
			Help:      "Duration of transcription requests",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		}),
		TranscriptionRetries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcription_retries_total",
			Help:      "Total number of transcription request retries",
		}),
		Classifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "classifications_total",
			Help:      "Total number of sound classifications by label",
		}, []string{"label"}),
		TasksDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dropped_total",
			Help:      "Total number of transcription or classification tasks dropped by a full worker queue",
		}, []string{"kind"}),

		CaptionsEmitted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captions_emitted_total",
			Help:      "Total number of captions handed to the transport",
		}, []string{"mode"}),
		CaptionsSuppressed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captions_suppressed_total",
			Help:      "Total number of captions suppressed before broadcast",
		}, []string{"reason"}),

		ActiveConnections: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "transport_connections",
			Help:      "Current number of open transport connections",
		}, []string{"transport"}),
		FramesSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_frames_sent_total",
			Help:      "Total number of frames written to peers",
		}, []string{"transport"}),
		SendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_send_failures_total",
			Help:      "Total number of failed or dropped sends",
		}, []string{"transport"}),
		FramesRelayed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_frames_relayed_total",
			Help:      "Total number of inbound frames relayed between peers",
		}),
		Reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_reconnects_total",
			Help:      "Total number of client reconnect attempts",
		}),

		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_errors_total",
			Help:      "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordChunk records one captured chunk and its energy
func (m *Metrics) RecordChunk(energy float64) {
	if m == nil {
		return
	}
	m.ChunksReceived.Inc()
	m.AudioEnergy.Set(energy)
}

// RecordChunkDropped increments the dropped chunk counter
func (m *Metrics) RecordChunkDropped() {
	if m == nil {
		return
	}
	m.ChunksDropped.Inc()
}

// RecordSegment records a finalized speech segment
func (m *Metrics) RecordSegment(durationSeconds float64, forced bool) {
	if m == nil {
		return
	}
	m.SegmentsEmitted.Inc()
	if forced {
		m.SegmentsForced.Inc()
	}
	m.SegmentDuration.Observe(durationSeconds)
}

// RecordDirectionSample increments the direction sample counter
func (m *Metrics) RecordDirectionSample() {
	if m == nil {
		return
	}
	m.DirectionSamples.Inc()
}

// RecordSensorError increments the sensor error counter
func (m *Metrics) RecordSensorError() {
	if m == nil {
		return
	}
	m.SensorErrors.Inc()
}

// RecordTranscription records a finished transcription with its result class
// (text, no_speech, error)
func (m *Metrics) RecordTranscription(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.TranscriptionRequests.WithLabelValues(result).Inc()
	m.TranscriptionDuration.Observe(durationSeconds)
}

// RecordTranscriptionRetry increments the retry counter
func (m *Metrics) RecordTranscriptionRetry() {
	if m == nil {
		return
	}
	m.TranscriptionRetries.Inc()
}

// RecordClassification records a classifier label
func (m *Metrics) RecordClassification(label string) {
	if m == nil {
		return
	}
	m.Classifications.WithLabelValues(label).Inc()
}

// RecordTaskDropped records a task rejected by a full worker queue
func (m *Metrics) RecordTaskDropped(kind string) {
	if m == nil {
		return
	}
	m.TasksDropped.WithLabelValues(kind).Inc()
}

// RecordCaptionEmitted records a caption handed to the transport
func (m *Metrics) RecordCaptionEmitted(mode string) {
	if m == nil {
		return
	}
	m.CaptionsEmitted.WithLabelValues(mode).Inc()
}

// RecordCaptionSuppressed records a caption dropped before broadcast
func (m *Metrics) RecordCaptionSuppressed(reason string) {
	if m == nil {
		return
	}
	m.CaptionsSuppressed.WithLabelValues(reason).Inc()
}

// SetConnections sets the open connection count for a transport
func (m *Metrics) SetConnections(transport string, count int) {
	if m == nil {
		return
	}
	m.ActiveConnections.WithLabelValues(transport).Set(float64(count))
}

// RecordFrameSent increments the sent frame counter for a transport
func (m *Metrics) RecordFrameSent(transport string) {
	if m == nil {
		return
	}
	m.FramesSent.WithLabelValues(transport).Inc()
}

// RecordSendFailure increments the send failure counter for a transport
func (m *Metrics) RecordSendFailure(transport string) {
	if m == nil {
		return
	}
	m.SendFailures.WithLabelValues(transport).Inc()
}

// RecordFrameRelayed increments the relayed frame counter
func (m *Metrics) RecordFrameRelayed() {
	if m == nil {
		return
	}
	m.FramesRelayed.Inc()
}

// RecordReconnect increments the client reconnect counter
func (m *Metrics) RecordReconnect() {
	if m == nil {
		return
	}
	m.Reconnects.Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
