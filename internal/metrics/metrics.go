package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Media source metrics
	SourceRunning   *prometheus.GaugeVec
	FramesCaptured  *prometheus.CounterVec
	FramesForwarded *prometheus.CounterVec
	FramesDropped   *prometheus.CounterVec
	NoDataTicks     *prometheus.CounterVec
	KeyFrames       *prometheus.CounterVec
	FrameSize       prometheus.Histogram
	SinkErrors      *prometheus.CounterVec

	// Producer stream metrics
	ActiveStreams    prometheus.Gauge
	StreamsStarted   prometheus.Counter
	StreamsStopped   prometheus.Counter
	StreamDuration   prometheus.Histogram
	FormatChanges    *prometheus.CounterVec
	SubscriberDrops  *prometheus.CounterVec
	ProducerErrors   *prometheus.CounterVec
	FragmentMetadata *prometheus.CounterVec

	// Fragment metrics
	SegmentsCreated prometheus.Counter
	SegmentDuration prometheus.Histogram
	SegmentSize     prometheus.Histogram
	SegmentsStored  prometheus.Gauge
	FragmentAcks    *prometheus.CounterVec

	// RTMP egress metrics
	RTMPConnections prometheus.Counter
	RTMPErrors      prometheus.Counter
	RTMPBytesSent   prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New creates all metrics on a dedicated registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,

		SourceRunning: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "camproducer_source_running",
			Help: "Whether the media source capture loop is running",
		}, []string{"stream"}),
		FramesCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_frames_captured_total",
			Help: "Total number of non-empty buffers received from the device",
		}, []string{"stream"}),
		FramesForwarded: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_frames_forwarded_total",
			Help: "Total number of frames handed to the sink",
		}, []string{"stream"}),
		FramesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_frames_dropped_total",
			Help: "Total number of frames dropped before reaching the sink",
		}, []string{"stream", "reason"}),
		NoDataTicks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_no_data_total",
			Help: "Total number of capture ticks without data",
		}, []string{"stream"}),
		KeyFrames: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_keyframes_total",
			Help: "Total number of key frames forwarded",
		}, []string{"stream"}),
		FrameSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camproducer_frame_size_bytes",
			Help:    "Size of forwarded frames in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~2MB
		}),
		SinkErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_sink_errors_total",
			Help: "Total number of fatal sink errors",
		}, []string{"stream"}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camproducer_active_streams",
			Help: "Number of currently live producer streams",
		}),
		StreamsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "camproducer_streams_started_total",
			Help: "Total number of producer streams started",
		}),
		StreamsStopped: factory.NewCounter(prometheus.CounterOpts{
			Name: "camproducer_streams_stopped_total",
			Help: "Total number of producer streams stopped",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camproducer_stream_duration_seconds",
			Help:    "Duration of producer streams in seconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10s to ~2.8h
		}),
		FormatChanges: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_stream_format_changes_total",
			Help: "Total number of codec private data updates",
		}, []string{"stream"}),
		SubscriberDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_subscriber_drops_total",
			Help: "Frames not delivered to a slow stream subscriber",
		}, []string{"stream"}),
		ProducerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_producer_errors_total",
			Help: "Total number of producer stream errors",
		}, []string{"stream", "op"}),
		FragmentMetadata: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_fragment_metadata_total",
			Help: "Total number of fragment metadata entries accepted",
		}, []string{"stream"}),

		SegmentsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "camproducer_segments_created_total",
			Help: "Total number of fMP4 fragments created",
		}),
		SegmentDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camproducer_segment_duration_seconds",
			Help:    "Duration of fMP4 fragments",
			Buckets: []float64{0.5, 1, 2, 3, 4, 5, 10},
		}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "camproducer_segment_size_bytes",
			Help:    "Size of fMP4 fragments in bytes",
			Buckets: prometheus.ExponentialBuckets(10240, 2, 12), // 10KB to ~20MB
		}),
		SegmentsStored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "camproducer_segments_stored",
			Help: "Number of fragments currently stored",
		}),
		FragmentAcks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_fragment_acks_total",
			Help: "Fragment acknowledgements by type",
		}, []string{"stream", "type"}),

		RTMPConnections: factory.NewCounter(prometheus.CounterOpts{
			Name: "camproducer_rtmp_connections_total",
			Help: "Total number of outbound RTMP connections",
		}),
		RTMPErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "camproducer_rtmp_errors_total",
			Help: "Total number of RTMP publish errors",
		}),
		RTMPBytesSent: factory.NewCounter(prometheus.CounterOpts{
			Name: "camproducer_rtmp_bytes_sent_total",
			Help: "Total video payload bytes sent over RTMP",
		}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "camproducer_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "camproducer_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}

	return m
}

// Registry exposes the underlying registry (used by tests)
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordSourceState records whether a media source capture loop is running
func (m *Metrics) RecordSourceState(stream string, running bool) {
	if m == nil {
		return
	}
	v := 0.0
	if running {
		v = 1
	}
	m.SourceRunning.WithLabelValues(stream).Set(v)
}

// RecordCapture records a non-empty buffer from the device
func (m *Metrics) RecordCapture(stream string) {
	if m == nil {
		return
	}
	m.FramesCaptured.WithLabelValues(stream).Inc()
}

// RecordNoData records a capture tick without data
func (m *Metrics) RecordNoData(stream string) {
	if m == nil {
		return
	}
	m.NoDataTicks.WithLabelValues(stream).Inc()
}

// RecordFrameForwarded records a frame accepted by the sink
func (m *Metrics) RecordFrameForwarded(stream string, size int, keyFrame bool) {
	if m == nil {
		return
	}
	m.FramesForwarded.WithLabelValues(stream).Inc()
	m.FrameSize.Observe(float64(size))
	if keyFrame {
		m.KeyFrames.WithLabelValues(stream).Inc()
	}
}

// RecordFrameDropped records a dropped frame
func (m *Metrics) RecordFrameDropped(stream, reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(stream, reason).Inc()
}

// RecordSinkError records a fatal sink error
func (m *Metrics) RecordSinkError(stream string) {
	if m == nil {
		return
	}
	m.SinkErrors.WithLabelValues(stream).Inc()
}

// RecordStreamStart records a producer stream going live
func (m *Metrics) RecordStreamStart() {
	if m == nil {
		return
	}
	m.ActiveStreams.Inc()
	m.StreamsStarted.Inc()
}

// RecordStreamStop records a producer stream stopping
func (m *Metrics) RecordStreamStop(durationSeconds float64) {
	if m == nil {
		return
	}
	m.ActiveStreams.Dec()
	m.StreamsStopped.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordFormatChange records a codec private data update
func (m *Metrics) RecordFormatChange(stream string) {
	if m == nil {
		return
	}
	m.FormatChanges.WithLabelValues(stream).Inc()
}

// RecordSubscriberDrop records a frame a subscriber could not take
func (m *Metrics) RecordSubscriberDrop(stream string) {
	if m == nil {
		return
	}
	m.SubscriberDrops.WithLabelValues(stream).Inc()
}

// RecordProducerError records a rejected producer operation
func (m *Metrics) RecordProducerError(stream, op string) {
	if m == nil {
		return
	}
	m.ProducerErrors.WithLabelValues(stream, op).Inc()
}

// RecordFragmentMetadata records an accepted metadata entry
func (m *Metrics) RecordFragmentMetadata(stream string) {
	if m == nil {
		return
	}
	m.FragmentMetadata.WithLabelValues(stream).Inc()
}

// RecordSegment records a fragment written to storage
func (m *Metrics) RecordSegment(durationSeconds float64, sizeBytes int64) {
	if m == nil {
		return
	}
	m.SegmentsCreated.Inc()
	m.SegmentDuration.Observe(durationSeconds)
	m.SegmentSize.Observe(float64(sizeBytes))
	m.SegmentsStored.Inc()
}

// RecordSegmentDeleted records a fragment removed by the sliding window
func (m *Metrics) RecordSegmentDeleted() {
	if m == nil {
		return
	}
	m.SegmentsStored.Dec()
}

// RecordFragmentAck records a fragment acknowledgement
func (m *Metrics) RecordFragmentAck(stream, ackType string) {
	if m == nil {
		return
	}
	m.FragmentAcks.WithLabelValues(stream, ackType).Inc()
}

// RecordRTMPConnection records an outbound RTMP connection
func (m *Metrics) RecordRTMPConnection() {
	if m == nil {
		return
	}
	m.RTMPConnections.Inc()
}

// RecordRTMPError records an RTMP error
func (m *Metrics) RecordRTMPError() {
	if m == nil {
		return
	}
	m.RTMPErrors.Inc()
}

// RecordRTMPBytes records bytes sent via RTMP
func (m *Metrics) RecordRTMPBytes(bytes int) {
	if m == nil {
		return
	}
	m.RTMPBytesSent.Add(float64(bytes))
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path string, status int, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, path, statusCodeToString(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, path).Observe(durationSeconds)
}

// statusCodeToString converts an HTTP status code to a string
func statusCodeToString(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
