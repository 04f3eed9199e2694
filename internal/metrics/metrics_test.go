package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordSourceMetrics(t *testing.T) {
	m := New()

	m.RecordSourceState("cam", true)
	m.RecordCapture("cam")
	m.RecordCapture("cam")
	m.RecordNoData("cam")
	m.RecordFrameForwarded("cam", 4096, true)
	m.RecordFrameForwarded("cam", 2048, false)
	m.RecordFrameDropped("cam", "empty")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SourceRunning.WithLabelValues("cam")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesCaptured.WithLabelValues("cam")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.NoDataTicks.WithLabelValues("cam")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.FramesForwarded.WithLabelValues("cam")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.KeyFrames.WithLabelValues("cam")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FramesDropped.WithLabelValues("cam", "empty")))

	m.RecordSourceState("cam", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(m.SourceRunning.WithLabelValues("cam")))
}

func TestRecordStreamAndSegmentMetrics(t *testing.T) {
	m := New()

	m.RecordStreamStart()
	m.RecordStreamStart()
	m.RecordStreamStop(30)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ActiveStreams))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamsStopped))

	m.RecordSegment(2, 50_000)
	m.RecordSegment(2, 60_000)
	m.RecordSegmentDeleted()
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SegmentsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SegmentsStored))

	m.RecordFragmentAck("cam", "persisted")
	m.RecordProducerError("cam", "put_frame")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FragmentAcks.WithLabelValues("cam", "persisted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProducerErrors.WithLabelValues("cam", "put_frame")))
}

func TestHTTPStatusBuckets(t *testing.T) {
	m := New()
	m.RecordHTTPRequest("GET", "/api/ping", 200, 0.01)
	m.RecordHTTPRequest("GET", "/api/ping", 404, 0.01)
	m.RecordHTTPRequest("GET", "/api/ping", 503, 0.01)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/ping", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/ping", "4xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/api/ping", "5xx")))
	assert.Equal(t, "unknown", statusCodeToString(100))
}

func TestNilMetricsAreIgnored(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordSourceState("cam", true)
		m.RecordCapture("cam")
		m.RecordFrameForwarded("cam", 1, true)
		m.RecordStreamStart()
		m.RecordSegment(1, 1)
		m.RecordRTMPBytes(10)
		m.RecordHTTPRequest("GET", "/", 200, 0)
	})
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.RecordStreamStart()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StreamsStarted))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	m.RecordRTMPConnection()
	m.RecordRTMPBytes(1500)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, "camproducer_rtmp_connections_total 1")
	assert.Contains(t, body, "camproducer_rtmp_bytes_sent_total 1500")
	assert.Contains(t, body, "go_goroutines")
}
