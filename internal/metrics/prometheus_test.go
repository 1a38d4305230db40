package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorders(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RecordChunk(0.25)
	m.RecordChunk(0.5)
	m.RecordChunkDropped()
	m.RecordSegment(2.0, true)
	m.RecordCaptionEmitted("speech")
	m.RecordCaptionSuppressed("gate")
	m.RecordCaptionSuppressed("gate")
	m.RecordFrameSent("tcp")

	if got := testutil.ToFloat64(m.ChunksReceived); got != 2 {
		t.Errorf("Expected 2 chunks received, got %v", got)
	}
	if got := testutil.ToFloat64(m.AudioEnergy); got != 0.5 {
		t.Errorf("Expected energy gauge 0.5, got %v", got)
	}
	if got := testutil.ToFloat64(m.SegmentsForced); got != 1 {
		t.Errorf("Expected 1 forced segment, got %v", got)
	}
	if got := testutil.ToFloat64(m.CaptionsSuppressed.WithLabelValues("gate")); got != 2 {
		t.Errorf("Expected 2 gate suppressions, got %v", got)
	}
	if got := testutil.ToFloat64(m.FramesSent.WithLabelValues("tcp")); got != 1 {
		t.Errorf("Expected 1 frame sent, got %v", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordChunk(1)
	m.RecordChunkDropped()
	m.RecordSegment(1, false)
	m.RecordTranscription("text", 1)
	m.RecordClassification("[LOUD_NOISE]")
	m.RecordCaptionEmitted("sound")
	m.SetConnections("tcp", 3)
	m.RecordHTTPRequest("GET", "/health", "200", 0.01)
}
