package vad

import (
	"testing"
	"time"

	"github.com/Jxke/soundsight/internal/audio"
)

const chunkLen = 160 // 10ms at 16kHz

var epoch = time.Unix(1700000000, 0)

// chunkAt builds a chunk with constant amplitude, whose RMS equals energy.
func chunkAt(energy float64, index int) audio.Chunk {
	samples := make([]float32, chunkLen)
	for i := range samples {
		samples[i] = float32(energy)
	}
	return audio.Chunk{
		Samples:    samples,
		SampleRate: 16000,
		Timestamp:  epoch.Add(time.Duration(index) * 500 * time.Millisecond),
	}
}

func newTestSegmenter(t *testing.T, hangover int, maxSpeech time.Duration) *Segmenter {
	t.Helper()
	s, err := NewSegmenter(Config{
		StartThreshold: 0.02,
		StopThreshold:  0.01,
		HangoverBlocks: hangover,
		MaxSpeech:      maxSpeech,
	})
	if err != nil {
		t.Fatalf("NewSegmenter failed: %v", err)
	}
	return s
}

func TestNewSegmenterValidation(t *testing.T) {
	tests := []struct {
		name      string
		config    Config
		expectErr bool
	}{
		{"valid", Config{StartThreshold: 0.02, StopThreshold: 0.01, HangoverBlocks: 3}, false},
		{"equal thresholds", Config{StartThreshold: 0.01, StopThreshold: 0.01, HangoverBlocks: 1}, false},
		{"zero stop", Config{StartThreshold: 0.02, StopThreshold: 0, HangoverBlocks: 3}, true},
		{"start below stop", Config{StartThreshold: 0.005, StopThreshold: 0.01, HangoverBlocks: 3}, true},
		{"zero hangover", Config{StartThreshold: 0.02, StopThreshold: 0.01, HangoverBlocks: 0}, true},
		{"negative max speech", Config{StartThreshold: 0.02, StopThreshold: 0.01, HangoverBlocks: 1, MaxSpeech: -time.Second}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSegmenter(tt.config)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestQuietStreamNeverActivates(t *testing.T) {
	s := newTestSegmenter(t, 2, 0)

	for i, e := range []float64{0, 0.005, 0.0199, 0.015, 0.001, 0.019} {
		active, seg := s.Process(chunkAt(e, i))
		if active {
			t.Fatalf("Chunk %d: expected inactive", i)
		}
		if seg != nil {
			t.Fatalf("Chunk %d: expected no segment", i)
		}
	}

	if s.State() != Idle {
		t.Errorf("Expected idle, got %s", s.State())
	}
	if s.Stats().SegmentsEmitted != 0 {
		t.Errorf("Expected no segments, got %d", s.Stats().SegmentsEmitted)
	}
}

func TestSegmentScenario(t *testing.T) {
	s := newTestSegmenter(t, 2, 0)
	energies := []float64{0.005, 0.03, 0.03, 0.005, 0.005, 0.005}

	expectedActive := []bool{false, true, true, true, false, false}
	var segments []*audio.Segment
	closedAt := -1

	for i, e := range energies {
		active, seg := s.Process(chunkAt(e, i))
		if active != expectedActive[i] {
			t.Errorf("Chunk %d: expected active=%v, got %v", i+1, expectedActive[i], active)
		}
		if seg != nil {
			segments = append(segments, seg)
			closedAt = i
		}
	}

	if len(segments) != 1 {
		t.Fatalf("Expected exactly 1 segment, got %d", len(segments))
	}
	if closedAt != 4 {
		t.Errorf("Expected segment to close at chunk 5, closed at chunk %d", closedAt+1)
	}

	seg := segments[0]
	if seg.Chunks != 4 {
		t.Errorf("Expected chunks 2..5 (4 chunks), got %d", seg.Chunks)
	}
	if len(seg.Samples) != 4*chunkLen {
		t.Errorf("Expected %d samples, got %d", 4*chunkLen, len(seg.Samples))
	}
	if !seg.Start.Equal(chunkAt(0, 1).Timestamp) {
		t.Errorf("Expected segment to start at chunk 2, got %v", seg.Start)
	}
	if seg.Forced {
		t.Error("Expected segment not to be forced")
	}
	if seg.Samples[0] != float32(0.03) || seg.Samples[len(seg.Samples)-1] != float32(0.005) {
		t.Error("Segment samples do not match the collected chunks")
	}
}

func TestHangoverResetsOnLoudChunk(t *testing.T) {
	s := newTestSegmenter(t, 2, 0)

	// start, quiet, loud (resets), quiet, quiet (closes)
	energies := []float64{0.05, 0.005, 0.012, 0.005, 0.005}
	var closed int
	for i, e := range energies {
		_, seg := s.Process(chunkAt(e, i))
		if seg != nil {
			closed = i
			if seg.Chunks != 5 {
				t.Errorf("Expected 5 chunks, got %d", seg.Chunks)
			}
		}
	}
	if closed != 4 {
		t.Errorf("Expected close at index 4, got %d", closed)
	}
}

func TestMaxSpeechForcesCloseOnce(t *testing.T) {
	s := newTestSegmenter(t, 2, 2*time.Second)

	var segments []*audio.Segment
	var closedAt []int
	// Continuous loud audio; chunks are 500ms apart.
	for i := 0; i < 6; i++ {
		_, seg := s.Process(chunkAt(0.1, i))
		if seg != nil {
			segments = append(segments, seg)
			closedAt = append(closedAt, i)
		}
	}

	if len(segments) != 1 {
		t.Fatalf("Expected exactly 1 forced segment, got %d", len(segments))
	}
	// Start at t=0, elapsed reaches 2s at index 4.
	if closedAt[0] != 4 {
		t.Errorf("Expected force-close at index 4, got %d", closedAt[0])
	}
	if !segments[0].Forced {
		t.Error("Expected segment to be marked forced")
	}
	if segments[0].Chunks != 5 {
		t.Errorf("Expected 5 chunks, got %d", segments[0].Chunks)
	}

	// Index 5 is loud, so a new segment opened right after the forced close.
	if s.State() != Active {
		t.Errorf("Expected new segment to be active, got %s", s.State())
	}

	stats := s.Stats()
	if stats.ForcedCloses != 1 {
		t.Errorf("Expected 1 forced close, got %d", stats.ForcedCloses)
	}
}

func TestResetDiscardsSegment(t *testing.T) {
	s := newTestSegmenter(t, 1, 0)

	s.Process(chunkAt(0.1, 0))
	s.Process(chunkAt(0.1, 1))
	s.Reset()

	if s.State() != Idle {
		t.Errorf("Expected idle after reset, got %s", s.State())
	}

	// A quiet chunk after reset must not close anything.
	if _, seg := s.Process(chunkAt(0.001, 2)); seg != nil {
		t.Error("Expected no segment after reset")
	}

	stats := s.Stats()
	if stats.Resets != 1 || stats.SegmentsEmitted != 0 || stats.ChunksProcessed != 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestStateString(t *testing.T) {
	if Idle.String() != "idle" || Active.String() != "active" {
		t.Errorf("Unexpected state strings: %s, %s", Idle, Active)
	}
	if State(7).String() != "unknown(7)" {
		t.Errorf("Expected unknown(7), got %s", State(7))
	}
}
