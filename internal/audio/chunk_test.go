package audio

import (
	"math"
	"testing"
	"time"
)

func TestRMS(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float32
		expected float64
	}{
		{"empty", nil, 0},
		{"silence", []float32{0, 0, 0, 0}, 0},
		{"constant", []float32{0.5, -0.5, 0.5, -0.5}, 0.5},
		{"mixed", []float32{0.3, 0.4}, math.Sqrt((0.09 + 0.16) / 2)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RMS(tt.samples)
			if math.Abs(got-tt.expected) > 1e-6 {
				t.Errorf("Expected %f, got %f", tt.expected, got)
			}
		})
	}
}

func TestPCMConversion(t *testing.T) {
	floats := PCM16ToFloat([]int16{0, 16384, -32768})
	if floats[0] != 0 || floats[1] != 0.5 || floats[2] != -1 {
		t.Errorf("Unexpected float conversion: %v", floats)
	}

	pcm := FloatToPCM16([]float32{0, 1, -1, 2, -2})
	expected := []int16{0, 32767, -32767, 32767, -32768}
	for i := range expected {
		if pcm[i] != expected[i] {
			t.Errorf("Sample %d: expected %d, got %d", i, expected[i], pcm[i])
		}
	}
}

func TestSegmentAppend(t *testing.T) {
	start := time.Unix(100, 0)
	var seg Segment

	seg.Append(Chunk{Samples: make([]float32, 8000), SampleRate: 16000, Timestamp: start})
	seg.Append(Chunk{Samples: make([]float32, 8000), SampleRate: 16000, Timestamp: start.Add(500 * time.Millisecond)})

	if seg.Chunks != 2 {
		t.Errorf("Expected 2 chunks, got %d", seg.Chunks)
	}
	if len(seg.Samples) != 16000 {
		t.Errorf("Expected 16000 samples, got %d", len(seg.Samples))
	}
	if seg.Duration() != time.Second {
		t.Errorf("Expected duration 1s, got %v", seg.Duration())
	}
	if !seg.Start.Equal(start) || !seg.End.Equal(start.Add(time.Second)) {
		t.Errorf("Unexpected bounds %v - %v", seg.Start, seg.End)
	}
}
