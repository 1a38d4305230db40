package audio

import (
	"math"
	"time"
)

// Chunk is a fixed-length block of mono samples normalized to [-1, 1].
type Chunk struct {
	Samples    []float32
	SampleRate int
	Timestamp  time.Time // capture time of the first sample
}

// Energy returns the RMS energy of the chunk.
func (c Chunk) Energy() float64 {
	return RMS(c.Samples)
}

// Duration returns the audio length of the chunk.
func (c Chunk) Duration() time.Duration {
	return samplesDuration(len(c.Samples), c.SampleRate)
}

// Segment is the concatenation of the chunks collected during one utterance.
type Segment struct {
	Samples    []float32
	SampleRate int
	Start      time.Time
	End        time.Time
	Chunks     int
	Forced     bool // closed by the max speech limit rather than by silence
}

// Duration returns the audio length of the segment.
func (s *Segment) Duration() time.Duration {
	return samplesDuration(len(s.Samples), s.SampleRate)
}

// Append adds a chunk to the segment.
func (s *Segment) Append(c Chunk) {
	if s.Chunks == 0 {
		s.Start = c.Timestamp
		s.SampleRate = c.SampleRate
	}
	s.Samples = append(s.Samples, c.Samples...)
	s.End = c.Timestamp.Add(c.Duration())
	s.Chunks++
}

// RMS returns the root-mean-square of samples, or 0 for an empty slice.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// PCM16ToFloat converts signed 16-bit samples to normalized floats.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768.0
	}
	return out
}

// FloatToPCM16 converts normalized floats to signed 16-bit samples, clipping
// values outside [-1, 1].
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32767.0
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		out[i] = int16(math.Round(v))
	}
	return out
}

func samplesDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
