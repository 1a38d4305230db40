package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/Jxke/soundsight/internal/audio"
)

// State is the segmenter state.
type State int

const (
	// Idle means no speech segment is open.
	Idle State = iota
	// Active means a segment is open and collecting chunks.
	Active
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Config holds segmenter thresholds.
type Config struct {
	StartThreshold float64       // RMS energy that opens a segment
	StopThreshold  float64       // RMS energy below which a chunk counts toward hangover
	HangoverBlocks int           // consecutive quiet chunks that close a segment
	MaxSpeech      time.Duration // force-close limit; zero disables it
}

// Segmenter is a two-state energy VAD. Process must be called from a single
// goroutine; Stats may be called concurrently.
type Segmenter struct {
	config Config

	state    State
	segment  *audio.Segment
	start    time.Time
	hangover int

	// Statistics
	chunksProcessed uint64
	segmentsEmitted uint64
	forcedCloses    uint64
	resets          uint64
	lastEnergy      float64

	mu sync.RWMutex
}

// Stats represents segmenter statistics.
type Stats struct {
	State           string  `json:"state"`
	ChunksProcessed uint64  `json:"chunks_processed"`
	SegmentsEmitted uint64  `json:"segments_emitted"`
	ForcedCloses    uint64  `json:"forced_closes"`
	Resets          uint64  `json:"resets"`
	LastEnergy      float64 `json:"last_energy"`
}

// NewSegmenter creates a segmenter after validating its thresholds.
func NewSegmenter(config Config) (*Segmenter, error) {
	if config.StopThreshold <= 0 {
		return nil, fmt.Errorf("stop threshold must be positive, got %f", config.StopThreshold)
	}

	if config.StartThreshold < config.StopThreshold {
		return nil, fmt.Errorf("start threshold (%f) must not be below stop threshold (%f)",
			config.StartThreshold, config.StopThreshold)
	}

	if config.HangoverBlocks < 1 {
		return nil, fmt.Errorf("hangover blocks must be at least 1, got %d", config.HangoverBlocks)
	}

	if config.MaxSpeech < 0 {
		return nil, fmt.Errorf("max speech cannot be negative, got %v", config.MaxSpeech)
	}

	return &Segmenter{config: config}, nil
}

// Process feeds one chunk through the state machine. It returns whether speech
// is active after this chunk and, when this chunk closed a segment, the
// finalized segment. Ownership of the segment passes to the caller.
func (s *Segmenter) Process(chunk audio.Chunk) (bool, *audio.Segment) {
	energy := chunk.Energy()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.chunksProcessed++
	s.lastEnergy = energy

	if s.state == Idle {
		if energy < s.config.StartThreshold {
			return false, nil
		}
		s.state = Active
		s.segment = &audio.Segment{}
		s.segment.Append(chunk)
		s.start = chunk.Timestamp
		s.hangover = 0
		return true, nil
	}

	s.segment.Append(chunk)

	if s.config.MaxSpeech > 0 && chunk.Timestamp.Sub(s.start) >= s.config.MaxSpeech {
		s.forcedCloses++
		return false, s.close(true)
	}

	if energy < s.config.StopThreshold {
		s.hangover++
		if s.hangover >= s.config.HangoverBlocks {
			return false, s.close(false)
		}
		return true, nil
	}

	s.hangover = 0
	return true, nil
}

// close must be called with the lock held.
func (s *Segmenter) close(forced bool) *audio.Segment {
	seg := s.segment
	seg.Forced = forced

	s.segment = nil
	s.state = Idle
	s.hangover = 0
	s.start = time.Time{}
	s.segmentsEmitted++

	return seg
}

// Reset discards any open segment and returns to Idle.
func (s *Segmenter) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.segment = nil
	s.state = Idle
	s.hangover = 0
	s.start = time.Time{}
	s.resets++
}

// State returns the current state.
func (s *Segmenter) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats returns segmenter statistics.
func (s *Segmenter) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		State:           s.state.String(),
		ChunksProcessed: s.chunksProcessed,
		SegmentsEmitted: s.segmentsEmitted,
		ForcedCloses:    s.forcedCloses,
		Resets:          s.resets,
		LastEnergy:      s.lastEnergy,
	}
}
