package caption

import (
	"fmt"
	"time"
)

// Mode tells display clients whether a caption is speech or a sound label.
type Mode string

const (
	ModeSpeech Mode = "speech"
	ModeSound  Mode = "sound"
)

// Sentinel results that never become captions.
const (
	NoSpeech           = "[NO_SPEECH]"
	TranscriptionError = "[TRANSCRIPTION_ERROR]"
	Silence            = "[SILENCE]"
)

// IsSentinel reports whether text is a suppressed placeholder result.
func IsSentinel(text string) bool {
	switch text {
	case NoSpeech, TranscriptionError, Silence:
		return true
	}
	return false
}

// Event is an immutable caption ready for broadcast.
type Event struct {
	Text       string    `json:"text"`
	Mode       Mode      `json:"mode"`
	IsFinal    bool      `json:"isFinal"`
	Direction  int       `json:"direction"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"-"`
}

// New creates a final caption event.
func New(text string, mode Mode, direction int, confidence float64, ts time.Time) *Event {
	return &Event{
		Text:       text,
		Mode:       mode,
		IsFinal:    true,
		Direction:  direction,
		Confidence: confidence,
		Timestamp:  ts,
	}
}

// String returns a short human readable form for logs.
func (e *Event) String() string {
	return fmt.Sprintf("%s dir=%d conf=%.2f %q", e.Mode, e.Direction, e.Confidence, e.Text)
}
