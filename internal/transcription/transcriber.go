package transcription

import (
	"context"
	"fmt"

	"github.com/Jxke/soundsight/internal/audio"
)

// Transcriber converts a speech segment into text. An empty string means no
// speech was recognized.
type Transcriber interface {
	Transcribe(ctx context.Context, segment *audio.Segment) (string, error)
	Name() string
}

// Static always returns the same text. It is used for dry runs and tests.
type Static struct {
	Text string
}

// NewStatic creates a Static transcriber.
func NewStatic(text string) *Static {
	return &Static{Text: text}
}

// Transcribe returns the configured text.
func (s *Static) Transcribe(ctx context.Context, segment *audio.Segment) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if segment == nil {
		return "", fmt.Errorf("nil segment")
	}
	return s.Text, nil
}

// Name returns the backend name.
func (s *Static) Name() string {
	return "static"
}

// encodeSegment renders a segment in the requested upload format.
func encodeSegment(segment *audio.Segment, format string) ([]byte, string, error) {
	if segment == nil || len(segment.Samples) == 0 {
		return nil, "", fmt.Errorf("empty segment")
	}

	switch format {
	case FormatFLAC:
		data, err := audio.EncodeFLACFloat(segment.Samples, segment.SampleRate)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode FLAC: %w", err)
		}
		return data, "audio/flac", nil
	case FormatWAV, "":
		data, err := audio.EncodeWAVFloat(segment.Samples, segment.SampleRate)
		if err != nil {
			return nil, "", fmt.Errorf("failed to encode WAV: %w", err)
		}
		return data, "audio/wav", nil
	default:
		return nil, "", fmt.Errorf("unsupported upload format %q", format)
	}
}

// Upload formats.
const (
	FormatWAV  = "wav"
	FormatFLAC = "flac"
)
