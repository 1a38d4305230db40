package transcription

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/audio"
	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/metrics"
)

// Safe maps backend failures to sentinels so callers never see an error.
type Safe struct {
	inner   Transcriber
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewSafe wraps inner.
func NewSafe(inner Transcriber, logger zerolog.Logger, m *metrics.Metrics) *Safe {
	return &Safe{inner: inner, logger: logger, metrics: m}
}

// Transcribe returns recognized text, caption.NoSpeech for an empty result
// or caption.TranscriptionError when the backend failed. The error is always
// nil.
func (s *Safe) Transcribe(ctx context.Context, segment *audio.Segment) (string, error) {
	start := time.Now()

	text, err := s.inner.Transcribe(ctx, segment)
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("backend", s.inner.Name()).
			Dur("elapsed", elapsed).
			Msg("Transcription failed")
		s.metrics.RecordTranscription("error", elapsed.Seconds())
		return caption.TranscriptionError, nil
	}

	text = strings.TrimSpace(text)
	if text == "" {
		s.logger.Info().Str("backend", s.inner.Name()).Msg("No speech detected in segment")
		s.metrics.RecordTranscription("no_speech", elapsed.Seconds())
		return caption.NoSpeech, nil
	}

	s.logger.Info().
		Str("backend", s.inner.Name()).
		Str("text", text).
		Dur("elapsed", elapsed).
		Msg("Transcription")
	s.metrics.RecordTranscription("text", elapsed.Seconds())
	return text, nil
}

// Name returns the wrapped backend name.
func (s *Safe) Name() string {
	return s.inner.Name()
}

// Stats returns the backend statistics when the wrapped backend keeps any,
// or nil.
func (s *Safe) Stats() any {
	if c, ok := s.inner.(*HTTPClient); ok {
		return c.GetStats()
	}
	return nil
}
