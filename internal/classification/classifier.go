package classification

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/audio"
	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/metrics"
)

// Sound event labels produced by Energy.
const (
	LabelLoud     = "[LOUD_NOISE]"
	LabelModerate = "[MODERATE_NOISE]"
	LabelQuiet    = "[QUIET_NOISE]"
)

// Classifier labels a chunk. caption.Silence means nothing worth reporting.
type Classifier interface {
	Classify(ctx context.Context, chunk audio.Chunk) (string, error)
	Name() string
}

// Energy is a placeholder classifier that buckets RMS energy.
type Energy struct{}

// Classify returns a loudness label for the chunk.
func (Energy) Classify(ctx context.Context, chunk audio.Chunk) (string, error) {
	return EnergyLabel(chunk.Energy()), nil
}

// Name returns the backend name.
func (Energy) Name() string {
	return "energy"
}

// EnergyLabel maps an RMS energy to a label.
func EnergyLabel(energy float64) string {
	switch {
	case energy > 0.15:
		return LabelLoud
	case energy > 0.08:
		return LabelModerate
	case energy > 0.04:
		return LabelQuiet
	default:
		return caption.Silence
	}
}

// Labels lists every label Energy can return.
func Labels() []string {
	return []string{LabelLoud, LabelModerate, LabelQuiet, caption.Silence}
}

// Safe maps classifier errors and empty labels to caption.Silence.
type Safe struct {
	inner   Classifier
	logger  zerolog.Logger
	metrics *metrics.Metrics
}

// NewSafe wraps inner.
func NewSafe(inner Classifier, logger zerolog.Logger, m *metrics.Metrics) *Safe {
	return &Safe{inner: inner, logger: logger, metrics: m}
}

// Classify never returns an error.
func (s *Safe) Classify(ctx context.Context, chunk audio.Chunk) (string, error) {
	label, err := s.inner.Classify(ctx, chunk)
	if err != nil {
		s.logger.Error().Err(err).Str("backend", s.inner.Name()).Msg("Classification failed")
		s.metrics.RecordClassification("error")
		return caption.Silence, nil
	}

	label = strings.TrimSpace(label)
	if label == "" {
		label = caption.Silence
	}

	s.metrics.RecordClassification(label)
	s.logger.Debug().Str("label", label).Float64("energy", chunk.Energy()).Msg("Sound classified")
	return label, nil
}

// Name returns the wrapped backend name.
func (s *Safe) Name() string {
	return s.inner.Name()
}
