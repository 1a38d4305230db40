package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/caption"
)

// Broadcaster delivers caption events. Delivery is best effort: captions
// generated while nobody is connected are dropped, not queued.
type Broadcaster interface {
	Start(ctx context.Context) error
	Broadcast(ctx context.Context, ev *caption.Event) error
	Stop() error
}

// Multi fans each event out to several broadcasters.
type Multi struct {
	targets []Broadcaster
	logger  zerolog.Logger
}

// NewMulti combines broadcasters. Nil entries are skipped.
func NewMulti(logger zerolog.Logger, targets ...Broadcaster) *Multi {
	m := &Multi{logger: logger}
	for _, t := range targets {
		if t != nil {
			m.targets = append(m.targets, t)
		}
	}
	return m
}

// Len returns the number of wrapped broadcasters.
func (m *Multi) Len() int {
	return len(m.targets)
}

// Start starts every target. If one fails, the ones already started are
// stopped again.
func (m *Multi) Start(ctx context.Context) error {
	for i, t := range m.targets {
		if err := t.Start(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if stopErr := m.targets[j].Stop(); stopErr != nil {
					m.logger.Warn().Err(stopErr).Msg("Failed to stop broadcaster after start error")
				}
			}
			return fmt.Errorf("failed to start broadcaster %d: %w", i, err)
		}
	}
	return nil
}

// Broadcast sends ev to every target. A failing target does not prevent
// delivery to the others; the failures are joined into the returned error.
func (m *Multi) Broadcast(ctx context.Context, ev *caption.Event) error {
	var errs []error
	for _, t := range m.targets {
		if err := t.Broadcast(ctx, ev); err != nil {
			m.logger.Warn().Err(err).Msg("Broadcast failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop stops every target in reverse order.
func (m *Multi) Stop() error {
	var errs []error
	for i := len(m.targets) - 1; i >= 0; i-- {
		if err := m.targets[i].Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
