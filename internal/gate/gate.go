package gate

import (
	"fmt"
	"sync"
	"time"
)

// Config holds gate parameters.
type Config struct {
	Enabled          bool          // false passes everything
	DirectionEnabled bool          // false degrades to energy-only gating
	StableWindow     time.Duration // how long a direction must hold
	MinConfidence    float64
	MinEnergy        float64
}

// DefaultConfig returns the default gate configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:          true,
		DirectionEnabled: true,
		StableWindow:     400 * time.Millisecond,
		MinConfidence:    0.20,
		MinEnergy:        0.015,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.StableWindow < 0 {
		return fmt.Errorf("stable window cannot be negative, got %v", c.StableWindow)
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		return fmt.Errorf("min confidence must be between 0 and 1, got %f", c.MinConfidence)
	}
	if c.MinEnergy < 0 {
		return fmt.Errorf("min energy cannot be negative, got %f", c.MinEnergy)
	}
	return nil
}

// State is a point-in-time copy of the gate.
type State struct {
	Direction        int       `json:"direction"`
	Confidence       float64   `json:"confidence"`
	HasDirection     bool      `json:"has_direction"`
	StableSince      time.Time `json:"stable_since"`
	Energy           float64   `json:"energy"`
	Enabled          bool      `json:"enabled"`
	DirectionEnabled bool      `json:"direction_enabled"`
}

// Gate tracks the latest direction, its stability and the current energy.
type Gate struct {
	config Config
	now    func() time.Time

	direction    int
	confidence   float64
	hasDirection bool
	stableSince  time.Time
	energy       float64

	mu sync.RWMutex
}

// Option customizes a Gate.
type Option func(*Gate)

// WithClock replaces the wall clock used by IsPassed.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates a gate.
func New(config Config, opts ...Option) (*Gate, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gate config: %w", err)
	}

	g := &Gate{
		config: config,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// UpdateDirection records a direction sample. A new direction restarts the
// stability window and reports false; a repeated direction refreshes the
// confidence and reports whether it is now stable and confident enough.
// With gating or direction gating disabled the sample is recorded and the
// call reports true.
func (g *Gate) UpdateDirection(direction int, confidence float64, ts time.Time) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	bypass := !g.config.Enabled || !g.config.DirectionEnabled

	if !g.hasDirection || direction != g.direction {
		g.direction = direction
		g.confidence = confidence
		g.stableSince = ts
		g.hasDirection = true
		return bypass
	}

	g.confidence = confidence
	if bypass {
		return true
	}

	return ts.Sub(g.stableSince) >= g.config.StableWindow && confidence >= g.config.MinConfidence
}

// UpdateEnergy stores the latest audio energy.
func (g *Gate) UpdateEnergy(energy float64) {
	g.mu.Lock()
	g.energy = energy
	g.mu.Unlock()
}

// IsPassed reports whether a caption may be emitted right now.
func (g *Gate) IsPassed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.passedLocked()
}

// Decide returns the gate state together with the pass decision, both read
// under one lock so the caption direction is the one that passed.
func (g *Gate) Decide() (State, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.stateLocked(), g.passedLocked()
}

func (g *Gate) passedLocked() bool {
	if !g.config.Enabled {
		return true
	}

	if g.energy < g.config.MinEnergy {
		return false
	}

	if !g.config.DirectionEnabled {
		return true
	}

	if !g.hasDirection {
		return false
	}

	return g.now().Sub(g.stableSince) >= g.config.StableWindow &&
		g.confidence >= g.config.MinConfidence
}

// SetDirectionEnabled switches direction gating on or off, for example when
// the sensor link is lost.
func (g *Gate) SetDirectionEnabled(enabled bool) {
	g.mu.Lock()
	g.config.DirectionEnabled = enabled
	g.mu.Unlock()
}

// DirectionEnabled reports whether direction gating is active.
func (g *Gate) DirectionEnabled() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.config.DirectionEnabled
}

// Snapshot returns a copy of the gate state. Direction is 0 until the first
// sample arrives.
func (g *Gate) Snapshot() State {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return g.stateLocked()
}

func (g *Gate) stateLocked() State {
	return State{
		Direction:        g.direction,
		Confidence:       g.confidence,
		HasDirection:     g.hasDirection,
		StableSince:      g.stableSince,
		Energy:           g.energy,
		Enabled:          g.config.Enabled,
		DirectionEnabled: g.config.DirectionEnabled,
	}
}
