package audio

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
)

// DeviceInfo identifies a capture device.
type DeviceInfo struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// ListDevices enumerates capture devices known to the audio backend.
func ListDevices() ([]DeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("malgo init: %w", err)
	}
	defer func() {
		_ = ctx.Uninit()
		ctx.Free()
	}()

	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}

	out := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, DeviceInfo{Name: d.Name(), IsDefault: d.IsDefault != 0})
	}
	return out, nil
}

// Capture records mono PCM-16 from a microphone through miniaudio.
type Capture struct {
	config CaptureConfig
	logger zerolog.Logger

	mu     sync.Mutex
	ctx    *malgo.AllocatedContext
	device *malgo.Device
	buffer *Buffer
}

// NewCapture creates a microphone source.
func NewCapture(config CaptureConfig, logger zerolog.Logger) (*Capture, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.ChunkSamples <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", config.ChunkSamples)
	}
	return &Capture{config: config, logger: logger}, nil
}

// Name implements Source.
func (c *Capture) Name() string {
	if c.config.Device == "" {
		return "default"
	}
	return c.config.Device
}

// Start implements Source.
func (c *Capture) Start(_ context.Context, onChunk ChunkHandler) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		return fmt.Errorf("capture already started")
	}

	buffer, err := NewBuffer(c.config.SampleRate, c.config.ChunkSamples, onChunk)
	if err != nil {
		return err
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("malgo init: %w", err)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = 1
	deviceConfig.SampleRate = uint32(c.config.SampleRate)

	if c.config.Device != "" {
		id, err := findDevice(mctx, c.config.Device)
		if err != nil {
			_ = mctx.Uninit()
			mctx.Free()
			return err
		}
		deviceConfig.Capture.DeviceID = id.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			buffer.Write(data)
		},
	}

	device, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgo init device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return fmt.Errorf("malgo start: %w", err)
	}

	c.ctx = mctx
	c.device = device
	c.buffer = buffer

	c.logger.Info().
		Str("device", c.Name()).
		Int("sample_rate", c.config.SampleRate).
		Int("chunk_samples", c.config.ChunkSamples).
		Msg("Audio capture started")

	return nil
}

// Stop implements Source.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device == nil {
		return nil
	}

	if err := c.device.Stop(); err != nil {
		c.logger.Warn().Err(err).Msg("Error stopping capture device")
	}
	c.device.Uninit()
	_ = c.ctx.Uninit()
	c.ctx.Free()

	stats := c.buffer.GetStats()
	c.logger.Info().
		Uint64("chunks", stats.ChunksEmitted).
		Uint64("bytes", stats.TotalBytes).
		Msg("Audio capture stopped")

	c.device = nil
	c.ctx = nil
	c.buffer = nil
	return nil
}

func findDevice(ctx *malgo.AllocatedContext, name string) (malgo.DeviceID, error) {
	devices, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return malgo.DeviceID{}, fmt.Errorf("malgo devices: %w", err)
	}

	want := strings.ToLower(name)
	for _, d := range devices {
		if strings.Contains(strings.ToLower(d.Name()), want) {
			return d.ID, nil
		}
	}
	return malgo.DeviceID{}, fmt.Errorf("no capture device matching %q", name)
}
