package audio

import "context"

// Source produces fixed-size chunks at the capture cadence until stopped.
type Source interface {
	// Start begins delivering chunks to onChunk. It returns once capture is
	// running; delivery happens on the source's own goroutine or driver thread.
	Start(ctx context.Context, onChunk ChunkHandler) error
	Stop() error
	Name() string
}

// CaptureConfig describes the chunk format a source must deliver.
type CaptureConfig struct {
	SampleRate   int
	ChunkSamples int
	Device       string // case-insensitive substring of the device name
}
