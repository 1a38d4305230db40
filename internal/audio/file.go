package audio

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FileSource replays a WAV file as if it were a live capture. In realtime
// mode chunks are paced at the chunk duration; otherwise they are delivered
// back to back.
type FileSource struct {
	path     string
	config   CaptureConfig
	realtime bool
	logger   zerolog.Logger

	samples []float32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewFileSource loads path and checks that its sample rate matches config.
func NewFileSource(path string, config CaptureConfig, realtime bool, logger zerolog.Logger) (*FileSource, error) {
	if config.ChunkSamples <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", config.ChunkSamples)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio file %s: %w", path, err)
	}

	pcm, info, err := DecodeWAV(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	if info.SampleRate != config.SampleRate {
		return nil, fmt.Errorf("%s has sample rate %d, expected %d", path, info.SampleRate, config.SampleRate)
	}

	return &FileSource{
		path:     path,
		config:   config,
		realtime: realtime,
		logger:   logger,
		samples:  PCM16ToFloat(pcm),
	}, nil
}

// Name implements Source.
func (f *FileSource) Name() string {
	return "file:" + filepath.Base(f.path)
}

// Done is closed once every chunk of the file has been delivered or the
// source was stopped.
func (f *FileSource) Done() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

// Start implements Source.
func (f *FileSource) Start(ctx context.Context, onChunk ChunkHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.done != nil {
		return fmt.Errorf("file source already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})

	go f.feed(ctx, onChunk, f.done)

	f.logger.Info().
		Str("file", f.path).
		Bool("realtime", f.realtime).
		Float64("duration_seconds", float64(len(f.samples))/float64(f.config.SampleRate)).
		Msg("File replay started")

	return nil
}

func (f *FileSource) feed(ctx context.Context, onChunk ChunkHandler, done chan struct{}) {
	defer close(done)

	n := f.config.ChunkSamples
	interval := samplesDuration(n, f.config.SampleRate)
	start := time.Now()

	var ticker *time.Ticker
	if f.realtime {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	// The trailing partial chunk is dropped to keep chunk length fixed.
	for i := 0; i+n <= len(f.samples); i += n {
		if ticker != nil && i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return
		}

		samples := make([]float32, n)
		copy(samples, f.samples[i:i+n])
		onChunk(Chunk{
			Samples:    samples,
			SampleRate: f.config.SampleRate,
			Timestamp:  start.Add(samplesDuration(i, f.config.SampleRate)),
		})
	}

	f.logger.Info().Str("file", f.path).Msg("File replay finished")
}

// Stop implements Source.
func (f *FileSource) Stop() error {
	f.mu.Lock()
	cancel, done := f.cancel, f.done
	f.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}
