package audio

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"
)

// ChunkHandler receives each completed chunk.
type ChunkHandler func(Chunk)

// Buffer accumulates little-endian PCM-16 bytes from a capture callback and
// cuts them into fixed-size float chunks. Device callbacks deliver arbitrary
// frame counts, sometimes splitting a sample across two calls.
type Buffer struct {
	sampleRate   int
	chunkSamples int
	onChunk      ChunkHandler

	pending  []float32 // samples not yet emitted
	carry    []byte    // trailing odd byte from the previous write
	start    time.Time // capture time of sample zero
	consumed int64     // samples already emitted

	// Statistics
	totalBytes    uint64
	chunksEmitted uint64
	lastUpdate    time.Time

	mu sync.Mutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	SampleRate     int    `json:"sample_rate"`
	ChunkSamples   int    `json:"chunk_samples"`
	TotalBytes     uint64 `json:"total_bytes"`
	ChunksEmitted  uint64 `json:"chunks_emitted"`
	PendingSamples int    `json:"pending_samples"`
}

// NewBuffer creates a buffer emitting chunks of chunkSamples samples.
func NewBuffer(sampleRate, chunkSamples int, onChunk ChunkHandler) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if chunkSamples <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSamples)
	}
	if onChunk == nil {
		return nil, fmt.Errorf("chunk handler cannot be nil")
	}

	return &Buffer{
		sampleRate:   sampleRate,
		chunkSamples: chunkSamples,
		onChunk:      onChunk,
		pending:      make([]float32, 0, chunkSamples*2),
	}, nil
}

// Write appends raw PCM bytes and emits every chunk that became complete.
// The handler runs on the caller's goroutine, outside the buffer lock.
func (b *Buffer) Write(data []byte) {
	ready := b.append(data, time.Now())
	for _, c := range ready {
		b.onChunk(c)
	}
}

// WriteSamples appends already-normalized samples.
func (b *Buffer) WriteSamples(samples []float32) {
	b.mu.Lock()
	now := time.Now()
	b.touch(now)
	b.pending = append(b.pending, samples...)
	ready := b.cut()
	b.mu.Unlock()

	for _, c := range ready {
		b.onChunk(c)
	}
}

func (b *Buffer) append(data []byte, now time.Time) []Chunk {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.touch(now)
	b.totalBytes += uint64(len(data))

	if len(b.carry) > 0 {
		data = append(b.carry, data...)
		b.carry = nil
	}
	if len(data)%2 != 0 {
		b.carry = []byte{data[len(data)-1]}
		data = data[:len(data)-1]
	}

	for i := 0; i+1 < len(data); i += 2 {
		s := int16(binary.LittleEndian.Uint16(data[i:]))
		b.pending = append(b.pending, float32(s)/32768.0)
	}

	return b.cut()
}

func (b *Buffer) touch(now time.Time) {
	if b.start.IsZero() {
		b.start = now
	}
	b.lastUpdate = now
}

// cut must be called with the lock held.
func (b *Buffer) cut() []Chunk {
	var ready []Chunk
	for len(b.pending) >= b.chunkSamples {
		samples := make([]float32, b.chunkSamples)
		copy(samples, b.pending[:b.chunkSamples])
		b.pending = append(b.pending[:0], b.pending[b.chunkSamples:]...)

		ready = append(ready, Chunk{
			Samples:    samples,
			SampleRate: b.sampleRate,
			Timestamp:  b.start.Add(samplesDuration(int(b.consumed), b.sampleRate)),
		})
		b.consumed += int64(b.chunkSamples)
		b.chunksEmitted++
	}
	return ready
}

// Reset drops pending samples and restarts the timeline.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.pending = b.pending[:0]
	b.carry = nil
	b.start = time.Time{}
	b.consumed = 0
}

// GetStats returns buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	return BufferStats{
		SampleRate:     b.sampleRate,
		ChunkSamples:   b.chunkSamples,
		TotalBytes:     b.totalBytes,
		ChunksEmitted:  b.chunksEmitted,
		PendingSamples: len(b.pending),
	}
}

// GetLastUpdate returns the time of the last write
func (b *Buffer) GetLastUpdate() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUpdate
}
