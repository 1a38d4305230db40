package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/audio"
	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/metrics"
	"github.com/Jxke/soundsight/internal/sensor"
	"github.com/Jxke/soundsight/internal/vad"
)

type fakeTranscriber struct {
	text  string
	err   error
	calls atomic.Int32
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, segment *audio.Segment) (string, error) {
	f.calls.Add(1)
	return f.text, f.err
}

func (f *fakeTranscriber) Name() string { return "fake" }

type fakeClassifier struct {
	label   string
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (f *fakeClassifier) Classify(ctx context.Context, chunk audio.Chunk) (string, error) {
	f.calls.Add(1)
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
		}
	}
	return f.label, nil
}

func (f *fakeClassifier) Name() string { return "fake" }

type recordingBroadcaster struct {
	mu      sync.Mutex
	events  []*caption.Event
	entered chan struct{}
	release chan struct{}
}

func (b *recordingBroadcaster) Start(ctx context.Context) error { return nil }
func (b *recordingBroadcaster) Stop() error                     { return nil }

func (b *recordingBroadcaster) Broadcast(ctx context.Context, ev *caption.Event) error {
	if b.entered != nil {
		b.entered <- struct{}{}
	}
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
		}
	}
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *recordingBroadcaster) Events() []*caption.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*caption.Event(nil), b.events...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var epoch = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func chunkAt(i int, amplitude float32) audio.Chunk {
	samples := make([]float32, 160)
	for j := range samples {
		samples[j] = amplitude
	}
	return audio.Chunk{
		Samples:    samples,
		SampleRate: 16000,
		Timestamp:  epoch.Add(time.Duration(i) * 500 * time.Millisecond),
	}
}

func testConfig(gating bool) Config {
	cfg := DefaultConfig()
	cfg.VAD = vad.Config{
		StartThreshold: 0.02,
		StopThreshold:  0.01,
		HangoverBlocks: 2,
	}
	cfg.Gate.Enabled = gating
	cfg.EnergyLogInterval = 0
	return cfg
}

func newTestPipeline(t *testing.T, cfg Config, deps Deps) *Orchestrator {
	t.Helper()
	deps.Logger = zerolog.Nop()
	o, err := New(cfg, deps)
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pipeline: %v", err)
	}
	t.Cleanup(o.Stop)
	return o
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestNewValidatesConfig(t *testing.T) {
	b := &recordingBroadcaster{}

	tests := []struct {
		name   string
		modify func(*Config)
		deps   Deps
	}{
		{"zero workers", func(c *Config) { c.Workers = 0 }, Deps{Broadcaster: b}},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, Deps{Broadcaster: b}},
		{"negative floor", func(c *Config) { c.ClassifyFloor = -1 }, Deps{Broadcaster: b}},
		{"bad thresholds", func(c *Config) { c.VAD.StartThreshold = 0.001 }, Deps{Broadcaster: b}},
		{"bad gate", func(c *Config) { c.Gate.MinConfidence = 2 }, Deps{Broadcaster: b}},
		{"no broadcaster", func(c *Config) {}, Deps{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(false)
			tt.modify(&cfg)
			if _, err := New(cfg, tt.deps); err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

func TestSpeechSegmentIsTranscribedAndBroadcast(t *testing.T) {
	tr := &fakeTranscriber{text: "hello there"}
	cl := &fakeClassifier{label: "[QUIET_NOISE]"}
	b := &recordingBroadcaster{}

	o := newTestPipeline(t, testConfig(false), Deps{Transcriber: tr, Classifier: cl, Broadcaster: b})

	for i, amp := range []float32{0.03, 0.03, 0.005, 0.005} {
		o.OnAudioChunk(chunkAt(i, amp))
	}

	waitFor(t, "caption", func() bool { return len(b.Events()) == 1 && o.Stats().CaptionsEmitted == 1 })

	ev := b.Events()[0]
	if ev.Text != "hello there" {
		t.Errorf("Expected text 'hello there', got %q", ev.Text)
	}
	if ev.Mode != caption.ModeSpeech {
		t.Errorf("Expected mode speech, got %s", ev.Mode)
	}
	if !ev.IsFinal {
		t.Error("Expected final caption")
	}
	if tr.calls.Load() != 1 {
		t.Errorf("Expected 1 transcription, got %d", tr.calls.Load())
	}
	if cl.calls.Load() != 0 {
		t.Errorf("Expected 0 classifications, got %d", cl.calls.Load())
	}

	stats := o.Stats()
	if stats.ChunksReceived != 4 {
		t.Errorf("Expected 4 chunks received, got %d", stats.ChunksReceived)
	}
	if stats.Segments != 1 {
		t.Errorf("Expected 1 segment, got %d", stats.Segments)
	}
	if stats.CaptionsEmitted != 1 {
		t.Errorf("Expected 1 caption emitted, got %d", stats.CaptionsEmitted)
	}
	if stats.LastCaption == nil || stats.LastCaption.Text != "hello there" {
		t.Errorf("Expected last caption 'hello there', got %+v", stats.LastCaption)
	}
}

func TestNonSpeechChunkIsClassified(t *testing.T) {
	cl := &fakeClassifier{label: "[QUIET_NOISE]"}
	b := &recordingBroadcaster{}

	o := newTestPipeline(t, testConfig(false), Deps{Classifier: cl, Broadcaster: b})

	// Below the classify floor, then above it but below the start threshold.
	o.OnAudioChunk(chunkAt(0, 0.005))
	o.OnAudioChunk(chunkAt(1, 0.015))

	waitFor(t, "caption", func() bool { return len(b.Events()) == 1 })

	ev := b.Events()[0]
	if ev.Mode != caption.ModeSound {
		t.Errorf("Expected mode sound, got %s", ev.Mode)
	}
	if ev.Text != "[QUIET_NOISE]" {
		t.Errorf("Expected text [QUIET_NOISE], got %q", ev.Text)
	}
	if cl.calls.Load() != 1 {
		t.Errorf("Expected 1 classification, got %d", cl.calls.Load())
	}
}

func TestSentinelResultsAreSuppressed(t *testing.T) {
	tests := []struct {
		name        string
		transcriber *fakeTranscriber
		classifier  *fakeClassifier
		chunks      []float32
	}{
		{"no speech", &fakeTranscriber{text: caption.NoSpeech}, nil, []float32{0.03, 0.005, 0.005}},
		{"empty text", &fakeTranscriber{text: ""}, nil, []float32{0.03, 0.005, 0.005}},
		{"backend error", &fakeTranscriber{err: errors.New("boom")}, nil, []float32{0.03, 0.005, 0.005}},
		{"silence label", nil, &fakeClassifier{label: caption.Silence}, []float32{0.015}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &recordingBroadcaster{}
			deps := Deps{Broadcaster: b}
			if tt.transcriber != nil {
				deps.Transcriber = tt.transcriber
			}
			if tt.classifier != nil {
				deps.Classifier = tt.classifier
			}

			o := newTestPipeline(t, testConfig(false), deps)
			for i, amp := range tt.chunks {
				o.OnAudioChunk(chunkAt(i, amp))
			}

			waitFor(t, "suppression", func() bool { return o.Stats().SuppressedSentinel == 1 })

			if n := len(b.Events()); n != 0 {
				t.Errorf("Expected 0 captions, got %d", n)
			}
		})
	}
}

func TestGateSuppressesWithoutDirection(t *testing.T) {
	cl := &fakeClassifier{label: "[QUIET_NOISE]"}
	b := &recordingBroadcaster{}

	o := newTestPipeline(t, testConfig(true), Deps{Classifier: cl, Broadcaster: b})
	o.OnAudioChunk(chunkAt(0, 0.018))

	waitFor(t, "gate suppression", func() bool { return o.Stats().SuppressedGate == 1 })

	if n := len(b.Events()); n != 0 {
		t.Errorf("Expected 0 captions, got %d", n)
	}
}

func TestGatePassesWithStableDirection(t *testing.T) {
	clock := &fakeClock{now: epoch}
	cl := &fakeClassifier{label: "[QUIET_NOISE]"}
	b := &recordingBroadcaster{}

	o := newTestPipeline(t, testConfig(true), Deps{Classifier: cl, Broadcaster: b, Clock: clock.Now})

	o.OnDirectionSample(sensor.Sample{Direction: 2, Confidence: 0.9, Timestamp: epoch})
	clock.Advance(time.Second)
	o.OnAudioChunk(chunkAt(2, 0.018))

	waitFor(t, "caption", func() bool { return len(b.Events()) == 1 })

	ev := b.Events()[0]
	if ev.Direction != 2 {
		t.Errorf("Expected direction 2, got %d", ev.Direction)
	}
	if ev.Confidence != 0.9 {
		t.Errorf("Expected confidence 0.9, got %f", ev.Confidence)
	}
	if !ev.Timestamp.Equal(epoch.Add(time.Second)) {
		t.Errorf("Expected timestamp %v, got %v", epoch.Add(time.Second), ev.Timestamp)
	}
}

func TestSensorFailureFallsBackToEnergyGating(t *testing.T) {
	cl := &fakeClassifier{label: "[QUIET_NOISE]"}
	b := &recordingBroadcaster{}

	o := newTestPipeline(t, testConfig(true), Deps{Classifier: cl, Broadcaster: b})
	o.OnSensorFailure(errors.New("port closed"))

	if o.Gate().DirectionEnabled() {
		t.Fatal("Expected direction gating to be disabled")
	}

	o.OnAudioChunk(chunkAt(0, 0.018))
	waitFor(t, "caption", func() bool { return len(b.Events()) == 1 })

	if d := b.Events()[0].Direction; d != 0 {
		t.Errorf("Expected direction 0, got %d", d)
	}
}

func TestChunksIgnoredBeforeStart(t *testing.T) {
	o, err := New(testConfig(false), Deps{Broadcaster: &recordingBroadcaster{}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	o.OnAudioChunk(chunkAt(0, 0.03))

	if n := o.Stats().ChunksReceived; n != 0 {
		t.Errorf("Expected 0 chunks received, got %d", n)
	}
	if o.Stats().Running {
		t.Error("Expected pipeline not running")
	}
}

func TestBusyLoopDropsChunks(t *testing.T) {
	b := &recordingBroadcaster{}

	cfg := testConfig(false)
	cfg.QueueSize = 1
	o := newTestPipeline(t, cfg, Deps{Broadcaster: b})

	entered := make(chan struct{})
	block := make(chan struct{})
	defer close(block)
	o.submit(func() {
		close(entered)
		<-block
	})
	<-entered

	for i := 0; i < 3; i++ {
		o.OnAudioChunk(chunkAt(i, 0.005))
	}

	stats := o.Stats()
	if stats.ChunksDropped != 2 {
		t.Errorf("Expected 2 chunks dropped, got %d", stats.ChunksDropped)
	}
	if stats.ChunksReceived != 3 {
		t.Errorf("Expected 3 chunks received, got %d", stats.ChunksReceived)
	}
}

func TestSlowBroadcastDoesNotStallSegmentation(t *testing.T) {
	tr := &fakeTranscriber{text: "still listening"}
	cl := &fakeClassifier{label: "[QUIET_NOISE]"}
	b := &recordingBroadcaster{entered: make(chan struct{}, 1), release: make(chan struct{})}

	cfg := testConfig(false)
	cfg.QueueSize = 16
	o := newTestPipeline(t, cfg, Deps{Transcriber: tr, Classifier: cl, Broadcaster: b})

	o.OnAudioChunk(chunkAt(0, 0.015))
	<-b.entered

	for i, amp := range []float32{0.03, 0.03, 0.03, 0.005, 0.005} {
		o.OnAudioChunk(chunkAt(i+1, amp))
	}

	waitFor(t, "transcription", func() bool { return o.Stats().Transcriptions == 1 })

	stats := o.Stats()
	if stats.ChunksDropped != 0 {
		t.Errorf("Expected 0 chunks dropped, got %d", stats.ChunksDropped)
	}
	if stats.Segments != 1 {
		t.Errorf("Expected 1 segment, got %d", stats.Segments)
	}

	close(b.release)
	waitFor(t, "captions", func() bool { return len(b.Events()) == 2 })

	if text := b.Events()[1].Text; text != "still listening" {
		t.Errorf("Expected 'still listening', got %q", text)
	}
}

func TestCaptionUsesDirectionAtEmission(t *testing.T) {
	clock := &fakeClock{now: epoch}
	cl := &fakeClassifier{label: "[DOOR_KNOCK]", entered: make(chan struct{}, 1), release: make(chan struct{})}
	b := &recordingBroadcaster{}

	o := newTestPipeline(t, testConfig(true), Deps{Classifier: cl, Broadcaster: b, Clock: clock.Now})

	o.OnDirectionSample(sensor.Sample{Direction: 1, Confidence: 0.9, Timestamp: epoch})
	clock.Advance(time.Second)
	o.OnAudioChunk(chunkAt(2, 0.018))
	<-cl.entered

	// The source moves while the chunk is being classified.
	o.OnDirectionSample(sensor.Sample{Direction: 3, Confidence: 0.8, Timestamp: clock.Now()})
	clock.Advance(time.Second)
	close(cl.release)

	waitFor(t, "caption", func() bool { return len(b.Events()) == 1 })

	ev := b.Events()[0]
	if ev.Direction != 3 {
		t.Errorf("Expected direction 3, got %d", ev.Direction)
	}
	if ev.Confidence != 0.8 {
		t.Errorf("Expected confidence 0.8, got %f", ev.Confidence)
	}
}

func TestFullQueueDropsTasks(t *testing.T) {
	cl := &fakeClassifier{label: "[QUIET_NOISE]", entered: make(chan struct{}, 4), release: make(chan struct{})}
	b := &recordingBroadcaster{}

	cfg := testConfig(false)
	cfg.QueueSize = 1
	cfg.Workers = 1
	o := newTestPipeline(t, cfg, Deps{Classifier: cl, Broadcaster: b})

	o.OnAudioChunk(chunkAt(0, 0.015))
	<-cl.entered

	o.OnAudioChunk(chunkAt(1, 0.015))
	waitFor(t, "queued task", func() bool { return o.Stats().Segmenter.ChunksProcessed == 2 })
	o.OnAudioChunk(chunkAt(2, 0.015))

	waitFor(t, "dropped task", func() bool { return o.Stats().TasksDropped == 1 })

	close(cl.release)
	waitFor(t, "captions", func() bool { return len(b.Events()) == 2 })
}

func TestStopIsIdempotent(t *testing.T) {
	o, err := New(testConfig(false), Deps{Broadcaster: &recordingBroadcaster{}, Logger: zerolog.Nop()})
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}

	if err := o.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start pipeline: %v", err)
	}
	if err := o.Start(context.Background()); err == nil {
		t.Error("Expected error starting twice, got nil")
	}

	o.OnAudioChunk(chunkAt(0, 0.03))
	o.Stop()
	o.Stop()

	if o.Stats().Running {
		t.Error("Expected pipeline stopped")
	}
	if s := o.Stats().Segmenter.State; s != vad.Idle.String() {
		t.Errorf("Expected segmenter idle, got %s", s)
	}
}

func TestDirectionSampleNotCountedByPipeline(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	o := newTestPipeline(t, testConfig(true), Deps{Broadcaster: &recordingBroadcaster{}, Metrics: m})

	o.OnDirectionSample(sensor.Sample{Direction: 1, Confidence: 0.9, Timestamp: epoch})

	// The sensor reader owns this counter.
	if v := testutil.ToFloat64(m.DirectionSamples); v != 0 {
		t.Errorf("Expected 0 direction samples, got %f", v)
	}
	if d := o.Gate().Snapshot().Direction; d != 1 {
		t.Errorf("Expected direction 1, got %d", d)
	}
}
