package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/audio"
	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/classification"
	"github.com/Jxke/soundsight/internal/gate"
	"github.com/Jxke/soundsight/internal/metrics"
	"github.com/Jxke/soundsight/internal/sensor"
	"github.com/Jxke/soundsight/internal/transcription"
	"github.com/Jxke/soundsight/internal/transport"
	"github.com/Jxke/soundsight/internal/vad"
)

// Task kinds, used in logs and metrics.
const (
	kindTranscription  = "transcription"
	kindClassification = "classification"
)

// Config holds orchestrator parameters.
type Config struct {
	VAD               vad.Config
	Gate              gate.Config
	Workers           int
	QueueSize         int     // capacity of the loop inbox, the job queue and the outbox
	ClassifyFloor     float64 // quieter non-speech chunks are not classified
	EnergyLogInterval time.Duration
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		VAD: vad.Config{
			StartThreshold: 0.02,
			StopThreshold:  0.01,
			HangoverBlocks: 3,
			MaxSpeech:      15 * time.Second,
		},
		Gate:              gate.DefaultConfig(),
		Workers:           4,
		QueueSize:         64,
		ClassifyFloor:     0.01,
		EnergyLogInterval: 2 * time.Second,
	}
}

// Deps are the collaborators of the orchestrator. Transcriber and Classifier
// may be nil, which disables that kind of caption.
type Deps struct {
	Transcriber transcription.Transcriber
	Classifier  classification.Classifier
	Broadcaster transport.Broadcaster
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
	Clock       func() time.Time
}

// Stats represents orchestrator statistics.
type Stats struct {
	Running             bool           `json:"running"`
	ChunksReceived      uint64         `json:"chunks_received"`
	ChunksDropped       uint64         `json:"chunks_dropped"`
	Segments            uint64         `json:"segments"`
	Transcriptions      uint64         `json:"transcriptions"`
	Classifications     uint64         `json:"classifications"`
	TasksDropped        uint64         `json:"tasks_dropped"`
	CaptionsEmitted     uint64         `json:"captions_emitted"`
	CaptionsDropped     uint64         `json:"captions_dropped"`
	SuppressedSentinel  uint64         `json:"suppressed_sentinel"`
	SuppressedGate      uint64         `json:"suppressed_gate"`
	BroadcastErrors     uint64         `json:"broadcast_errors"`
	LastCaption         *caption.Event `json:"last_caption,omitempty"`
	LastCaptionUnixNano int64          `json:"last_caption_unix_nano,omitempty"`
	Segmenter           vad.Stats      `json:"segmenter"`
	Gate                gate.State     `json:"gate"`
}

type job struct {
	kind    string
	segment *audio.Segment
	chunk   audio.Chunk
}

// Orchestrator schedules segmentation, recognition and emission.
type Orchestrator struct {
	config      Config
	segmenter   *vad.Segmenter
	gate        *gate.Gate
	transcriber transcription.Transcriber
	classifier  classification.Classifier
	broadcaster transport.Broadcaster
	metrics     *metrics.Metrics
	logger      zerolog.Logger
	now         func() time.Time

	inbox  chan func()
	jobs   chan job
	outbox chan *caption.Event

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	loopWG  sync.WaitGroup
	workWG  sync.WaitGroup
	sendWG  sync.WaitGroup

	// Owned by the loop goroutine.
	lastEnergyLog time.Time

	stats Stats
	mu    sync.RWMutex
}

// New creates an orchestrator. It does not start any goroutines.
func New(config Config, deps Deps) (*Orchestrator, error) {
	if config.Workers < 1 {
		return nil, fmt.Errorf("workers must be at least 1, got %d", config.Workers)
	}

	if config.QueueSize < 1 {
		return nil, fmt.Errorf("queue size must be at least 1, got %d", config.QueueSize)
	}

	if config.ClassifyFloor < 0 {
		return nil, fmt.Errorf("classify floor cannot be negative, got %f", config.ClassifyFloor)
	}

	if deps.Broadcaster == nil {
		return nil, errors.New("broadcaster is required")
	}

	segmenter, err := vad.NewSegmenter(config.VAD)
	if err != nil {
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	g, err := gate.New(config.Gate, gate.WithClock(now))
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:      config,
		segmenter:   segmenter,
		gate:        g,
		transcriber: deps.Transcriber,
		classifier:  deps.Classifier,
		broadcaster: deps.Broadcaster,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         now,
		inbox:       make(chan func(), config.QueueSize),
		jobs:        make(chan job, config.QueueSize),
		outbox:      make(chan *caption.Event, config.QueueSize),
	}
	o.ctx, o.cancel = context.WithCancel(context.Background())
	o.cancel()

	return o, nil
}

// Gate returns the gate so callers can switch direction gating off.
func (o *Orchestrator) Gate() *gate.Gate {
	return o.gate
}

// Start launches the loop and the worker pool.
func (o *Orchestrator) Start(ctx context.Context) error {
	if o.running.Load() {
		return errors.New("pipeline already running")
	}

	o.ctx, o.cancel = context.WithCancel(ctx)

	o.loopWG.Add(1)
	go o.loop()

	o.sendWG.Add(1)
	go o.sender()

	for i := 0; i < o.config.Workers; i++ {
		o.workWG.Add(1)
		go o.worker(i)
	}

	o.running.Store(true)

	o.mu.Lock()
	o.stats.Running = true
	o.mu.Unlock()

	o.logger.Info().
		Int("workers", o.config.Workers).
		Int("queue_size", o.config.QueueSize).
		Bool("gating", o.config.Gate.Enabled).
		Bool("direction_gating", o.gate.DirectionEnabled()).
		Msg("Pipeline started")

	return nil
}

// Stop stops intake, waits for the loop, workers and sender and resets the
// segmenter. Results and captions still in flight are discarded.
func (o *Orchestrator) Stop() {
	if !o.running.CompareAndSwap(true, false) {
		return
	}

	o.logger.Info().Msg("Stopping pipeline...")

	o.cancel()
	o.loopWG.Wait()
	o.workWG.Wait()
	o.sendWG.Wait()
	o.segmenter.Reset()

	o.mu.Lock()
	o.stats.Running = false
	o.mu.Unlock()

	stats := o.Stats()
	o.logger.Info().
		Uint64("chunks_received", stats.ChunksReceived).
		Uint64("chunks_dropped", stats.ChunksDropped).
		Uint64("segments", stats.Segments).
		Uint64("captions_emitted", stats.CaptionsEmitted).
		Uint64("suppressed_gate", stats.SuppressedGate).
		Msg("Pipeline stopped")
}

// OnAudioChunk is the audio producer callback. It never blocks: the gate
// energy is updated immediately and segmentation is scheduled on the loop.
func (o *Orchestrator) OnAudioChunk(chunk audio.Chunk) {
	if !o.running.Load() {
		return
	}

	energy := chunk.Energy()
	o.gate.UpdateEnergy(energy)
	o.metrics.RecordChunk(energy)

	o.mu.Lock()
	o.stats.ChunksReceived++
	o.mu.Unlock()

	if !o.trySubmit(func() { o.processChunk(chunk, energy) }) {
		o.mu.Lock()
		o.stats.ChunksDropped++
		o.mu.Unlock()
		o.metrics.RecordChunkDropped()
		o.logger.Warn().Float64("energy", energy).Msg("Pipeline busy, dropping audio chunk")
	}
}

// OnDirectionSample is the sensor producer callback.
func (o *Orchestrator) OnDirectionSample(sample sensor.Sample) {
	stable := o.gate.UpdateDirection(sample.Direction, sample.Confidence, sample.Timestamp)

	o.logger.Debug().
		Int("direction", sample.Direction).
		Float64("confidence", sample.Confidence).
		Bool("stable", stable).
		Msg("Direction sample")
}

// OnSensorFailure disables direction gating so captions keep flowing on
// energy alone.
func (o *Orchestrator) OnSensorFailure(err error) {
	if !o.gate.DirectionEnabled() {
		return
	}
	o.gate.SetDirectionEnabled(false)
	o.logger.Warn().Err(err).Msg("Direction sensor unavailable, falling back to energy-only gating")
}

func (o *Orchestrator) trySubmit(fn func()) bool {
	select {
	case <-o.ctx.Done():
		return true
	default:
	}

	select {
	case o.inbox <- fn:
		return true
	default:
		return false
	}
}

// submit blocks until the loop accepts fn or the pipeline stops.
func (o *Orchestrator) submit(fn func()) {
	select {
	case o.inbox <- fn:
	case <-o.ctx.Done():
	}
}

func (o *Orchestrator) loop() {
	defer o.loopWG.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case fn := <-o.inbox:
			if o.ctx.Err() != nil {
				return
			}
			fn()
		}
	}
}

func (o *Orchestrator) processChunk(chunk audio.Chunk, energy float64) {
	o.logEnergy(energy)

	active, segment := o.segmenter.Process(chunk)

	if segment != nil {
		o.metrics.RecordSegment(segment.Duration().Seconds(), segment.Forced)
		o.mu.Lock()
		o.stats.Segments++
		o.mu.Unlock()

		o.logger.Info().
			Dur("duration", segment.Duration()).
			Int("chunks", segment.Chunks).
			Bool("forced", segment.Forced).
			Msg("Speech segment complete")

		if o.transcriber != nil {
			o.enqueue(job{kind: kindTranscription, segment: segment})
		}
		return
	}

	if !active && energy >= o.config.ClassifyFloor && o.classifier != nil {
		o.enqueue(job{kind: kindClassification, chunk: chunk})
	}
}

func (o *Orchestrator) logEnergy(energy float64) {
	if o.config.EnergyLogInterval <= 0 {
		return
	}

	now := o.now()
	if now.Sub(o.lastEnergyLog) < o.config.EnergyLogInterval {
		return
	}
	o.lastEnergyLog = now

	o.logger.Info().
		Float64("energy", energy).
		Float64("start_threshold", o.config.VAD.StartThreshold).
		Float64("stop_threshold", o.config.VAD.StopThreshold).
		Str("vad_state", o.segmenter.State().String()).
		Msg("Audio energy")
}

func (o *Orchestrator) enqueue(j job) {
	select {
	case o.jobs <- j:
	default:
		o.mu.Lock()
		o.stats.TasksDropped++
		o.mu.Unlock()
		o.metrics.RecordTaskDropped(j.kind)
		o.logger.Warn().Str("kind", j.kind).Msg("Worker queue full, dropping task")
	}
}

func (o *Orchestrator) worker(id int) {
	defer o.workWG.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case j := <-o.jobs:
			o.run(id, j)
		}
	}
}

func (o *Orchestrator) run(id int, j job) {
	var (
		text string
		mode caption.Mode
		err  error
	)

	switch j.kind {
	case kindTranscription:
		mode = caption.ModeSpeech
		text, err = o.transcriber.Transcribe(o.ctx, j.segment)
		if err != nil {
			text = caption.TranscriptionError
		}
		o.mu.Lock()
		o.stats.Transcriptions++
		o.mu.Unlock()
	case kindClassification:
		mode = caption.ModeSound
		text, err = o.classifier.Classify(o.ctx, j.chunk)
		if err != nil {
			text = caption.Silence
		}
		o.mu.Lock()
		o.stats.Classifications++
		o.mu.Unlock()
	}

	if err != nil {
		o.logger.Error().Err(err).Int("worker", id).Str("kind", j.kind).Msg("Task failed")
	}

	o.submit(func() { o.emit(mode, text) })
}

// emit runs on the loop. The gate snapshot is taken at emission time, so a
// caption carries the direction current when it is sent. Delivery happens on
// the sender goroutine; when the outbox is full the caption is dropped.
func (o *Orchestrator) emit(mode caption.Mode, text string) {
	if text == "" || caption.IsSentinel(text) {
		o.mu.Lock()
		o.stats.SuppressedSentinel++
		o.mu.Unlock()
		o.metrics.RecordCaptionSuppressed("sentinel")
		o.logger.Debug().Str("mode", string(mode)).Str("text", text).Msg("Result suppressed")
		return
	}

	snap, passed := o.gate.Decide()
	ev := caption.New(text, mode, snap.Direction, snap.Confidence, o.now())

	if !passed {
		o.mu.Lock()
		o.stats.SuppressedGate++
		o.mu.Unlock()
		o.metrics.RecordCaptionSuppressed("gate")
		o.logger.Info().
			Str("caption", ev.String()).
			Float64("energy", snap.Energy).
			Msg("Caption suppressed by gate")
		return
	}

	select {
	case o.outbox <- ev:
	default:
		o.mu.Lock()
		o.stats.CaptionsDropped++
		o.mu.Unlock()
		o.metrics.RecordCaptionSuppressed("backlog")
		o.logger.Warn().Str("caption", ev.String()).Msg("Transport busy, dropping caption")
		return
	}

	o.mu.Lock()
	o.stats.CaptionsEmitted++
	o.stats.LastCaption = ev
	o.stats.LastCaptionUnixNano = ev.Timestamp.UnixNano()
	o.mu.Unlock()
	o.metrics.RecordCaptionEmitted(string(mode))

	o.logger.Info().Str("caption", ev.String()).Msg("Caption emitted")
}

// sender delivers emitted captions so that slow transports never stall the
// loop.
func (o *Orchestrator) sender() {
	defer o.sendWG.Done()

	for {
		select {
		case <-o.ctx.Done():
			return
		case ev := <-o.outbox:
			if err := o.broadcaster.Broadcast(o.ctx, ev); err != nil {
				o.mu.Lock()
				o.stats.BroadcastErrors++
				o.mu.Unlock()
				o.logger.Warn().Err(err).Str("caption", ev.String()).Msg("Broadcast failed")
			}
		}
	}
}

// Stats returns a snapshot of orchestrator statistics.
func (o *Orchestrator) Stats() Stats {
	o.mu.RLock()
	stats := o.stats
	o.mu.RUnlock()

	if stats.LastCaption != nil {
		ev := *stats.LastCaption
		stats.LastCaption = &ev
	}
	stats.Segmenter = o.segmenter.Stats()
	stats.Gate = o.gate.Snapshot()
	return stats
}
