package main

import (
	"context"
	"fmt"
	"time"

	"github.com/Jxke/soundsight/internal/audio"
	"github.com/Jxke/soundsight/internal/classification"
	"github.com/Jxke/soundsight/internal/config"
	"github.com/Jxke/soundsight/internal/events"
	"github.com/Jxke/soundsight/internal/gate"
	"github.com/Jxke/soundsight/internal/logging"
	"github.com/Jxke/soundsight/internal/metrics"
	"github.com/Jxke/soundsight/internal/pipeline"
	"github.com/Jxke/soundsight/internal/protocol"
	"github.com/Jxke/soundsight/internal/server"
	"github.com/Jxke/soundsight/internal/transcription"
	"github.com/Jxke/soundsight/internal/transport"
	"github.com/Jxke/soundsight/internal/vad"
)

// pipelineConfig maps the file configuration onto the orchestrator.
func pipelineConfig(cfg *config.Config) pipeline.Config {
	return pipeline.Config{
		VAD: vad.Config{
			StartThreshold: cfg.VAD.StartThreshold,
			StopThreshold:  cfg.VAD.StopThreshold,
			HangoverBlocks: cfg.VAD.HangoverBlocks,
			MaxSpeech:      cfg.VAD.GetMaxSpeechDuration(),
		},
		Gate: gate.Config{
			Enabled:          cfg.Gating.Enabled,
			DirectionEnabled: cfg.Sensor.Enabled,
			StableWindow:     cfg.Gating.GetStableWindow(),
			MinConfidence:    cfg.Gating.MinConfidence,
			MinEnergy:        cfg.Gating.MinEnergy,
		},
		Workers:           cfg.Pipeline.Workers,
		QueueSize:         cfg.Pipeline.QueueSize,
		ClassifyFloor:     cfg.Pipeline.ClassifyFloor,
		EnergyLogInterval: cfg.Pipeline.GetEnergyLogInterval(),
	}
}

// buildBroadcaster creates the configured transport plus the optional Kafka
// mirror. The stats function describes the primary transport.
func buildBroadcaster(cfg *config.Config, m *metrics.Metrics) (*transport.Multi, server.StatsFunc, error) {
	format, err := protocol.ParseFormat(cfg.Transport.MessageFormat)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.WithComponent("transport")

	var (
		primary transport.Broadcaster
		stats   server.StatsFunc
	)

	switch cfg.Transport.Mode {
	case "server":
		s := transport.NewServer(transport.ServerConfig{
			BindAddress:  cfg.Transport.BindAddress,
			Port:         cfg.Transport.Port,
			Format:       format,
			WriteTimeout: cfg.Transport.GetWriteTimeout(),
			ReplayLast:   cfg.Transport.ReplayLast,
		}, logger, m)
		primary = s
		stats = func() any { return s.Stats() }

	case "client":
		c := transport.NewClient(transport.ClientConfig{
			Host:         cfg.Transport.Host,
			Port:         cfg.Transport.Port,
			Format:       format,
			Backoff:      cfg.Transport.GetReconnectBackoff(),
			WriteTimeout: cfg.Transport.GetWriteTimeout(),
		}, logger, m)
		primary = c
		stats = func() any { return c.Stats() }

	case "websocket":
		w := transport.NewWebSocketServer(transport.WebSocketConfig{
			BindAddress:  cfg.Transport.BindAddress,
			Port:         cfg.Transport.Port,
			Path:         cfg.Transport.WSPath,
			Format:       format,
			WriteTimeout: cfg.Transport.GetWriteTimeout(),
		}, logger, m)
		primary = w
		stats = func() any { return map[string]int{"connections": w.Connections()} }

	default:
		return nil, nil, fmt.Errorf("unknown transport mode %q", cfg.Transport.Mode)
	}

	targets := []transport.Broadcaster{primary}

	if cfg.Events.Enabled {
		pub := events.New(events.Config{
			Brokers:  cfg.Events.Brokers,
			Topic:    cfg.Events.Topic,
			ClientID: cfg.Events.ClientID,
			Enabled:  cfg.Events.Enabled,
		}, logging.WithComponent("events"), m)
		if !pub.Enabled() {
			logger.Warn().Msg("Kafka mirror requested without brokers, captions are only logged")
		}
		targets = append(targets, pub)
	}

	multi := transport.NewMulti(logger, targets...)
	logger.Info().Str("mode", cfg.Transport.Mode).Int("targets", multi.Len()).Msg("Transport configured")

	return multi, stats, nil
}

// buildTranscriber returns the configured backend wrapped so failures become
// sentinels, or nil when transcription is disabled. The cleanup function is
// never nil.
func buildTranscriber(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (transcription.Transcriber, func() error, error) {
	logger := logging.WithComponent("transcription")
	t := cfg.Transcription
	noop := func() error { return nil }

	var (
		inner   transcription.Transcriber
		cleanup = noop
	)

	switch t.Backend {
	case "http":
		c, err := transcription.NewHTTPClient(transcription.Config{
			Endpoint:      t.Endpoint,
			APIKey:        t.APIKey,
			Model:         t.Model,
			Language:      t.Language,
			Timeout:       t.GetTimeoutDuration(),
			MaxRetries:    t.MaxRetries,
			MaxConcurrent: t.MaxConcurrent,
			UploadFormat:  t.UploadFormat,
			RetryBackoff:  500 * time.Millisecond,
		}, logger, m)
		if err != nil {
			return nil, noop, err
		}
		inner, cleanup = c, c.Close

	case "whisper":
		w, err := transcription.NewWhisperCLI(transcription.WhisperConfig{
			CLIPath:   t.CLIPath,
			ModelPath: t.ModelPath,
			Language:  t.Language,
			Timeout:   t.GetTimeoutDuration(),
		}, logger)
		if err != nil {
			return nil, noop, err
		}
		inner = w

	case "google":
		g, err := transcription.NewGoogle(ctx, t.Language, logger)
		if err != nil {
			return nil, noop, err
		}
		inner, cleanup = g, g.Close

	case "static":
		inner = transcription.NewStatic(t.StaticText)

	case "none":
		logger.Info().Msg("Transcription disabled")
		return nil, noop, nil

	default:
		return nil, noop, fmt.Errorf("unknown transcription backend %q", t.Backend)
	}

	logger.Info().Str("backend", inner.Name()).Msg("Transcription backend ready")
	return transcription.NewSafe(inner, logger, m), cleanup, nil
}

// buildClassifier returns the configured classifier wrapped so failures
// become silence, or nil when classification is disabled.
func buildClassifier(cfg *config.Config, m *metrics.Metrics) (classification.Classifier, error) {
	logger := logging.WithComponent("classification")

	var inner classification.Classifier

	switch cfg.Classification.Backend {
	case "energy":
		inner = classification.Energy{}
	case "command":
		c, err := classification.NewCommand(classification.CommandConfig{
			Path:    cfg.Classification.Command,
			Args:    cfg.Classification.Args,
			Timeout: cfg.Classification.GetTimeoutDuration(),
		}, logger)
		if err != nil {
			return nil, err
		}
		inner = c
	case "none":
		logger.Info().Msg("Sound classification disabled")
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown classification backend %q", cfg.Classification.Backend)
	}

	return classification.NewSafe(inner, logger, m), nil
}

// buildSource creates the microphone or file source.
func buildSource(cfg *config.Config) (audio.Source, error) {
	logger := logging.WithComponent("audio")
	cc := audio.CaptureConfig{
		SampleRate:   cfg.Audio.SampleRate,
		ChunkSamples: cfg.Audio.GetChunkSamples(),
		Device:       cfg.Audio.Device,
	}

	switch cfg.Audio.Source {
	case "device":
		c, err := audio.NewCapture(cc, logger)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "file":
		f, err := audio.NewFileSource(cfg.Audio.File, cc, cfg.Audio.Realtime, logger)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return nil, fmt.Errorf("unknown audio source %q", cfg.Audio.Source)
	}
}
