package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Jxke/soundsight/internal/audio"
	"github.com/Jxke/soundsight/internal/config"
	"github.com/Jxke/soundsight/internal/logging"
	"github.com/Jxke/soundsight/internal/metrics"
	"github.com/Jxke/soundsight/internal/pipeline"
	"github.com/Jxke/soundsight/internal/sensor"
	"github.com/Jxke/soundsight/internal/server"
	"github.com/Jxke/soundsight/internal/transcription"
)

type runOptions struct {
	exitOnEOF bool
	drain     time.Duration
}

func newRunCmd() *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Capture audio and broadcast captions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runService(cmd.Context(), appConfig, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.exitOnEOF, "exit-on-eof", false, "Exit after a file source has been replayed")
	cmd.Flags().DurationVar(&opts.drain, "drain", 5*time.Second, "Time allowed for in-flight captions after the file ends")

	return cmd
}

// runService wires every component, runs until ctx is cancelled and shuts
// down in reverse order.
func runService(ctx context.Context, cfg *config.Config, opts runOptions) error {
	if err := setupLogging(cfg.Logging); err != nil {
		return err
	}

	logger := logging.WithComponent("main")

	logger.Info().
		Str("service", serviceName).
		Str("version", version).
		Str("config_path", configPath).
		Msg("Service starting")

	logger.Info().
		Str("audio_source", cfg.Audio.Source).
		Int("sample_rate", cfg.Audio.SampleRate).
		Float64("chunk_duration", cfg.Audio.ChunkDuration).
		Float64("start_threshold", cfg.VAD.StartThreshold).
		Float64("stop_threshold", cfg.VAD.StopThreshold).
		Bool("gating", cfg.Gating.Enabled).
		Bool("sensor", cfg.Sensor.Enabled).
		Str("transcription", cfg.Transcription.Backend).
		Str("classification", cfg.Classification.Backend).
		Str("transport", cfg.Transport.Mode).
		Int("transport_port", cfg.Transport.Port).
		Msg("Configuration loaded")

	appMetrics := metrics.NewMetrics()

	broadcaster, transportStats, err := buildBroadcaster(cfg, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create transport: %w", err)
	}

	transcriber, closeTranscriber, err := buildTranscriber(ctx, cfg, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create transcriber: %w", err)
	}
	defer func() {
		if err := closeTranscriber(); err != nil {
			logger.Warn().Err(err).Msg("Error closing transcription backend")
		}
	}()

	classifier, err := buildClassifier(cfg, appMetrics)
	if err != nil {
		return fmt.Errorf("failed to create classifier: %w", err)
	}

	pipe, err := pipeline.New(pipelineConfig(cfg), pipeline.Deps{
		Transcriber: transcriber,
		Classifier:  classifier,
		Broadcaster: broadcaster,
		Metrics:     appMetrics,
		Logger:      logging.WithComponent("pipeline"),
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	source, err := buildSource(cfg)
	if err != nil {
		return fmt.Errorf("failed to create audio source: %w", err)
	}

	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg, version, logging.WithComponent("http"), appMetrics, nil)
		httpServer.AddStats("pipeline", func() any { return pipe.Stats() })
		httpServer.AddStats("transport", transportStats)
		if safe, ok := transcriber.(*transcription.Safe); ok {
			httpServer.AddStats("transcription", safe.Stats)
		}
		httpServer.AddCheck("pipeline", func() error {
			if !pipe.Stats().Running {
				return errors.New("pipeline not running")
			}
			return nil
		})
	}

	if err := broadcaster.Start(ctx); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer func() {
		if err := broadcaster.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Error stopping transport")
		}
	}()

	if err := pipe.Start(ctx); err != nil {
		return fmt.Errorf("failed to start pipeline: %w", err)
	}
	defer pipe.Stop()

	if cfg.Sensor.Enabled {
		startSensor(ctx, cfg, pipe, appMetrics)
	}

	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := httpServer.Stop(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("Error stopping HTTP server")
			}
		}()
	}

	if err := source.Start(ctx, pipe.OnAudioChunk); err != nil {
		return fmt.Errorf("failed to start audio source: %w", err)
	}
	defer func() {
		if err := source.Stop(); err != nil {
			logger.Warn().Err(err).Msg("Error stopping audio source")
		}
	}()

	var eof <-chan struct{}
	if f, ok := source.(*audio.FileSource); ok && opts.exitOnEOF {
		eof = f.Done()
	}

	logger.Info().Str("source", source.Name()).Msg("Service started successfully, waiting for signals...")

	select {
	case <-ctx.Done():
		logger.Info().Msg("Received shutdown signal")
	case <-eof:
		logger.Info().Dur("drain", opts.drain).Msg("Audio file finished, draining")
		select {
		case <-time.After(opts.drain):
		case <-ctx.Done():
		}
	}

	logger.Info().Msg("Starting graceful shutdown...")
	return nil
}

// startSensor runs the direction reader in the background. Any sensor
// failure switches the pipeline to energy-only gating.
func startSensor(ctx context.Context, cfg *config.Config, pipe *pipeline.Orchestrator, m *metrics.Metrics) {
	logger := logging.WithComponent("sensor")

	reader, err := sensor.NewReader(sensor.Config{
		Port: cfg.Sensor.Port,
		Baud: cfg.Sensor.Baud,
	}, logger, m)
	if err != nil {
		pipe.OnSensorFailure(err)
		return
	}

	go func() {
		if err := reader.Run(ctx, pipe.OnDirectionSample); err != nil {
			pipe.OnSensorFailure(err)
		}
	}()
}
