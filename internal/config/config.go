package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Audio          AudioConfig          `yaml:"audio"`
	VAD            VADConfig            `yaml:"vad"`
	Gating         GatingConfig         `yaml:"gating"`
	Sensor         SensorConfig         `yaml:"sensor"`
	Transcription  TranscriptionConfig  `yaml:"transcription"`
	Classification ClassificationConfig `yaml:"classification"`
	Transport      TransportConfig      `yaml:"transport"`
	Events         EventsConfig         `yaml:"events"`
	HTTP           HTTPConfig           `yaml:"http"`
	Pipeline       PipelineConfig       `yaml:"pipeline"`
	Logging        LoggingConfig        `yaml:"logging"`
}

// AudioConfig contains capture parameters
type AudioConfig struct {
	SampleRate    int     `yaml:"sample_rate"`
	ChunkDuration float64 `yaml:"chunk_duration"` // seconds
	Source        string  `yaml:"source"`         // device or file
	Device        string  `yaml:"device"`         // substring of the capture device name
	File          string  `yaml:"file"`
	Realtime      bool    `yaml:"realtime"`
}

// VADConfig contains the energy segmenter thresholds
type VADConfig struct {
	StartThreshold   float64 `yaml:"start_threshold"`
	StopThreshold    float64 `yaml:"stop_threshold"`
	HangoverBlocks   int     `yaml:"hangover_blocks"`
	MaxSpeechSeconds float64 `yaml:"max_speech_seconds"`
}

// GatingConfig contains direction/energy gate parameters
type GatingConfig struct {
	Enabled           bool    `yaml:"enabled"`
	DirectionStableMS int     `yaml:"direction_stable_ms"`
	MinConfidence     float64 `yaml:"min_confidence"`
	MinEnergy         float64 `yaml:"min_energy"`
}

// SensorConfig contains the serial direction sensor settings
type SensorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Port    string `yaml:"port"` // auto-detected when empty
	Baud    int    `yaml:"baud"`
}

// TranscriptionConfig contains speech-to-text backend configuration
type TranscriptionConfig struct {
	Backend       string `yaml:"backend"` // http, whisper, google, static, none
	Endpoint      string `yaml:"endpoint"`
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	Language      string `yaml:"language"`
	Timeout       int    `yaml:"timeout"` // seconds
	MaxRetries    int    `yaml:"max_retries"`
	MaxConcurrent int    `yaml:"max_concurrent"`
	UploadFormat  string `yaml:"upload_format"` // wav or flac
	CLIPath       string `yaml:"cli_path"`
	ModelPath     string `yaml:"model_path"`
	StaticText    string `yaml:"static_text"`
}

// ClassificationConfig contains sound-event classifier configuration
type ClassificationConfig struct {
	Backend string   `yaml:"backend"` // energy, command, none
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
	Timeout int      `yaml:"timeout"` // seconds
}

// TransportConfig contains caption broadcast settings
type TransportConfig struct {
	Mode             string  `yaml:"mode"` // server, client, websocket
	BindAddress      string  `yaml:"bind_address"`
	Port             int     `yaml:"port"`
	Host             string  `yaml:"host"`
	MessageFormat    string  `yaml:"message_format"`    // text or json
	ReconnectBackoff float64 `yaml:"reconnect_backoff"` // seconds
	WriteTimeout     float64 `yaml:"write_timeout"`     // seconds
	ReplayLast       bool    `yaml:"replay_last"`
	WSPath           string  `yaml:"ws_path"`
}

// EventsConfig contains the Kafka caption mirror settings
type EventsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// HTTPConfig contains monitoring API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// PipelineConfig contains orchestrator scheduling parameters
type PipelineConfig struct {
	Workers           int     `yaml:"workers"`
	QueueSize         int     `yaml:"queue_size"`
	ClassifyFloor     float64 `yaml:"classify_floor"`
	EnergyLogInterval float64 `yaml:"energy_log_interval"` // seconds
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used before the file and environment are applied.
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate:    16000,
			ChunkDuration: 0.5,
			Source:        "device",
			Realtime:      true,
		},
		VAD: VADConfig{
			StartThreshold:   0.02,
			StopThreshold:    0.01,
			HangoverBlocks:   3,
			MaxSpeechSeconds: 15,
		},
		Gating: GatingConfig{
			Enabled:           true,
			DirectionStableMS: 400,
			MinConfidence:     0.20,
			MinEnergy:         0.015,
		},
		Sensor: SensorConfig{
			Enabled: true,
			Baud:    115200,
		},
		Transcription: TranscriptionConfig{
			Backend:       "http",
			Endpoint:      "https://api.elevenlabs.io/v1/speech-to-text",
			Model:         "scribe_v1",
			Timeout:       30,
			MaxRetries:    2,
			MaxConcurrent: 4,
			UploadFormat:  "wav",
			CLIPath:       "whisper-cli",
		},
		Classification: ClassificationConfig{
			Backend: "energy",
			Timeout: 10,
		},
		Transport: TransportConfig{
			Mode:             "server",
			BindAddress:      "0.0.0.0",
			Port:             7000,
			Host:             "127.0.0.1",
			MessageFormat:    "text",
			ReconnectBackoff: 1.0,
			WriteTimeout:     2.0,
			ReplayLast:       true,
			WSPath:           "/ws",
		},
		Events: EventsConfig{
			Topic:    "soundsight.captions",
			ClientID: "soundsight",
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "0.0.0.0",
			Enabled: true,
		},
		Pipeline: PipelineConfig{
			Workers:           4,
			QueueSize:         64,
			ClassifyFloor:     0.01,
			EnergyLogInterval: 2.0,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
	}
}

// Load reads the configuration file over the defaults, applies
// SOUNDSIGHT_* environment overrides and validates the result.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnv(config)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Gating.Validate(); err != nil {
		return fmt.Errorf("gating config: %w", err)
	}

	if err := c.Sensor.Validate(); err != nil {
		return fmt.Errorf("sensor config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Classification.Validate(); err != nil {
		return fmt.Errorf("classification config: %w", err)
	}

	if err := c.Transport.Validate(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.Events.Validate(); err != nil {
		return fmt.Errorf("events config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.ChunkDuration <= 0 || a.ChunkDuration > 5 {
		return fmt.Errorf("chunk_duration must be in (0, 5] seconds, got %f", a.ChunkDuration)
	}

	switch a.Source {
	case "device":
	case "file":
		if a.File == "" {
			return fmt.Errorf("file cannot be empty when source is 'file'")
		}
	default:
		return fmt.Errorf("source must be 'device' or 'file', got '%s'", a.Source)
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if v.StopThreshold <= 0 {
		return fmt.Errorf("stop_threshold must be positive, got %f", v.StopThreshold)
	}

	if v.StartThreshold < v.StopThreshold {
		return fmt.Errorf("start_threshold (%f) must not be below stop_threshold (%f)",
			v.StartThreshold, v.StopThreshold)
	}

	if v.HangoverBlocks < 1 {
		return fmt.Errorf("hangover_blocks must be at least 1, got %d", v.HangoverBlocks)
	}

	if v.MaxSpeechSeconds < 0 {
		return fmt.Errorf("max_speech_seconds cannot be negative, got %f", v.MaxSpeechSeconds)
	}

	return nil
}

// Validate validates gating configuration
func (g *GatingConfig) Validate() error {
	if g.DirectionStableMS < 0 {
		return fmt.Errorf("direction_stable_ms cannot be negative, got %d", g.DirectionStableMS)
	}

	if g.MinConfidence < 0 || g.MinConfidence > 1 {
		return fmt.Errorf("min_confidence must be between 0 and 1, got %f", g.MinConfidence)
	}

	if g.MinEnergy < 0 {
		return fmt.Errorf("min_energy cannot be negative, got %f", g.MinEnergy)
	}

	return nil
}

// Validate validates sensor configuration
func (s *SensorConfig) Validate() error {
	if s.Enabled && s.Baud <= 0 {
		return fmt.Errorf("baud must be positive, got %d", s.Baud)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Backend {
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http backend")
		}
	case "whisper":
		if t.CLIPath == "" {
			return fmt.Errorf("cli_path cannot be empty for the whisper backend")
		}
		if t.ModelPath == "" {
			return fmt.Errorf("model_path cannot be empty for the whisper backend")
		}
	case "google", "static", "none":
	default:
		return fmt.Errorf("backend must be one of [http, whisper, google, static, none], got '%s'", t.Backend)
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	validFormats := map[string]bool{"wav": true, "flac": true}
	if !validFormats[t.UploadFormat] {
		return fmt.Errorf("upload_format must be 'wav' or 'flac', got '%s'", t.UploadFormat)
	}

	return nil
}

// Validate validates classification configuration
func (c *ClassificationConfig) Validate() error {
	switch c.Backend {
	case "energy", "none":
	case "command":
		if c.Command == "" {
			return fmt.Errorf("command cannot be empty for the command backend")
		}
	default:
		return fmt.Errorf("backend must be one of [energy, command, none], got '%s'", c.Backend)
	}

	if c.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", c.Timeout)
	}

	return nil
}

// Validate validates transport configuration
func (t *TransportConfig) Validate() error {
	switch t.Mode {
	case "server", "websocket":
		if t.BindAddress == "" {
			return fmt.Errorf("bind_address cannot be empty in %s mode", t.Mode)
		}
	case "client":
		if t.Host == "" {
			return fmt.Errorf("host cannot be empty in client mode")
		}
	default:
		return fmt.Errorf("mode must be one of [server, client, websocket], got '%s'", t.Mode)
	}

	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", t.Port)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[t.MessageFormat] {
		return fmt.Errorf("message_format must be 'json' or 'text', got '%s'", t.MessageFormat)
	}

	if t.ReconnectBackoff <= 0 {
		return fmt.Errorf("reconnect_backoff must be positive, got %f", t.ReconnectBackoff)
	}

	if t.WriteTimeout <= 0 {
		return fmt.Errorf("write_timeout must be positive, got %f", t.WriteTimeout)
	}

	if t.Mode == "websocket" && (t.WSPath == "" || t.WSPath[0] != '/') {
		return fmt.Errorf("ws_path must start with '/', got '%s'", t.WSPath)
	}

	return nil
}

// Validate validates Kafka mirror configuration
func (e *EventsConfig) Validate() error {
	if !e.Enabled {
		return nil
	}

	if len(e.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty when events are enabled")
	}

	if e.Topic == "" {
		return fmt.Errorf("topic cannot be empty when events are enabled")
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates pipeline configuration
func (p *PipelineConfig) Validate() error {
	if p.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", p.Workers)
	}

	if p.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", p.QueueSize)
	}

	if p.ClassifyFloor < 0 {
		return fmt.Errorf("classify_floor cannot be negative, got %f", p.ClassifyFloor)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'console', got '%s'", l.Format)
	}

	return nil
}

// GetChunkSamples returns the number of samples in one audio chunk
func (a *AudioConfig) GetChunkSamples() int {
	return int(float64(a.SampleRate) * a.ChunkDuration)
}

// GetChunkDuration returns the chunk cadence as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetMaxSpeechDuration returns the segment force-close limit as a time.Duration
func (v *VADConfig) GetMaxSpeechDuration() time.Duration {
	return time.Duration(v.MaxSpeechSeconds * float64(time.Second))
}

// GetStableWindow returns the direction stability window as a time.Duration
func (g *GatingConfig) GetStableWindow() time.Duration {
	return time.Duration(g.DirectionStableMS) * time.Millisecond
}

// GetTimeoutDuration returns the transcription timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetTimeoutDuration returns the classifier timeout as a time.Duration
func (c *ClassificationConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// GetReconnectBackoff returns the client reconnect delay as a time.Duration
func (t *TransportConfig) GetReconnectBackoff() time.Duration {
	return time.Duration(t.ReconnectBackoff * float64(time.Second))
}

// GetWriteTimeout returns the per-connection write deadline as a time.Duration
func (t *TransportConfig) GetWriteTimeout() time.Duration {
	return time.Duration(t.WriteTimeout * float64(time.Second))
}

// GetEnergyLogInterval returns the energy log throttle as a time.Duration
func (p *PipelineConfig) GetEnergyLogInterval() time.Duration {
	return time.Duration(p.EnergyLogInterval * float64(time.Second))
}
