package config

import (
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, so
// transport.port is read from SOUNDSIGHT_TRANSPORT_PORT.
const EnvPrefix = "SOUNDSIGHT"

// applyEnv overlays environment variables onto cfg. Only variables that are
// present and non-empty take effect.
func applyEnv(cfg *Config) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, target := range envBindings(cfg) {
		if !v.IsSet(key) {
			continue
		}
		switch p := target.(type) {
		case *string:
			*p = v.GetString(key)
		case *int:
			*p = v.GetInt(key)
		case *float64:
			*p = v.GetFloat64(key)
		case *bool:
			*p = v.GetBool(key)
		case *[]string:
			*p = splitList(v.GetString(key))
		}
	}
}

func envBindings(c *Config) map[string]any {
	return map[string]any{
		"audio.sample_rate":    &c.Audio.SampleRate,
		"audio.chunk_duration": &c.Audio.ChunkDuration,
		"audio.source":         &c.Audio.Source,
		"audio.device":         &c.Audio.Device,
		"audio.file":           &c.Audio.File,
		"audio.realtime":       &c.Audio.Realtime,

		"vad.start_threshold":    &c.VAD.StartThreshold,
		"vad.stop_threshold":     &c.VAD.StopThreshold,
		"vad.hangover_blocks":    &c.VAD.HangoverBlocks,
		"vad.max_speech_seconds": &c.VAD.MaxSpeechSeconds,

		"gating.enabled":             &c.Gating.Enabled,
		"gating.direction_stable_ms": &c.Gating.DirectionStableMS,
		"gating.min_confidence":      &c.Gating.MinConfidence,
		"gating.min_energy":          &c.Gating.MinEnergy,

		"sensor.enabled": &c.Sensor.Enabled,
		"sensor.port":    &c.Sensor.Port,
		"sensor.baud":    &c.Sensor.Baud,

		"transcription.backend":        &c.Transcription.Backend,
		"transcription.endpoint":       &c.Transcription.Endpoint,
		"transcription.api_key":        &c.Transcription.APIKey,
		"transcription.model":          &c.Transcription.Model,
		"transcription.language":       &c.Transcription.Language,
		"transcription.timeout":        &c.Transcription.Timeout,
		"transcription.max_retries":    &c.Transcription.MaxRetries,
		"transcription.max_concurrent": &c.Transcription.MaxConcurrent,
		"transcription.upload_format":  &c.Transcription.UploadFormat,
		"transcription.cli_path":       &c.Transcription.CLIPath,
		"transcription.model_path":     &c.Transcription.ModelPath,
		"transcription.static_text":    &c.Transcription.StaticText,

		"classification.backend": &c.Classification.Backend,
		"classification.command": &c.Classification.Command,
		"classification.args":    &c.Classification.Args,
		"classification.timeout": &c.Classification.Timeout,

		"transport.mode":              &c.Transport.Mode,
		"transport.bind_address":      &c.Transport.BindAddress,
		"transport.port":              &c.Transport.Port,
		"transport.host":              &c.Transport.Host,
		"transport.message_format":    &c.Transport.MessageFormat,
		"transport.reconnect_backoff": &c.Transport.ReconnectBackoff,
		"transport.write_timeout":     &c.Transport.WriteTimeout,
		"transport.replay_last":       &c.Transport.ReplayLast,
		"transport.ws_path":           &c.Transport.WSPath,

		"events.enabled":   &c.Events.Enabled,
		"events.brokers":   &c.Events.Brokers,
		"events.topic":     &c.Events.Topic,
		"events.client_id": &c.Events.ClientID,

		"http.enabled": &c.HTTP.Enabled,
		"http.address": &c.HTTP.Address,
		"http.port":    &c.HTTP.Port,

		"pipeline.workers":             &c.Pipeline.Workers,
		"pipeline.queue_size":          &c.Pipeline.QueueSize,
		"pipeline.classify_floor":      &c.Pipeline.ClassifyFloor,
		"pipeline.energy_log_interval": &c.Pipeline.EnergyLogInterval,

		"logging.level":  &c.Logging.Level,
		"logging.format": &c.Logging.Format,
		"logging.output": &c.Logging.Output,
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
