package transcription

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/audio"
)

// timingPattern matches whisper.cpp segment timings such as
// "[00:00:00.000 --> 00:00:01.000]".
var timingPattern = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}\.\d{3}\s*-->\s*\d{2}:\d{2}:\d{2}\.\d{3}\]`)

// WhisperConfig configures the local whisper.cpp backend.
type WhisperConfig struct {
	CLIPath   string
	ModelPath string
	Language  string
	Timeout   time.Duration
}

// WhisperCLI transcribes segments by running whisper.cpp on a temporary WAV
// file.
type WhisperCLI struct {
	config WhisperConfig
	logger zerolog.Logger
}

// NewWhisperCLI checks that the binary and model exist.
func NewWhisperCLI(config WhisperConfig, logger zerolog.Logger) (*WhisperCLI, error) {
	if _, err := os.Stat(config.CLIPath); err != nil {
		return nil, fmt.Errorf("whisper-cli not found at %s: %w", config.CLIPath, err)
	}
	if _, err := os.Stat(config.ModelPath); err != nil {
		return nil, fmt.Errorf("whisper model not found at %s: %w", config.ModelPath, err)
	}
	if config.Language == "" {
		config.Language = "en"
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}

	logger.Info().
		Str("cli", config.CLIPath).
		Str("model", config.ModelPath).
		Msg("Whisper backend initialized")

	return &WhisperCLI{config: config, logger: logger}, nil
}

// Name returns the backend name.
func (w *WhisperCLI) Name() string {
	return "whisper"
}

// Transcribe runs the CLI and returns its output with timing markers removed.
func (w *WhisperCLI) Transcribe(ctx context.Context, segment *audio.Segment) (string, error) {
	data, _, err := encodeSegment(segment, FormatWAV)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp("", "soundsight-*.wav")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, w.config.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, w.config.CLIPath,
		"-m", w.config.ModelPath,
		"-f", tmpPath,
		"-l", w.config.Language,
		"--no-timestamps",
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	w.logger.Debug().Strs("args", cmd.Args).Msg("Running whisper")

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("whisper timed out after %v", w.config.Timeout)
		}
		return "", fmt.Errorf("whisper failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	return CleanWhisperOutput(stdout.String()), nil
}

// CleanWhisperOutput strips timing markers and surrounding whitespace.
func CleanWhisperOutput(out string) string {
	return strings.TrimSpace(timingPattern.ReplaceAllString(out, ""))
}
