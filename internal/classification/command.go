package classification

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/audio"
)

// CommandConfig configures an external classifier process.
type CommandConfig struct {
	Path    string
	Args    []string // passed before the WAV file path
	Timeout time.Duration
}

// Command runs an external program on a temporary WAV file and uses the first
// non-empty line of its output as the label.
type Command struct {
	config CommandConfig
	logger zerolog.Logger
}

// NewCommand validates the executable path.
func NewCommand(config CommandConfig, logger zerolog.Logger) (*Command, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("classifier command cannot be empty")
	}
	if _, err := exec.LookPath(config.Path); err != nil {
		return nil, fmt.Errorf("classifier command not found: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	return &Command{config: config, logger: logger}, nil
}

// Name returns the backend name.
func (c *Command) Name() string {
	return "command"
}

// Classify writes the chunk to disk and runs the command on it.
func (c *Command) Classify(ctx context.Context, chunk audio.Chunk) (string, error) {
	data, err := audio.EncodeWAVFloat(chunk.Samples, chunk.SampleRate)
	if err != nil {
		return "", fmt.Errorf("failed to encode chunk: %w", err)
	}

	tmp, err := os.CreateTemp("", "soundsight-event-*.wav")
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

	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	args := append(append([]string{}, c.config.Args...), tmpPath)
	cmd := exec.CommandContext(ctx, c.config.Path, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return "", fmt.Errorf("classifier timed out after %v", c.config.Timeout)
		}
		return "", fmt.Errorf("classifier failed: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	for _, line := range strings.Split(stdout.String(), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line, nil
		}
	}
	return "", nil
}
