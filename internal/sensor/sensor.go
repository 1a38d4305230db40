package sensor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"github.com/Jxke/soundsight/internal/metrics"
)

// DefaultBaud matches the controller firmware.
const DefaultBaud = 115200

// maxLineLength bounds a line without a newline before it is discarded.
const maxLineLength = 4096

// portHints are substrings of USB serial device names.
var portHints = []string{"usbmodem", "usbserial", "ttyACM", "ttyUSB"}

// Sample is one direction reading.
type Sample struct {
	Direction  int       `json:"direction"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"-"`
}

// Handler receives parsed samples.
type Handler func(Sample)

type wireSample struct {
	Direction  *int     `json:"direction"`
	Confidence *float64 `json:"confidence"`
}

// ParseLine decodes one JSON line. Lines without a direction are rejected;
// a missing confidence reads as 0.
func ParseLine(line []byte, ts time.Time) (Sample, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Sample{}, fmt.Errorf("empty line")
	}

	var w wireSample
	if err := json.Unmarshal(line, &w); err != nil {
		return Sample{}, fmt.Errorf("invalid sensor line: %w", err)
	}
	if w.Direction == nil {
		return Sample{}, fmt.Errorf("sensor line has no direction: %s", line)
	}

	s := Sample{Direction: *w.Direction, Timestamp: ts}
	if w.Confidence != nil {
		s.Confidence = *w.Confidence
	}
	if s.Confidence < 0 || s.Confidence > 1 {
		return Sample{}, fmt.Errorf("confidence out of range: %f", s.Confidence)
	}
	return s, nil
}

// FindPort picks the first port that looks like a USB serial adapter.
func FindPort(ports []string) (string, bool) {
	for _, p := range ports {
		for _, hint := range portHints {
			if strings.Contains(p, hint) {
				return p, true
			}
		}
	}
	return "", false
}

// ListPorts returns the serial ports present on the system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}
	return ports, nil
}

// DetectPort auto-detects the controller port.
func DetectPort() (string, error) {
	ports, err := ListPorts()
	if err != nil {
		return "", err
	}
	port, ok := FindPort(ports)
	if !ok {
		return "", fmt.Errorf("no USB serial port found among %v", ports)
	}
	return port, nil
}

// Config configures the serial reader.
type Config struct {
	Port        string // auto-detected when empty
	Baud        int
	ReadTimeout time.Duration
}

// Reader streams samples from a serial port.
type Reader struct {
	config  Config
	logger  zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	open func(port string, baud int, timeout time.Duration) (io.ReadCloser, error)
}

// NewReader resolves the port and creates a reader. The port is opened by Run.
func NewReader(config Config, logger zerolog.Logger, m *metrics.Metrics) (*Reader, error) {
	if config.Baud <= 0 {
		config.Baud = DefaultBaud
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = time.Second
	}
	if config.Port == "" {
		port, err := DetectPort()
		if err != nil {
			return nil, err
		}
		logger.Info().Str("port", port).Msg("Found serial port")
		config.Port = port
	}

	return &Reader{
		config:  config,
		logger:  logger,
		metrics: m,
		now:     time.Now,
		open:    openSerial,
	}, nil
}

// Port returns the resolved port name.
func (r *Reader) Port() string {
	return r.config.Port
}

func openSerial(port string, baud int, timeout time.Duration) (io.ReadCloser, error) {
	p, err := serial.Open(port, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

// Run opens the port and delivers samples until ctx is cancelled or the
// port fails. It returns nil on cancellation.
func (r *Reader) Run(ctx context.Context, handler Handler) error {
	port, err := r.open(r.config.Port, r.config.Baud, r.config.ReadTimeout)
	if err != nil {
		r.metrics.RecordSensorError()
		return fmt.Errorf("failed to open serial port %s: %w", r.config.Port, err)
	}

	r.logger.Info().Str("port", r.config.Port).Int("baud", r.config.Baud).Msg("Connected to serial port")

	stop := context.AfterFunc(ctx, func() { port.Close() })
	defer func() {
		if stop() {
			port.Close()
		}
		r.logger.Info().Msg("Serial port closed")
	}()

	err = r.readLines(ctx, port, handler)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		r.metrics.RecordSensorError()
	}
	return err
}

// readLines splits src into lines and hands every valid sample to handler.
// A zero-byte read is treated as a read timeout.
func (r *Reader) readLines(ctx context.Context, src io.Reader, handler Handler) error {
	buf := make([]byte, 256)
	var line []byte

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		n, err := src.Read(buf)
		for _, b := range buf[:n] {
			if b != '\n' {
				line = append(line, b)
				if len(line) > maxLineLength {
					r.logger.Debug().Msg("Discarding overlong serial line")
					line = line[:0]
				}
				continue
			}

			r.handleLine(line, handler)
			line = line[:0]
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return fmt.Errorf("serial port closed")
			}
			return fmt.Errorf("serial read error: %w", err)
		}
	}
}

func (r *Reader) handleLine(line []byte, handler Handler) {
	if len(bytes.TrimSpace(line)) == 0 {
		return
	}

	sample, err := ParseLine(line, r.now())
	if err != nil {
		r.logger.Debug().Err(err).Msg("Failed to parse serial line")
		return
	}

	r.metrics.RecordDirectionSample()
	r.logger.Debug().Int("direction", sample.Direction).Float64("confidence", sample.Confidence).Msg("Direction sample")
	handler(sample)
}
