package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/metrics"
	"github.com/Jxke/soundsight/internal/protocol"
)

const transportClient = "tcp_client"

// ErrNotConnected is reported by Send when no connection is established.
var ErrNotConnected = errors.New("not connected")

// ClientConfig configures the reconnecting TCP client.
type ClientConfig struct {
	Host         string
	Port         int
	Format       protocol.Format
	Backoff      time.Duration // fixed delay between connection attempts
	WriteTimeout time.Duration
	DialTimeout  time.Duration
}

// MessageHandler receives each inbound frame payload.
type MessageHandler func(msg string)

// Client keeps a single outbound connection open, reconnecting after any
// failure.
type Client struct {
	config  ClientConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics
	handler MessageHandler

	conn net.Conn
	mu   sync.Mutex // guards conn and serializes writes

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	connects uint64
	sent     uint64
	dropped  uint64
	received uint64
	statsMu  sync.Mutex
}

// ClientStats represents client statistics.
type ClientStats struct {
	Connected  bool   `json:"connected"`
	Connects   uint64 `json:"connects"`
	FramesSent uint64 `json:"frames_sent"`
	Dropped    uint64 `json:"dropped"`
	Received   uint64 `json:"received"`
}

// NewClient creates a client. Start begins connecting.
func NewClient(config ClientConfig, logger zerolog.Logger, m *metrics.Metrics) *Client {
	if config.Format == "" {
		config.Format = protocol.FormatText
	}
	if config.Backoff <= 0 {
		config.Backoff = time.Second
	}
	if config.DialTimeout <= 0 {
		config.DialTimeout = 5 * time.Second
	}
	return &Client{
		config:  config,
		logger:  logger,
		metrics: m,
	}
}

// OnMessage installs a handler for inbound frames. It must be called before
// Start.
func (c *Client) OnMessage(handler MessageHandler) {
	c.handler = handler
}

// Start launches the reconnect loop and returns immediately.
func (c *Client) Start(ctx context.Context) error {
	if c.cancel != nil {
		return fmt.Errorf("client already started")
	}
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.run()

	return nil
}

// Stop cancels the reconnect loop and closes any open connection.
func (c *Client) Stop() error {
	if c.cancel == nil {
		return nil
	}
	c.cancel()
	c.closeConn(nil)
	c.wg.Wait()

	c.logger.Info().Msg("TCP caption client stopped")
	return nil
}

func (c *Client) address() string {
	return net.JoinHostPort(c.config.Host, strconv.Itoa(c.config.Port))
}

// run is the reconnect loop.
func (c *Client) run() {
	defer c.wg.Done()

	dialer := net.Dialer{Timeout: c.config.DialTimeout}
	addr := c.address()

	for {
		conn, err := dialer.DialContext(c.ctx, "tcp", addr)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn().Str("address", addr).Err(err).Dur("backoff", c.config.Backoff).Msg("Connection failed, retrying")
		} else {
			c.session(conn)
			if c.ctx.Err() != nil {
				return
			}
			c.logger.Warn().Str("address", addr).Dur("backoff", c.config.Backoff).Msg("Connection lost, reconnecting")
		}

		c.metrics.RecordReconnect()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.config.Backoff):
		}
	}
}

// session publishes conn for Broadcast and drains it until it fails.
func (c *Client) session(conn net.Conn) {
	c.mu.Lock()
	if c.ctx.Err() != nil {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()
	c.metrics.SetConnections(transportClient, 1)

	c.statsMu.Lock()
	c.connects++
	c.statsMu.Unlock()

	c.logger.Info().Str("address", conn.RemoteAddr().String()).Msg("Connected to caption server")

	scanner := protocol.NewScanner()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			scanner.Feed(buf[:n])
			for _, msg := range scanner.Messages() {
				c.statsMu.Lock()
				c.received++
				c.statsMu.Unlock()

				c.logger.Debug().Str("message", msg).Msg("Received frame")
				if c.handler != nil {
					c.handler(msg)
				}
			}
		}
		if err != nil {
			c.logger.Debug().Err(err).Msg("Read ended")
			break
		}
	}

	c.closeConn(conn)
}

// closeConn closes and clears the current connection. When only is non-nil
// the connection is cleared only if it is still current.
func (c *Client) closeConn(only net.Conn) {
	c.mu.Lock()
	conn := c.conn
	if conn != nil && (only == nil || conn == only) {
		c.conn = nil
	}
	c.mu.Unlock()

	if only != nil {
		only.Close()
	} else if conn != nil {
		conn.Close()
	}
	if conn != nil {
		c.metrics.SetConnections(transportClient, 0)
	}
}

// Broadcast sends ev over the current connection. Without a connection the
// caption is logged and dropped.
func (c *Client) Broadcast(ctx context.Context, ev *caption.Event) error {
	payload, err := protocol.MarshalCaption(ev, c.config.Format)
	if err != nil {
		return err
	}

	err = c.Send(payload)
	if errors.Is(err, ErrNotConnected) {
		c.logger.Debug().Str("caption", ev.String()).Msg("Not connected, dropping caption")
		return nil
	}
	return err
}

// Send writes one framed payload. A write failure closes the connection so
// the reconnect loop takes over.
func (c *Client) Send(payload string) error {
	frame := protocol.Encode(payload)

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.mu.Unlock()
		c.statsMu.Lock()
		c.dropped++
		c.statsMu.Unlock()
		return ErrNotConnected
	}

	var err error
	if c.config.WriteTimeout > 0 {
		err = conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	}
	if err == nil {
		_, err = conn.Write(frame)
	}
	if err != nil {
		c.conn = nil
	}
	c.mu.Unlock()

	if err != nil {
		conn.Close()
		c.metrics.RecordSendFailure(transportClient)
		c.statsMu.Lock()
		c.dropped++
		c.statsMu.Unlock()
		return fmt.Errorf("failed to send frame: %w", err)
	}

	c.metrics.RecordFrameSent(transportClient)
	c.statsMu.Lock()
	c.sent++
	c.statsMu.Unlock()
	return nil
}

// Connected reports whether a connection is currently established.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

// Stats returns client statistics.
func (c *Client) Stats() ClientStats {
	connected := c.Connected()

	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	return ClientStats{
		Connected:  connected,
		Connects:   c.connects,
		FramesSent: c.sent,
		Dropped:    c.dropped,
		Received:   c.received,
	}
}
