package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/metrics"
	"github.com/Jxke/soundsight/internal/protocol"
)

const (
	transportTCP   = "tcp"
	readBufferSize = 4096
)

// ServerConfig configures the TCP fan-out server.
type ServerConfig struct {
	BindAddress  string
	Port         int // 0 picks a free port
	Format       protocol.Format
	WriteTimeout time.Duration // per-connection write deadline; 0 disables it
	ReplayLast   bool          // send the latest caption to new clients
}

// Server accepts display clients and fans captions out to all of them.
type Server struct {
	config  ServerConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics

	listener net.Listener

	peers map[string]*peer
	last  []byte
	mu    sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Statistics
	accepted uint64
	removed  uint64
	sent     uint64
	failed   uint64
	relayed  uint64
	statsMu  sync.Mutex
}

// peer is one connected client. Writes are serialized by writeMu.
type peer struct {
	id      string
	conn    net.Conn
	writeMu sync.Mutex
}

// ServerStats represents server statistics.
type ServerStats struct {
	Connections int    `json:"connections"`
	Accepted    uint64 `json:"accepted"`
	Removed     uint64 `json:"removed"`
	FramesSent  uint64 `json:"frames_sent"`
	SendFailed  uint64 `json:"send_failed"`
	Relayed     uint64 `json:"relayed"`
}

// NewServer creates a TCP server. Start must be called before use.
func NewServer(config ServerConfig, logger zerolog.Logger, m *metrics.Metrics) *Server {
	if config.Format == "" {
		config.Format = protocol.FormatText
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		config:  config,
		logger:  logger,
		metrics: m,
		peers:   make(map[string]*peer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start listens and begins accepting clients.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.BindAddress, strconv.Itoa(s.config.Port))

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.cancel()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.listener = listener

	s.logger.Info().
		Str("address", listener.Addr().String()).
		Str("format", string(s.config.Format)).
		Bool("replay_last", s.config.ReplayLast).
		Msg("TCP caption server started")

	s.wg.Add(1)
	go s.acceptLoop()

	return nil
}

// Addr returns the listening address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every client connection.
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping TCP caption server...")

	s.cancel()

	var err error
	if s.listener != nil {
		if closeErr := s.listener.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = fmt.Errorf("failed to close listener: %w", closeErr)
		}
	}

	s.mu.Lock()
	for id, p := range s.peers {
		p.conn.Close()
		delete(s.peers, id)
	}
	s.mu.Unlock()
	s.metrics.SetConnections(transportTCP, 0)

	s.wg.Wait()

	stats := s.Stats()
	s.logger.Info().
		Uint64("accepted", stats.Accepted).
		Uint64("frames_sent", stats.FramesSent).
		Uint64("send_failed", stats.SendFailed).
		Uint64("relayed", stats.Relayed).
		Msg("TCP caption server stopped")

	return err
}

// acceptLoop accepts clients until the listener is closed.
func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error().Err(err).Msg("Failed to accept connection")
			time.Sleep(50 * time.Millisecond)
			continue
		}

		s.addPeer(conn)
	}
}

// addPeer registers conn and starts its receive loop, which also replays the
// latest caption. Once the server is stopping conn is closed and nil returned.
func (s *Server) addPeer(conn net.Conn) *peer {
	p := &peer{
		id:   uuid.NewString(),
		conn: conn,
	}

	s.mu.Lock()
	if s.ctx.Err() != nil {
		s.mu.Unlock()
		conn.Close()
		return nil
	}
	s.peers[p.id] = p
	count := len(s.peers)
	last := s.last
	s.mu.Unlock()

	s.statsMu.Lock()
	s.accepted++
	s.statsMu.Unlock()
	s.metrics.SetConnections(transportTCP, count)

	s.logger.Info().
		Str("conn_id", p.id).
		Str("remote_addr", conn.RemoteAddr().String()).
		Int("connections", count).
		Msg("Client connected")

	if !s.config.ReplayLast {
		last = nil
	}

	s.wg.Add(1)
	go s.receiveLoop(p, last)

	return p
}

// removePeer drops and closes a connection. It is safe to call twice.
func (s *Server) removePeer(id string) {
	s.mu.Lock()
	p, ok := s.peers[id]
	if ok {
		delete(s.peers, id)
	}
	count := len(s.peers)
	s.mu.Unlock()

	if !ok {
		return
	}

	p.conn.Close()

	s.statsMu.Lock()
	s.removed++
	s.statsMu.Unlock()
	s.metrics.SetConnections(transportTCP, count)

	s.logger.Info().Str("conn_id", id).Int("connections", count).Msg("Client disconnected")
}

// receiveLoop replays the latest caption, if any, and then relays every
// inbound frame to the other peers.
func (s *Server) receiveLoop(p *peer, replay []byte) {
	defer s.wg.Done()
	defer s.removePeer(p.id)

	if replay != nil {
		if err := s.write(p, replay); err != nil {
			s.logger.Warn().Str("conn_id", p.id).Err(err).Msg("Failed to replay last caption")
			return
		}
	}

	scanner := protocol.NewScanner()
	buf := make([]byte, readBufferSize)

	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			scanner.Feed(buf[:n])
			for _, msg := range scanner.Messages() {
				s.logger.Debug().Str("conn_id", p.id).Str("message", msg).Msg("Relaying frame")
				s.sendAll(protocol.Encode(msg), p.id)

				s.statsMu.Lock()
				s.relayed++
				s.statsMu.Unlock()
				s.metrics.RecordFrameRelayed()
			}
			if pending := scanner.Buffered(); pending > 0 {
				s.logger.Debug().Str("conn_id", p.id).Int("pending_bytes", pending).Msg("Partial frame buffered")
			}
		}
		if err != nil {
			select {
			case <-s.ctx.Done():
			default:
				s.logger.Debug().Str("conn_id", p.id).Err(err).Msg("Client read ended")
			}
			return
		}
	}
}

// Broadcast serializes ev once and writes it to every client.
func (s *Server) Broadcast(ctx context.Context, ev *caption.Event) error {
	payload, err := protocol.MarshalCaption(ev, s.config.Format)
	if err != nil {
		return err
	}
	frame := protocol.Encode(payload)

	s.mu.Lock()
	s.last = frame
	s.mu.Unlock()

	delivered := s.sendAll(frame, "")
	s.logger.Debug().Int("delivered", delivered).Str("caption", ev.String()).Msg("Caption broadcast")
	return nil
}

// sendAll writes frame to every peer except the one with id skip and returns
// the number of successful writes. Failed peers are removed.
func (s *Server) sendAll(frame []byte, skip string) int {
	s.mu.RLock()
	targets := make([]*peer, 0, len(s.peers))
	for id, p := range s.peers {
		if id != skip {
			targets = append(targets, p)
		}
	}
	s.mu.RUnlock()

	delivered := 0
	for _, p := range targets {
		if err := s.write(p, frame); err != nil {
			s.logger.Warn().Str("conn_id", p.id).Err(err).Msg("Send failed, dropping client")

			s.statsMu.Lock()
			s.failed++
			s.statsMu.Unlock()
			s.metrics.RecordSendFailure(transportTCP)

			s.removePeer(p.id)
			continue
		}

		delivered++
		s.statsMu.Lock()
		s.sent++
		s.statsMu.Unlock()
		s.metrics.RecordFrameSent(transportTCP)
	}

	return delivered
}

func (s *Server) write(p *peer, frame []byte) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if s.config.WriteTimeout > 0 {
		if err := p.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout)); err != nil {
			return fmt.Errorf("failed to set write deadline: %w", err)
		}
	}

	if _, err := p.conn.Write(frame); err != nil {
		return fmt.Errorf("write to %s: %w", p.id, err)
	}
	return nil
}

// Connections returns the number of connected clients.
func (s *Server) Connections() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.peers)
}

// Stats returns server statistics.
func (s *Server) Stats() ServerStats {
	conns := s.Connections()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()

	return ServerStats{
		Connections: conns,
		Accepted:    s.accepted,
		Removed:     s.removed,
		FramesSent:  s.sent,
		SendFailed:  s.failed,
		Relayed:     s.relayed,
	}
}
