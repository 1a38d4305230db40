package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/caption"
	"github.com/Jxke/soundsight/internal/metrics"
	"github.com/Jxke/soundsight/internal/protocol"
)

const (
	transportWS = "websocket"

	defaultWSPath       = "/ws"
	defaultPingInterval = 20 * time.Second
	defaultWSWrite      = 5 * time.Second
)

// WebSocketConfig configures the WebSocket broadcaster.
type WebSocketConfig struct {
	BindAddress  string
	Port         int // 0 picks a free port
	Path         string
	Format       protocol.Format
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// WebSocketServer pushes caption payloads to WebSocket clients. Payloads are
// sent as text messages without S/E framing.
type WebSocketServer struct {
	config  WebSocketConfig
	logger  zerolog.Logger
	metrics *metrics.Metrics

	upgrader websocket.Upgrader
	server   *http.Server
	listener net.Listener

	clients map[string]*wsClient
	mu      sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type wsClient struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// NewWebSocketServer creates a WebSocket broadcaster.
func NewWebSocketServer(config WebSocketConfig, logger zerolog.Logger, m *metrics.Metrics) *WebSocketServer {
	if config.Path == "" {
		config.Path = defaultWSPath
	}
	if config.Format == "" {
		config.Format = protocol.FormatJSON
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWSWrite
	}
	if config.PingInterval <= 0 {
		config.PingInterval = defaultPingInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &WebSocketServer{
		config:  config,
		logger:  logger,
		metrics: m,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[string]*wsClient),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Handler returns the router serving the WebSocket endpoint.
func (w *WebSocketServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get(w.config.Path, w.handleUpgrade)
	return r
}

// Start listens on the configured address.
func (w *WebSocketServer) Start(ctx context.Context) error {
	addr := net.JoinHostPort(w.config.BindAddress, strconv.Itoa(w.config.Port))

	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	w.cancel()
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.listener = listener
	w.server = &http.Server{
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		if err := w.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error().Err(err).Msg("WebSocket server failed")
		}
	}()

	w.logger.Info().
		Str("address", listener.Addr().String()).
		Str("path", w.config.Path).
		Msg("WebSocket caption server started")

	return nil
}

// Addr returns the listening address, or nil before Start.
func (w *WebSocketServer) Addr() net.Addr {
	if w.listener == nil {
		return nil
	}
	return w.listener.Addr()
}

// Stop shuts the HTTP server down and closes every client.
func (w *WebSocketServer) Stop() error {
	w.cancel()

	var err error
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = w.server.Shutdown(ctx)
	}

	w.mu.Lock()
	clients := make([]*wsClient, 0, len(w.clients))
	for _, c := range w.clients {
		clients = append(clients, c)
	}
	w.mu.Unlock()
	for _, c := range clients {
		w.removeClient(c)
	}

	w.wg.Wait()
	w.logger.Info().Msg("WebSocket caption server stopped")
	return err
}

func (w *WebSocketServer) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	conn, err := w.upgrader.Upgrade(rw, r, nil)
	if err != nil {
		w.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		done: make(chan struct{}),
	}

	w.mu.Lock()
	w.clients[c.id] = c
	count := len(w.clients)
	w.mu.Unlock()
	w.metrics.SetConnections(transportWS, count)

	w.logger.Info().
		Str("conn_id", c.id).
		Str("remote_addr", r.RemoteAddr).
		Int("connections", count).
		Msg("WebSocket client connected")

	w.wg.Add(2)
	go w.readLoop(c)
	go w.pingLoop(c)
}

// readLoop discards inbound messages and detects disconnects.
func (w *WebSocketServer) readLoop(c *wsClient) {
	defer w.wg.Done()
	defer w.removeClient(c)

	c.conn.SetReadDeadline(time.Now().Add(2 * w.config.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * w.config.PingInterval))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (w *WebSocketServer) pingLoop(c *wsClient) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			deadline := time.Now().Add(w.config.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, []byte("ping"), deadline); err != nil {
				w.logger.Debug().Str("conn_id", c.id).Err(err).Msg("Ping failed")
				w.removeClient(c)
				return
			}
		}
	}
}

func (w *WebSocketServer) removeClient(c *wsClient) {
	c.once.Do(func() {
		w.mu.Lock()
		delete(w.clients, c.id)
		count := len(w.clients)
		w.mu.Unlock()

		close(c.done)
		c.conn.Close()
		w.metrics.SetConnections(transportWS, count)
		w.logger.Info().Str("conn_id", c.id).Int("connections", count).Msg("WebSocket client disconnected")
	})
}

// Broadcast sends ev to every connected client.
func (w *WebSocketServer) Broadcast(ctx context.Context, ev *caption.Event) error {
	payload, err := protocol.MarshalCaption(ev, w.config.Format)
	if err != nil {
		return err
	}
	msg := []byte(payload)

	w.mu.RLock()
	targets := make([]*wsClient, 0, len(w.clients))
	for _, c := range w.clients {
		targets = append(targets, c)
	}
	w.mu.RUnlock()

	for _, c := range targets {
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(w.config.WriteTimeout))
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.writeMu.Unlock()

		if err != nil {
			w.logger.Warn().Str("conn_id", c.id).Err(err).Msg("WebSocket send failed, dropping client")
			w.metrics.RecordSendFailure(transportWS)
			w.removeClient(c)
			continue
		}
		w.metrics.RecordFrameSent(transportWS)
	}

	return nil
}

// Connections returns the number of connected clients.
func (w *WebSocketServer) Connections() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.clients)
}
