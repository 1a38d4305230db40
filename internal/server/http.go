package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/Jxke/soundsight/internal/config"
	"github.com/Jxke/soundsight/internal/metrics"
)

// StatsFunc returns a JSON-encodable snapshot of one component.
type StatsFunc func() any

// CheckFunc reports a component as unhealthy by returning an error.
type CheckFunc func() error

// HTTPServer provides HTTP API endpoints for monitoring
type HTTPServer struct {
	server   *http.Server
	router   chi.Router
	listener net.Listener
	logger   zerolog.Logger
	config   *config.Config
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	version  string

	stats  map[string]StatsFunc
	checks map[string]CheckFunc

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server. A nil gatherer serves the
// default Prometheus registry.
func NewHTTPServer(appConfig *config.Config, version string, logger zerolog.Logger,
	m *metrics.Metrics, gatherer prometheus.Gatherer) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		metrics:   m,
		gatherer:  gatherer,
		version:   version,
		stats:     make(map[string]StatsFunc),
		checks:    make(map[string]CheckFunc),
		startTime: time.Now(),
	}

	h.router = h.setupRoutes()

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", appConfig.HTTP.Address, appConfig.HTTP.Port),
		Handler:      h.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// AddStats registers a component whose snapshot is served under /stats.
func (h *HTTPServer) AddStats(name string, fn StatsFunc) {
	h.mu.Lock()
	h.stats[name] = fn
	h.mu.Unlock()
}

// AddCheck registers a component health check used by /health.
func (h *HTTPServer) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	h.checks[name] = fn
	h.mu.Unlock()
}

// Handler returns the router, mainly for tests.
func (h *HTTPServer) Handler() http.Handler {
	return h.router
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/", h.withMetrics("/", h.handleRoot))
	r.Get("/health", h.withMetrics("/health", h.handleHealth))
	r.Get("/stats", h.withMetrics("/stats", h.handleStats))
	r.Get("/config", h.withMetrics("/config", h.handleConfig))

	// Prometheus metrics endpoint (no metrics needed for metrics endpoint)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	} else {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		// Create a response writer wrapper to capture status code
		ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		handler(ww, r)

		duration := time.Since(startTime).Seconds()
		statusCode := fmt.Sprintf("%d", ww.statusCode)

		h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)

		if ww.statusCode >= 400 {
			errorType := "client_error"
			if ww.statusCode >= 500 {
				errorType = "server_error"
			}
			h.metrics.RecordHTTPError(r.Method, endpoint, errorType)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start binds the listener and serves in the background.
func (h *HTTPServer) Start() error {
	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", h.server.Addr, err)
	}

	h.mu.Lock()
	h.listener = ln
	h.mu.Unlock()

	h.logger.Info().Str("address", ln.Addr().String()).Msg("Starting HTTP API server")

	go func() {
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	return nil
}

// Addr returns the bound address, or nil before Start.
func (h *HTTPServer) Addr() net.Addr {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info().Msg("Stopping HTTP API server...")
	return h.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, fn := range h.checks {
		checks[name] = fn
	}
	h.mu.RUnlock()
	sort.Strings(names)

	status := "healthy"
	code := http.StatusOK
	components := make(map[string]any, len(names))

	for _, name := range names {
		if err := checks[name](); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			components[name] = map[string]any{"status": "failing", "error": err.Error()}
			continue
		}
		components[name] = map[string]any{"status": "running"}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(h.startTime).String(),
		"service": map[string]any{
			"name":    "soundsight",
			"version": h.version,
		},
		"components": components,
	})
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	sources := make(map[string]StatsFunc, len(h.stats))
	for name, fn := range h.stats {
		sources[name] = fn
	}
	h.mu.RUnlock()

	stats := map[string]any{
		"uptime":    time.Since(h.startTime).String(),
		"timestamp": time.Now().UTC(),
	}
	for name, fn := range sources {
		stats[name] = fn()
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	c := h.config

	// Secrets are reported only as present or absent.
	sanitized := map[string]any{
		"audio": map[string]any{
			"sample_rate":    c.Audio.SampleRate,
			"chunk_duration": c.Audio.ChunkDuration,
			"source":         c.Audio.Source,
			"device":         c.Audio.Device,
			"file":           c.Audio.File,
			"realtime":       c.Audio.Realtime,
		},
		"vad": map[string]any{
			"start_threshold":    c.VAD.StartThreshold,
			"stop_threshold":     c.VAD.StopThreshold,
			"hangover_blocks":    c.VAD.HangoverBlocks,
			"max_speech_seconds": c.VAD.MaxSpeechSeconds,
		},
		"gating": map[string]any{
			"enabled":             c.Gating.Enabled,
			"direction_stable_ms": c.Gating.DirectionStableMS,
			"min_confidence":      c.Gating.MinConfidence,
			"min_energy":          c.Gating.MinEnergy,
		},
		"sensor": map[string]any{
			"enabled": c.Sensor.Enabled,
			"port":    c.Sensor.Port,
			"baud":    c.Sensor.Baud,
		},
		"transcription": map[string]any{
			"backend":        c.Transcription.Backend,
			"endpoint":       c.Transcription.Endpoint,
			"model":          c.Transcription.Model,
			"language":       c.Transcription.Language,
			"timeout":        c.Transcription.Timeout,
			"max_retries":    c.Transcription.MaxRetries,
			"max_concurrent": c.Transcription.MaxConcurrent,
			"upload_format":  c.Transcription.UploadFormat,
			"api_key_set":    c.Transcription.APIKey != "",
		},
		"classification": map[string]any{
			"backend": c.Classification.Backend,
			"command": c.Classification.Command,
			"timeout": c.Classification.Timeout,
		},
		"transport": map[string]any{
			"mode":              c.Transport.Mode,
			"bind_address":      c.Transport.BindAddress,
			"port":              c.Transport.Port,
			"host":              c.Transport.Host,
			"message_format":    c.Transport.MessageFormat,
			"reconnect_backoff": c.Transport.ReconnectBackoff,
			"write_timeout":     c.Transport.WriteTimeout,
			"replay_last":       c.Transport.ReplayLast,
		},
		"events": map[string]any{
			"enabled": c.Events.Enabled,
			"brokers": c.Events.Brokers,
			"topic":   c.Events.Topic,
		},
		"pipeline": map[string]any{
			"workers":             c.Pipeline.Workers,
			"queue_size":          c.Pipeline.QueueSize,
			"classify_floor":      c.Pipeline.ClassifyFloor,
			"energy_log_interval": c.Pipeline.EnergyLogInterval,
		},
		"logging": map[string]any{
			"level":  c.Logging.Level,
			"format": c.Logging.Format,
			"output": c.Logging.Output,
		},
	}

	writeJSON(w, http.StatusOK, sanitized)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "SoundSight captioning service",
		"version": h.version,
		"endpoints": map[string]any{
			"GET /":        "API documentation",
			"GET /health":  "Service health check",
			"GET /stats":   "Pipeline and transport statistics",
			"GET /config":  "Service configuration without secrets",
			"GET /metrics": "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	})
}
