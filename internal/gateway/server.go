package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/valet/internal/auth"
	"github.com/haasonsaas/valet/internal/observability"
	"github.com/haasonsaas/valet/internal/schedule"
	"github.com/haasonsaas/valet/internal/session"
)

// Config carries the gateway's listen address and the version string
// reported by the health endpoint.
type Config struct {
	Addr    string
	Version string
}

// Server is the HTTP and WebSocket surface. All chat and schedule routes
// require bearer authentication; /healthz and /metrics do not.
type Server struct {
	cfg     Config
	auth    *auth.Service
	orch    *session.Orchestrator
	hub     *Hub
	logger  *slog.Logger
	metrics *observability.Metrics

	upgrader   websocket.Upgrader
	handler    http.Handler
	httpServer *http.Server
	listener   net.Listener
}

// Option customizes the server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithMetrics enables HTTP and WebSocket instrumentation.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer builds the gateway around an orchestrator and a hub.
func NewServer(cfg Config, authService *auth.Service, orch *session.Orchestrator, hub *Hub, opts ...Option) *Server {
	s := &Server{
		cfg:    cfg,
		auth:   authService,
		orch:   orch,
		hub:    hub,
		logger: slog.Default(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.routes()
	return s
}

// Handler exposes the full route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", s.handleHealthz)

	protected := auth.Middleware(s.auth, s.logger)
	mux.Handle("POST /chat", protected(http.HandlerFunc(s.handleChat)))
	mux.Handle("GET /schedules", protected(http.HandlerFunc(s.handleListSchedules)))
	mux.Handle("DELETE /schedules/{id}", protected(http.HandlerFunc(s.handleDeleteSchedule)))
	mux.Handle("GET /state", protected(http.HandlerFunc(s.handleState)))
	mux.Handle("POST /reset", protected(http.HandlerFunc(s.handleReset)))
	mux.Handle("GET /ws", protected(http.HandlerFunc(s.handleWS)))

	return s.instrument(mux)
}

// Start begins serving on the configured address. It returns once the
// listener is bound; serving continues in the background until Stop.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}
	s.listener = listener

	s.httpServer = &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	s.logger.Info("gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr reports the bound listen address, useful when the configured port
// was 0.
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.cfg.Addr
	}
	return s.listener.Addr().String()
}

// Stop drains in-flight requests and shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.cfg.Version,
	})
}

type chatRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := auth.SessionFromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	reply, err := s.orch.HandleMessage(r.Context(), sessionID, req.Message)
	if err != nil {
		var rle *session.RateLimitError
		switch {
		case errors.As(err, &rle):
			seconds := retryAfterSeconds(rle.RetryAfter)
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":      "rate limit exceeded",
				"retryAfter": seconds,
			})
		case errors.Is(err, session.ErrEmptyMessage):
			writeError(w, http.StatusBadRequest, "message is required")
		default:
			s.logger.Error("chat turn failed", "session", sessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		}
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

type scheduleItem struct {
	ID        string          `json:"id"`
	Time      string          `json:"time"`
	Payload   schedulePayload `json:"payload"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"createdAt"`
}

type schedulePayload struct {
	Tool        string         `json:"tool"`
	Args        map[string]any `json:"args"`
	Description string         `json:"description,omitempty"`
}

func (s *Server) handleListSchedules(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := auth.SessionFromContext(r.Context())

	records, err := s.orch.ListSchedules(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("list schedules failed", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	items := make([]scheduleItem, 0, len(records))
	for _, rec := range records {
		items = append(items, scheduleItem{
			ID:   rec.ID,
			Time: rec.When(),
			Payload: schedulePayload{
				Tool:        rec.Tool,
				Args:        rec.Args,
				Description: rec.Description,
			},
			Type:      rec.TypeLabel(),
			CreatedAt: rec.CreatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"schedules": items})
}

func (s *Server) handleDeleteSchedule(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := auth.SessionFromContext(r.Context())
	id := r.PathValue("id")

	if err := s.orch.CancelSchedule(r.Context(), sessionID, id); err != nil {
		if errors.Is(err, schedule.ErrNotFound) {
			writeError(w, http.StatusNotFound, "schedule not found")
			return
		}
		s.logger.Error("cancel schedule failed", "session", sessionID, "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := auth.SessionFromContext(r.Context())

	snapshot, err := s.orch.Describe(r.Context(), sessionID)
	if err != nil {
		s.logger.Error("describe session failed", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sessionID, _ := auth.SessionFromContext(r.Context())

	if err := s.orch.Reset(r.Context(), sessionID); err != nil {
		s.logger.Error("reset session failed", "session", sessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// instrument records request counts and latency per route pattern. The
// pattern keeps label cardinality bounded where the raw path would not.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.metrics == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.Pattern
		if path == "" {
			path = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Method, path, strconv.Itoa(rec.status), time.Since(start).Seconds())
	})
}

// statusRecorder captures the response status. It forwards Hijack so the
// WebSocket upgrade keeps working behind the instrumentation.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func retryAfterSeconds(d time.Duration) int {
	seconds := int((d + time.Second - 1) / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	return seconds
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
