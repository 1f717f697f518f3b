// Package server exposes the redaction engine and rule administration over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/redactor/internal/config"
	"github.com/raaihank/redactor/internal/logger"
	"github.com/raaihank/redactor/internal/pattern"
	"github.com/raaihank/redactor/internal/redaction"
	"github.com/raaihank/redactor/internal/rules"
	"github.com/raaihank/redactor/internal/websocket"
)

// Version is reported by /info.
var Version = "0.1.0"

// HitRecorder accumulates per-rule match counts.
type HitRecorder interface {
	Add(ctx context.Context, counts map[int64]int) error
}

// Invalidator drops cached rule lists after a rule changes.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Dependencies are the collaborators the server is built from. Hits, Cache
// and Hub are optional.
type Dependencies struct {
	Service  *redaction.Service
	Rules    rules.Repository
	Compiler *pattern.Compiler
	Hits     HitRecorder
	Cache    Invalidator
	Hub      *websocket.Hub
	// Viewers defaults to HeaderViewers.
	Viewers ViewerResolver
}

// Server represents the HTTP API server
type Server struct {
	config  *config.Config
	logger  *logger.Logger
	deps    Dependencies
	router  *mux.Router
	server  *http.Server
	limiter *RateLimiter

	startedAt  time.Time
	redactions atomic.Int64
}

// New creates a new server instance
func New(cfg *config.Config, log *logger.Logger, deps Dependencies) (*Server, error) {
	if deps.Service == nil || deps.Rules == nil || deps.Compiler == nil {
		return nil, fmt.Errorf("server requires a redaction service, rule repository and pattern compiler")
	}
	if deps.Viewers == nil {
		deps.Viewers = HeaderViewers
	}

	s := &Server{
		config:    cfg,
		logger:    log.WithComponent("server"),
		deps:      deps,
		router:    mux.NewRouter(),
		limiter:   NewRateLimiter(cfg.Server.RateLimit),
		startedAt: time.Now(),
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.deps.Hub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.deps.Hub.HandleWebSocket).Methods(http.MethodGet)
	}

	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.requestIDMiddleware)
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)

	api.HandleFunc("/redact", s.handleRedact).Methods(http.MethodPost)

	api.HandleFunc("/rules", s.handleListRules).Methods(http.MethodGet)
	api.HandleFunc("/rules", s.requireAdmin(s.handleCreateRule)).Methods(http.MethodPost)
	api.HandleFunc("/rules/bulk-delete", s.requireAdmin(s.handleBulkDelete)).Methods(http.MethodPost)
	api.HandleFunc("/rules/{id:[0-9]+}", s.handleGetRule).Methods(http.MethodGet)
	api.HandleFunc("/rules/{id:[0-9]+}", s.requireAdmin(s.handleUpdateRule)).Methods(http.MethodPut)
	api.HandleFunc("/rules/{id:[0-9]+}", s.requireAdmin(s.handleDeleteRule)).Methods(http.MethodDelete)

	api.HandleFunc("/patterns/validate", s.handleValidatePattern).Methods(http.MethodPost)
}

// Handler returns the root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("Starting redactor server",
		zap.Int("port", s.config.Server.Port),
		zap.Bool("websocket", s.deps.Hub != nil && s.config.WebSocket.Enabled),
		zap.Bool("rate_limit", s.config.Server.RateLimit.Enabled),
	)
	return s.server.ListenAndServe()
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping redactor server")
	return s.server.Shutdown(ctx)
}

// RunMaintenance runs the rate limiter cleanup and, with a hub attached,
// broadcasts a status event every statusInterval until ctx is done.
func (s *Server) RunMaintenance(ctx context.Context, statusInterval time.Duration) {
	go s.limiter.RunCleanup(ctx, 30*time.Minute)
	if s.deps.Hub == nil || statusInterval <= 0 {
		<-ctx.Done()
		return
	}

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.broadcast(websocket.Event{Type: websocket.EventTypeSystemStatus, Data: s.systemStatus(ctx)})
		}
	}
}

func (s *Server) systemStatus(ctx context.Context) websocket.SystemStatusEvent {
	status := websocket.SystemStatusEvent{
		Status:          "healthy",
		Uptime:          time.Since(s.startedAt).Round(time.Second).String(),
		TotalRedactions: s.redactions.Load(),
	}
	if list, err := s.deps.Rules.ListActiveRules(ctx); err != nil {
		status.Status = "degraded"
	} else {
		status.ActiveRules = len(list)
	}
	if s.deps.Hub != nil {
		status.ConnectedClients = int(s.deps.Hub.GetStats().ActiveConnections)
	}
	return status
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "healthy",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	settings := s.deps.Service.Settings()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":           "redactor",
		"version":        Version,
		"uptime":         time.Since(s.startedAt).Round(time.Second).String(),
		"redactions":     s.redactions.Load(),
		"style":          settings.Defaults.Style,
		"default_roles":  settings.Defaults.Roles,
		"named_patterns": s.deps.Compiler.Registry().Names(),
	})
}

// errorResponse is the body of every failed API call
type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, RequestID: getRequestID(r.Context())})
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	limit := s.config.Server.MaxBodyBytes
	if limit <= 0 {
		limit = 4 << 20
	}
	body := http.MaxBytesReader(w, r.Body, limit)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func (s *Server) broadcast(event websocket.Event) {
	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastEvent(event)
	}
}
