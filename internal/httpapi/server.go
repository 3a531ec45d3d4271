// Package httpapi serves the sync engine over JSON HTTP and a websocket push stream.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentworkforce/leadsync/internal/leadsync"
	"github.com/agentworkforce/leadsync/internal/metrics"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
)

const correlationHeader = "X-Correlation-Id"

type ServerConfig struct {
	MaxBodyBytes   int64
	RefreshTimeout time.Duration // bounds POST /v1/sync/refresh
	Logger         *zerolog.Logger
	Metrics        *metrics.Metrics
}

type Server struct {
	engine  *leadsync.Engine
	cfg     ServerConfig
	log     zerolog.Logger
	router  *mux.Router
	schemas *bodySchemas
	now     func() time.Time
}

type correlationKey struct{}

func NewServer(engine *leadsync.Engine, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = 30 * time.Second
	}
	log := zerolog.Nop()
	if cfg.Logger != nil {
		log = cfg.Logger.With().Str("component", "httpapi").Logger()
	}
	s := &Server{
		engine:  engine,
		cfg:     cfg,
		log:     log,
		schemas: mustCompileBodySchemas(),
		now:     time.Now,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", getCorrelationID(r))
	})

	r.HandleFunc("/", s.handleDashboard).Methods(http.MethodGet)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	if s.cfg.Metrics != nil {
		r.Handle("/metrics", s.cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/leads", s.handleListLeads).Methods(http.MethodGet)
	v1.HandleFunc("/leads/{id}", s.handleGetLead).Methods(http.MethodGet)
	v1.HandleFunc("/leads/{id}/stage", s.handleMoveStage).Methods(http.MethodPost)
	v1.HandleFunc("/leads/{id}/messages", s.handleListMessages).Methods(http.MethodGet)
	v1.HandleFunc("/leads/{id}/messages", s.handleSendMessage).Methods(http.MethodPost)
	v1.HandleFunc("/leads/{id}/follow-up", s.handleFollowUp).Methods(http.MethodPost)
	v1.HandleFunc("/stages", s.handleStages).Methods(http.MethodGet)
	v1.HandleFunc("/board", s.handleBoard).Methods(http.MethodGet)
	v1.HandleFunc("/conversations", s.handleConversations).Methods(http.MethodGet)
	v1.HandleFunc("/metrics", s.handleMetrics).Methods(http.MethodGet)
	v1.HandleFunc("/freshness", s.handleFreshness).Methods(http.MethodGet)
	v1.HandleFunc("/notices", s.handleListNotices).Methods(http.MethodGet)
	v1.HandleFunc("/notices/{id}", s.handleDismissNotice).Methods(http.MethodDelete)
	v1.HandleFunc("/app-state", s.handleGetAppState).Methods(http.MethodGet)
	v1.HandleFunc("/app-state", s.handlePutAppState).Methods(http.MethodPut)
	v1.HandleFunc("/sync/status", s.handleSyncStatus).Methods(http.MethodGet)
	v1.HandleFunc("/sync/refresh", s.handleSyncRefresh).Methods(http.MethodPost)
	v1.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)
	return r
}

// ServeHTTP echoes the caller's correlation id, or assigns one, before routing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	correlationID := strings.TrimSpace(r.Header.Get(correlationHeader))
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	w.Header().Set(correlationHeader, correlationID)
	r = r.WithContext(context.WithValue(r.Context(), correlationKey{}, correlationID))
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.engine.Listener.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"connected": status.Connected,
		"healthy":   status.Healthy(),
	})
}

func getCorrelationID(r *http.Request) string {
	if id, ok := r.Context().Value(correlationKey{}).(string); ok {
		return id
	}
	return r.Header.Get(correlationHeader)
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit", getCorrelationID(r))
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body", getCorrelationID(r))
		return nil, false
	}
	return body, true
}

// decodeJSONBody validates the body against schema before decoding it into dst.
func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return false
	}
	if err := s.schemas.validate(schema, body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", err.Error(), getCorrelationID(r))
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body", getCorrelationID(r))
		return false
	}
	return true
}

// writeEngineError maps core sentinels onto status codes.
func writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	correlationID := getCorrelationID(r)
	switch {
	case errors.Is(err, leadsync.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error(), correlationID)
	case errors.Is(err, leadsync.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error(), correlationID)
	case errors.Is(err, leadsync.ErrNotImplemented):
		writeError(w, http.StatusNotImplemented, "not_implemented", err.Error(), correlationID)
	case errors.Is(err, leadsync.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error(), correlationID)
	default:
		writeError(w, http.StatusBadGateway, "upstream_error", err.Error(), correlationID)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message, correlationID string) {
	writeJSON(w, status, map[string]any{
		"code":          code,
		"message":       message,
		"correlationId": correlationID,
	})
}
