// Package gateway exposes the public HTTP surface: the message endpoint,
// health, metrics, and session debugging.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/modelrelay/relay/internal/agent"
	"github.com/modelrelay/relay/internal/observability"
	"github.com/modelrelay/relay/internal/sessions"
)

// maxRequestBody bounds /v1/messages request bodies.
const maxRequestBody = 32 << 20

// Processor runs the agent loop for one request.
type Processor interface {
	ProcessMessage(ctx context.Context, body map[string]any, sess *sessions.Session) (*agent.Outcome, error)
}

// Server wires the routes and middleware.
type Server struct {
	processor Processor
	store     sessions.Store
	metrics   *observability.Metrics
	logger    *slog.Logger
	mux       *http.ServeMux
}

func NewServer(processor Processor, store sessions.Store, metrics *observability.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		processor: processor,
		store:     store,
		metrics:   metrics,
		logger:    logger,
		mux:       http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)
	s.mux.Handle("GET /metrics/prometheus", promhttp.Handler())
	s.mux.HandleFunc("GET /debug/session", s.handleDebugSession)
	s.mux.HandleFunc("POST /v1/messages", s.handleMessages)
	return s
}

// Handler returns the root handler with logging middleware attached.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.NewString()
		ctx := observability.WithRequestID(r.Context(), requestID)
		start := time.Now()
		next.ServeHTTP(w, r.WithContext(ctx))
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", requestID,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, map[string]any{"status": "ok"})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, 200, s.metrics.Snapshot())
}

func (s *Server) handleDebugSession(w http.ResponseWriter, r *http.Request) {
	id, generated := resolveSessionID(r.Header, nil)
	if generated {
		writeJSON(w, 400, map[string]any{"error": "missing session header"})
		return
	}
	sess, err := s.store.Get(r.Context(), id)
	if errors.Is(err, sessions.ErrNotFound) {
		writeJSON(w, 404, map[string]any{"error": "session not found"})
		return
	}
	if err != nil {
		writeJSON(w, 500, map[string]any{"error": "internal_error", "message": err.Error()})
		return
	}
	history, err := s.store.History(r.Context(), id, 0)
	if err != nil {
		writeJSON(w, 500, map[string]any{"error": "internal_error", "message": err.Error()})
		return
	}
	writeJSON(w, 200, map[string]any{"session": sess, "history": history})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	s.metrics.IncRequest()

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.fail(w, 400, "invalid_request", "unreadable body")
		return
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		s.fail(w, 400, "invalid_request", "body is not a JSON object")
		return
	}

	sessionID, generated := resolveSessionID(r.Header, body)
	ctx := observability.WithSessionID(r.Context(), sessionID)
	logger := observability.FromContext(ctx, s.logger)

	sess, err := s.store.GetOrCreate(ctx, sessionID)
	if err != nil {
		logger.Error("session store failure", "error", err)
		s.fail(w, 500, "internal_error", "session store unavailable")
		return
	}
	sess.Generated = generated

	stream, _ := body["stream"].(bool)

	outcome, err := s.processor.ProcessMessage(ctx, body, sess)
	if err != nil {
		logger.Error("orchestrator failure", "error", err)
		s.fail(w, 500, "internal_error", err.Error())
		return
	}

	if stream {
		s.writeStream(w, logger, sessionID, outcome)
		return
	}
	s.writeUnary(w, sessionID, outcome)
}

func (s *Server) writeUnary(w http.ResponseWriter, sessionID string, outcome *agent.Outcome) {
	w.Header().Set("x-session-id", sessionID)
	w.Header().Set("x-relay-termination", outcome.Termination)
	s.metrics.IncResponse(outcome.Status)
	if outcome.RawBody != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(outcome.Status)
		w.Write(outcome.RawBody)
		return
	}
	writeJSON(w, outcome.Status, outcome.Message)
}

func (s *Server) writeStream(w http.ResponseWriter, logger *slog.Logger, sessionID string, outcome *agent.Outcome) {
	w.Header().Set("x-session-id", sessionID)
	s.metrics.StreamStart()
	defer s.metrics.StreamEnd()

	sse, err := newSSEWriter(w)
	if err != nil {
		s.fail(w, 500, "internal_error", err.Error())
		return
	}
	s.metrics.IncResponse(outcome.Status)

	var payload any
	if outcome.RawBody != nil {
		var parsed any
		if json.Unmarshal(outcome.RawBody, &parsed) == nil {
			payload = parsed
		} else {
			payload = string(outcome.RawBody)
		}
	} else {
		payload = outcome.Message
	}
	if err := sse.Message(payload); err != nil {
		logger.Warn("client went away mid-stream", "error", err)
		return
	}
	if err := sse.End(outcome.Termination); err != nil {
		logger.Warn("client went away before end event", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, status int, kind, message string) {
	s.metrics.IncResponse(status)
	writeJSON(w, status, map[string]any{"error": kind, "message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
