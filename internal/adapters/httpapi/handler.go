package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/calliope-ai/calliope/internal/app/engine"
	"github.com/calliope-ai/calliope/internal/domain"
)

const version = "1.0.0"

type Server struct {
	registry *engine.Registry
	records  domain.RecordStore
}

func NewServer(registry *engine.Registry, records domain.RecordStore) http.Handler {
	s := &Server{registry: registry, records: records}
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/version", s.handleVersion)
	mux.Handle("/metrics", promhttp.Handler())

	// /agents/{id}/message        → POST: drive the engine
	// /agents/{id}/debug/hot      → GET: hot-memory snapshot
	// /agents/{id}/debug/sessions → GET: last 10 sessions
	// /agents/{id}/debug/stats    → GET: row counts
	mux.HandleFunc("/agents/", s.handleAgentWithID)

	return chainMiddlewares(mux, withRequestID, withLogging, withCORS)
}

// ─────────────────────────────────────────────
// DTOs (request/response)
// ─────────────────────────────────────────────

type messageRequest struct {
	Content string `json:"content"`
}

type messageResponse struct {
	Reply string `json:"reply"`
}

type sessionResponse struct {
	ID           string     `json:"id"`
	StartedAt    time.Time  `json:"started_at"`
	EndedAt      *time.Time `json:"ended_at"`
	Summary      *string    `json:"summary"`
	MessageCount int        `json:"message_count"`
}

// ─────────────────────────────────────────────
// Basic routing
// ─────────────────────────────────────────────

// /agents/{id}/...
func (s *Server) handleAgentWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/agents/")
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}
	agent := domain.AgentID(parts[0])
	rest := strings.Join(parts[1:], "/")

	switch {
	case rest == "message" && r.Method == http.MethodPost:
		s.handleMessage(w, r, agent)
	case rest == "debug/hot" && r.Method == http.MethodGet:
		s.handleDebugHot(w, r, agent)
	case rest == "debug/sessions" && r.Method == http.MethodGet:
		s.handleDebugSessions(w, r, agent)
	case rest == "debug/stats" && r.Method == http.MethodGet:
		s.handleDebugStats(w, r, agent)
	case r.Method != http.MethodGet && r.Method != http.MethodPost:
		methodNotAllowed(w)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request, agent domain.AgentID) {
	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		badRequest(w, "content is required")
		return
	}

	reply, err := s.registry.Engine(agent).HandleIncoming(r.Context(), req.Content)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Reply: reply})
}

func (s *Server) handleDebugHot(w http.ResponseWriter, r *http.Request, agent domain.AgentID) {
	hot, err := s.registry.Engine(agent).Snapshot(r.Context())
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, hot)
}

func (s *Server) handleDebugSessions(w http.ResponseWriter, r *http.Request, agent domain.AgentID) {
	sessions, err := s.records.RecentSessions(r.Context(), agent, 10)
	if err != nil {
		internalError(w, err)
		return
	}
	out := make([]sessionResponse, 0, len(sessions))
	for _, sess := range sessions {
		out = append(out, sessionResponse{
			ID:           string(sess.ID),
			StartedAt:    sess.StartedAt,
			EndedAt:      sess.EndedAt,
			Summary:      sess.Summary,
			MessageCount: sess.MessageCount,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleDebugStats(w http.ResponseWriter, r *http.Request, agent domain.AgentID) {
	stats, err := s.records.Stats(r.Context(), agent)
	if err != nil {
		internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version})
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("calliope v" + version))
}

// ─────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func internalError(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
}
