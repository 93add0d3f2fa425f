// Package kernel is the HTTP surface of the assistant: chat, the draft-action
// queue, tool discovery, health, and an SSE event stream.
package kernel

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/castellan-ai/castellan/internal/core/domain"
	"github.com/castellan-ai/castellan/internal/core/ports"
	"github.com/castellan-ai/castellan/internal/core/services"
)

type Server struct {
	logger         *slog.Logger
	orchestrator   *services.Orchestrator
	coordinator    *services.Coordinator
	bus            *services.EventBus
	engine         ports.ReasoningEngine
	allowedOrigins []string
}

func NewServer(
	logger *slog.Logger,
	orchestrator *services.Orchestrator,
	coordinator *services.Coordinator,
	bus *services.EventBus,
	engine ports.ReasoningEngine,
	allowedOrigins []string,
) *Server {
	return &Server{
		logger:         logger,
		orchestrator:   orchestrator,
		coordinator:    coordinator,
		bus:            bus,
		engine:         engine,
		allowedOrigins: allowedOrigins,
	}
}

// Handler returns the routed http.Handler, CORS included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("POST /v1/chat/reset", s.handleChatReset)

	mux.HandleFunc("GET /v1/actions", s.handleListActions)
	mux.HandleFunc("GET /v1/actions/summary", s.handleSummary)
	mux.HandleFunc("POST /v1/actions/clear-terminal", s.handleClearTerminal)
	mux.HandleFunc("GET /v1/actions/{id}", s.handleGetAction)
	mux.HandleFunc("DELETE /v1/actions/{id}", s.handleDeleteAction)
	mux.HandleFunc("POST /v1/actions/{id}/approve", s.handleApprove)
	mux.HandleFunc("POST /v1/actions/{id}/reject", s.handleReject)
	mux.HandleFunc("POST /v1/actions/{id}/modify", s.handleModify)
	mux.HandleFunc("GET /v1/actions/{id}/events", s.handleActionSSE)

	mux.HandleFunc("GET /v1/events", s.handleBroadcastSSE)
	mux.HandleFunc("GET /v1/tools", s.handleListTools)
	mux.HandleFunc("GET /v1/health", s.handleHealth)
	mux.HandleFunc("GET /v1/openapi.json", s.handleOpenAPI)

	origins := s.allowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(mux)
}

// POST /v1/chat
// Body: {"message": "..."}
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	start := time.Now()
	reply, err := s.orchestrator.Handle(r.Context(), body.Message)
	if err != nil {
		s.logger.Error("chat turn failed", "error", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"reply":       reply,
		"duration_ms": time.Since(start).Milliseconds(),
	})
}

// POST /v1/chat/reset drops the conversation history.
func (s *Server) handleChatReset(w http.ResponseWriter, r *http.Request) {
	s.orchestrator.Reset()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

// GET /v1/actions lists actions awaiting review; ?status= narrows to one
// lifecycle state, ?agent= to one agent's queue across all states.
func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	var (
		actions []domain.DraftAction
		err     error
	)
	switch {
	case r.URL.Query().Get("status") != "":
		raw := r.URL.Query().Get("status")
		status, ok := parseStatus(raw)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", raw))
			return
		}
		actions, err = s.coordinator.ActionsByStatus(r.Context(), status)
	case r.URL.Query().Get("agent") != "":
		actions, err = s.coordinator.ActionsByAgent(r.Context(), r.URL.Query().Get("agent"))
	default:
		actions, err = s.coordinator.PendingActions(r.Context())
	}
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if actions == nil {
		actions = []domain.DraftAction{}
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"actions": actions,
		"count":   len(actions),
	})
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	action, err := s.coordinator.GetAction(r.Context(), domain.ActionID(r.PathValue("id")))
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, action)
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	id := domain.ActionID(r.PathValue("id"))
	result, err := s.coordinator.Approve(r.Context(), id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.respondOutcome(w, r, id, result)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	id := domain.ActionID(r.PathValue("id"))
	result, err := s.coordinator.Reject(r.Context(), id)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.respondOutcome(w, r, id, result)
}

// POST /v1/actions/{id}/modify
// Body: {"description": "...", "params": {...}} with both parts optional.
func (s *Server) handleModify(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Description *string                `json:"description"`
		Params      map[string]interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id := domain.ActionID(r.PathValue("id"))
	result, err := s.coordinator.Modify(r.Context(), id, body.Description, body.Params)
	if err != nil {
		s.writeActionError(w, err)
		return
	}
	s.respondOutcome(w, r, id, result)
}

func (s *Server) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	found, err := s.coordinator.DeleteAction(r.Context(), domain.ActionID(r.PathValue("id")))
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "action not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := s.coordinator.Summary(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleClearTerminal(w http.ResponseWriter, r *http.Request) {
	removed, err := s.coordinator.ClearTerminal(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"removed": removed})
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	tools := s.coordinator.ToolCatalog()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"tools": tools,
		"count": len(tools),
	})
}

// GET /v1/health reports engine reachability and per-agent connector health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"llm":    s.engine.HealthCheck(r.Context()),
		"agents": s.coordinator.HealthCheck(r.Context()),
	})
}

func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	doc := buildOpenAPIDoc(s.coordinator.ToolCatalog())
	s.writeJSON(w, http.StatusOK, doc)
}

// GET /v1/events streams every queue event.
func (s *Server) handleBroadcastSSE(w http.ResponseWriter, r *http.Request) {
	s.streamSSE(w, r, services.ActionsTopic)
}

// GET /v1/actions/{id}/events streams events for one action.
func (s *Server) handleActionSSE(w http.ResponseWriter, r *http.Request) {
	s.streamSSE(w, r, r.PathValue("id"))
}

func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, topic string) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, unsub := s.bus.Subscribe(topic)
	defer unsub()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, payload)
			flusher.Flush()
		}
	}
}

// respondOutcome returns the outcome text plus the action's fresh state.
func (s *Server) respondOutcome(w http.ResponseWriter, r *http.Request, id domain.ActionID, result string) {
	resp := map[string]interface{}{
		"id":     string(id),
		"result": result,
	}
	if action, err := s.coordinator.GetAction(r.Context(), id); err == nil {
		resp["action"] = action
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) writeActionError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrActionNotFound) {
		s.writeError(w, http.StatusNotFound, "action not found")
		return
	}
	s.writeError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func parseStatus(raw string) (domain.ActionStatus, bool) {
	switch status := domain.ActionStatus(raw); status {
	case domain.ActionPending, domain.ActionApproved, domain.ActionRejected,
		domain.ActionModified, domain.ActionCompleted, domain.ActionFailed:
		return status, true
	default:
		return "", false
	}
}
