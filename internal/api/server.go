// Package api implements the local HTTP API the desktop shell talks to.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oogalieboogalie/ThinkSpace/internal/agent"
	"github.com/oogalieboogalie/ThinkSpace/internal/buildinfo"
	"github.com/oogalieboogalie/ThinkSpace/internal/events"
	"github.com/oogalieboogalie/ThinkSpace/internal/llm"
	"github.com/oogalieboogalie/ThinkSpace/internal/session"
	"github.com/oogalieboogalie/ThinkSpace/internal/tools"
)

// writeJSON encodes v as JSON to w, logging any errors at debug level.
// Errors here typically mean the client disconnected mid-response.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// AgentFactory builds a fresh conversation agent.
type AgentFactory func() *agent.Agent

// Server is the local HTTP API server.
type Server struct {
	listen   string
	factory  AgentFactory
	registry *tools.Registry
	policy   tools.Policy
	sessions *session.Store
	bus      *events.Bus
	logger   *slog.Logger
	server   *http.Server

	mu     sync.Mutex
	agents map[string]*agent.Agent
}

// NewServer creates the API server. sessions may be nil to disable
// persistence; bus may be nil to disable the event stream.
func NewServer(listen string, factory AgentFactory, registry *tools.Registry, policy tools.Policy,
	sessions *session.Store, bus *events.Bus, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		listen:   listen,
		factory:  factory,
		registry: registry,
		policy:   policy,
		sessions: sessions,
		bus:      bus,
		logger:   logger,
		agents:   make(map[string]*agent.Agent),
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/chat", s.handleChat)
	mux.HandleFunc("GET /v1/conversations", s.handleConversationList)
	mux.HandleFunc("GET /v1/conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /v1/conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("GET /v1/tools", s.handleTools)

	mux.HandleFunc("GET /ws/events", s.handleEvents)

	mux.HandleFunc("GET /v1/version", s.handleVersion)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /", s.handleRoot)

	return s.withLogging(mux)
}

// Start begins serving HTTP requests and blocks until the listener
// fails or Shutdown is called.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.listen,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // agent turns can run for minutes
		BaseContext:  func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("starting API server", "listen", s.listen)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	writeJSON(w, map[string]string{"error": msg}, s.logger)
}

// conversationAgent returns the live agent for a conversation, creating
// one (and restoring persisted history) on first use.
func (s *Server) conversationAgent(conversationID string) *agent.Agent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a, ok := s.agents[conversationID]; ok {
		return a
	}
	a := s.factory()
	if s.sessions != nil {
		if msgs, err := s.sessions.Messages(conversationID); err == nil && len(msgs) > 0 {
			a.SetHistory(msgs)
		}
	}
	s.agents[conversationID] = a
	return a
}

// ChatRequest is the shell's chat request.
type ChatRequest struct {
	// ConversationID continues an existing conversation; empty starts
	// a new one.
	ConversationID string `json:"conversation_id,omitempty"`
	Message        string `json:"message"`
}

// ChatResponse is the buffered chat reply.
type ChatResponse struct {
	ConversationID string `json:"conversation_id"`
	Content        string `json:"content"`
	Iterations     int    `json:"iterations"`
	ToolCallsMade  int    `json:"tool_calls_made"`
	StopReason     string `json:"stop_reason"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Message == "" {
		s.errorResponse(w, http.StatusBadRequest, "message is required")
		return
	}
	if req.ConversationID == "" {
		req.ConversationID = uuid.NewString()
	}

	a := s.conversationAgent(req.ConversationID)
	before := len(a.History())

	result, err := a.Chat(r.Context(), req.Message)
	if err != nil {
		s.logger.Error("chat turn failed", "conversation", req.ConversationID, "error", err)
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.persistTurn(req.ConversationID, req.Message, a.History(), before)

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, ChatResponse{
		ConversationID: req.ConversationID,
		Content:        result.Content,
		Iterations:     result.Iterations,
		ToolCallsMade:  result.ToolCallsMade,
		StopReason:     result.StopReason,
	}, s.logger)
}

// persistTurn appends the turn's new messages to the session store.
func (s *Server) persistTurn(conversationID, userMessage string, history []llm.Message, before int) {
	if s.sessions == nil {
		return
	}
	if err := s.sessions.EnsureConversation(conversationID, titleFrom(userMessage)); err != nil {
		s.logger.Warn("persist conversation failed", "error", err)
		return
	}
	for _, msg := range history[before:] {
		if msg.Role == "system" {
			continue
		}
		if err := s.sessions.AppendMessage(conversationID, msg); err != nil {
			s.logger.Warn("persist message failed", "error", err)
			return
		}
	}
}

func titleFrom(message string) string {
	const max = 64
	if len(message) > max {
		return message[:max]
	}
	return message
}

func (s *Server) handleConversationList(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.errorResponse(w, http.StatusNotFound, "session persistence disabled")
		return
	}
	convs, err := s.sessions.Conversations()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversations": convs}, s.logger)
}

func (s *Server) handleConversationGet(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.errorResponse(w, http.StatusNotFound, "session persistence disabled")
		return
	}
	id := r.PathValue("id")
	msgs, err := s.sessions.Messages(id)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"conversation_id": id, "messages": msgs}, s.logger)
}

func (s *Server) handleConversationDelete(w http.ResponseWriter, r *http.Request) {
	if s.sessions == nil {
		s.errorResponse(w, http.StatusNotFound, "session persistence disabled")
		return
	}
	id := r.PathValue("id")
	if err := s.sessions.Delete(id); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.mu.Lock()
	delete(s.agents, id)
	s.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"deleted": id}, s.logger)
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{"tools": s.registry.List(s.policy)}, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{
		"name":    "ThinkSpace",
		"version": buildinfo.Version,
		"status":  "ok",
	}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "healthy"}, s.logger)
}
