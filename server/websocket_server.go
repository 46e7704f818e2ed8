package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/config"
	"github.com/room4-2/voicelab/messages"
	"github.com/room4-2/voicelab/metrics"
	"github.com/room4-2/voicelab/session"
	"github.com/room4-2/voicelab/simulate"
	"github.com/room4-2/voicelab/transcript"
)

type Server struct {
	httpServer *http.Server
	upgrader   websocket.Upgrader
	manager    *session.Manager
	catalog    *agent.Catalog
	simulator  *simulate.Simulator
	metrics    *metrics.Metrics
	config     *config.Config
	logger     *slog.Logger
}

// NewServer builds the HTTP surface: health, metrics, the agent API and the
// /ws voice bridge.
func NewServer(cfg *config.Config, manager *session.Manager, catalog *agent.Catalog, simulator *simulate.Simulator, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		manager:   manager,
		catalog:   catalog,
		simulator: simulator,
		metrics:   m,
		config:    cfg,
		logger:    logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:    64 * 1024, // 64KB for audio frames
			WriteBufferSize:   64 * 1024,
			EnableCompression: true,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				for _, allowed := range cfg.AllowedOrigins {
					if allowed == "*" || allowed == origin {
						return true
					}
				}
				return false
			},
		},
	}

	mux := http.NewServeMux()
	s.handle(mux, "GET /health", s.handleHealth)
	s.handle(mux, "GET /agents", s.handleListAgents)
	s.handle(mux, "POST /agents", s.handleCreateAgent)
	s.handle(mux, "GET /agents/{id}", s.handleGetAgent)
	s.handle(mux, "PUT /agents/{id}", s.handleUpdateAgent)
	s.handle(mux, "DELETE /agents/{id}", s.handleDeleteAgent)
	s.handle(mux, "POST /agents/{id}/simulate", s.handleSimulate)
	s.handle(mux, "GET /sessions/{id}", s.handleGetSession)
	// Hijacked connections are not wrapped by the status recorder.
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
	}

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening for connections
func (s *Server) Start() error {
	s.logger.Info("server starting", "port", s.config.Port, "ws", fmt.Sprintf("ws://localhost:%d/ws", s.config.Port))
	return s.httpServer.ListenAndServe()
}

// Shutdown closes every voice session, then stops the listener
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down server")
	s.manager.Shutdown(ctx)
	return s.httpServer.Shutdown(ctx)
}

// handle registers h and counts its responses under the route pattern
func (s *Server) handle(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		s.metrics.RecordHTTPRequest(pattern, strconv.Itoa(rec.status))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	// The request context ends with the handler; session metadata outlives it.
	client, err := s.manager.Create(context.WithoutCancel(r.Context()), conn)
	if err != nil {
		code := messages.ErrCodeSessionFailed
		if errors.Is(err, session.ErrTooManySessions) {
			code = messages.ErrCodeRateLimited
		}
		s.logger.Warn("failed to create session", "error", err)
		if data, err := sonic.Marshal(messages.NewErrorMessage("", code, err.Error())); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, data)
		}
		conn.Close()
		return
	}

	s.logger.Info("new session", "client_id", client.ID, "remote", r.RemoteAddr)
	client.Start()

	<-client.CloseChan

	_ = s.manager.Remove(context.Background(), client.ID)
	s.logger.Info("session closed", "client_id", client.ID)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"sessions": s.manager.Count(),
	})
}

type sessionResponse struct {
	ID         string              `json:"id"`
	CallID     string              `json:"callId,omitempty"`
	Status     string              `json:"status"`
	Message    string              `json:"message,omitempty"`
	Transcript transcript.Snapshot `json:"transcript"`
}

// handleGetSession reports the live state of one browser connection
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	client, ok := s.manager.Get(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "session not found"})
		return
	}
	ctrl := client.Controller()
	st := ctrl.Status()
	snap := ctrl.Transcript()
	if snap.Turns == nil {
		snap.Turns = []transcript.Turn{}
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		ID:         client.ID,
		CallID:     ctrl.SessionID(),
		Status:     st.State.String(),
		Message:    st.Message,
		Transcript: snap,
	})
}
