package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/room4-2/voicelab/agent"
	"github.com/room4-2/voicelab/simulate"
	"github.com/room4-2/voicelab/transcript"
)

const maxBodySize = 1 << 20

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

type simulateRequest struct {
	History []transcript.Turn `json:"history"`
	Input   string            `json:"input"`
}

type simulateResponse struct {
	Reply string `json:"reply"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := sonic.Marshal(v)
	if err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

func readJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return err
	}
	return sonic.Unmarshal(body, v)
}

// writeError maps domain errors onto status codes
func (s *Server) writeError(w http.ResponseWriter, err error) {
	var verr *agent.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Fields: verr.Fields})
	case errors.Is(err, agent.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: err.Error()})
	case errors.Is(err, agent.ErrInvalidCallFlow), errors.Is(err, simulate.ErrEmptyInput):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	default:
		s.logger.Error("request failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.catalog.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if agents == nil {
		agents = []agent.Agent{}
	}
	writeJSON(w, http.StatusOK, agents)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, err := s.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var a agent.Agent
	if err := readJSON(r, &a); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	a.ID = ""
	created, err := s.catalog.Put(r.Context(), a)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var a agent.Agent
	if err := readJSON(r, &a); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	a.ID = r.PathValue("id")
	updated, err := s.catalog.Put(r.Context(), a)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := s.catalog.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	a, err := s.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	var req simulateRequest
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	reply, err := s.simulator.Reply(r.Context(), a, req.History, req.Input)
	if err != nil {
		if errors.Is(err, simulate.ErrEmptyInput) || errors.Is(err, agent.ErrInvalidCallFlow) {
			s.writeError(w, err)
			return
		}
		s.logger.Error("simulation failed", "agent_id", a.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "agent reply failed"})
		return
	}
	writeJSON(w, http.StatusOK, simulateResponse{Reply: reply})
}
