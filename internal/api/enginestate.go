package api

import (
	"net/http"

	"github.com/seantiz/stillreel/internal/backend"
)

// engineResponse is the JSON response for the engine endpoints.
type engineResponse struct {
	State        string               `json:"state"`
	Error        string               `json:"error,omitempty"`
	Loads        int                  `json:"loads"`
	Capabilities backend.Capabilities `json:"capabilities"`
}

func (s *Server) engineStatus() engineResponse {
	state, reason := s.lifecycle.State()
	resp := engineResponse{
		State:        state.String(),
		Loads:        s.lifecycle.Loads(),
		Capabilities: s.lifecycle.Capabilities(),
	}
	if reason != nil {
		resp.Error = reason.Error()
	}
	return resp
}

func (s *Server) handleGetEngine(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.engineStatus())
}

// handleLoadEngine loads the engine ahead of the first job.
func (s *Server) handleLoadEngine(w http.ResponseWriter, r *http.Request) {
	if _, err := s.lifecycle.EnsureReady(r.Context()); err != nil {
		s.logger.Warn("engine load requested and failed", "error", err)
		resp := s.engineStatus()
		if resp.Error == "" {
			resp.Error = err.Error()
		}
		s.writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	s.writeJSON(w, http.StatusOK, s.engineStatus())
}
