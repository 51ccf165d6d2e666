package api

import (
	"net/http"
)

type healthResponse struct {
	Status string `json:"status"`
	Engine string `json:"engine"`
}

// handleHealthz reports liveness. An engine that failed to load does not make
// the server unhealthy; the next job retries the load.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	state, _ := s.lifecycle.State()
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Engine: state.String()})
}
