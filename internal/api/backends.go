package api

import (
	"net/http"

	"github.com/seantiz/stillreel/internal/backend"
)

// backendsResponse lists every registered engine and names the one jobs use.
type backendsResponse struct {
	Active   string         `json:"active"`
	Backends []backend.Info `json:"backends"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, backendsResponse{
		Active:   s.lifecycle.Capabilities().Name,
		Backends: s.registry.List(),
	})
}
