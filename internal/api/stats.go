package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total            int            `json:"total"`
	ByStatus         map[string]int `json:"by_status"`
	ByFormat         map[string]int `json:"by_format"`
	AvgDurationMS    float64        `json:"avg_duration_ms"`
	TotalOutputBytes int64          `json:"total_output_bytes"`
	QueueCapacity    int            `json:"queue_capacity"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetJobStats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:            stats.Total,
		ByStatus:         stats.CountByStatus,
		ByFormat:         stats.CountByFormat,
		AvgDurationMS:    stats.AvgDurationMS,
		TotalOutputBytes: stats.TotalOutputBytes,
		QueueCapacity:    s.engine.QueueCapacity(),
	})
}
