package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	ByBackend     map[string]int `json:"by_backend"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	Pages         int64          `json:"pages"`
	ContentPages  int64          `json:"content_pages"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetInvocationStats(r.Context())
	if err != nil {
		s.logger.Error("get invocation stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	pages, err := s.store.CountPages(r.Context())
	if err != nil {
		s.logger.Error("count pages", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:         stats.Total,
		ByStatus:      stats.CountByStatus,
		ByBackend:     stats.CountByBackend,
		AvgDurationMS: stats.AvgDurationMS,
		Pages:         pages.Pages,
		ContentPages:  pages.Content,
	})
}
