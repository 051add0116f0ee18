package api

import (
	"context"
	"net/http"
	"time"
)

const healthCheckTimeout = 2 * time.Second

const (
	healthOK       = "ok"
	healthDegraded = "degraded"
)

type healthResponse struct {
	Status   string `json:"status"`
	Store    string `json:"store"`
	Backend  string `json:"backend"`
	Active   int64  `json:"active_invocations"`
	Backends int    `json:"backends"`
}

// handleHealthz reports whether the store answers and the default backend
// resolves. Either failing turns the response into a 503.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{
		Status:   healthOK,
		Store:    healthOK,
		Active:   s.runner.Active(),
		Backends: len(s.registry.List()),
	}
	if _, err := s.store.CountPages(ctx); err != nil {
		s.logger.Warn("healthz store check", "error", err)
		resp.Store = err.Error()
		resp.Status = healthDegraded
	}
	name, err := s.defaultBackend()
	if err != nil {
		s.logger.Warn("healthz backend check", "error", err)
		resp.Backend = err.Error()
		resp.Status = healthDegraded
	} else {
		resp.Backend = name
	}

	status := http.StatusOK
	if resp.Status != healthOK {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
