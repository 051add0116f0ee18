package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/scribe/internal/backend"
)

// backendResponse is one registered backend. Default marks the backend
// invocations get when they name none.
type backendResponse struct {
	backend.BackendInfo
	Default bool `json:"default"`
}

// defaultBackend resolves the runner's configured backend, which may be
// empty or "auto", to a registered name.
func (s *Server) defaultBackend() (string, error) {
	b, err := s.registry.Resolve(s.runner.Backend())
	if err != nil {
		return "", err
	}
	return b.Capabilities().Name, nil
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	def, _ := s.defaultBackend()
	infos := s.registry.List()
	out := make([]backendResponse, len(infos))
	for i, info := range infos {
		out[i] = backendResponse{BackendInfo: info, Default: info.Name == def}
	}
	s.writeJSON(w, http.StatusOK, out)
}

// handleGetBackend describes one backend. "auto" names the default.
func (s *Server) handleGetBackend(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	b, err := s.registry.Resolve(name)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "backend not found")
		return
	}
	caps := b.Capabilities()
	def, _ := s.defaultBackend()
	s.writeJSON(w, http.StatusOK, backendResponse{
		BackendInfo: backend.BackendInfo{Name: caps.Name, Capabilities: caps},
		Default:     caps.Name == def,
	})
}
