package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/seantiz/scribe/internal/backend"
	"github.com/seantiz/scribe/internal/engine"
	"github.com/seantiz/scribe/internal/render"
)

// consoleResponse is the JSON response for POST /v1/console. A script error
// is reported in Error with status 200; the printed output up to the error
// is lost with the engine.
type consoleResponse struct {
	Printed  string `json:"printed"`
	Returned string `json:"returned"`
	Error    string `json:"error,omitempty"`
}

// validateRequest is the JSON body for POST /v1/validate.
type validateRequest struct {
	Title  string `json:"title"`
	Source string `json:"source"`
}

type validateResponse struct {
	Valid bool   `json:"valid"`
	Error string `json:"error,omitempty"`
	Line  int    `json:"line,omitempty"`
}

const consoleTitle = "Module:Console"

// requestTimeout bounds the host work of console and validate requests.
func (s *Server) requestTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, render.DefaultTimeout)
}

func (s *Server) handleConsole(w http.ResponseWriter, r *http.Request) {
	var req engine.ConsoleRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		req.Title = consoleTitle
	}

	ctx, cancel := s.requestTimeout(r.Context())
	defer cancel()

	host := s.runner.NewHost()
	defer host.Close()

	res, err := host.Console(ctx, req)
	if err != nil {
		var se *backend.ScriptError
		if !errors.As(err, &se) && !backend.IsFatal(err) {
			s.logger.Error("run console", "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to run console")
			return
		}
		s.writeJSON(w, http.StatusOK, consoleResponse{Error: err.Error()})
		return
	}

	s.writeJSON(w, http.StatusOK, consoleResponse{Printed: res.Printed, Returned: res.Returned})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" {
		req.Title = consoleTitle
	}

	res, err := s.validate(req.Title, req.Source)
	if err != nil {
		s.logger.Error("validate module", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to validate module")
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

// validate compiles source as the module title. Only a failure to start an
// engine is returned as an error.
func (s *Server) validate(title, source string) (validateResponse, error) {
	host := s.runner.NewHost()
	defer host.Close()

	e, err := host.Engine()
	if err != nil {
		return validateResponse{}, err
	}
	err = e.Validate(source, title)
	if err == nil {
		return validateResponse{Valid: true}, nil
	}
	var syn *backend.SyntaxError
	if errors.As(err, &syn) {
		return validateResponse{Error: syn.Error(), Line: syn.Line}, nil
	}
	return validateResponse{}, err
}
