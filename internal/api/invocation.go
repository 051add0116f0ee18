package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
	maxBodySize      = 1 << 20 // 1 MB
)

// invokeRequest is the JSON body for POST /v1/invoke and /v1/invoke/async.
type invokeRequest struct {
	Module   string      `json:"module"`
	Function string      `json:"function"`
	Title    string      `json:"title"`
	Args     []model.Arg `json:"args"`
	Backend  string      `json:"backend"`
	TimeoutS *int        `json:"timeout_s"`
}

// listInvocationsResponse wraps the paginated list response.
type listInvocationsResponse struct {
	Invocations []*model.Invocation `json:"invocations"`
	Total       int                 `json:"total"`
	Limit       int                 `json:"limit"`
	Offset      int                 `json:"offset"`
}

// decodeInvocation reads an invoke request and builds the pending
// invocation. It writes the error response itself and reports false on
// failure.
func (s *Server) decodeInvocation(w http.ResponseWriter, r *http.Request) (*model.Invocation, bool) {
	var req invokeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return nil, false
	}

	if req.Module == "" {
		s.writeError(w, http.StatusBadRequest, "module is required")
		return nil, false
	}
	if req.Function == "" {
		s.writeError(w, http.StatusBadRequest, "function is required")
		return nil, false
	}
	if req.TimeoutS != nil && *req.TimeoutS < 0 {
		s.writeError(w, http.StatusBadRequest, "timeout_s must not be negative")
		return nil, false
	}
	if req.Backend != "" {
		if _, err := s.registry.Resolve(req.Backend); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return nil, false
		}
	}

	id := model.NewID()
	createdAt, err := model.IDTime(id)
	if err != nil {
		createdAt = time.Now()
	}
	return &model.Invocation{
		ID:        id,
		Status:    model.StatusPending,
		Module:    req.Module,
		Function:  req.Function,
		Title:     req.Title,
		Args:      req.Args,
		Backend:   req.Backend,
		TimeoutS:  req.TimeoutS,
		CreatedAt: createdAt.UTC(),
	}, true
}

func (s *Server) handleInvoke(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.decodeInvocation(w, r)
	if !ok {
		return
	}

	done, err := s.runner.Run(r.Context(), inv)
	if err != nil {
		s.logger.Error("run invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to run invocation")
		return
	}

	s.writeJSON(w, http.StatusOK, done)
}

func (s *Server) handleInvokeAsync(w http.ResponseWriter, r *http.Request) {
	inv, ok := s.decodeInvocation(w, r)
	if !ok {
		return
	}

	if err := s.runner.Submit(r.Context(), inv); err != nil {
		s.logger.Error("submit async invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to submit invocation")
		return
	}

	s.writeJSON(w, http.StatusAccepted, inv)
}

// requireInvocationID rejects a malformed {id} before the store is asked.
func (s *Server) requireInvocationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !model.ValidID(chi.URLParam(r, "id")) {
			s.writeError(w, http.StatusBadRequest, "invalid invocation id")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleGetInvocation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := s.store.GetInvocation(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "invocation not found")
		return
	}
	if err != nil {
		s.logger.Error("get invocation", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get invocation")
		return
	}

	s.writeJSON(w, http.StatusOK, inv)
}

func (s *Server) handleListInvocations(w http.ResponseWriter, r *http.Request) {
	limit := parseIntQuery(r, "limit", defaultListLimit)
	offset := parseIntQuery(r, "offset", 0)

	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	if offset < 0 {
		offset = 0
	}

	invocations, total, err := s.store.ListInvocations(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list invocations", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list invocations")
		return
	}

	if invocations == nil {
		invocations = []*model.Invocation{}
	}

	s.writeJSON(w, http.StatusOK, listInvocationsResponse{
		Invocations: invocations,
		Total:       total,
		Limit:       limit,
		Offset:      offset,
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
