package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/seantiz/scribe/internal/library"
	"github.com/seantiz/scribe/internal/model"
	"github.com/seantiz/scribe/internal/store"
)

// putPageRequest is the JSON body for PUT /v1/pages/{title}.
type putPageRequest struct {
	Text         string `json:"text"`
	ContentModel string `json:"content_model"`
}

// pageTitle reads the normalized title from the wildcard route segment.
func pageTitle(r *http.Request) (string, bool) {
	return library.NormalizeTitle(chi.URLParam(r, "*"))
}

func (s *Server) handlePutPage(w http.ResponseWriter, r *http.Request) {
	title, ok := pageTitle(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid title")
		return
	}

	var req putPageRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	page := &model.Page{Title: title, ContentModel: req.ContentModel, Text: req.Text}
	if page.ContentModel == "" {
		page.ContentModel = model.ContentModelFor(title)
	}

	// Scripts that do not compile are refused.
	if page.ContentModel == model.ContentModelScribunto {
		res, err := s.validate(title, req.Text)
		if err != nil {
			s.logger.Error("validate page", "title", title, "error", err)
			s.writeError(w, http.StatusInternalServerError, "failed to validate page")
			return
		}
		if !res.Valid {
			s.writeJSON(w, http.StatusUnprocessableEntity, res)
			return
		}
	}

	if err := s.store.PutPage(r.Context(), page); err != nil {
		s.logger.Error("put page", "title", title, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save page")
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetPage(w http.ResponseWriter, r *http.Request) {
	title, ok := pageTitle(r)
	if !ok {
		s.writeError(w, http.StatusBadRequest, "invalid title")
		return
	}

	page, err := s.store.GetPage(r.Context(), title)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "page not found")
		return
	}
	if err != nil {
		s.logger.Error("get page", "title", title, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get page")
		return
	}

	s.writeJSON(w, http.StatusOK, page)
}
