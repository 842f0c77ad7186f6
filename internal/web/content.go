package web

import (
	"net/http"

	"github.com/MrWong99/lexicdys/pkg/store"
)

type contentRequest struct {
	Text string `json:"text"`
}

// listContent serves GET /api/content/{type}.
func (s *Server) listContent(w http.ResponseWriter, r *http.Request) {
	t, ok := contentType(w, r)
	if !ok {
		return
	}
	items, err := s.store.ListContent(r.Context(), t)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if items == nil {
		items = []store.Content{}
	}
	writeJSON(w, http.StatusOK, items)
}

// getContent serves GET /api/content/{type}/{id}.
func (s *Server) getContent(w http.ResponseWriter, r *http.Request) {
	t, ok := contentType(w, r)
	if !ok {
		return
	}
	item, err := s.store.GetContent(r.Context(), t, r.PathValue("id"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// addContent serves POST /api/admin/content/{type}.
func (s *Server) addContent(w http.ResponseWriter, r *http.Request) {
	t, ok := contentType(w, r)
	if !ok {
		return
	}
	var req contentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := s.store.AddContent(r.Context(), t, req.Text)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.log.Info("content added", "type", t, "id", item.ID)
	writeJSON(w, http.StatusCreated, item)
}

// updateContent serves PUT /api/admin/content/{type}/{id}.
func (s *Server) updateContent(w http.ResponseWriter, r *http.Request) {
	t, ok := contentType(w, r)
	if !ok {
		return
	}
	var req contentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	item, err := s.store.UpdateContent(r.Context(), t, r.PathValue("id"), req.Text)
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// deleteContent serves DELETE /api/admin/content/{type}/{id}.
func (s *Server) deleteContent(w http.ResponseWriter, r *http.Request) {
	t, ok := contentType(w, r)
	if !ok {
		return
	}
	id := r.PathValue("id")
	if err := s.store.DeleteContent(r.Context(), t, id); err != nil {
		writeStoreError(w, r, err)
		return
	}
	s.log.Info("content deleted", "type", t, "id", id)
	w.WriteHeader(http.StatusNoContent)
}
