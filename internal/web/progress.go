package web

import (
	"fmt"
	"net/http"
	"unicode/utf8"

	"github.com/MrWong99/lexicdys/pkg/scoring"
	"github.com/MrWong99/lexicdys/pkg/store"
)

type progressRequest struct {
	UserID      string            `json:"userId"`
	ContentID   string            `json:"contentId"`
	ContentType store.ContentType `json:"contentType"`
	Accuracy    int               `json:"accuracy"`
}

// appendProgress serves POST /api/progress.
func (s *Server) appendProgress(w http.ResponseWriter, r *http.Request) {
	var req progressRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.store.AppendProgress(r.Context(), store.Progress{
		UserID:      req.UserID,
		ContentID:   req.ContentID,
		ContentType: req.ContentType,
		Accuracy:    req.Accuracy,
	})
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// listProgress serves GET /api/progress/{userID}.
func (s *Server) listProgress(w http.ResponseWriter, r *http.Request) {
	recs, err := s.store.ListProgress(r.Context(), r.PathValue("userID"))
	if err != nil {
		writeStoreError(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.Progress{}
	}
	writeJSON(w, http.StatusOK, recs)
}

type scoreRequest struct {
	Spoken string `json:"spoken"`
	Target string `json:"target"`
}

type scoreResponse struct {
	Score int    `json:"score"`
	Band  string `json:"band"`
}

// score serves POST /api/score, the stateless similarity check.
func (s *Server) score(w http.ResponseWriter, r *http.Request) {
	var req scoreRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, f := range []struct{ name, text string }{{"spoken", req.Spoken}, {"target", req.Target}} {
		if utf8.RuneCountInString(f.text) > store.MaxTextLength {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("%s is limited to %d characters", f.name, store.MaxTextLength))
			return
		}
	}
	n := scoring.Score(req.Spoken, req.Target)
	writeJSON(w, http.StatusOK, scoreResponse{Score: n, Band: scoring.BandFor(n).String()})
}
