package http

import (
	"net/http"

	"kassenbuch/internal/core"
	"kassenbuch/internal/receipts"
)

// attachRequest carries the file-pick result. Force stands in for the
// duplicate-detection callback of the interactive path: false skips
// detected duplicates, true saves them anyway.
type attachRequest struct {
	Side    string   `json:"side"`
	Sources []string `json:"sources"`
	Date    string   `json:"date,omitempty"`
	Force   bool     `json:"force"`
}

func (s *Server) handleAttachReceipts(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	var req attachRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Sources) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "no source files given")
		return
	}

	var refDate core.Date
	if req.Date != "" {
		refDate, err = core.ParseDate(req.Date)
		if err != nil {
			writeFailure(w, err)
			return
		}
	}

	var onDuplicate receipts.DuplicateDecision
	if req.Force {
		onDuplicate = func(string, string) bool { return true }
	}

	result, err := s.store.Attach(r.Context(), entryID, core.Side(req.Side), req.Sources, refDate, onDuplicate)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	entryID, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	side := core.Side(r.URL.Query().Get("side"))
	if err := side.Validate(); err != nil {
		writeFailure(w, err)
		return
	}
	recs, err := s.repo.ListReceipts(r.Context(), entryID, side)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if recs == nil {
		recs = []core.Receipt{}
	}
	writeJSON(w, http.StatusOK, map[string][]core.Receipt{"receipts": recs})
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid receipt id")
		return
	}
	if err := s.store.Remove(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleReconcile reports files in the receipt tree that have no
// metadata row (the orphans a crash mid-attach can leave behind).
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	orphans, err := s.store.Reconcile(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	if orphans == nil {
		orphans = []string{}
	}
	writeJSON(w, http.StatusOK, map[string][]string{"orphans": orphans})
}
