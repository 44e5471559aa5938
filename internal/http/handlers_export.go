package http

import (
	"net/http"

	"kassenbuch/internal/export"
)

// exportRequest selects the period and the archive destination chosen
// by the caller's save dialog. Month 0 means all months of the year.
type exportRequest struct {
	Year    int    `json:"year"`
	Month   int    `json:"month"`
	Archive string `json:"archive"`
	Format  string `json:"format,omitempty"`
}

func (s *Server) handleExportMonths(w http.ResponseWriter, r *http.Request) {
	year, ok := queryInt(r, "year")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "year is required")
		return
	}
	month, _ := queryInt(r, "month")
	months, err := s.exporter.ResolveMonths(r.Context(), year, month)
	if err != nil {
		writeFailure(w, err)
		return
	}
	if months == nil {
		months = []int{}
	}
	writeJSON(w, http.StatusOK, map[string][]int{"months": months})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Year < 1 {
		writeError(w, http.StatusUnprocessableEntity, "year is required")
		return
	}
	if req.Archive == "" {
		writeError(w, http.StatusUnprocessableEntity, "archive path is required")
		return
	}
	format := req.Format
	if format == "" {
		format = s.format
	}
	if format != export.FormatCSV && format != export.FormatXLSX {
		writeError(w, http.StatusUnprocessableEntity, "format must be 'csv' or 'xlsx'")
		return
	}

	summary, err := s.exporter.Run(r.Context(), req.Year, req.Month, req.Archive, format)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}
