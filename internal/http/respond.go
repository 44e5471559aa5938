package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"kassenbuch/internal/core"
)

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

// writeFailure maps domain errors onto the error taxonomy: validation
// problems are 422 and leave no state change, missing records are 404,
// everything else is a storage failure surfaced with its cause.
func writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrEntryNotFound), errors.Is(err, core.ErrReceiptMissing):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, core.ErrInvalidSide),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrBothSides),
		errors.Is(err, core.ErrSideMismatch):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func queryInt(r *http.Request, key string) (int, bool) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
