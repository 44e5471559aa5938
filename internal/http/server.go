// Package http exposes the ledger core to its UI collaborator over a
// narrow request/response interface. All payloads are plain data
// records; nothing here knows about widgets.
package http

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"time"

	"kassenbuch/internal/export"
	applog "kassenbuch/internal/log"
	"kassenbuch/internal/receipts"
	"kassenbuch/internal/storage"
)

// Server wires the repository, receipt store and exporter behind the
// UI-facing routes.
type Server struct {
	http.Server

	repo     *storage.Repository
	store    *receipts.Store
	exporter *export.Exporter
	format   string
	log      *applog.Logger
}

// NewServer configures routes and returns a ready-to-run server.
// exportFormat is the default archive table format ("csv" or "xlsx").
func NewServer(addr string, repo *storage.Repository, store *receipts.Store, exporter *export.Exporter, exportFormat string, logger *applog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		repo:     repo,
		store:    store,
		exporter: exporter,
		format:   exportFormat,
		log:      logger.WithComponent(applog.ComponentHTTP),
	}
	s.Addr = addr
	s.Handler = s.withRequestLogging(mux)

	mux.HandleFunc("GET /healthz", handleHealth)

	mux.HandleFunc("POST /entries", s.handleCreateEntry)
	mux.HandleFunc("GET /entries", s.handleListEntries)
	mux.HandleFunc("PUT /entries/{id}", s.handleUpdateEntry)
	mux.HandleFunc("DELETE /entries/{id}", s.handleDeleteEntry)
	mux.HandleFunc("GET /balance", s.handleBalance)

	mux.HandleFunc("GET /entries/{id}/receipts", s.handleListReceipts)
	mux.HandleFunc("POST /entries/{id}/receipts", s.handleAttachReceipts)
	mux.HandleFunc("DELETE /receipts/{id}", s.handleDeleteReceipt)
	mux.HandleFunc("GET /receipts/reconcile", s.handleReconcile)

	mux.HandleFunc("GET /export/months", s.handleExportMonths)
	mux.HandleFunc("POST /export", s.handleExport)

	return s
}

// withRequestLogging tags every request with an id and logs start and
// completion with the captured status code.
func (s *Server) withRequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := newRequestID()

		s.log.InfoContext(r.Context(), "request started",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path)

		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.log.InfoContext(r.Context(), "request completed",
			applog.FieldRequestID, requestID,
			applog.FieldMethod, r.Method,
			applog.FieldPath, r.URL.Path,
			applog.FieldStatusCode, rw.status,
			applog.FieldDuration, time.Since(start).Milliseconds())
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("req_%d", time.Now().UnixNano())
	}
	return "req_" + hex.EncodeToString(b)
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
