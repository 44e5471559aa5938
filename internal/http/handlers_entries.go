package http

import (
	"net/http"
	"strings"

	"kassenbuch/internal/core"
	applog "kassenbuch/internal/log"
)

// entryRequest mirrors the edit dialog: two amount text boxes of which
// exactly one may be filled. The side of the entry follows from which
// one it is; filling both is rejected outright.
type entryRequest struct {
	Date           string `json:"date"`
	Income         string `json:"income"`
	Expense        string `json:"expense"`
	BuyerOrPurpose string `json:"buyerOrPurpose"`
	SoldArticle    string `json:"soldArticle"`
	ExpensePurpose string `json:"expensePurpose"`
	PaymentMethod  string `json:"paymentMethod"`
}

func (req entryRequest) toEntry() (core.Entry, error) {
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Entry{}, err
	}

	income := strings.TrimSpace(req.Income)
	expense := strings.TrimSpace(req.Expense)
	if income != "" && expense != "" {
		return core.Entry{}, core.ErrBothSides
	}

	var entry core.Entry
	switch {
	case income != "":
		amount, err := core.ParseAmount(income)
		if err != nil {
			return core.Entry{}, err
		}
		entry = core.NewIncomeEntry(date, amount)
	case expense != "":
		amount, err := core.ParseAmount(expense)
		if err != nil {
			return core.Entry{}, err
		}
		entry = core.NewExpenseEntry(date, amount)
	default:
		return core.Entry{}, core.ErrInvalidAmount
	}

	entry.BuyerOrPurpose = strings.TrimSpace(req.BuyerOrPurpose)
	entry.SoldArticle = strings.TrimSpace(req.SoldArticle)
	entry.ExpensePurpose = strings.TrimSpace(req.ExpensePurpose)
	entry.PaymentMethod = strings.TrimSpace(req.PaymentMethod)
	return entry, entry.Validate()
}

type entryRow struct {
	core.Entry
	ReceiptCount int `json:"receiptCount"`
}

type entryListResponse struct {
	Entries []entryRow `json:"entries"`
}

func (s *Server) handleCreateEntry(w http.ResponseWriter, r *http.Request) {
	var req entryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := req.toEntry()
	if err != nil {
		writeFailure(w, err)
		return
	}
	id, err := s.repo.InsertEntry(r.Context(), entry)
	if err != nil {
		writeFailure(w, err)
		return
	}
	entry.ID = id
	writeJSON(w, http.StatusCreated, entry)
}

func (s *Server) handleUpdateEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	var req entryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	entry, err := req.toEntry()
	if err != nil {
		writeFailure(w, err)
		return
	}
	if err := s.repo.UpdateEntry(r.Context(), id, entry); err != nil {
		writeFailure(w, err)
		return
	}
	entry.ID = id
	writeJSON(w, http.StatusOK, entry)
}

// handleDeleteEntry removes the entry and its receipt metadata via the
// cascade. Receipt files are removed best-effort first so they do not
// linger as orphans once their rows are gone.
func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entry id")
		return
	}
	s.store.RemoveEntryFiles(r.Context(), id)
	if err := s.repo.DeleteEntry(r.Context(), id); err != nil {
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	year, ok := queryInt(r, "year")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "year is required")
		return
	}
	month, _ := queryInt(r, "month")
	view := core.View{Year: year, Month: month}
	if err := view.Validate(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	entries, err := s.repo.ListEntries(r.Context(), view)
	if err != nil {
		writeFailure(w, err)
		return
	}
	counts, err := s.repo.ReceiptCounts(r.Context(), view)
	if err != nil {
		writeFailure(w, err)
		return
	}

	resp := entryListResponse{Entries: make([]entryRow, 0, len(entries))}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, entryRow{Entry: e, ReceiptCount: counts[e.ID]})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleBalance returns the full-year balance. Month navigation changes
// the visible rows, never the balance context, so no month parameter
// exists here.
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	year, ok := queryInt(r, "year")
	if !ok {
		writeError(w, http.StatusUnprocessableEntity, "year is required")
		return
	}
	balance, err := s.repo.YearBalance(r.Context(), year)
	if err != nil {
		writeFailure(w, err)
		return
	}
	s.log.DebugContext(r.Context(), "balance computed",
		applog.FieldYear, year, "balance", balance.Fixed())
	writeJSON(w, http.StatusOK, map[string]string{"year": r.URL.Query().Get("year"), "balance": balance.Fixed()})
}
