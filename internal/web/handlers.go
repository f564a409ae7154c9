package web

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/o2c-lite/internal/domain"
	"github.com/example/o2c-lite/internal/service"
	"github.com/example/o2c-lite/internal/storage"
)

const maxBodyBytes = 16 << 10

// Handlers contains HTTP handlers for the web API
type Handlers struct {
	orchestrator *service.OrchestratorService
}

// NewHandlers creates new API handlers
func NewHandlers(orchestrator *service.OrchestratorService) *Handlers {
	return &Handlers{orchestrator: orchestrator}
}

// Handle handles POST /api/requests
func (h *Handlers) Handle(w http.ResponseWriter, r *http.Request) {
	var body HandleRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), "invalid_argument")
		return
	}

	resp, err := h.orchestrator.Handle(r.Context(), &domain.Request{
		ID:        body.RequestID,
		SessionID: body.SessionID,
		Text:      body.Text,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAudit handles GET /api/audits/:id
func (h *Handlers) GetAudit(w http.ResponseWriter, r *http.Request) {
	requestID := strings.TrimPrefix(r.URL.Path, "/api/audits/")
	if requestID == "" || strings.Contains(requestID, "/") {
		writeError(w, http.StatusBadRequest, "request ID required", "invalid_argument")
		return
	}

	rec, err := h.orchestrator.GetAudit(r.Context(), requestID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListAudits handles GET /api/audits/
func (h *Handlers) ListAudits(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_argument")
		return
	}

	records, err := h.orchestrator.ListAudits(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	response := ListAuditsResponse{Audits: make([]AuditSummary, 0, len(records))}
	for _, rec := range records {
		response.Audits = append(response.Audits, summarize(rec))
	}
	writeJSON(w, http.StatusOK, response)
}

// GetBalances handles GET /api/ledger/balances?from=&to=
func (h *Handlers) GetBalances(w http.ResponseWriter, r *http.Request) {
	period, err := reportPeriod(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_argument")
		return
	}

	balances, err := h.orchestrator.Report(r.Context(), period)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, balances)
}

// ListItems handles GET /api/items/
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	opts, err := listOptions(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_argument")
		return
	}
	if ids := r.URL.Query().Get("ids"); ids != "" {
		opts.IDs = strings.Split(ids, ",")
	}

	items, err := h.orchestrator.ListItems(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListItemsResponse{Items: items})
}

// SearchQuotes handles GET /api/quotes/?q=&status=&limit=
func (h *Handlers) SearchQuotes(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	search := storage.QuoteSearch{
		Terms:  strings.Fields(q.Get("q")),
		Status: domain.QuoteStatus(q.Get("status")),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", "invalid_argument")
			return
		}
		search.Limit = n
	}

	quotes, err := h.orchestrator.SearchQuotes(r.Context(), search)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if quotes == nil {
		quotes = []*domain.Quote{}
	}
	writeJSON(w, http.StatusOK, SearchQuotesResponse{Quotes: quotes})
}

// ValidateQuote handles GET /api/quotes/:id
func (h *Handlers) ValidateQuote(w http.ResponseWriter, r *http.Request) {
	quoteID := strings.TrimPrefix(r.URL.Path, "/api/quotes/")
	if quoteID == "" || strings.Contains(quoteID, "/") {
		writeError(w, http.StatusBadRequest, "quote ID required", "invalid_argument")
		return
	}

	v, err := h.orchestrator.ValidateQuote(r.Context(), quoteID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// reportPeriod reads the from and to query parameters, given either as
// dates or RFC 3339 timestamps. A bare to date includes that whole day.
func reportPeriod(r *http.Request) (domain.ReportPeriod, error) {
	var period domain.ReportPeriod
	q := r.URL.Query()
	for name, dst := range map[string]*time.Time{"from": &period.From, "to": &period.To} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			*dst = t
			continue
		}
		t, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return period, errors.New(name + " must be a date (YYYY-MM-DD) or an RFC 3339 timestamp")
		}
		if name == "to" {
			t = t.AddDate(0, 0, 1)
		}
		*dst = t
	}
	return period, nil
}

func listOptions(r *http.Request) (storage.ListOptions, error) {
	var opts storage.ListOptions
	q := r.URL.Query()
	for name, dst := range map[string]*int{"limit": &opts.Limit, "offset": &opts.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return opts, errors.New(name + " must be a non-negative integer")
		}
		*dst = n
	}
	return opts, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("web: failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg, errCode string) {
	writeJSON(w, code, ErrorResponse{Error: msg, Code: errCode})
}

// writeDomainError maps domain errors to HTTP status codes. Anything not
// recognized is reported as an internal error without its detail.
func writeDomainError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), code)
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, err.Error(), code)
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, err.Error(), code)
	case errors.Is(err, domain.ErrDeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, err.Error(), code)
	case domain.IsBusinessRule(err), errors.Is(err, domain.ErrInvalidState):
		writeError(w, http.StatusUnprocessableEntity, err.Error(), code)
	default:
		log.Printf("web: internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error", "internal")
	}
}
