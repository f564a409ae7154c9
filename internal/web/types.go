package web

import (
	"time"

	"github.com/example/o2c-lite/internal/domain"
)

// HandleRequest is the body of POST /api/requests
type HandleRequest struct {
	RequestID string `json:"request_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// ListAuditsResponse is the response for GET /api/audits/
type ListAuditsResponse struct {
	Audits []AuditSummary `json:"audits"`
}

// AuditSummary is one row of the audit list
type AuditSummary struct {
	RequestID     string    `json:"requestId"`
	SessionID     string    `json:"sessionId,omitempty"`
	Text          string    `json:"text"`
	Intent        string    `json:"intent"`
	CorrelationID string    `json:"correlationId,omitempty"`
	Status        string    `json:"status"`
	Outcome       string    `json:"outcome"`
	Executions    int       `json:"executions"`
	StartedAt     time.Time `json:"startedAt"`
	DurationMs    int64     `json:"durationMs"`
	Error         string    `json:"error,omitempty"`
	ErrorCode     string    `json:"errorCode,omitempty"`
}

// ListItemsResponse is the response for GET /api/items/
type ListItemsResponse struct {
	Items []*domain.Item `json:"items"`
}

// SearchQuotesResponse is the response for GET /api/quotes/
type SearchQuotesResponse struct {
	Quotes []*domain.Quote `json:"quotes"`
}

// ErrorResponse is the body of every non-2xx API response
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func summarize(rec *domain.AuditRecord) AuditSummary {
	return AuditSummary{
		RequestID:     rec.RequestID,
		SessionID:     rec.SessionID,
		Text:          rec.Text,
		Intent:        rec.Intent.Kind.String(),
		CorrelationID: rec.CorrelationID,
		Status:        rec.FinalStatus.String(),
		Outcome:       string(rec.Outcome),
		Executions:    len(rec.Executions),
		StartedAt:     rec.StartedAt,
		DurationMs:    rec.FinishedAt.Sub(rec.StartedAt).Milliseconds(),
		Error:         rec.Error,
		ErrorCode:     rec.ErrorCode,
	}
}
