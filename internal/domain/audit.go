package domain

import "time"

// Outcome is the customer-facing result class of a request.
type Outcome string

const (
	OutcomeAnswered      Outcome = "answered"      // inventory question answered
	OutcomeQuoted        Outcome = "quoted"        // quote issued
	OutcomeOrdered       Outcome = "ordered"       // order committed
	OutcomeRejected      Outcome = "rejected"      // business rule prevented the request
	OutcomeClarification Outcome = "clarification" // intent could not be determined; nothing was run or committed
	OutcomeError         Outcome = "error"         // internal failure
)

// Rejection explains why a request could not be carried out.
type Rejection struct {
	Code      string     `json:"code"`
	Reason    string     `json:"reason"`
	Shortages []Shortage `json:"shortages,omitempty"`
}

// Response is what the caller of the orchestrator gets back. It never
// carries a raw technical error.
//
// Status is the final status of the last execution. An Unknown intent runs
// an empty plan that reaches Committed without writing to the ledger, with
// Outcome clarification. Read Outcome, not Status, to learn whether anything
// changed.
type Response struct {
	RequestID     string          `json:"request_id"`
	SessionID     string          `json:"session_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Intent        IntentKind      `json:"intent"`
	Status        ExecutionStatus `json:"status"`
	Outcome       Outcome         `json:"outcome"`
	Message       string          `json:"message"`
	Stock         []StockCheck    `json:"stock,omitempty"`
	Quote         *Quote          `json:"quote,omitempty"`
	Order         *Order          `json:"order,omitempty"`
	Rejection     *Rejection      `json:"rejection,omitempty"`
	Balances      *Balances       `json:"balances,omitempty"`
}

// ExecutionTrace is the audit view of one workflow execution.
type ExecutionTrace struct {
	ExecutionID         string          `json:"execution_id"`
	CorrelationID       string          `json:"correlation_id"`
	Attempt             int             `json:"attempt"`
	Plan                *Plan           `json:"plan"`
	Results             []StepResult    `json:"results"`
	Status              ExecutionStatus `json:"status"`
	FailureReason       string          `json:"failure_reason,omitempty"`
	CommittedBatches    []string        `json:"committed_batches,omitempty"`
	CompensationBatches []string        `json:"compensation_batches,omitempty"`
	Reversals           []Reversal      `json:"reversals,omitempty"`
	CompensationFailed  bool            `json:"compensation_failed,omitempty"`
}

// AuditRecord is written exactly once per handled request, including
// requests rejected as malformed before classification.
type AuditRecord struct {
	RequestID          string           `json:"request_id"`
	SessionID          string           `json:"session_id,omitempty"`
	Text               string           `json:"text"`
	Intent             Intent           `json:"intent"`
	ClassifierAttempts int              `json:"classifier_attempts"`
	Executions         []ExecutionTrace `json:"executions"`
	CorrelationID      string           `json:"correlation_id,omitempty"`
	FinalStatus        ExecutionStatus  `json:"final_status"` // as Response.Status
	Outcome            Outcome          `json:"outcome"`
	Error              string           `json:"error,omitempty"`
	ErrorCode          string           `json:"error_code,omitempty"`
	StartedAt          time.Time        `json:"started_at"`
	FinishedAt         time.Time        `json:"finished_at"`
}

// Role identifies the speaker of a conversation turn.
type Role string

const (
	RoleCustomer  Role = "customer"
	RoleAssistant Role = "assistant"
)

// Turn is one message of a session's conversation history.
type Turn struct {
	SessionID string    `json:"session_id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}
