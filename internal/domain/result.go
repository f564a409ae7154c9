package domain

import "time"

// ResultKind is the outcome class of a step invocation.
type ResultKind int

const (
	ResultUnknown   ResultKind = 0
	ResultSuccess   ResultKind = 10
	ResultRetryable ResultKind = 20 // transient, may be retried
	ResultFatal     ResultKind = 30 // business rule violation or retries exhausted
)

func (k ResultKind) String() string {
	switch k {
	case ResultSuccess:
		return "SUCCESS"
	case ResultRetryable:
		return "RETRYABLE"
	case ResultFatal:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Payload carries whatever a successful step produced. Exactly the fields
// relevant to the step kind are set.
type Payload struct {
	Stock    []StockCheck `json:"stock,omitempty"`
	Quote    *Quote       `json:"quote,omitempty"`
	Proposal *Proposal    `json:"proposal,omitempty"`
	Payment  *Payment     `json:"payment,omitempty"`
	Order    *Order       `json:"order,omitempty"`
}

// StepResult is the recorded outcome of one step.
type StepResult struct {
	StepIndex  int        `json:"step_index"`
	StepKind   StepKind   `json:"step_kind"`
	Kind       ResultKind `json:"kind"`
	Payload    *Payload   `json:"payload,omitempty"`
	Reason     string     `json:"reason,omitempty"`
	Code       string     `json:"code,omitempty"` // domain error code of a Fatal result
	Shortages  []Shortage `json:"shortages,omitempty"`
	Attempts   int        `json:"attempts"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Success builds a successful result.
func Success(payload *Payload) StepResult {
	return StepResult{Kind: ResultSuccess, Payload: payload}
}

// Retryable builds a transient failure.
func Retryable(reason string) StepResult {
	return StepResult{Kind: ResultRetryable, Reason: reason}
}

// Fatal builds a permanent failure.
func Fatal(reason string) StepResult {
	return StepResult{Kind: ResultFatal, Reason: reason}
}

// StepContext is the read-only view a handler gets of the execution it runs in.
type StepContext struct {
	CorrelationID string
	Step          Step
	Prior         []StepResult
}

// PriorPayload returns the payload of the latest successful step of the given kind.
func (c StepContext) PriorPayload(kind StepKind) *Payload {
	for i := len(c.Prior) - 1; i >= 0; i-- {
		r := c.Prior[i]
		if r.StepKind == kind && r.Kind == ResultSuccess {
			return r.Payload
		}
	}
	return nil
}

// IdempotencyKey identifies this step within its execution.
func (c StepContext) IdempotencyKey() string {
	return c.CorrelationID + ":" + string(c.Step.Kind)
}
