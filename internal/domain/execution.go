package domain

import (
	"fmt"
	"time"

	"github.com/example/o2c-lite/pkg/id"
)

// ExecutionStatus tracks where a workflow execution is in its lifecycle.
type ExecutionStatus int

const (
	ExecutionStatusUnknown        ExecutionStatus = 0
	ExecutionStatusPending        ExecutionStatus = 10 // Created, no step run yet
	ExecutionStatusInProgress     ExecutionStatus = 20 // Steps running
	ExecutionStatusAwaitingCommit ExecutionStatus = 30 // All steps succeeded, final batch not yet committed
	ExecutionStatusCommitted      ExecutionStatus = 40
	ExecutionStatusCompensated    ExecutionStatus = 50 // Committed batches were reversed
	ExecutionStatusFailed         ExecutionStatus = 60
)

func (s ExecutionStatus) String() string {
	switch s {
	case ExecutionStatusPending:
		return "PENDING"
	case ExecutionStatusInProgress:
		return "IN_PROGRESS"
	case ExecutionStatusAwaitingCommit:
		return "AWAITING_COMMIT"
	case ExecutionStatusCommitted:
		return "COMMITTED"
	case ExecutionStatusCompensated:
		return "COMPENSATED"
	case ExecutionStatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the execution is in a terminal state.
func (s ExecutionStatus) IsFinal() bool {
	return s == ExecutionStatusCommitted || s == ExecutionStatusCompensated || s == ExecutionStatusFailed
}

// ValidExecutionStatusTransition checks if a status transition is valid.
// Valid transitions: PENDING -> IN_PROGRESS -> AWAITING_COMMIT -> {COMMITTED, COMPENSATED, FAILED}.
// An empty plan goes straight from PENDING to AWAITING_COMMIT, and a step
// failure can end an IN_PROGRESS execution.
func ValidExecutionStatusTransition(from, to ExecutionStatus) bool {
	switch from {
	case ExecutionStatusPending:
		return to == ExecutionStatusInProgress || to == ExecutionStatusAwaitingCommit || to == ExecutionStatusFailed
	case ExecutionStatusInProgress:
		return to == ExecutionStatusAwaitingCommit || to == ExecutionStatusFailed || to == ExecutionStatusCompensated
	case ExecutionStatusAwaitingCommit:
		return to == ExecutionStatusCommitted || to == ExecutionStatusCompensated || to == ExecutionStatusFailed
	case ExecutionStatusCommitted, ExecutionStatusCompensated, ExecutionStatusFailed:
		return false
	default:
		return to == ExecutionStatusPending
	}
}

// WorkflowExecution is the state of one run of a plan. It is owned by a
// single request and never shared between goroutines.
type WorkflowExecution struct {
	ID            string
	RequestID     string
	CorrelationID string
	Attempt       int
	Plan          *Plan
	Status        ExecutionStatus
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time

	// CompensationFailed is set when some effect of the execution could
	// not be reversed.
	CompensationFailed bool

	next         int
	history      []StepResult
	pending      []*Proposal
	committed    []string
	compensation []string
	reversals    []Reversal
}

// Reversal is an effect outside the ledger that was undone while an
// execution was compensated, such as a refunded payment.
type Reversal struct {
	StepKind  StepKind `json:"step_kind"`
	Reference string   `json:"reference"`
	Amount    Money    `json:"amount,omitempty"`
}

// NewWorkflowExecution creates a pending execution of plan.
func NewWorkflowExecution(requestID string, plan *Plan, attempt int) *WorkflowExecution {
	now := time.Now().UTC()
	return &WorkflowExecution{
		ID:            id.Generate(),
		RequestID:     requestID,
		CorrelationID: id.Generate(),
		Attempt:       attempt,
		Plan:          plan,
		Status:        ExecutionStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// SetStatus transitions the execution to a new status.
func (e *WorkflowExecution) SetStatus(newStatus ExecutionStatus) error {
	if !ValidExecutionStatusTransition(e.Status, newStatus) {
		return fmt.Errorf("%w: cannot transition execution from %s to %s",
			ErrInvalidState, e.Status, newStatus)
	}
	e.Status = newStatus
	e.UpdatedAt = time.Now().UTC()
	return nil
}

// NextStep returns the step that should run next, if any.
func (e *WorkflowExecution) NextStep() (Step, bool) {
	if e.Status.IsFinal() || e.Status == ExecutionStatusAwaitingCommit || e.next >= e.Plan.Len() {
		return Step{}, false
	}
	return e.Plan.Step(e.next), true
}

// StepContext returns the handler view for step.
func (e *WorkflowExecution) StepContext(step Step) StepContext {
	return StepContext{
		CorrelationID: e.CorrelationID,
		Step:          step,
		Prior:         e.History(),
	}
}

// Record appends the final result of the current step. A successful result
// advances the execution and moves any proposal it carries to the pending set.
func (e *WorkflowExecution) Record(result StepResult) error {
	step, ok := e.NextStep()
	if !ok {
		return ErrNoPendingStep
	}
	if result.StepIndex != step.Index || result.StepKind != step.Kind {
		return fmt.Errorf("%w: result for step %d (%s) recorded while step %d (%s) is pending",
			ErrInvalidState, result.StepIndex, result.StepKind, step.Index, step.Kind)
	}
	e.history = append(e.history, result)
	e.UpdatedAt = time.Now().UTC()
	if result.Kind != ResultSuccess {
		return nil
	}
	if result.Payload != nil && result.Payload.Proposal != nil {
		e.pending = append(e.pending, result.Payload.Proposal)
	}
	e.next++
	if e.next == e.Plan.Len() {
		return e.SetStatus(ExecutionStatusAwaitingCommit)
	}
	return nil
}

// History returns a copy of the recorded results.
func (e *WorkflowExecution) History() []StepResult {
	out := make([]StepResult, len(e.history))
	copy(out, e.history)
	return out
}

// LastResult returns the most recently recorded result.
func (e *WorkflowExecution) LastResult() (StepResult, bool) {
	if len(e.history) == 0 {
		return StepResult{}, false
	}
	return e.history[len(e.history)-1], true
}

// PendingProposals returns proposals not yet committed.
func (e *WorkflowExecution) PendingProposals() []*Proposal {
	return append([]*Proposal(nil), e.pending...)
}

// ReleasePending drops all uncommitted proposals and returns them.
func (e *WorkflowExecution) ReleasePending() []*Proposal {
	out := e.pending
	e.pending = nil
	return out
}

// MarkCommitted records a committed batch and clears the pending set.
func (e *WorkflowExecution) MarkCommitted(batchID string) {
	e.committed = append(e.committed, batchID)
	e.pending = nil
	e.UpdatedAt = time.Now().UTC()
}

// CommittedBatches returns the ids of batches committed by this execution.
func (e *WorkflowExecution) CommittedBatches() []string {
	return append([]string(nil), e.committed...)
}

// MarkCompensated records the compensating batches appended for this execution.
func (e *WorkflowExecution) MarkCompensated(batchIDs ...string) {
	e.compensation = append(e.compensation, batchIDs...)
	e.UpdatedAt = time.Now().UTC()
}

// CompensationBatches returns the ids of compensating batches.
func (e *WorkflowExecution) CompensationBatches() []string {
	return append([]string(nil), e.compensation...)
}

// MarkReversed records an effect undone outside the ledger.
func (e *WorkflowExecution) MarkReversed(r Reversal) {
	e.reversals = append(e.reversals, r)
	e.UpdatedAt = time.Now().UTC()
}

// Reversals returns the effects undone outside the ledger.
func (e *WorkflowExecution) Reversals() []Reversal {
	return append([]Reversal(nil), e.reversals...)
}

// Trace captures the execution for the audit log.
func (e *WorkflowExecution) Trace() ExecutionTrace {
	return ExecutionTrace{
		ExecutionID:         e.ID,
		CorrelationID:       e.CorrelationID,
		Attempt:             e.Attempt,
		Plan:                e.Plan,
		Results:             e.History(),
		Status:              e.Status,
		FailureReason:       e.FailureReason,
		CommittedBatches:    e.CommittedBatches(),
		CompensationBatches: e.CompensationBatches(),
		Reversals:           e.Reversals(),
		CompensationFailed:  e.CompensationFailed,
	}
}
