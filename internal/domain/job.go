package domain

import (
	"time"

	"github.com/example/o2c-lite/pkg/id"
)

// JobState tracks the state of a background job.
type JobState int

const (
	JobStatePending  JobState = 10 // Queued, not yet picked up
	JobStateRunning  JobState = 20
	JobStateComplete JobState = 30
	JobStateFailed   JobState = 40 // Retries exhausted
)

func (s JobState) String() string {
	switch s {
	case JobStatePending:
		return "PENDING"
	case JobStateRunning:
		return "RUNNING"
	case JobStateComplete:
		return "COMPLETE"
	case JobStateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// IsFinal returns true if the job is in a terminal state.
func (s JobState) IsFinal() bool {
	return s == JobStateComplete || s == JobStateFailed
}

// JobKindSupplierReorder asks the supplier to restock an item.
const JobKindSupplierReorder = "supplier.reorder"

// Job is a fire-and-forget unit of background work.
type Job struct {
	ID            string
	Kind          string
	CorrelationID string
	Payload       map[string]any
	State         JobState
	RetryCount    int
	ErrorMessage  string
	Result        map[string]any
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// NewJob creates a pending job.
func NewJob(kind, correlationID string, payload map[string]any) *Job {
	now := time.Now().UTC()
	if payload == nil {
		payload = make(map[string]any)
	}
	return &Job{
		ID:            id.Generate(),
		Kind:          kind,
		CorrelationID: correlationID,
		Payload:       payload,
		State:         JobStatePending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
