package model

import "time"

// ExecutionStatus is the lifecycle state of one workflow execution.
type ExecutionStatus string

const (
	StatusPending   ExecutionStatus = "pending"
	StatusRunning   ExecutionStatus = "running"
	StatusSucceeded ExecutionStatus = "succeeded"
	StatusFailed    ExecutionStatus = "failed"
	StatusPartial   ExecutionStatus = "partial"
)

// Final reports whether the status is terminal.
func (s ExecutionStatus) Final() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusPartial
}

// FailureReason qualifies a failed or unlaunched execution.
type FailureReason string

const (
	ReasonNone          FailureReason = ""
	ReasonConfiguration FailureReason = "configuration"
	ReasonStep          FailureReason = "step"
	ReasonCancelled     FailureReason = "cancelled"
	ReasonSkipped       FailureReason = "skipped"
)

// ExecutionRecord describes one execution for the reporting surface.
// It is never mutated once its status is final.
type ExecutionRecord struct {
	ID          string
	Workflow    string
	Source      Source
	Status      ExecutionStatus
	Reason      FailureReason
	StartedAt   time.Time
	FinishedAt  time.Time
	Error       string
	FailedStep  string
	Attempts    int
	Listings    int
	Persistence PersistenceReport
	Destination string
}

// Duration is the wall time of the execution, zero until finished.
func (r ExecutionRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// PersistenceReport summarizes one batch handed to the persistence layer.
type PersistenceReport struct {
	Inserted         int
	SkippedDuplicate int
	Failed           int
	Failures         []PersistenceFailure
}

// Saved is the number of listings that are now durably stored.
func (r PersistenceReport) Saved() int {
	return r.Inserted + r.SkippedDuplicate
}

// Add merges o into r.
func (r *PersistenceReport) Add(o PersistenceReport) {
	r.Inserted += o.Inserted
	r.SkippedDuplicate += o.SkippedDuplicate
	r.Failed += o.Failed
	r.Failures = append(r.Failures, o.Failures...)
}
