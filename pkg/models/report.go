package models

import (
	"time"
)

// Outcome classifies what happened to a single entry or batch item
type Outcome string

const (
	// OutcomeSuccess indicates the entry applied (or would apply, in dry run)
	OutcomeSuccess Outcome = "success"
	// OutcomeSkipped indicates the entry required no work (already applied)
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed indicates the entry could not be applied
	OutcomeFailed Outcome = "failed"
)

// EntryResult is the per-entry record exposed to the reporting layer.
// Field names form the export contract: path, kind, outcome, reason.
type EntryResult struct {
	Path    string    `json:"path"`
	Kind    EntryKind `json:"kind"`
	Outcome Outcome   `json:"outcome"`
	Reason  string    `json:"reason,omitempty"`

	// HunkIndex is the failing hunk for hunk-level errors, -1 otherwise
	HunkIndex int `json:"hunk_index,omitempty"`

	Duration time.Duration `json:"duration_ms"`
}

// Status represents the overall result of an operation or batch
type Status string

const (
	// StatusSuccess indicates everything completed successfully
	StatusSuccess Status = "success"
	// StatusPartial indicates some entries failed under best-effort mode
	StatusPartial Status = "partial"
	// StatusAborted indicates a strict-mode failure halted and rolled back
	StatusAborted Status = "aborted"
	// StatusFailed indicates the operation failed before or beyond rollback
	StatusFailed Status = "failed"
	// StatusCancelled indicates the operation was cancelled
	StatusCancelled Status = "cancelled"
)

// ExitCode returns the process exit code for the status
func (s Status) ExitCode() int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	case StatusAborted, StatusFailed:
		return 2
	case StatusCancelled:
		return 3
	default:
		return 2
	}
}

// Statistics holds aggregate counts for one operation
type Statistics struct {
	Entries   int `json:"entries"`
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	// FilesBackedUp counts snapshots taken during the operation
	FilesBackedUp int `json:"files_backed_up"`

	// FilesRestored counts snapshots replayed by a rollback
	FilesRestored int `json:"files_restored"`

	BytesWritten int64 `json:"bytes_written"`
}

// OperationKind distinguishes create from apply operations
type OperationKind string

const (
	// OpCreate computes a diff between two sources
	OpCreate OperationKind = "create"
	// OpApply replays a patch document onto a target
	OpApply OperationKind = "apply"
)

// OperationReport is the immutable record of one create or apply invocation
type OperationReport struct {
	OperationID string        `json:"operation_id"`
	Kind        OperationKind `json:"kind"`
	TargetRoot  string        `json:"target_root,omitempty"`
	DryRun      bool          `json:"dry_run,omitempty"`

	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ms"`

	Results []EntryResult `json:"results"`
	Stats   Statistics    `json:"stats"`
	Status  Status        `json:"status"`

	// Error carries the fatal error message for aborted/failed operations
	Error string `json:"error,omitempty"`

	// Unrestored lists paths a rollback could not restore. A non-empty list
	// means the filesystem is inconsistent and needs manual attention.
	Unrestored []string `json:"unrestored,omitempty"`
}

// Record appends a per-entry result and updates the counters
func (r *OperationReport) Record(res EntryResult) {
	r.Results = append(r.Results, res)
	r.Stats.Entries++
	switch res.Outcome {
	case OutcomeSuccess:
		r.Stats.Succeeded++
	case OutcomeSkipped:
		r.Stats.Skipped++
	case OutcomeFailed:
		r.Stats.Failed++
	}
}

// Finish stamps the end time and derives the duration
func (r *OperationReport) Finish() {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
}

// AggregateReport combines the reports of a batch invocation
type AggregateReport struct {
	BatchID   string        `json:"batch_id"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration_ms"`

	Reports []*OperationReport `json:"reports"`

	// Status is the worst-case status across all operations
	Status Status `json:"status"`
}

// Combine folds an operation report into the aggregate, keeping the
// worst-case status: Aborted > Cancelled > Partial/Failed > Success.
func (a *AggregateReport) Combine(r *OperationReport) {
	a.Reports = append(a.Reports, r)
	a.Status = worseStatus(a.Status, r.Status)
}

func worseStatus(current, incoming Status) Status {
	if current == "" {
		return incoming
	}
	if rank(incoming) > rank(current) {
		return incoming
	}
	return current
}

func rank(s Status) int {
	switch s {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 1
	case StatusFailed:
		return 2
	case StatusCancelled:
		return 3
	case StatusAborted:
		return 4
	default:
		return 2
	}
}
