// Package task defines the task domain model: the aggregate Task, its
// lifecycle Status, timestamps, and result, plus the closed payload variant
// per task-type. It owns no I/O; persistence is the Store port.
package task

import (
	"encoding/json"
	"time"
)

// Type is the closed, extensible task-type enum.
type Type string

const (
	TypeComputePi        Type = "COMPUTE_PI"
	TypeDocumentAnalysis Type = "DOCUMENT_ANALYSIS"
)

// Status is the task lifecycle state.
type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// IsTerminal reports whether s is one of the terminal states. Terminal
// transitions are monotonic (invariant 2, spec.md §3): once terminal, the
// status never changes again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Progress is the optional progress snapshot carried by a status update.
type Progress struct {
	Current    *int     `json:"current,omitempty"`
	Total      *int     `json:"total,omitempty"`
	Percentage *float64 `json:"percentage,omitempty"`
	Phase      string   `json:"phase,omitempty"`
}

// TaskStatus is the mutable status row for a task.
type TaskStatus struct {
	State    Status            `json:"state"`
	Progress Progress          `json:"progress"`
	Message  string            `json:"message,omitempty"`
	Metrics  map[string]string `json:"metrics,omitempty"`
}

// Metadata holds lifecycle timestamps and arbitrary custom fields.
// FinishedAt is set iff State is terminal (spec.md §3 TaskMetadata invariant).
type Metadata struct {
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	StartedAt  *time.Time        `json:"started_at,omitempty"`
	FinishedAt *time.Time        `json:"finished_at,omitempty"`
	Custom     map[string]string `json:"custom,omitempty"`
}

// Result is the one-to-one result row for a completed (or late-writing,
// see §4.5) task.
type Result struct {
	TaskID     string          `json:"task_id"`
	Data       json.RawMessage `json:"data"`
	ExpiresAt  *time.Time      `json:"expires_at,omitempty"`
	TTLSeconds *int            `json:"ttl_seconds,omitempty"`
}

// Task is the full aggregate: identity, ownership, payload, status,
// metadata, and an optional joined result.
type Task struct {
	ID      string  `json:"task_id"`
	OwnerID string  `json:"owner_id"`
	Type    Type    `json:"task_type"`
	Payload Payload `json:"payload"`

	Status   TaskStatus `json:"status"`
	Metadata Metadata   `json:"metadata"`
	Result   *Result    `json:"result,omitempty"`
}

// View is the list-projection returned by list_tasks: a lighter-weight
// summary than the full joined Task aggregate (SPEC_FULL.md §3).
type View struct {
	ID        string    `json:"task_id"`
	OwnerID   string    `json:"owner_id"`
	Type      Type      `json:"task_type"`
	State     Status    `json:"state"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ListFilter narrows list_tasks results (spec.md §4.1).
type ListFilter struct {
	Type   Type
	State  Status
	Limit  int
	Offset int
}

// MaxListLimit is the hard cap on list_tasks page size (spec.md §4.1).
const MaxListLimit = 500
