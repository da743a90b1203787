package task

import (
	"context"
	"time"
)

// Store is the durable-store port (C1). Every read asserts ownership;
// writes are privileged and called only by the event handler or task
// service (spec.md §4.1 "Access control").
type Store interface {
	// EnsureSchema creates or migrates the schema. Idempotent.
	EnsureSchema(ctx context.Context) error

	// CreateTask persists Task, payload, initial status (QUEUED, empty
	// progress), and metadata atomically. Returns a Conflict-kind error on
	// duplicate id.
	CreateTask(ctx context.Context, t *Task) error

	// GetTask returns the full joined aggregate for ownerID's task, or a
	// NotFound/AccessDenied-kind error.
	GetTask(ctx context.Context, ownerID, taskID string) (*Task, error)

	// GetStatus is a convenience projection over GetTask.
	GetStatus(ctx context.Context, ownerID, taskID string) (*TaskStatus, error)

	// GetResult is a convenience projection over GetTask.
	GetResult(ctx context.Context, ownerID, taskID string) (*Result, error)

	// ListTasks returns an owner-scoped page ordered by task_id ascending.
	ListTasks(ctx context.Context, ownerID string, filter ListFilter) ([]View, error)

	// UpdateStatus merges the status row (upsert) and any non-nil metadata
	// fields. Returns a NotFound-kind error if the task is missing.
	UpdateStatus(ctx context.Context, taskID string, status TaskStatus, meta *Metadata) error

	// SetResult upserts the result row; if finishedAt is non-nil it is
	// merged into metadata.FinishedAt.
	SetResult(ctx context.Context, result Result, finishedAt *time.Time) error
}
