// Package execution defines ExecutionRequest, the message a Task Service
// enqueues onto a routing destination's stream and a worker consumes to
// start running a task (spec.md §4.8, §6 "Task-routing table").
package execution

import (
	"encoding/json"
	"fmt"

	domaintask "taskhub/internal/domain/task"
)

// Request is the wire unit carried on a task-type's destination stream.
type Request struct {
	TaskID  string
	OwnerID string
	Type    domaintask.Type
	Payload json.RawMessage
}

// Fields serializes Request as the string-keyed field map an Event Log
// entry carries.
func (r Request) Fields() map[string]any {
	return map[string]any{
		"task_id":  r.TaskID,
		"owner_id": r.OwnerID,
		"type":     string(r.Type),
		"payload":  string(r.Payload),
	}
}

// FromFields decodes an Event Log entry's field map back into a Request.
func FromFields(fields map[string]string) (Request, error) {
	taskID := fields["task_id"]
	if taskID == "" {
		return Request{}, fmt.Errorf("execution request missing task_id")
	}
	return Request{
		TaskID:  taskID,
		OwnerID: fields["owner_id"],
		Type:    domaintask.Type(fields["type"]),
		Payload: json.RawMessage(fields["payload"]),
	}, nil
}
