// Package event defines TaskEvent, the wire unit carried on the Event Log,
// and its three payload shapes.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	domaintask "taskhub/internal/domain/task"
)

// Type is the TaskEvent discriminator.
type Type string

const (
	TypeTaskStatus      Type = "TASK_STATUS"
	TypeTaskResult      Type = "TASK_RESULT"
	TypeTaskResultChunk Type = "TASK_RESULT_CHUNK"
)

// StatusPayload is the TASK_STATUS event payload.
type StatusPayload struct {
	Status domaintask.TaskStatus `json:"status"`
}

// ResultPayload is the TASK_RESULT event payload. Result may be either a
// structured TaskResult-shaped object or an opaque value; HandleResult
// (handler package) resolves which.
type ResultPayload struct {
	Result json.RawMessage `json:"result"`
}

// ResultChunkPayload is the TASK_RESULT_CHUNK event payload.
type ResultChunkPayload struct {
	ChunkID string          `json:"chunk_id"`
	Data    json.RawMessage `json:"data"`
	IsLast  bool            `json:"is_last"`
}

// TaskEvent is the wire unit appended to the Event Log.
type TaskEvent struct {
	EventID string          `json:"event_id"`
	Type    Type            `json:"type"`
	TaskID  string          `json:"task_id"`
	TS      time.Time       `json:"ts"`
	Payload json.RawMessage `json:"payload"`
}

// NewStatusEvent builds a TASK_STATUS TaskEvent.
func NewStatusEvent(eventID, taskID string, ts time.Time, status domaintask.TaskStatus) (TaskEvent, error) {
	payload, err := json.Marshal(StatusPayload{Status: status})
	if err != nil {
		return TaskEvent{}, fmt.Errorf("encode status payload: %w", err)
	}
	return TaskEvent{EventID: eventID, Type: TypeTaskStatus, TaskID: taskID, TS: ts, Payload: payload}, nil
}

// NewResultEvent builds a TASK_RESULT TaskEvent from an arbitrary
// JSON-marshalable result value.
func NewResultEvent(eventID, taskID string, ts time.Time, result any) (TaskEvent, error) {
	resultRaw, err := json.Marshal(result)
	if err != nil {
		return TaskEvent{}, fmt.Errorf("encode result: %w", err)
	}
	payload, err := json.Marshal(ResultPayload{Result: resultRaw})
	if err != nil {
		return TaskEvent{}, fmt.Errorf("encode result payload: %w", err)
	}
	return TaskEvent{EventID: eventID, Type: TypeTaskResult, TaskID: taskID, TS: ts, Payload: payload}, nil
}

// NewResultChunkEvent builds a TASK_RESULT_CHUNK TaskEvent.
func NewResultChunkEvent(eventID, taskID string, ts time.Time, chunkID string, data any, isLast bool) (TaskEvent, error) {
	dataRaw, err := json.Marshal(data)
	if err != nil {
		return TaskEvent{}, fmt.Errorf("encode chunk data: %w", err)
	}
	payload, err := json.Marshal(ResultChunkPayload{ChunkID: chunkID, Data: dataRaw, IsLast: isLast})
	if err != nil {
		return TaskEvent{}, fmt.Errorf("encode chunk payload: %w", err)
	}
	return TaskEvent{EventID: eventID, Type: TypeTaskResultChunk, TaskID: taskID, TS: ts, Payload: payload}, nil
}

// DecodeStatusPayload decodes the payload of a TASK_STATUS event.
func (e TaskEvent) DecodeStatusPayload() (StatusPayload, error) {
	var p StatusPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return StatusPayload{}, fmt.Errorf("decode status payload: %w", err)
	}
	return p, nil
}

// DecodeResultPayload decodes the payload of a TASK_RESULT event.
func (e TaskEvent) DecodeResultPayload() (ResultPayload, error) {
	var p ResultPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ResultPayload{}, fmt.Errorf("decode result payload: %w", err)
	}
	return p, nil
}

// DecodeResultChunkPayload decodes the payload of a TASK_RESULT_CHUNK event.
func (e TaskEvent) DecodeResultChunkPayload() (ResultChunkPayload, error) {
	var p ResultChunkPayload
	if err := json.Unmarshal(e.Payload, &p); err != nil {
		return ResultChunkPayload{}, fmt.Errorf("decode result chunk payload: %w", err)
	}
	return p, nil
}

// Fields serializes the event as the string-keyed field map carried by the
// Event Log entry (SPEC_FULL.md / spec.md §6 wire format).
func (e TaskEvent) Fields() map[string]any {
	return map[string]any{
		"event_id": e.EventID,
		"type":     string(e.Type),
		"task_id":  e.TaskID,
		"ts":       e.TS.UTC().Format(time.RFC3339Nano),
		"payload":  string(e.Payload),
	}
}

// FromFields decodes an Event Log entry's field map back into a TaskEvent.
func FromFields(fields map[string]string) (TaskEvent, error) {
	ts, err := time.Parse(time.RFC3339Nano, fields["ts"])
	if err != nil {
		return TaskEvent{}, fmt.Errorf("parse ts: %w", err)
	}
	eventType := Type(fields["type"])
	switch eventType {
	case TypeTaskStatus, TypeTaskResult, TypeTaskResultChunk:
	default:
		return TaskEvent{}, fmt.Errorf("unknown event type %q", fields["type"])
	}
	return TaskEvent{
		EventID: fields["event_id"],
		Type:    eventType,
		TaskID:  fields["task_id"],
		TS:      ts,
		Payload: json.RawMessage(fields["payload"]),
	}, nil
}
