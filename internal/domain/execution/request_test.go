package execution

import (
	"encoding/json"
	"testing"

	domaintask "taskhub/internal/domain/task"
)

func TestRequestFieldsRoundTripsThroughFromFields(t *testing.T) {
	req := Request{
		TaskID:  "task-1",
		OwnerID: "owner-1",
		Type:    domaintask.TypeComputePi,
		Payload: json.RawMessage(`{"digits":10}`),
	}

	fields := req.Fields()
	stringFields := make(map[string]string, len(fields))
	for k, v := range fields {
		s, ok := v.(string)
		if !ok {
			t.Fatalf("field %q is not a string: %T", k, v)
		}
		stringFields[k] = s
	}

	got, err := FromFields(stringFields)
	if err != nil {
		t.Fatalf("FromFields: %v", err)
	}
	if got.TaskID != req.TaskID || got.OwnerID != req.OwnerID || got.Type != req.Type {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, req)
	}
	if string(got.Payload) != string(req.Payload) {
		t.Fatalf("payload mismatch: got %s, want %s", got.Payload, req.Payload)
	}
}

func TestFromFieldsRejectsMissingTaskID(t *testing.T) {
	_, err := FromFields(map[string]string{"owner_id": "owner-1"})
	if err == nil {
		t.Fatal("expected an error for a missing task_id")
	}
}
