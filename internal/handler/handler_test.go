package handler

import (
	"context"
	"testing"
	"time"

	"taskhub/internal/apperrors"
	"taskhub/internal/broadcaster"
	domainevent "taskhub/internal/domain/event"
	domaintask "taskhub/internal/domain/task"
)

type fakeStore struct {
	statusWrites int
	lastStatus   domaintask.TaskStatus
	resultWrites int
	lastResult   domaintask.Result
}

func (f *fakeStore) EnsureSchema(ctx context.Context) error                   { return nil }
func (f *fakeStore) CreateTask(ctx context.Context, t *domaintask.Task) error { return nil }
func (f *fakeStore) GetTask(ctx context.Context, ownerID, taskID string) (*domaintask.Task, error) {
	return nil, apperrors.NotFound(taskID)
}
func (f *fakeStore) GetStatus(ctx context.Context, ownerID, taskID string) (*domaintask.TaskStatus, error) {
	return &f.lastStatus, nil
}
func (f *fakeStore) GetResult(ctx context.Context, ownerID, taskID string) (*domaintask.Result, error) {
	return &f.lastResult, nil
}
func (f *fakeStore) ListTasks(ctx context.Context, ownerID string, filter domaintask.ListFilter) ([]domaintask.View, error) {
	return nil, nil
}
func (f *fakeStore) UpdateStatus(ctx context.Context, taskID string, status domaintask.TaskStatus, meta *domaintask.Metadata) error {
	f.statusWrites++
	f.lastStatus = status
	return nil
}
func (f *fakeStore) SetResult(ctx context.Context, result domaintask.Result, finishedAt *time.Time) error {
	f.resultWrites++
	f.lastResult = result
	return nil
}

func pct(p float64) *float64 { return &p }

func statusEvent(t *testing.T, taskID string, ts time.Time, state domaintask.Status, p float64) domainevent.TaskEvent {
	t.Helper()
	status := domaintask.TaskStatus{State: state, Progress: domaintask.Progress{Percentage: pct(p)}}
	ev, err := domainevent.NewStatusEvent("e-"+taskID, taskID, ts, status)
	if err != nil {
		t.Fatalf("NewStatusEvent: %v", err)
	}
	return ev
}

func TestHandleStatusWritesOnFirstEvent(t *testing.T) {
	store := &fakeStore{}
	h := New(store, broadcaster.New(), DefaultDelta)
	ev := statusEvent(t, "task-1", time.Now(), domaintask.StatusRunning, 0.1)

	if err := h.HandleStatus(context.Background(), ev); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if store.statusWrites != 1 {
		t.Fatalf("expected 1 write, got %d", store.statusWrites)
	}
}

func TestHandleStatusThrottlesSmallDeltas(t *testing.T) {
	store := &fakeStore{}
	h := New(store, broadcaster.New(), DefaultDelta)
	now := time.Now()

	if err := h.HandleStatus(context.Background(), statusEvent(t, "task-1", now, domaintask.StatusRunning, 0.10)); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if err := h.HandleStatus(context.Background(), statusEvent(t, "task-1", now, domaintask.StatusRunning, 0.105)); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if store.statusWrites != 1 {
		t.Fatalf("expected throttled second event to skip write, got %d writes", store.statusWrites)
	}
}

func TestHandleStatusAlwaysWritesTerminal(t *testing.T) {
	store := &fakeStore{}
	h := New(store, broadcaster.New(), DefaultDelta)
	now := time.Now()

	if err := h.HandleStatus(context.Background(), statusEvent(t, "task-1", now, domaintask.StatusRunning, 0.10)); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if err := h.HandleStatus(context.Background(), statusEvent(t, "task-1", now, domaintask.StatusCompleted, 0.101)); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if store.statusWrites != 2 {
		t.Fatalf("expected terminal event to force a write, got %d writes", store.statusWrites)
	}
	if _, stillTracked := h.lastPct["task-1"]; stillTracked {
		t.Fatalf("expected last_pct entry to be cleared after terminal event")
	}
}

func TestHandleStatusThrottleScenarioS2(t *testing.T) {
	store := &fakeStore{}
	h := New(store, broadcaster.New(), DefaultDelta)
	now := time.Now()

	for i := 0; i <= 99; i++ {
		p := float64(i) / 100.0
		if err := h.HandleStatus(context.Background(), statusEvent(t, "task-s2", now, domaintask.StatusRunning, p)); err != nil {
			t.Fatalf("HandleStatus: %v", err)
		}
	}
	if err := h.HandleStatus(context.Background(), statusEvent(t, "task-s2", now, domaintask.StatusCompleted, 1.0)); err != nil {
		t.Fatalf("HandleStatus: %v", err)
	}
	if store.statusWrites != 51 {
		t.Fatalf("expected 51 writes per S2, got %d", store.statusWrites)
	}
}

func TestHandleResultDefaultsTaskIDAndDetectsStructuredPayload(t *testing.T) {
	store := &fakeStore{}
	h := New(store, broadcaster.New(), DefaultDelta)

	ev, err := domainevent.NewResultEvent("e1", "task-1", time.Now(), map[string]any{"data": "3.14"})
	if err != nil {
		t.Fatalf("NewResultEvent: %v", err)
	}
	if err := h.HandleResult(context.Background(), ev); err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if store.resultWrites != 1 {
		t.Fatalf("expected 1 result write, got %d", store.resultWrites)
	}
	if store.lastResult.TaskID != "task-1" {
		t.Fatalf("expected task_id to default, got %q", store.lastResult.TaskID)
	}
}

func TestHandleResultTreatsOpaqueValueAsData(t *testing.T) {
	store := &fakeStore{}
	h := New(store, broadcaster.New(), DefaultDelta)

	ev, err := domainevent.NewResultEvent("e1", "task-1", time.Now(), "3.14")
	if err != nil {
		t.Fatalf("NewResultEvent: %v", err)
	}
	if err := h.HandleResult(context.Background(), ev); err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	if string(store.lastResult.Data) != `"3.14"` {
		t.Fatalf("expected opaque data to be preserved, got %s", store.lastResult.Data)
	}
}

func TestHandleResultChunkRequiresChunkIDAndData(t *testing.T) {
	store := &fakeStore{}
	h := New(store, broadcaster.New(), DefaultDelta)

	ev, err := domainevent.NewResultChunkEvent("e1", "task-1", time.Now(), "", []string{"x"}, false)
	if err != nil {
		t.Fatalf("NewResultChunkEvent: %v", err)
	}
	err = h.HandleResultChunk(context.Background(), ev)
	if !apperrors.Is(err, apperrors.KindInvalidEvent) {
		t.Fatalf("expected InvalidEvent, got %v", err)
	}
}

func TestHandleResultChunkBroadcastsOnlyNoPersistence(t *testing.T) {
	store := &fakeStore{}
	h := New(store, broadcaster.New(), DefaultDelta)

	ev, err := domainevent.NewResultChunkEvent("e1", "task-1", time.Now(), "c1", []string{"x"}, true)
	if err != nil {
		t.Fatalf("NewResultChunkEvent: %v", err)
	}
	if err := h.HandleResultChunk(context.Background(), ev); err != nil {
		t.Fatalf("HandleResultChunk: %v", err)
	}
	if store.resultWrites != 0 {
		t.Fatalf("expected no store writes for a result chunk, got %d", store.resultWrites)
	}
}
