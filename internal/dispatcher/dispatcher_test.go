package dispatcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"taskhub/internal/apperrors"
	"taskhub/internal/broadcaster"
	domainevent "taskhub/internal/domain/event"
	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/eventlog"
	"taskhub/internal/handler"
)

type fakeStore struct {
	mu       sync.Mutex
	writes   int
	onUpdate func(domaintask.TaskStatus)
}

func (f *fakeStore) EnsureSchema(ctx context.Context) error                   { return nil }
func (f *fakeStore) CreateTask(ctx context.Context, t *domaintask.Task) error { return nil }
func (f *fakeStore) GetTask(ctx context.Context, ownerID, taskID string) (*domaintask.Task, error) {
	return nil, apperrors.NotFound(taskID)
}
func (f *fakeStore) GetStatus(ctx context.Context, ownerID, taskID string) (*domaintask.TaskStatus, error) {
	return nil, apperrors.NotFound(taskID)
}
func (f *fakeStore) GetResult(ctx context.Context, ownerID, taskID string) (*domaintask.Result, error) {
	return nil, apperrors.NotFound(taskID)
}
func (f *fakeStore) ListTasks(ctx context.Context, ownerID string, filter domaintask.ListFilter) ([]domaintask.View, error) {
	return nil, nil
}
func (f *fakeStore) UpdateStatus(ctx context.Context, taskID string, status domaintask.TaskStatus, meta *domaintask.Metadata) error {
	f.mu.Lock()
	f.writes++
	onUpdate := f.onUpdate
	f.mu.Unlock()
	if onUpdate != nil {
		onUpdate(status)
	}
	return nil
}
func (f *fakeStore) SetResult(ctx context.Context, result domaintask.Result, finishedAt *time.Time) error {
	return nil
}

// fakeLog serves one batch of entries from ReadGroup, then blocks (via
// ctx.Done) on subsequent calls, mimicking an idle stream.
type fakeLog struct {
	mu      sync.Mutex
	entries []eventlog.Entry
	served  bool
	acked   []eventlog.EntryID
	ensured bool
	closed  bool
}

func (f *fakeLog) EnsureGroup(ctx context.Context, stream, group, startID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensured = true
	return nil
}

func (f *fakeLog) Append(ctx context.Context, stream string, fields map[string]any, maxlen int64, approximate bool) (eventlog.EntryID, error) {
	return "", nil
}

func (f *fakeLog) ReadGroup(ctx context.Context, stream, group, consumer string, count, block int64) ([]eventlog.Entry, error) {
	f.mu.Lock()
	if !f.served {
		f.served = true
		entries := f.entries
		f.mu.Unlock()
		return entries, nil
	}
	f.mu.Unlock()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return nil, nil
	}
}

func (f *fakeLog) ClaimPending(ctx context.Context, stream, group, consumer string, minIdleMs, count int64) ([]eventlog.Entry, error) {
	return nil, nil
}

func (f *fakeLog) Ack(ctx context.Context, stream, group string, id eventlog.EntryID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acked = append(f.acked, id)
	return nil
}

func (f *fakeLog) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLog) ackedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.acked)
}

func statusEntry(t *testing.T, taskID string) eventlog.Entry {
	t.Helper()
	return statusEntryWithID(t, "e1", taskID, domaintask.TaskStatus{State: domaintask.StatusRunning})
}

func statusEntryWithID(t *testing.T, eventID, taskID string, status domaintask.TaskStatus) eventlog.Entry {
	t.Helper()
	ev, err := domainevent.NewStatusEvent(eventID, taskID, time.Now(), status)
	if err != nil {
		t.Fatalf("NewStatusEvent: %v", err)
	}
	return eventlog.Entry{ID: eventlog.EntryID(eventID), Fields: toStringFields(ev.Fields())}
}

func toStringFields(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v.(string)
	}
	return out
}

func TestConsumerProcessesAndAcksEntries(t *testing.T) {
	store := &fakeStore{}
	h := handler.New(store, broadcaster.New(), handler.DefaultDelta)
	log := &fakeLog{entries: []eventlog.Entry{statusEntry(t, "task-1")}}

	c := New(Config{Stream: "s1", Group: "g1", Consumer: "c1", Count: 10, BlockMS: 10 * time.Millisecond}, log, h)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for log.ackedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if log.ackedCount() != 1 {
		t.Fatalf("expected 1 ack, got %d", log.ackedCount())
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !log.closed {
		t.Fatal("expected log to be closed after Stop")
	}
}

func TestConsumerProcessesSameTaskEntriesInReceiptOrder(t *testing.T) {
	store := &fakeStore{}
	h := handler.New(store, broadcaster.New(), handler.DefaultDelta)

	var mu sync.Mutex
	var seen []domaintask.Status
	store.onUpdate = func(status domaintask.TaskStatus) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, status.State)
	}

	running := statusEntryWithID(t, "e1", "task-1", domaintask.TaskStatus{State: domaintask.StatusRunning})
	completed := statusEntryWithID(t, "e2", "task-1", domaintask.TaskStatus{State: domaintask.StatusCompleted})
	log := &fakeLog{entries: []eventlog.Entry{running, completed}}

	c := New(Config{Stream: "s1", Group: "g1", Consumer: "c1", Count: 10, BlockMS: 10 * time.Millisecond}, log, h)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for log.ackedCount() < 2 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if log.ackedCount() != 2 {
		t.Fatalf("expected 2 acks, got %d", log.ackedCount())
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 2 || seen[0] != domaintask.StatusRunning || seen[1] != domaintask.StatusCompleted {
		t.Fatalf("expected [RUNNING COMPLETED] in order, got %v", seen)
	}
}

func TestConsumerAcksMalformedEntry(t *testing.T) {
	store := &fakeStore{}
	h := handler.New(store, broadcaster.New(), handler.DefaultDelta)
	log := &fakeLog{entries: []eventlog.Entry{{ID: "1-0", Fields: map[string]string{"type": "TASK_STATUS"}}}}

	c := New(Config{Stream: "s1", Group: "g1", Consumer: "c1", Count: 10, BlockMS: 10 * time.Millisecond}, log, h)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for log.ackedCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if log.ackedCount() != 1 {
		t.Fatalf("expected malformed entry to be acked (poison pill), got %d acks", log.ackedCount())
	}
}
