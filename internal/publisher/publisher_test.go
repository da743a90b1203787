package publisher

import (
	"context"
	"sync"
	"testing"
	"time"

	domainevent "taskhub/internal/domain/event"
	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/eventlog"
)

type fakeLog struct {
	mu       sync.Mutex
	entries  []fakeEntry
	failNext bool
}

type fakeEntry struct {
	stream string
	fields map[string]any
}

func (f *fakeLog) EnsureGroup(ctx context.Context, stream, group, startID string) error { return nil }

func (f *fakeLog) Append(ctx context.Context, stream string, fields map[string]any, maxlen int64, approximate bool) (eventlog.EntryID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return "", context.DeadlineExceeded
	}
	f.entries = append(f.entries, fakeEntry{stream: stream, fields: fields})
	return eventlog.EntryID("1-0"), nil
}

func (f *fakeLog) ReadGroup(ctx context.Context, stream, group, consumer string, count, block int64) ([]eventlog.Entry, error) {
	return nil, nil
}
func (f *fakeLog) ClaimPending(ctx context.Context, stream, group, consumer string, minIdleMs, count int64) ([]eventlog.Entry, error) {
	return nil, nil
}
func (f *fakeLog) Ack(ctx context.Context, stream, group string, id eventlog.EntryID) error {
	return nil
}
func (f *fakeLog) Close() error { return nil }

func (f *fakeLog) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func TestSyncPublisherAppendsImmediately(t *testing.T) {
	log := &fakeLog{}
	p := NewSyncPublisher(log)
	ev, err := domainevent.NewStatusEvent("e1", "task-1", time.Now(), domaintask.TaskStatus{State: domaintask.StatusRunning})
	if err != nil {
		t.Fatalf("NewStatusEvent: %v", err)
	}
	if err := p.Publish(context.Background(), "compute_pi", ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if log.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", log.count())
	}
}

func TestAsyncPublisherAppendsEventually(t *testing.T) {
	log := &fakeLog{}
	p := NewAsyncPublisher(log)
	ev, err := domainevent.NewStatusEvent("e1", "task-1", time.Now(), domaintask.TaskStatus{State: domaintask.StatusRunning})
	if err != nil {
		t.Fatalf("NewStatusEvent: %v", err)
	}

	errCh := make(chan error, 1)
	p.PublishAsync(context.Background(), "compute_pi", ev, errCh)

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("unexpected publish error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for async publish")
	}
	if log.count() != 1 {
		t.Fatalf("expected 1 entry, got %d", log.count())
	}
}
