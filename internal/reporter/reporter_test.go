package reporter

import (
	"context"
	"sync"
	"testing"

	domainevent "taskhub/internal/domain/event"
	domaintask "taskhub/internal/domain/task"
)

type fakePublisher struct {
	mu     sync.Mutex
	events []domainevent.TaskEvent
}

func (f *fakePublisher) Publish(ctx context.Context, stream string, ev domainevent.TaskEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.events)
}

func TestReportStatusPublishesOneEvent(t *testing.T) {
	pub := &fakePublisher{}
	r := New("task-1", "compute_pi", pub)
	if err := r.ReportStatus(context.Background(), domaintask.TaskStatus{State: domaintask.StatusRunning}); err != nil {
		t.Fatalf("ReportStatus: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 event, got %d", pub.count())
	}
}

func TestReportChunkedInvalidBatchSize(t *testing.T) {
	pub := &fakePublisher{}
	r := New("task-1", "compute_pi", pub)
	if _, err := r.ReportChunked(0); err == nil {
		t.Fatal("expected error for batch_size <= 0")
	}
}

func TestChunkEmitterFlushesOnBatchSize(t *testing.T) {
	pub := &fakePublisher{}
	r := New("task-1", "compute_pi", pub)
	emitter, err := r.ReportChunked(2)
	if err != nil {
		t.Fatalf("ReportChunked: %v", err)
	}

	ctx := context.Background()
	for _, item := range []string{"a", "b"} {
		if err := emitter.Emit(ctx, item); err != nil {
			t.Fatalf("Emit: %v", err)
		}
	}
	if pub.count() != 1 {
		t.Fatalf("expected 1 flush after filling batch, got %d", pub.count())
	}
	if err := emitter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// No remainder buffered, so Close emits one empty final chunk.
	if pub.count() != 2 {
		t.Fatalf("expected one extra final flush on empty Close, got %d", pub.count())
	}
}

func TestChunkEmitterFlushesRemainderOnClose(t *testing.T) {
	pub := &fakePublisher{}
	r := New("task-1", "compute_pi", pub)
	emitter, err := r.ReportChunked(10)
	if err != nil {
		t.Fatalf("ReportChunked: %v", err)
	}

	ctx := context.Background()
	if err := emitter.Emit(ctx, "only-item"); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if pub.count() != 0 {
		t.Fatalf("expected no flush before batch fills, got %d", pub.count())
	}
	if err := emitter.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("expected Close to flush the remainder, got %d", pub.count())
	}

	payload, err := pub.events[0].DecodeResultChunkPayload()
	if err != nil {
		t.Fatalf("DecodeResultChunkPayload: %v", err)
	}
	if !payload.IsLast {
		t.Fatalf("expected final chunk to have is_last=true")
	}
}

func TestChunkEmitterCloseIsIdempotent(t *testing.T) {
	pub := &fakePublisher{}
	r := New("task-1", "compute_pi", pub)
	emitter, _ := r.ReportChunked(10)
	_ = emitter.Emit(context.Background(), "x")
	if err := emitter.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := emitter.Close(); err != nil {
		t.Fatalf("second Close should be a no-op, got: %v", err)
	}
	if pub.count() != 1 {
		t.Fatalf("expected exactly 1 flush across both closes, got %d", pub.count())
	}
}
