// Package reporter implements the Reporter port (C7): a worker-side
// facade, parameterized by task_id, over the Publisher (spec.md §4.7).
package reporter

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	domainevent "taskhub/internal/domain/event"
	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/idgen"
	"taskhub/internal/publisher"
)

// Reporter builds and publishes TaskEvents for a single task.
type Reporter struct {
	taskID    string
	stream    string
	publisher publisher.Publisher
	chunkSeq  int64
}

// New builds a Reporter that publishes to stream on behalf of taskID.
func New(taskID, stream string, pub publisher.Publisher) *Reporter {
	return &Reporter{taskID: taskID, stream: stream, publisher: pub}
}

// ReportStatus publishes a TASK_STATUS event.
func (r *Reporter) ReportStatus(ctx context.Context, status domaintask.TaskStatus) error {
	ev, err := domainevent.NewStatusEvent(idgen.New(), r.taskID, time.Now(), status)
	if err != nil {
		return fmt.Errorf("build status event: %w", err)
	}
	return r.publisher.Publish(ctx, r.stream, ev)
}

// ReportResult publishes a TASK_RESULT event carrying data.
func (r *Reporter) ReportResult(ctx context.Context, data any) error {
	ev, err := domainevent.NewResultEvent(idgen.New(), r.taskID, time.Now(), data)
	if err != nil {
		return fmt.Errorf("build result event: %w", err)
	}
	return r.publisher.Publish(ctx, r.stream, ev)
}

// ReportChunked returns a scoped chunk emitter that accumulates items via
// Emit and flushes a TASK_RESULT_CHUNK event every batchSize items. The
// caller must Close (typically via defer) to flush any remainder with
// is_last=true (an empty final chunk when nothing is buffered) — the idiomatic Go substitute for a context-manager scope
// (spec.md §9 "Scoped chunk emitter").
func (r *Reporter) ReportChunked(batchSize int) (*ChunkEmitter, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("reporter: batch_size must be > 0, got %d", batchSize)
	}
	return &ChunkEmitter{reporter: r, batchSize: batchSize}, nil
}

// ChunkEmitter accumulates items and flushes them as TASK_RESULT_CHUNK
// events in batches of batchSize. It is not safe for concurrent use.
type ChunkEmitter struct {
	reporter  *Reporter
	batchSize int
	buffer    []any
	closed    bool
}

// Emit accumulates item, flushing a non-final chunk once the batch fills.
func (c *ChunkEmitter) Emit(ctx context.Context, item any) error {
	if c.closed {
		return fmt.Errorf("reporter: emit called after Close")
	}
	c.buffer = append(c.buffer, item)
	if len(c.buffer) >= c.batchSize {
		return c.flush(ctx, false)
	}
	return nil
}

// Close flushes any remaining buffered items as a final chunk
// (is_last=true); with nothing buffered, the final chunk carries empty
// data. Safe to call more than once; subsequent calls are no-ops.
func (c *ChunkEmitter) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.flush(context.Background(), true)
}

func (c *ChunkEmitter) flush(ctx context.Context, isLast bool) error {
	if len(c.buffer) == 0 && !isLast {
		return nil
	}
	seq := atomic.AddInt64(&c.reporter.chunkSeq, 1)
	chunkID := fmt.Sprintf("%s-chunk-%d", c.reporter.taskID, seq)
	data := c.buffer
	if data == nil {
		data = []any{}
	}
	c.buffer = nil

	ev, err := domainevent.NewResultChunkEvent(idgen.New(), c.reporter.taskID, time.Now(), chunkID, data, isLast)
	if err != nil {
		return fmt.Errorf("build result chunk event: %w", err)
	}
	return c.reporter.publisher.Publish(ctx, c.reporter.stream, ev)
}
