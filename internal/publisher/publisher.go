// Package publisher implements the Publisher port (C3): thin producers
// that serialize a TaskEvent and append it to the configured stream.
// SyncPublisher and AsyncPublisher share encodeAndAppend so wire bytes are
// identical regardless of which one produced them (spec.md §4.3,
// "Async-over-sync").
package publisher

import (
	"context"

	"taskhub/internal/async"
	domainevent "taskhub/internal/domain/event"
	"taskhub/internal/eventlog"
	"taskhub/internal/logging"
)

// Publisher is implemented by both the sync (worker-side) and async
// (service-side) publishers.
type Publisher interface {
	Publish(ctx context.Context, stream string, ev domainevent.TaskEvent) error
}

func encodeAndAppend(ctx context.Context, log eventlog.Log, stream string, ev domainevent.TaskEvent) error {
	_, err := log.Append(ctx, stream, ev.Fields(), 0, false)
	return err
}

// SyncPublisher appends directly and returns once the append completes.
// Used by workers, which execute a task to completion synchronously.
type SyncPublisher struct {
	log eventlog.Log
}

// NewSyncPublisher builds a SyncPublisher over log.
func NewSyncPublisher(log eventlog.Log) *SyncPublisher {
	return &SyncPublisher{log: log}
}

var _ Publisher = (*SyncPublisher)(nil)

// Publish appends ev to stream and waits for the result.
func (p *SyncPublisher) Publish(ctx context.Context, stream string, ev domainevent.TaskEvent) error {
	return encodeAndAppend(ctx, p.log, stream, ev)
}

// AsyncPublisher fires the append in a panic-guarded goroutine and reports
// the outcome on errCh, letting the service event loop stay non-blocking.
type AsyncPublisher struct {
	log    eventlog.Log
	logger logging.Logger
}

// NewAsyncPublisher builds an AsyncPublisher over log.
func NewAsyncPublisher(log eventlog.Log) *AsyncPublisher {
	return &AsyncPublisher{log: log, logger: logging.NewComponentLogger("AsyncPublisher")}
}

var _ Publisher = (*AsyncPublisher)(nil)

// Publish fires the append asynchronously. The returned error is always
// nil; callers that need the append's outcome should use PublishAndWait or
// consult the errCh passed to PublishAsync directly.
func (p *AsyncPublisher) Publish(ctx context.Context, stream string, ev domainevent.TaskEvent) error {
	p.PublishAsync(ctx, stream, ev, nil)
	return nil
}

// PublishAsync appends ev to stream in the background; if errCh is
// non-nil, the outcome is sent to it (best-effort, non-blocking send).
func (p *AsyncPublisher) PublishAsync(ctx context.Context, stream string, ev domainevent.TaskEvent, errCh chan<- error) {
	async.Go(p.logger, "publisher.append", func() {
		err := encodeAndAppend(ctx, p.log, stream, ev)
		if err != nil {
			p.logger.Error("publish failed: stream=%s task_id=%s err=%v", stream, ev.TaskID, err)
		}
		if errCh != nil {
			select {
			case errCh <- err:
			default:
			}
		}
	})
}

// PublishAndWait appends ev to stream and blocks for the result, for
// callers that need synchronous confirmation despite using AsyncPublisher.
func (p *AsyncPublisher) PublishAndWait(ctx context.Context, stream string, ev domainevent.TaskEvent) error {
	return encodeAndAppend(ctx, p.log, stream, ev)
}
