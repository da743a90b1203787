// Package dispatcher implements the Consumer/Dispatcher port (C4): the
// reclaim→read→decode→dispatch→ack loop running against the Event Log
// (spec.md §4.4). Lifecycle follows the teacher's start/stop guard idiom
// (internal/app/scheduler/scheduler.go's sync.Once-protected Stop), and
// in-flight handler tracking uses golang.org/x/sync/errgroup, the same
// per-batch fan-out shape surveyed in _examples/ygrebnov-workers/dispatcher.go.
package dispatcher

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"taskhub/internal/apperrors"
	domainevent "taskhub/internal/domain/event"
	"taskhub/internal/eventlog"
	"taskhub/internal/handler"
	"taskhub/internal/logging"
	"taskhub/internal/metrics"
)

// Config parameterizes a Consumer's loop.
type Config struct {
	Stream         string
	Group          string
	Consumer       string
	Count          int64
	BlockMS        time.Duration
	ReclaimPending bool
	ReclaimIdleMS  time.Duration
}

// Consumer runs the Event Log consumer-group loop for one process.
type Consumer struct {
	cfg     Config
	log     eventlog.Log
	handler *handler.Handler
	logger  logging.Logger

	mu       sync.Mutex
	cancel   context.CancelFunc
	stopped  chan struct{}
	started  bool
	stopOnce sync.Once
	group    *errgroup.Group
	metrics  *metrics.Pipeline
	tracer   trace.Tracer
}

// UseMetrics attaches a metrics.Pipeline the Consumer reports reclaimed
// (redelivered) entries through. Optional.
func (c *Consumer) UseMetrics(m *metrics.Pipeline) {
	c.metrics = m
}

// UseTracer attaches a tracer the Consumer wraps each dispatched event
// with a span under. Optional; dispatch runs unwrapped when nil.
func (c *Consumer) UseTracer(t trace.Tracer) {
	c.tracer = t
}

// New builds a Consumer. Call Start to begin consuming.
func New(cfg Config, log eventlog.Log, h *handler.Handler) *Consumer {
	return &Consumer{
		cfg:     cfg,
		log:     log,
		handler: h,
		logger:  logging.NewComponentLogger("Dispatcher"),
	}
}

// Start performs ensure_group, spawns the background loop, and returns.
func (c *Consumer) Start(ctx context.Context) error {
	if err := c.log.EnsureGroup(ctx, c.cfg.Stream, c.cfg.Group, "0"); err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "ensure group", err)
	}

	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.stopped = make(chan struct{})
	c.group = new(errgroup.Group)
	c.started = true
	c.mu.Unlock()

	go func() {
		defer close(c.stopped)
		c.run(loopCtx)
	}()
	return nil
}

// Stop cancels the loop, waits for in-flight handlers, and closes the log
// connection. Safe to call multiple times.
func (c *Consumer) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.mu.Lock()
		cancel := c.cancel
		stopped := c.stopped
		group := c.group
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if stopped != nil {
			<-stopped
		}
		if group != nil {
			_ = group.Wait()
		}
		err = c.log.Close()
	})
	return err
}

func (c *Consumer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if c.cfg.ReclaimPending {
			claimed, err := c.log.ClaimPending(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer,
				c.cfg.ReclaimIdleMS.Milliseconds(), c.cfg.Count)
			if err != nil {
				c.logger.Warn("claim_pending failed: %v", err)
			} else {
				if len(claimed) > 0 && c.metrics != nil {
					for range claimed {
						c.metrics.RecordRedelivery(c.cfg.Stream)
					}
				}
				c.processEntries(ctx, claimed)
			}
		}

		entries, err := c.log.ReadGroup(ctx, c.cfg.Stream, c.cfg.Group, c.cfg.Consumer, c.cfg.Count, c.cfg.BlockMS.Milliseconds())
		if err != nil {
			c.logger.Warn("read_group failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		c.processEntries(ctx, entries)
	}
}

// processEntries dispatches entries from distinct tasks concurrently, but
// keeps entries for the same task_id in receipt order on one goroutine:
// spec.md §4.4 requires per-task ordering even though a single ReadGroup or
// ClaimPending batch may return several events for the same task.
func (c *Consumer) processEntries(ctx context.Context, entries []eventlog.Entry) {
	order, groups := groupByTask(entries)
	for _, key := range order {
		batch := groups[key]
		c.group.Go(func() error {
			for _, entry := range batch {
				c.processOne(ctx, entry)
			}
			return nil
		})
	}
}

// groupByTask buckets entries by task_id, preserving each bucket's and the
// bucket order's original receipt order. Entries that fail to decode here
// (processOne re-decodes and handles the poison-pill case) fall back to a
// per-entry key so they don't block unrelated entries.
func groupByTask(entries []eventlog.Entry) ([]string, map[string][]eventlog.Entry) {
	groups := make(map[string][]eventlog.Entry, len(entries))
	order := make([]string, 0, len(entries))
	for _, entry := range entries {
		key := string(entry.ID)
		if ev, err := domainevent.FromFields(entry.Fields); err == nil {
			key = ev.TaskID
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], entry)
	}
	return order, groups
}

// processOne decodes, dispatches, and acks-or-not a single entry per
// spec.md §4.4's poison-pill / propagation policy.
func (c *Consumer) processOne(ctx context.Context, entry eventlog.Entry) {
	ev, err := domainevent.FromFields(entry.Fields)
	if err != nil {
		c.logger.Warn("decode error for entry %s: %v; acking (poison pill)", entry.ID, err)
		c.ack(ctx, entry.ID)
		return
	}

	if c.tracer != nil {
		var span trace.Span
		ctx, span = c.tracer.Start(ctx, "dispatch."+string(ev.Type),
			trace.WithAttributes(attribute.String("task.id", ev.TaskID)))
		defer span.End()
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
		}()
	}

	err = c.handler.Dispatch(ctx, ev)
	switch {
	case err == nil:
		c.ack(ctx, entry.ID)
	case apperrors.Is(err, apperrors.KindInvalidEvent), apperrors.Is(err, apperrors.KindInvalidTaskType):
		c.logger.Warn("invalid event %s (task %s): %v; acking", entry.ID, ev.TaskID, err)
		c.ack(ctx, entry.ID)
	case apperrors.Is(err, apperrors.KindTransient):
		c.logger.Warn("transient error on entry %s (task %s): %v; leaving for redelivery", entry.ID, ev.TaskID, err)
	default:
		c.logger.Error("fatal error on entry %s (task %s): %v; leaving for redelivery\n%s", entry.ID, ev.TaskID, err, debug.Stack())
	}
}

func (c *Consumer) ack(ctx context.Context, id eventlog.EntryID) {
	if err := c.log.Ack(ctx, c.cfg.Stream, c.cfg.Group, id); err != nil {
		c.logger.Warn("ack failed for entry %s: %v", id, err)
	}
}
