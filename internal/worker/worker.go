// Package worker implements the worker-process side of the execution
// pipeline: a reclaim→read→decode→dispatch→ack loop over a single
// task-routing destination stream (spec.md §6 "Task-routing table"),
// mirroring the Consumer/Dispatcher shape of internal/dispatcher but
// consuming ExecutionRequests instead of TaskEvents, and running each
// one on a bounded internal/workerpool slot instead of inline.
package worker

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"taskhub/internal/apperrors"
	domainexecution "taskhub/internal/domain/execution"
	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/eventlog"
	"taskhub/internal/logging"
	"taskhub/internal/metrics"
	"taskhub/internal/publisher"
	"taskhub/internal/reporter"
	"taskhub/internal/tasks"
	"taskhub/internal/workerpool"
)

// Config parameterizes a Worker's consumer loop over one destination
// stream.
type Config struct {
	Stream         string
	Group          string
	Consumer       string
	EventStream    string
	Count          int64
	BlockMS        time.Duration
	ReclaimPending bool
	ReclaimIdleMS  time.Duration
}

// Worker consumes execution requests from one destination stream and
// runs them against the compute-kernel registry.
type Worker struct {
	cfg      Config
	log      eventlog.Log
	registry *tasks.Registry
	pool     *workerpool.Pool
	pub      publisher.Publisher
	logger   logging.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
	started bool
	stopOne sync.Once
	metrics *metrics.Pipeline
	tracer  trace.Tracer
}

// UseMetrics attaches a metrics.Pipeline the Worker reports reclaimed
// (redelivered) entries through. Optional.
func (w *Worker) UseMetrics(m *metrics.Pipeline) {
	w.metrics = m
}

// UseTracer attaches a tracer each kernel execution runs under as a
// child span. Optional; execution runs unwrapped when nil.
func (w *Worker) UseTracer(t trace.Tracer) {
	w.tracer = t
}

// New builds a Worker. Call Start to begin consuming.
func New(cfg Config, log eventlog.Log, registry *tasks.Registry, pool *workerpool.Pool, pub publisher.Publisher) *Worker {
	return &Worker{
		cfg:      cfg,
		log:      log,
		registry: registry,
		pool:     pool,
		pub:      pub,
		logger:   logging.NewComponentLogger("Worker"),
	}
}

// Start performs ensure_group, spawns the background loop, and returns.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.log.EnsureGroup(ctx, w.cfg.Stream, w.cfg.Group, "0"); err != nil {
		return apperrors.Wrap(apperrors.KindTransient, "ensure group", err)
	}

	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.stopped = make(chan struct{})
	w.started = true
	w.mu.Unlock()

	go func() {
		defer close(w.stopped)
		w.run(loopCtx)
	}()
	return nil
}

// Stop cancels the loop and waits for it to exit. In-flight kernel
// executions already submitted to the worker pool are not awaited here;
// callers that need a full drain should stop the shared pool separately.
func (w *Worker) Stop() error {
	var err error
	w.stopOne.Do(func() {
		w.mu.Lock()
		cancel := w.cancel
		stopped := w.stopped
		w.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if stopped != nil {
			<-stopped
		}
		err = w.log.Close()
	})
	return err
}

func (w *Worker) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if w.cfg.ReclaimPending {
			claimed, err := w.log.ClaimPending(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer,
				w.cfg.ReclaimIdleMS.Milliseconds(), w.cfg.Count)
			if err != nil {
				w.logger.Warn("claim_pending failed: %v", err)
			} else {
				if len(claimed) > 0 && w.metrics != nil {
					for range claimed {
						w.metrics.RecordRedelivery(w.cfg.Stream)
					}
				}
				w.processEntries(ctx, claimed)
			}
		}

		entries, err := w.log.ReadGroup(ctx, w.cfg.Stream, w.cfg.Group, w.cfg.Consumer, w.cfg.Count, w.cfg.BlockMS.Milliseconds())
		if err != nil {
			w.logger.Warn("read_group failed: %v", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}
		w.processEntries(ctx, entries)
	}
}

// processEntries submits distinct tasks to the pool concurrently, but
// serializes entries for the same task_id so a batch containing more than
// one request for one task still runs in receipt order (spec.md §4.4).
func (w *Worker) processEntries(ctx context.Context, entries []eventlog.Entry) {
	order, groups := groupByTask(entries)
	for _, taskID := range order {
		batch := groups[taskID]
		if submitErr := w.pool.Submit(func(taskCtx context.Context) error {
			for _, entry := range batch {
				w.processOne(taskCtx, entry)
			}
			return nil
		}); submitErr != nil {
			w.logger.Error("submit task %s to pool failed: %v; leaving for redelivery", taskID, submitErr)
		}
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
		if req, err := domainexecution.FromFields(entry.Fields); err == nil {
			key = req.TaskID
		}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], entry)
	}
	return order, groups
}

// processOne decodes, executes, and acks-or-not a single entry.
func (w *Worker) processOne(ctx context.Context, entry eventlog.Entry) {
	req, err := domainexecution.FromFields(entry.Fields)
	if err != nil {
		w.logger.Warn("decode error for entry %s: %v; acking (poison pill)", entry.ID, err)
		w.ack(ctx, entry.ID)
		return
	}

	payload, err := domaintask.DecodePayload(req.Type, req.Payload)
	if err != nil {
		w.logger.Warn("invalid payload for task %s: %v; acking", req.TaskID, err)
		w.ack(ctx, entry.ID)
		return
	}

	kernel, ok := w.registry.Lookup(req.Type)
	if !ok {
		w.logger.Warn("no kernel for task type %s (task %s); acking", req.Type, req.TaskID)
		w.ack(ctx, entry.ID)
		return
	}

	rep := reporter.New(req.TaskID, w.cfg.EventStream, w.pub)
	w.execute(ctx, kernel, rep, payload, entry.ID, req.TaskID)
}

// execute runs kernel to completion, reporting a FAILED terminal status on
// failure, and acks the entry once the outcome is durably reported. Fatal
// submission/reporting errors are logged but the entry is left pending so
// redelivery can retry.
func (w *Worker) execute(ctx context.Context, kernel tasks.Kernel, rep *reporter.Reporter, payload domaintask.Payload, id eventlog.EntryID, taskID string) {
	var span trace.Span
	if w.tracer != nil {
		ctx, span = w.tracer.Start(ctx, "execute."+string(payload.Type),
			trace.WithAttributes(attribute.String("task.id", taskID)))
		defer span.End()
	}

	err := kernel.Execute(ctx, rep, payload)
	if err == nil {
		w.ack(ctx, id)
		return
	}

	if span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	w.logger.Error("task %s failed: %v", taskID, err)
	failure := domaintask.TaskStatus{State: domaintask.StatusFailed, Message: err.Error()}
	if reportErr := rep.ReportStatus(ctx, failure); reportErr != nil {
		w.logger.Error("report failure status for task %s: %v; leaving for redelivery", taskID, reportErr)
		return
	}
	w.ack(ctx, id)
}

func (w *Worker) ack(ctx context.Context, id eventlog.EntryID) {
	if err := w.log.Ack(ctx, w.cfg.Stream, w.cfg.Group, id); err != nil {
		w.logger.Warn("ack failed for entry %s: %v", id, err)
	}
}
