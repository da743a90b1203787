// Package handler implements the Event Handler port (C5): the three
// per-type handler functions dispatched by the Consumer, applying the
// Δ-throttle policy to status writes and fanning every event out to the
// Live Broadcaster (spec.md §4.5).
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	"taskhub/internal/apperrors"
	"taskhub/internal/broadcaster"
	domainevent "taskhub/internal/domain/event"
	domaintask "taskhub/internal/domain/task"
	"taskhub/internal/logging"
	"taskhub/internal/metrics"
)

// DefaultDelta is the default Δ-throttle threshold (spec.md §4.5, §6
// STATUS_DELTA).
const DefaultDelta = 0.02

// throttleEpsilon absorbs float64 rounding so that a change of exactly
// delta (e.g. 0.04 -> 0.06) counts as crossing the threshold.
const throttleEpsilon = 1e-9

// Handler applies the Δ-throttle policy and routes decoded events to the
// Durable Store and the Live Broadcaster.
type Handler struct {
	store       domaintask.Store
	broadcaster *broadcaster.Broadcaster
	delta       float64

	// lastPct, cpuMsTotal and lastTick are guarded by mu: the dispatcher
	// runs handlers for distinct tasks concurrently.
	mu         sync.Mutex
	lastPct    map[string]float64
	cpuMsTotal map[string]float64
	lastTick   map[string]time.Time

	logger  logging.Logger
	metrics *metrics.Pipeline
}

// New builds a Handler. delta <= 0 falls back to DefaultDelta.
func New(store domaintask.Store, b *broadcaster.Broadcaster, delta float64) *Handler {
	if delta <= 0 {
		delta = DefaultDelta
	}
	return &Handler{
		store:       store,
		broadcaster: b,
		delta:       delta,
		lastPct:     make(map[string]float64),
		cpuMsTotal:  make(map[string]float64),
		lastTick:    make(map[string]time.Time),
		logger:      logging.NewComponentLogger("EventHandler"),
	}
}

// UseMetrics attaches a metrics.Pipeline the handler reports store writes,
// throttled updates, and dispatch latency through. Optional; a Handler
// with no attached pipeline simply skips instrumentation.
func (h *Handler) UseMetrics(m *metrics.Pipeline) {
	h.metrics = m
}

// Dispatch routes ev to the handler matching its type.
func (h *Handler) Dispatch(ctx context.Context, ev domainevent.TaskEvent) error {
	if h.metrics != nil {
		start := time.Now()
		defer func() { h.metrics.ObserveDispatchDuration(string(ev.Type), time.Since(start).Seconds()) }()
	}

	switch ev.Type {
	case domainevent.TypeTaskStatus:
		return h.HandleStatus(ctx, ev)
	case domainevent.TypeTaskResult:
		return h.HandleResult(ctx, ev)
	case domainevent.TypeTaskResultChunk:
		return h.HandleResultChunk(ctx, ev)
	default:
		return apperrors.InvalidEvent(fmt.Sprintf("unknown event type %q", ev.Type))
	}
}

// HandleStatus applies the Δ-throttle policy: a store write happens only
// when there is no prior percentage for this task, the change crosses
// delta, or the state is terminal. The broadcast side is never throttled.
func (h *Handler) HandleStatus(ctx context.Context, ev domainevent.TaskEvent) error {
	payload, err := ev.DecodeStatusPayload()
	if err != nil {
		return apperrors.InvalidEvent(fmt.Sprintf("decode status payload: %v", err))
	}
	status := payload.Status

	pct := 0.0
	if status.Progress.Percentage != nil {
		pct = *status.Progress.Percentage
	}

	h.mu.Lock()
	last, hasLast := h.lastPct[ev.TaskID]
	terminal := status.State.IsTerminal()
	shouldWrite := !hasLast || math.Abs(pct-last) >= h.delta-throttleEpsilon || terminal

	h.annotate(ev.TaskID, ev.TS, &status)
	h.mu.Unlock()

	if shouldWrite {
		var meta *domaintask.Metadata
		if terminal {
			now := ev.TS.UTC()
			meta = &domaintask.Metadata{FinishedAt: &now}
		}
		if err := h.store.UpdateStatus(ctx, ev.TaskID, status, meta); err != nil {
			if h.metrics != nil {
				h.metrics.RecordStoreWriteError(string(ev.Type))
			}
			return err
		}
		h.mu.Lock()
		h.lastPct[ev.TaskID] = pct
		h.mu.Unlock()
		if h.metrics != nil {
			h.metrics.RecordStoreWrite(string(ev.Type))
		}
	} else if h.metrics != nil {
		h.metrics.RecordThrottledUpdate()
	}

	if terminal {
		h.mu.Lock()
		delete(h.lastPct, ev.TaskID)
		delete(h.cpuMsTotal, ev.TaskID)
		delete(h.lastTick, ev.TaskID)
		h.mu.Unlock()
	}

	h.broadcaster.Broadcast(ev.TaskID, broadcaster.Frame{Type: string(ev.Type), TaskID: ev.TaskID, Payload: status})
	return nil
}

// annotate adds server-side instrumentation fields to status.Metrics
// before broadcast: server_sent_ts (RFC3339) and a process-local
// cumulative server_cpu_ms_total counter (§9 Open Question 2, resolved in
// DESIGN.md as a wall-clock-since-last-event proxy, not a true CPU-time
// measurement).
func (h *Handler) annotate(taskID string, ts time.Time, status *domaintask.TaskStatus) {
	now := ts.UTC()
	elapsed := 0.0
	if prev, ok := h.lastTick[taskID]; ok {
		elapsed = now.Sub(prev).Seconds() * 1000
	}
	h.lastTick[taskID] = now
	h.cpuMsTotal[taskID] += elapsed

	if status.Metrics == nil {
		status.Metrics = make(map[string]string, 2)
	}
	status.Metrics["server_sent_ts"] = now.Format(time.RFC3339Nano)
	status.Metrics["server_cpu_ms_total"] = strconv.FormatFloat(h.cpuMsTotal[taskID], 'f', 3, 64)
}

type structuredResult struct {
	TaskID string          `json:"task_id"`
	Data   json.RawMessage `json:"data"`
}

// HandleResult upserts the task's result. If payload.result looks like a
// structured TaskResult object ({"data": ...}), task_id defaults to
// ev.TaskID when omitted; otherwise the entire payload.result is treated
// as opaque data.
func (h *Handler) HandleResult(ctx context.Context, ev domainevent.TaskEvent) error {
	payload, err := ev.DecodeResultPayload()
	if err != nil {
		return apperrors.InvalidEvent(fmt.Sprintf("decode result payload: %v", err))
	}

	var structured structuredResult
	result := domaintask.Result{TaskID: ev.TaskID}
	if err := json.Unmarshal(payload.Result, &structured); err == nil && len(structured.Data) > 0 {
		result.Data = structured.Data
		if structured.TaskID != "" {
			result.TaskID = structured.TaskID
		}
	} else {
		result.Data = payload.Result
	}

	if err := h.store.SetResult(ctx, result, nil); err != nil {
		if h.metrics != nil {
			h.metrics.RecordStoreWriteError(string(ev.Type))
		}
		return err
	}
	if h.metrics != nil {
		h.metrics.RecordStoreWrite(string(ev.Type))
	}

	h.broadcaster.Broadcast(ev.TaskID, broadcaster.Frame{Type: string(ev.Type), TaskID: ev.TaskID, Payload: result})
	return nil
}

// HandleResultChunk broadcasts a result chunk live. Result chunks are not
// persisted (spec.md §4.5): a durable chunk history is explicitly out of
// scope (§9).
func (h *Handler) HandleResultChunk(ctx context.Context, ev domainevent.TaskEvent) error {
	payload, err := ev.DecodeResultChunkPayload()
	if err != nil {
		return apperrors.InvalidEvent(fmt.Sprintf("decode result chunk payload: %v", err))
	}
	if payload.ChunkID == "" || len(payload.Data) == 0 {
		return apperrors.InvalidEvent("result chunk requires both chunk_id and data")
	}

	h.broadcaster.Broadcast(ev.TaskID, broadcaster.Frame{Type: string(ev.Type), TaskID: ev.TaskID, Payload: payload})
	return nil
}
