// Package broadcaster implements the Live Broadcaster port (C6):
// per-task fan-out of Frame messages to subscribed sessions, merging two
// shapes surveyed in the teacher: the context-scoped Watch(ctx, key) of
// internal/materials/events.Bus, and the registry-style
// RegisterClient/UnregisterClient/GetClientCount of
// internal/server/app.EventBroadcaster.
package broadcaster

import (
	"sync"

	"taskhub/internal/logging"
	"taskhub/internal/metrics"
)

// sessionQueueSize bounds the per-session buffered channel; a session that
// cannot keep up is dropped rather than allowed to block the broadcaster.
const sessionQueueSize = 32

// Frame is the single framed JSON message pushed to a subscriber
// (spec.md §4.6: `{type, task_id, payload}`).
type Frame struct {
	Type    string `json:"type"`
	TaskID  string `json:"task_id"`
	Payload any    `json:"payload"`
}

type session struct {
	ch chan Frame
}

// Broadcaster maintains task_id -> set<session> and fans status/result
// frames out to every subscribed session.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[string]map[*session]struct{}
	sessions int
	logger   logging.Logger
	metrics  *metrics.Pipeline
}

// New builds an empty Broadcaster.
func New() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[string]map[*session]struct{}),
		logger: logging.NewComponentLogger("Broadcaster"),
	}
}

// UseMetrics attaches a metrics.Pipeline the broadcaster reports fan-out
// counts, drops, and the live active-session gauge through. Optional.
func (b *Broadcaster) UseMetrics(m *metrics.Pipeline) {
	b.metrics = m
}

// Subscribe registers a new session for taskID and returns a receive-only
// channel of Frames plus an unsubscribe function. Callers should defer the
// unsubscribe function (or call it when their context is cancelled).
func (b *Broadcaster) Subscribe(taskID string) (<-chan Frame, func()) {
	sess := &session{ch: make(chan Frame, sessionQueueSize)}

	b.mu.Lock()
	set, ok := b.subs[taskID]
	if !ok {
		set = make(map[*session]struct{})
		b.subs[taskID] = set
	}
	set[sess] = struct{}{}
	b.sessions++
	count := b.sessions
	b.mu.Unlock()
	if b.metrics != nil {
		b.metrics.SetActiveSessions(count)
	}

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() { b.unsubscribe(taskID, sess) })
	}
	return sess.ch, unsubscribe
}

func (b *Broadcaster) unsubscribe(taskID string, sess *session) {
	b.mu.Lock()
	set, ok := b.subs[taskID]
	if !ok {
		b.mu.Unlock()
		return
	}
	removed := false
	if _, present := set[sess]; present {
		delete(set, sess)
		close(sess.ch)
		removed = true
		b.sessions--
	}
	if len(set) == 0 {
		delete(b.subs, taskID)
	}
	count := b.sessions
	b.mu.Unlock()

	if removed && b.metrics != nil {
		b.metrics.SetActiveSessions(count)
	}
}

// ClientCount reports the number of sessions currently subscribed to
// taskID, for tests and diagnostics.
func (b *Broadcaster) ClientCount(taskID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[taskID])
}

// Broadcast delivers frame to a snapshot of taskID's subscribed sessions.
// Sessions whose buffer is full are dropped (logged) rather than blocking
// the caller.
func (b *Broadcaster) Broadcast(taskID string, frame Frame) {
	b.mu.RLock()
	set := b.subs[taskID]
	snapshot := make([]*session, 0, len(set))
	for sess := range set {
		snapshot = append(snapshot, sess)
	}
	b.mu.RUnlock()

	for _, sess := range snapshot {
		select {
		case sess.ch <- frame:
			if b.metrics != nil {
				b.metrics.RecordBroadcastFanout(frame.Type)
			}
		default:
			b.logger.Warn("dropping slow subscriber for task %s: queue full", taskID)
			if b.metrics != nil {
				b.metrics.RecordBroadcastDropped(frame.Type)
			}
			b.unsubscribe(taskID, sess)
		}
	}
}
