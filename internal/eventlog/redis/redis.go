// Package redis implements the Event Log port (eventlog.Log) on top of
// Redis Streams, grounded on the consumer-group shape surveyed in
// other_examples/e18ad2ea_brokle-ai-brokle__internal-workers-telemetry_stream_consumer.go.go
// (discovery/claim loop, batch size, block duration) and the general-
// purpose queue shape of the flyingrobots/go-redis-work-queue example.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"taskhub/internal/eventlog"
	"taskhub/internal/logging"
)

// Log is a Redis-Streams-backed eventlog.Log.
type Log struct {
	client *goredis.Client
	logger logging.Logger
}

// New builds a Log from a Redis URL (e.g. redis://localhost:6379/0).
func New(redisURL string) (*Log, error) {
	opt, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &Log{client: goredis.NewClient(opt), logger: logging.NewComponentLogger("EventLog")}, nil
}

// NewFromClient wraps an already-constructed client, for tests (e.g.
// against miniredis) or shared-pool deployments.
func NewFromClient(client *goredis.Client) *Log {
	return &Log{client: client, logger: logging.NewComponentLogger("EventLog")}
}

var _ eventlog.Log = (*Log)(nil)

// EnsureGroup idempotently creates group on stream, ignoring the BUSYGROUP
// "already exists" error from Redis.
func (l *Log) EnsureGroup(ctx context.Context, stream, group, startID string) error {
	err := l.client.XGroupCreateMkStream(ctx, stream, group, startID).Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("ensure group %s/%s: %w", stream, group, err)
	}
	return nil
}

// Append issues XADD, with MAXLEN ~ maxlen when maxlen > 0 and approximate.
func (l *Log) Append(ctx context.Context, stream string, fields map[string]any, maxlen int64, approximate bool) (eventlog.EntryID, error) {
	args := &goredis.XAddArgs{
		Stream: stream,
		Values: fields,
	}
	if maxlen > 0 {
		args.MaxLen = maxlen
		args.Approx = approximate
	}
	id, err := l.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("append to %s: %w", stream, err)
	}
	return eventlog.EntryID(id), nil
}

// ReadGroup issues XREADGROUP for the ">" (new-only) range.
func (l *Log) ReadGroup(ctx context.Context, stream, group, consumer string, count int64, blockMs int64) ([]eventlog.Entry, error) {
	res, err := l.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{stream, ">"},
		Count:    count,
		Block:    time.Duration(blockMs) * time.Millisecond,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("read group %s/%s: %w", stream, group, err)
	}
	return toEntries(res), nil
}

// ClaimPending lists pending entries idle at least minIdleMs and transfers
// them to consumer via XCLAIM.
func (l *Log) ClaimPending(ctx context.Context, stream, group, consumer string, minIdleMs int64, count int64) ([]eventlog.Entry, error) {
	pending, err := l.client.XPendingExt(ctx, &goredis.XPendingExtArgs{
		Stream: stream,
		Group:  group,
		Start:  "-",
		End:    "+",
		Count:  count,
		Idle:   time.Duration(minIdleMs) * time.Millisecond,
	}).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("list pending %s/%s: %w", stream, group, err)
	}
	if len(pending) == 0 {
		return nil, nil
	}

	ids := make([]string, 0, len(pending))
	for _, p := range pending {
		ids = append(ids, p.ID)
	}

	msgs, err := l.client.XClaim(ctx, &goredis.XClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumer,
		MinIdle:  time.Duration(minIdleMs) * time.Millisecond,
		Messages: ids,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim pending %s/%s: %w", stream, group, err)
	}

	entries := make([]eventlog.Entry, 0, len(msgs))
	for _, m := range msgs {
		entries = append(entries, eventlog.Entry{ID: eventlog.EntryID(m.ID), Fields: toStringFields(m.Values)})
	}
	return entries, nil
}

// Ack issues XACK.
func (l *Log) Ack(ctx context.Context, stream, group string, id eventlog.EntryID) error {
	if err := l.client.XAck(ctx, stream, group, string(id)).Err(); err != nil {
		return fmt.Errorf("ack %s/%s/%s: %w", stream, group, id, err)
	}
	return nil
}

// Close releases the underlying client.
func (l *Log) Close() error {
	return l.client.Close()
}

func toEntries(streams []goredis.XStream) []eventlog.Entry {
	var out []eventlog.Entry
	for _, s := range streams {
		for _, m := range s.Messages {
			out = append(out, eventlog.Entry{ID: eventlog.EntryID(m.ID), Fields: toStringFields(m.Values)})
		}
	}
	return out
}

func toStringFields(values map[string]any) map[string]string {
	fields := make(map[string]string, len(values))
	for k, v := range values {
		if s, ok := v.(string); ok {
			fields[k] = s
			continue
		}
		fields[k] = fmt.Sprintf("%v", v)
	}
	return fields
}
