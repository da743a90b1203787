// Package eventlog defines the Event Log port (C2): a named, partitioned,
// append-only stream with consumer groups and pending-entry redelivery
// (spec.md §4.2).
package eventlog

import "context"

// EntryID is an opaque, auto-assigned, monotonic entry identifier.
type EntryID string

// Entry is one Event Log record: an id plus its string-keyed field map.
type Entry struct {
	ID     EntryID
	Fields map[string]string
}

// Log is the Event Log port.
type Log interface {
	// EnsureGroup idempotently creates group on stream starting at startID
	// ("0" for the beginning, "$" for only-new). Ignores "group already
	// exists".
	EnsureGroup(ctx context.Context, stream, group, startID string) error

	// Append adds fields to stream, optionally trimming to maxlen (0 means
	// no trim); approximate requests an approximate ("~") trim for
	// performance. Returns the assigned entry id.
	Append(ctx context.Context, stream string, fields map[string]any, maxlen int64, approximate bool) (EntryID, error)

	// ReadGroup reads up to count new entries for consumer in group,
	// blocking up to block for at least one entry.
	ReadGroup(ctx context.Context, stream, group, consumer string, count int64, block int64) ([]Entry, error)

	// ClaimPending transfers ownership of entries idle at least minIdleMs
	// in group to consumer, returning up to count claimed entries.
	ClaimPending(ctx context.Context, stream, group, consumer string, minIdleMs int64, count int64) ([]Entry, error)

	// Ack removes id from group's pending set.
	Ack(ctx context.Context, stream, group string, id EntryID) error

	// Close releases underlying connections.
	Close() error
}
