// Package idgen generates identifiers for event_id and task_id (spec.md
// §3, §6). The two have distinct formats: event_id is a ULID ("ULID or
// equivalent, monotonic-per-source"), task_id is a 128-bit random value,
// hex-encoded, with no embedded timestamp.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	mu      sync.Mutex
	entropy = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new ULID string, safe for concurrent use. Use this for
// event_id only.
func New() string {
	mu.Lock()
	defer mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// NewTaskID returns a 128-bit random identifier, hex-encoded (32 lowercase
// hex characters, no dashes). Use this for task_id.
func NewTaskID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}
