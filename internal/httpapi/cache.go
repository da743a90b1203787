package httpapi

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	domaintask "taskhub/internal/domain/task"
)

// statusTTL bounds how long a cached status is served before a fresh
// store read is required, keeping polling clients from seeing
// arbitrarily stale terminal-adjacent states.
const statusTTL = 500 * time.Millisecond

type cachedStatus struct {
	status domaintask.TaskStatus
	cutOff time.Time
	owner  string
}

// statusCache fronts get_status reads with a bounded, owner-scoped LRU,
// grounded on the lark gateway's lru.New[K,V](size) dedup-cache shape.
// Entries older than statusTTL are treated as misses, and terminal
// statuses are never evicted by age since they cannot change again.
type statusCache struct {
	mu    sync.Mutex
	cache *lru.Cache[string, cachedStatus]
}

func newStatusCache(size int) *statusCache {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, cachedStatus](size)
	if err != nil {
		c, _ = lru.New[string, cachedStatus](1024)
	}
	return &statusCache{cache: c}
}

func (c *statusCache) get(ownerID, taskID string) (domaintask.TaskStatus, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache.Get(taskID)
	if !ok || entry.owner != ownerID {
		return domaintask.TaskStatus{}, false
	}
	if !entry.status.State.IsTerminal() && time.Now().After(entry.cutOff) {
		return domaintask.TaskStatus{}, false
	}
	return entry.status, true
}

func (c *statusCache) put(ownerID, taskID string, status domaintask.TaskStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache.Add(taskID, cachedStatus{status: status, cutOff: time.Now().Add(statusTTL), owner: ownerID})
}
