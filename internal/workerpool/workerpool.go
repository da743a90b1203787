// Package workerpool wraps github.com/ygrebnov/workers into a fixed-size
// pool of N worker slots for the worker process (spec.md §5,
// WORKER_CONCURRENCY), using the fixed-pool / functional-options shape
// surveyed in _examples/ygrebnov-workers/options.go and foreach.go.
package workerpool

import (
	"context"

	"github.com/ygrebnov/workers"
)

// Pool runs fire-and-forget tasks across a fixed number of concurrent
// slots. Results are discarded; errors are forwarded to an error channel
// for the caller to log.
type Pool struct {
	w workers.Workers[struct{}]
}

// New builds a Pool with concurrency worker slots (concurrency < 1
// defaults to 1) and starts it immediately.
func New(ctx context.Context, concurrency int) *Pool {
	if concurrency < 1 {
		concurrency = 1
	}
	w := workers.NewOptions[struct{}](ctx,
		workers.WithFixedPool(uint(concurrency)),
		workers.WithStartImmediately(),
	)
	return &Pool{w: w}
}

// Submit enqueues fn to run on the next available worker slot.
func (p *Pool) Submit(fn func(context.Context) error) error {
	return p.w.AddTask(fn)
}

// Errors returns the channel of task execution errors.
func (p *Pool) Errors() chan error {
	return p.w.GetErrors()
}
