package coordinator

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/slices"

	"github.com/dreamware/demc/internal/cluster"
)

// Registry assigns ranks to workers as they register and tracks the
// run's roster. Ranks are assigned in arrival order and are stable for the
// lifetime of the run; a worker re-registering under the same ID (e.g.
// after a registration retry) keeps its rank.
type Registry struct {
	mu       sync.RWMutex
	expected int
	workers  []cluster.WorkerInfo // index == rank
	ready    chan struct{}
	complete bool
}

// NewRegistry creates a registry expecting the given number of workers.
func NewRegistry(expected int) (*Registry, error) {
	if expected < 1 {
		return nil, fmt.Errorf("expected worker count must be positive, got %d", expected)
	}
	return &Registry{
		expected: expected,
		ready:    make(chan struct{}),
	}, nil
}

// Register adds a worker to the roster and blocks until every expected
// worker has arrived, then returns the worker's rank and the run size.
// Registration is idempotent per worker ID.
func (r *Registry) Register(ctx context.Context, w cluster.WorkerInfo) (rank, size int, err error) {
	if w.ID == "" {
		return 0, 0, fmt.Errorf("worker ID is required")
	}

	r.mu.Lock()
	idx := slices.IndexFunc(r.workers, func(n cluster.WorkerInfo) bool { return n.ID == w.ID })
	if idx >= 0 {
		r.workers[idx] = w
		rank = idx
	} else {
		if len(r.workers) == r.expected {
			r.mu.Unlock()
			return 0, 0, fmt.Errorf("run is full: %d workers already registered", r.expected)
		}
		r.workers = append(r.workers, w)
		rank = len(r.workers) - 1
		if len(r.workers) == r.expected {
			r.complete = true
			close(r.ready)
		}
	}
	r.mu.Unlock()

	select {
	case <-r.ready:
		return rank, r.expected, nil
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// Workers returns a copy of the roster in rank order. Before the roster is
// complete the slice is shorter than the expected size.
func (r *Registry) Workers() []cluster.WorkerInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]cluster.WorkerInfo(nil), r.workers...)
}

// Expected returns the configured worker count.
func (r *Registry) Expected() int {
	return r.expected
}

// Complete reports whether every expected worker has registered.
func (r *Registry) Complete() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.complete
}
