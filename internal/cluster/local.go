package cluster

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrWorkerLost is returned from a collective when a worker leaves the
// group before reaching the barrier. The population snapshot can no longer
// be kept consistent, so the whole run must abort.
var ErrWorkerLost = errors.New("worker lost before barrier")

// localRound tracks one in-flight all-gather round.
type localRound struct {
	payloads  [][]byte
	submitted []bool
	pending   int
	readers   int
	err       error
	done      chan struct{}
}

// localGroup is the shared state behind a set of LocalComms.
type localGroup struct {
	mu     sync.Mutex
	size   int
	rounds map[uint64]*localRound
	err    error
}

// LocalComm is an in-process Comm. All workers of the group run as
// goroutines in one process and exchange payloads through shared memory.
type LocalComm struct {
	group *localGroup
	rank  int
}

// NewLocalGroup creates size connected LocalComms, one per worker
// goroutine. Index i of the returned slice has rank i.
func NewLocalGroup(size int) ([]*LocalComm, error) {
	if size < 1 {
		return nil, fmt.Errorf("group size must be positive, got %d", size)
	}
	g := &localGroup{
		size:   size,
		rounds: make(map[uint64]*localRound),
	}
	comms := make([]*LocalComm, size)
	for i := range comms {
		comms[i] = &LocalComm{group: g, rank: i}
	}
	return comms, nil
}

// Rank returns this worker's index.
func (c *LocalComm) Rank() int { return c.rank }

// Size returns the worker count of the group.
func (c *LocalComm) Size() int { return c.group.size }

// AllGather implements Comm.
func (c *LocalComm) AllGather(ctx context.Context, round uint64, payload []byte) ([][]byte, error) {
	g := c.group

	g.mu.Lock()
	if g.err != nil {
		g.mu.Unlock()
		return nil, g.err
	}
	r, ok := g.rounds[round]
	if !ok {
		r = &localRound{
			payloads:  make([][]byte, g.size),
			submitted: make([]bool, g.size),
			pending:   g.size,
			done:      make(chan struct{}),
		}
		g.rounds[round] = r
	}
	if r.submitted[c.rank] {
		g.mu.Unlock()
		return nil, fmt.Errorf("rank %d submitted round %d twice", c.rank, round)
	}
	r.submitted[c.rank] = true
	r.payloads[c.rank] = payload
	r.pending--
	if r.pending == 0 {
		close(r.done)
	}
	g.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
		// Abandoning a barrier strands the other workers, so the whole
		// group goes down with us.
		g.abort(fmt.Errorf("%w: rank %d: %v", ErrWorkerLost, c.rank, ctx.Err()))
		return nil, ctx.Err()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	out := make([][]byte, len(r.payloads))
	copy(out, r.payloads)
	r.readers++
	if r.readers == g.size {
		delete(g.rounds, round)
	}
	return out, nil
}

// Barrier implements Comm.
func (c *LocalComm) Barrier(ctx context.Context, round uint64) error {
	_, err := c.AllGather(ctx, round, nil)
	return err
}

// Close removes the worker from the group. Any round still waiting for this
// worker fails with ErrWorkerLost.
func (c *LocalComm) Close() error {
	c.group.abort(fmt.Errorf("%w: rank %d closed", ErrWorkerLost, c.rank))
	return nil
}

// abort fails all incomplete rounds and poisons future ones. Completed
// rounds are left intact so workers already past the barrier can finish
// reading them.
func (g *localGroup) abort(err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return
	}
	g.err = err
	for _, r := range g.rounds {
		if r.pending > 0 {
			r.err = err
			close(r.done)
		}
	}
}
