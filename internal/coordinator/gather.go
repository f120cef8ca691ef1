package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAborted is returned from Submit after the run has been aborted, e.g.
// because a worker was declared unhealthy mid-run.
var ErrAborted = errors.New("run aborted")

// gatherRound tracks one in-flight all-gather round on the hub.
type gatherRound struct {
	payloads  [][]byte
	submitted []bool
	pending   int
	readers   int
	err       error
	done      chan struct{}
}

// Gather implements the hub's all-gather bookkeeping. Workers submit one
// payload per round; Submit blocks until the round is complete and then
// hands every caller the full set of payloads, indexed by rank.
type Gather struct {
	mu     sync.Mutex
	size   int
	rounds map[uint64]*gatherRound
	err    error
}

// NewGather creates gather state for a run with the given worker count.
func NewGather(size int) (*Gather, error) {
	if size < 1 {
		return nil, fmt.Errorf("worker count must be positive, got %d", size)
	}
	return &Gather{
		size:   size,
		rounds: make(map[uint64]*gatherRound),
	}, nil
}

// Submit contributes rank's payload to a round and blocks until all ranks
// have contributed, returning the assembled payloads. Duplicate submissions
// for a (round, rank) pair are rejected.
func (g *Gather) Submit(ctx context.Context, round uint64, rank int, payload []byte) ([][]byte, error) {
	if rank < 0 || rank >= g.size {
		return nil, fmt.Errorf("rank %d out of range [0, %d)", rank, g.size)
	}

	g.mu.Lock()
	if g.err != nil {
		g.mu.Unlock()
		return nil, g.err
	}
	r, ok := g.rounds[round]
	if !ok {
		r = &gatherRound{
			payloads:  make([][]byte, g.size),
			submitted: make([]bool, g.size),
			pending:   g.size,
			done:      make(chan struct{}),
		}
		g.rounds[round] = r
	}
	if r.submitted[rank] {
		g.mu.Unlock()
		return nil, fmt.Errorf("rank %d submitted round %d twice", rank, round)
	}
	r.submitted[rank] = true
	r.payloads[rank] = payload
	r.pending--
	if r.pending == 0 {
		close(r.done)
	}
	g.mu.Unlock()

	select {
	case <-r.done:
	case <-ctx.Done():
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

// Abort fails all incomplete rounds and rejects future submissions.
// Completed rounds remain readable so workers already past the barrier can
// drain them.
func (g *Gather) Abort(err error) {
	if err == nil {
		err = ErrAborted
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return
	}
	g.err = fmt.Errorf("%w: %v", ErrAborted, err)
	for _, r := range g.rounds {
		if r.pending > 0 {
			r.err = g.err
			close(r.done)
		}
	}
}

// Pending returns the number of rounds currently in flight, for the hub's
// status endpoint.
func (g *Gather) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rounds)
}
