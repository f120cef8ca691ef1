package chain

import (
	"errors"
	"fmt"
	"math"
	"sync"
)

// ErrNaNLogDensity is returned when a caller tries to store a NaN
// log-density. Infeasible states must be stored as -Inf instead.
var ErrNaNLogDensity = errors.New("NaN log-density")

// State is the current position of a single chain: its parameter vector and
// the log-density evaluated there.
type State struct {
	Params []float64 `json:"params"`
	LogP   float64   `json:"log_p"`
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	params := make([]float64, len(s.Params))
	copy(params, s.Params)
	return State{Params: params, LogP: s.LogP}
}

// Population is the ordered collection of all chains in a run.
// Chain identities are the slice indices 0..Size()-1 and are stable for the
// lifetime of the run; the only permitted resize happens before the run loop
// starts, via Reconcile on warm-start.
//
// Thread-safe: a worker mutates only its owned chains, but snapshot reads
// and local writes can interleave inside one process (local comm mode), so
// access is guarded by an RWMutex.
type Population struct {
	mu     sync.RWMutex
	dim    int
	states []State
}

// NewPopulation creates a population of nChains chains of dimension dim.
// All chains start at the zero vector with -Inf log-density; callers seed
// real starting points with Set before the first generation.
func NewPopulation(nChains, dim int) (*Population, error) {
	if nChains < 2 {
		return nil, fmt.Errorf("population needs at least 2 chains, got %d", nChains)
	}
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	states := make([]State, nChains)
	for i := range states {
		states[i] = State{
			Params: make([]float64, dim),
			LogP:   math.Inf(-1),
		}
	}
	return &Population{dim: dim, states: states}, nil
}

// FromStates builds a population around existing chain states, used when
// loading a checkpoint. All states must share one dimension.
func FromStates(states []State) (*Population, error) {
	if len(states) < 2 {
		return nil, fmt.Errorf("population needs at least 2 chains, got %d", len(states))
	}
	dim := len(states[0].Params)
	if dim < 1 {
		return nil, fmt.Errorf("dimension must be positive, got %d", dim)
	}
	owned := make([]State, len(states))
	for i, s := range states {
		if len(s.Params) != dim {
			return nil, fmt.Errorf("chain %d has dimension %d, want %d", i, len(s.Params), dim)
		}
		if math.IsNaN(s.LogP) {
			return nil, fmt.Errorf("chain %d: %w", i, ErrNaNLogDensity)
		}
		owned[i] = s.Clone()
	}
	return &Population{dim: dim, states: owned}, nil
}

// Size returns the number of chains.
func (p *Population) Size() int {
	return len(p.states)
}

// Dim returns the parameter dimension shared by all chains.
func (p *Population) Dim() int {
	return p.dim
}

// Get returns a copy of chain i's current state.
func (p *Population) Get(i int) (State, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if i < 0 || i >= len(p.states) {
		return State{}, fmt.Errorf("chain index %d out of range [0, %d)", i, len(p.states))
	}
	return p.states[i].Clone(), nil
}

// Set replaces chain i's state. The parameter vector is copied, so callers
// may reuse their buffer. A NaN log-density is rejected; use -Inf for
// infeasible states.
func (p *Population) Set(i int, params []float64, logP float64) error {
	if math.IsNaN(logP) {
		return fmt.Errorf("chain %d: %w", i, ErrNaNLogDensity)
	}
	if len(params) != p.dim {
		return fmt.Errorf("chain %d: parameter dimension %d, want %d", i, len(params), p.dim)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if i < 0 || i >= len(p.states) {
		return fmt.Errorf("chain index %d out of range [0, %d)", i, len(p.states))
	}
	copy(p.states[i].Params, params)
	p.states[i].LogP = logP
	return nil
}

// Snapshot returns a deep copy of every chain's state, in chain order.
// Workers call this once per generation after the gather barrier so proposal
// donors come from a consistent view.
func (p *Population) Snapshot() []State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]State, len(p.states))
	for i, s := range p.states {
		out[i] = s.Clone()
	}
	return out
}

// Replace installs a full set of chain states, as assembled from a gather
// round. The count and dimension must match the population.
func (p *Population) Replace(states []State) error {
	if len(states) != len(p.states) {
		return fmt.Errorf("got %d states, population has %d chains", len(states), len(p.states))
	}
	for i, s := range states {
		if len(s.Params) != p.dim {
			return fmt.Errorf("chain %d: parameter dimension %d, want %d", i, len(s.Params), p.dim)
		}
		if math.IsNaN(s.LogP) {
			return fmt.Errorf("chain %d: %w", i, ErrNaNLogDensity)
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, s := range states {
		copy(p.states[i].Params, s.Params)
		p.states[i].LogP = s.LogP
	}
	return nil
}

// Reconcile adapts a stored set of chain states to a requested chain count
// for warm-start. Extra chains are filled by replicating the stored set
// cyclically; a smaller request truncates. The stored dimension is always
// preserved.
func Reconcile(stored []State, requested int) ([]State, error) {
	if len(stored) == 0 {
		return nil, errors.New("no stored chains to reconcile")
	}
	if requested < 2 {
		return nil, fmt.Errorf("requested chain count %d below minimum 2", requested)
	}
	out := make([]State, requested)
	for i := 0; i < requested; i++ {
		out[i] = stored[i%len(stored)].Clone()
	}
	return out, nil
}
