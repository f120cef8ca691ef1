// Package history keeps the append-only record of chain states over
// generations. One Record is appended per chain per completed generation and
// never mutated afterwards, which makes the log a plain growing arena:
// generation g occupies rows [g*nChains, (g+1)*nChains).
//
// Only the root worker maintains a history log; non-root workers sample
// without recording. After a warm start the log restarts at generation 0
// (the checkpointed history is preserved in the checkpoint file, not carried
// into the new log); Origin reports how many generations the resumed run had
// already completed so callers can account for the discontinuity.
package history

import (
	"errors"
	"fmt"
	"sync"

	"gonum.org/v1/gonum/stat"
)

// ErrBurnIn is returned when a burn-in count leaves no rows to estimate
// from.
var ErrBurnIn = errors.New("burn-in exceeds available history")

// Record is one chain's state at the end of one generation.
type Record struct {
	Generation int       `json:"generation"`
	ChainID    int       `json:"chain_id"`
	Params     []float64 `json:"params"`
	LogP       float64   `json:"log_p"`
	Accepted   bool      `json:"accepted"`
}

// Stats summarizes the size of the log.
type Stats struct {
	Generations int // Completed generations
	Chains      int // Chains per generation
	Records     int // Total rows
}

// Log is the in-memory history arena.
// Thread-safe; in practice only the root worker's run loop appends.
type Log struct {
	mu      sync.RWMutex
	nChains int
	dim     int
	origin  int // generations completed before this log began (warm start)
	records []Record
}

// NewLog creates an empty history log for a run with the given population
// shape. origin is the number of generations the run had completed before a
// warm start, or 0 for a fresh run.
func NewLog(nChains, dim, origin int) (*Log, error) {
	if nChains < 1 || dim < 1 {
		return nil, fmt.Errorf("invalid history shape: %d chains, dimension %d", nChains, dim)
	}
	if origin < 0 {
		return nil, fmt.Errorf("negative origin generation %d", origin)
	}
	return &Log{nChains: nChains, dim: dim, origin: origin}, nil
}

// Append records one completed generation. recs must hold exactly one record
// per chain, in chain order, all stamped with the same generation index
// (the next uncompleted one).
func (l *Log) Append(recs []Record) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(recs) != l.nChains {
		return fmt.Errorf("generation has %d records, want %d", len(recs), l.nChains)
	}
	gen := len(l.records) / l.nChains
	for i, r := range recs {
		if r.Generation != gen {
			return fmt.Errorf("record %d stamped generation %d, want %d", i, r.Generation, gen)
		}
		if r.ChainID != i {
			return fmt.Errorf("record %d is for chain %d, want %d", i, r.ChainID, i)
		}
		if len(r.Params) != l.dim {
			return fmt.Errorf("record %d has dimension %d, want %d", i, len(r.Params), l.dim)
		}
	}
	for _, r := range recs {
		params := make([]float64, len(r.Params))
		copy(params, r.Params)
		r.Params = params
		l.records = append(l.records, r)
	}
	return nil
}

// Completed returns the number of generations recorded since the log began.
func (l *Log) Completed() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.records) / l.nChains
}

// Origin returns the generation count carried over from before a warm
// start. Zero for a fresh run.
func (l *Log) Origin() int {
	return l.origin
}

// Stats returns the current size of the log.
func (l *Log) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return Stats{
		Generations: len(l.records) / l.nChains,
		Chains:      l.nChains,
		Records:     len(l.records),
	}
}

// Records returns a copy of all rows in append order, for checkpointing.
func (l *Log) Records() []Record {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Record, len(l.records))
	for i, r := range l.records {
		params := make([]float64, len(r.Params))
		copy(params, r.Params)
		r.Params = params
		out[i] = r
	}
	return out
}

// Estimate computes per-dimension mean and standard deviation over all rows
// with generation >= nBurn, flattened across chain identity, plus the
// burned-in concatenated chain itself. nBurn of 0 uses the full history.
// A burn-in at or past the number of completed generations is an ErrBurnIn.
func (l *Log) Estimate(nBurn int) (mean, stddev []float64, flat [][]float64, err error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if nBurn < 0 {
		return nil, nil, nil, fmt.Errorf("negative burn-in %d", nBurn)
	}
	completed := len(l.records) / l.nChains
	if nBurn >= completed {
		return nil, nil, nil, fmt.Errorf("%w: burn-in %d, completed %d", ErrBurnIn, nBurn, completed)
	}

	start := nBurn * l.nChains
	rows := l.records[start:]
	flat = make([][]float64, len(rows))
	cols := make([][]float64, l.dim)
	for d := range cols {
		cols[d] = make([]float64, len(rows))
	}
	for i, r := range rows {
		params := make([]float64, len(r.Params))
		copy(params, r.Params)
		flat[i] = params
		for d := 0; d < l.dim; d++ {
			cols[d][i] = r.Params[d]
		}
	}

	mean = make([]float64, l.dim)
	stddev = make([]float64, l.dim)
	for d := 0; d < l.dim; d++ {
		mean[d] = stat.Mean(cols[d], nil)
		stddev[d] = stat.StdDev(cols[d], nil)
	}
	return mean, stddev, flat, nil
}
