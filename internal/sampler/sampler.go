package sampler

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"math/rand"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/floats"

	"github.com/dreamware/demc/internal/chain"
	"github.com/dreamware/demc/internal/checkpoint"
	"github.com/dreamware/demc/internal/cluster"
	"github.com/dreamware/demc/internal/history"
)

// LogProb evaluates the target log-density at a parameter vector. Return
// -Inf for points outside the support; returning NaN aborts the run.
type LogProb func(params []float64) float64

// rootRank is the worker that keeps history, writes checkpoints and answers
// estimation queries.
const rootRank = 0

// Sampler runs a population of chains against a log-density, spread across
// the workers of a Comm. Every worker holds the full population; each owns
// the chains assigned to its rank and advances only those, exchanging
// states with the rest of the group at two barriers per generation.
type Sampler struct {
	cfg   Config
	f     LogProb
	comm  cluster.Comm
	pop   *chain.Population
	hist  *history.Log // root worker only, nil elsewhere
	eng   proposer
	acc   *acceptance
	runID  string
	owned  []int
	round  uint64
	gen    int // generations advanced by this run loop
	origin int // generations completed before a warm start

	// Run-wide proposal counters, aggregated across ranks each generation.
	// On a warm start they resume from the checkpointed totals.
	globalProposed uint64
	globalAccepted uint64
}

// New builds a sampler on an established communicator. theta0 seeds the
// initial population on a fresh run and fixes the dimension; on a warm
// start it may be nil, in which case the checkpoint decides both.
func New(cfg Config, f LogProb, theta0 []float64, comm cluster.Comm) (*Sampler, error) {
	if f == nil {
		return nil, fmt.Errorf("%w: log-density function is required", ErrConfig)
	}
	if comm == nil {
		return nil, fmt.Errorf("%w: communicator is required", ErrConfig)
	}
	cfg = cfg.withDefaults()

	if cfg.WarmStart {
		return warmStart(cfg, f, comm)
	}

	dim := len(theta0)
	if err := cfg.validate(dim); err != nil {
		return nil, err
	}
	if cfg.NChains < 2*dim {
		log.Printf("[sampler %d/%d] %d chains is small for dimension %d; at least %d recommended for donor diversity",
			comm.Rank(), comm.Size(), cfg.NChains, dim, 2*dim)
	}

	pop, err := chain.NewPopulation(cfg.NChains, dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfig, err)
	}

	// All workers seed the identical population from the shared seed, so
	// the run starts from one consistent state without a gather. Chain 0
	// sits exactly at theta0; the rest scatter around it.
	initRng := rand.New(rand.NewSource(cfg.Seed))
	buf := make([]float64, dim)
	for i := 0; i < cfg.NChains; i++ {
		copy(buf, theta0)
		if i > 0 {
			for d := range buf {
				buf[d] += cfg.InitSpread * initRng.NormFloat64()
			}
		}
		logP := f(buf)
		if math.IsNaN(logP) {
			return nil, fmt.Errorf("%w: initial point for chain %d", ErrInfeasibleState, i)
		}
		if err := pop.Set(i, buf, logP); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
	}

	s, err := assemble(cfg, f, comm, pop, 0)
	if err != nil {
		return nil, err
	}
	s.runID = uuid.NewString()
	log.Printf("[sampler %d/%d] run %s: %d chains, dim %d, algorithm %s",
		comm.Rank(), comm.Size(), s.runID, cfg.NChains, dim, cfg.Algorithm)
	return s, nil
}

// warmStart rebuilds a sampler from the checkpoint at cfg.CheckpointPath.
// Every worker reads the same file (shared filesystem); the stored
// hyperparameters replace the configured ones so the resumed sampler
// proposes exactly as the saved one did. The population is reconciled to
// cfg.NChains by cyclic replication or truncation.
func warmStart(cfg Config, f LogProb, comm cluster.Comm) (*Sampler, error) {
	if cfg.CheckpointPath == "" {
		return nil, fmt.Errorf("%w: warm start needs a checkpoint path", ErrConfig)
	}
	st, err := checkpoint.Load(cfg.CheckpointPath, cfg.Dim)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointFormat, err)
	}

	cfg.Algorithm = Algorithm(st.Hyper.Algorithm)
	cfg.Inflate = st.Hyper.Inflate
	cfg.CrossoverProbs = st.Hyper.CrossoverProbs
	cfg.SnookerProb = floatPtr(st.Hyper.SnookerProb)
	cfg.Varepsilon = floatPtr(st.Hyper.Varepsilon)
	cfg.BurninGen = st.Hyper.BurninGen
	if cfg.NChains == 0 {
		cfg.NChains = st.NChains
	}
	if err := cfg.validate(st.Dim); err != nil {
		return nil, err
	}

	states, err := chain.Reconcile(st.Population, cfg.NChains)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointFormat, err)
	}
	pop, err := chain.FromStates(states)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCheckpointFormat, err)
	}

	s, err := assemble(cfg, f, comm, pop, st.Generation)
	if err != nil {
		return nil, err
	}
	s.runID = st.RunID
	if s.runID == "" {
		s.runID = uuid.NewString()
	}
	s.globalProposed = st.Proposed
	s.globalAccepted = st.Accepted
	log.Printf("[sampler %d/%d] run %s: warm start from %s at generation %d (%d -> %d chains)",
		comm.Rank(), comm.Size(), s.runID, cfg.CheckpointPath, st.Generation, st.NChains, cfg.NChains)
	return s, nil
}

func assemble(cfg Config, f LogProb, comm cluster.Comm, pop *chain.Population, origin int) (*Sampler, error) {
	rank, size := comm.Rank(), comm.Size()
	rng := rand.New(rand.NewSource(cfg.Seed + int64(rank) + 1))

	gamma := cfg.gamma(pop.Dim())
	var eng proposer
	switch cfg.Algorithm {
	case AlgoDEMC:
		eng = &demcProposer{gamma: gamma, eps: *cfg.Varepsilon, rng: rng}
	case AlgoDREAM:
		eng = newDreamProposer(gamma, *cfg.Varepsilon, cfg.CrossoverProbs, *cfg.SnookerProb, rng)
	default:
		return nil, fmt.Errorf("%w: unknown algorithm %q", ErrConfig, cfg.Algorithm)
	}

	s := &Sampler{
		cfg:    cfg,
		f:      f,
		comm:   comm,
		pop:    pop,
		eng:    eng,
		acc:    &acceptance{rng: rng},
		owned:  chain.Owned(pop.Size(), size, rank),
		origin: origin,
	}
	if rank == rootRank {
		hist, err := history.NewLog(pop.Size(), pop.Dim(), origin)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfig, err)
		}
		s.hist = hist
	}
	return s, nil
}

// segment is one worker's contribution to a gather round: the states of its
// owned chains plus its proposal counters for the generation.
type segment struct {
	Rank     int            `json:"rank"`
	Chains   []segmentChain `json:"chains"`
	Proposed uint64         `json:"proposed"`
	Accepted uint64         `json:"accepted"`
}

type segmentChain struct {
	ID       int       `json:"id"`
	Params   []float64 `json:"params"`
	LogP     wireFloat `json:"log_p"`
	Accepted bool      `json:"accepted"`
}

// wireFloat carries a log-density over JSON. Encoding/json rejects the
// non-finite values a log-density legitimately takes (-Inf for an
// infeasible state), so those go across as strings.
type wireFloat float64

func (f wireFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsInf(v, -1) {
		return []byte(`"-inf"`), nil
	}
	if math.IsInf(v, 1) {
		return []byte(`"+inf"`), nil
	}
	return json.Marshal(v)
}

func (f *wireFloat) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case `"-inf"`:
		*f = wireFloat(math.Inf(-1))
		return nil
	case `"+inf"`:
		*f = wireFloat(math.Inf(1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = wireFloat(v)
	return nil
}

// RunMCMC advances the population by the given number of generations. Each
// generation crosses two barriers: one to agree on the population snapshot
// proposals draw donors from, one to exchange the advanced states. All
// workers must call RunMCMC with the same generation count; the call blocks
// until the whole group finishes.
func (s *Sampler) RunMCMC(ctx context.Context, generations int) error {
	if generations < 0 {
		return fmt.Errorf("%w: negative generation count %d", ErrConfig, generations)
	}
	for g := 0; g < generations; g++ {
		if err := s.step(ctx); err != nil {
			return err
		}
		if s.comm.Rank() == rootRank && s.cfg.CheckpointEvery > 0 &&
			s.hist.Completed()%s.cfg.CheckpointEvery == 0 {
			if err := s.SaveState(); err != nil {
				return err
			}
		}
	}
	return nil
}

// step runs one generation.
func (s *Sampler) step(ctx context.Context) error {
	// Barrier 1: agree on the donor snapshot before anyone proposes.
	segs, err := s.exchange(ctx, s.ownedSegment(nil))
	if err != nil {
		return err
	}
	if err := s.install(segs, false); err != nil {
		return err
	}
	snap := s.pop.Snapshot()

	adapting := s.gen < s.cfg.BurninGen
	proposed0, accepted0 := s.acc.counts()
	flags := make(map[int]bool, len(s.owned))
	for _, k := range s.owned {
		cand, crIdx := s.eng.propose(snap, k)
		logCand := s.f(cand)
		if math.IsNaN(logCand) {
			return fmt.Errorf("%w: chain %d at generation %d", ErrInfeasibleState, k, s.gen)
		}
		ok := s.acc.accept(snap[k].LogP, logCand)
		flags[k] = ok
		if !ok {
			continue
		}
		if adapting && crIdx >= 0 {
			d := floats.Distance(cand, snap[k].Params, 2)
			s.eng.adapt(crIdx, d*d)
		}
		if err := s.pop.Set(k, cand, logCand); err != nil {
			return fmt.Errorf("%w: %v", ErrInfeasibleState, err)
		}
	}
	proposed1, accepted1 := s.acc.counts()

	// Barrier 2: exchange the advanced states and the counters.
	seg := s.ownedSegment(flags)
	seg.Proposed = proposed1 - proposed0
	seg.Accepted = accepted1 - accepted0
	segs, err = s.exchange(ctx, seg)
	if err != nil {
		return err
	}
	if err := s.install(segs, true); err != nil {
		return err
	}
	s.gen++
	return nil
}

// install merges gathered segments into the population. When record is set
// the round closed a generation, so the counters are aggregated and the
// root worker appends the generation to its history.
func (s *Sampler) install(segs []segment, record bool) error {
	states := s.pop.Snapshot()
	var recs []history.Record
	gen := 0
	if record && s.hist != nil {
		gen = s.hist.Completed()
		recs = make([]history.Record, s.pop.Size())
	}
	for _, sg := range segs {
		if record {
			s.globalProposed += sg.Proposed
			s.globalAccepted += sg.Accepted
		}
		for _, c := range sg.Chains {
			if c.ID < 0 || c.ID >= len(states) {
				return fmt.Errorf("%w: rank %d reported unknown chain %d", ErrCommunication, sg.Rank, c.ID)
			}
			states[c.ID] = chain.State{Params: c.Params, LogP: float64(c.LogP)}
			if recs != nil {
				recs[c.ID] = history.Record{
					Generation: gen,
					ChainID:    c.ID,
					Params:     c.Params,
					LogP:       float64(c.LogP),
					Accepted:   c.Accepted,
				}
			}
		}
	}
	if err := s.pop.Replace(states); err != nil {
		return fmt.Errorf("%w: %v", ErrCommunication, err)
	}
	if recs != nil {
		if err := s.hist.Append(recs); err != nil {
			return fmt.Errorf("%w: %v", ErrCommunication, err)
		}
	}
	return nil
}

// ownedSegment packages this worker's owned chains. flags, when non-nil,
// marks which chains accepted their proposal this generation.
func (s *Sampler) ownedSegment(flags map[int]bool) segment {
	seg := segment{Rank: s.comm.Rank(), Chains: make([]segmentChain, 0, len(s.owned))}
	for _, k := range s.owned {
		st, err := s.pop.Get(k)
		if err != nil {
			continue
		}
		seg.Chains = append(seg.Chains, segmentChain{
			ID:       k,
			Params:   st.Params,
			LogP:     wireFloat(st.LogP),
			Accepted: flags[k],
		})
	}
	return seg
}

// exchange runs one all-gather round and decodes every worker's segment.
func (s *Sampler) exchange(ctx context.Context, seg segment) ([]segment, error) {
	payload, err := json.Marshal(seg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode segment: %v", ErrCommunication, err)
	}
	s.round++
	parts, err := s.comm.AllGather(ctx, s.round, payload)
	if err != nil {
		return nil, fmt.Errorf("%w: round %d: %v", ErrCommunication, s.round, err)
	}
	segs := make([]segment, len(parts))
	for rank, raw := range parts {
		if err := json.Unmarshal(raw, &segs[rank]); err != nil {
			return nil, fmt.Errorf("%w: decode segment from rank %d: %v", ErrCommunication, rank, err)
		}
	}
	return segs, nil
}

// ParamEst returns the per-dimension posterior mean and standard deviation
// plus the flattened post-burn-in chain. Root worker only; everyone else
// gets ErrEstimation since they keep no history.
func (s *Sampler) ParamEst(nBurn int) (mean, stddev []float64, flat [][]float64, err error) {
	if s.hist == nil {
		return nil, nil, nil, fmt.Errorf("%w: history lives on rank %d", ErrEstimation, rootRank)
	}
	mean, stddev, flat, err = s.hist.Estimate(nBurn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("%w: %v", ErrEstimation, err)
	}
	return mean, stddev, flat, nil
}

// AcceptanceFraction is the run-wide ratio of accepted to proposed moves,
// aggregated over all workers and, after a warm start, over the previous
// run as well. Zero before the first generation.
func (s *Sampler) AcceptanceFraction() float64 {
	if s.globalProposed == 0 {
		return 0
	}
	return float64(s.globalAccepted) / float64(s.globalProposed)
}

// Generation is the total number of completed generations, including those
// inherited from a warm-start checkpoint.
func (s *Sampler) Generation() int {
	return s.origin + s.gen
}

// RunID identifies the sampling run; warm starts keep the original ID.
func (s *Sampler) RunID() string {
	return s.runID
}

// History exposes the root worker's generation log, nil on other ranks.
func (s *Sampler) History() *history.Log {
	return s.hist
}

// SaveState checkpoints the full sampler state to cfg.CheckpointPath. Only
// the root worker writes; elsewhere the call is a no-op so the whole group
// can call it unconditionally.
func (s *Sampler) SaveState() error {
	if s.comm.Rank() != rootRank {
		return nil
	}
	if s.cfg.CheckpointPath == "" {
		return fmt.Errorf("%w: no checkpoint path configured", ErrConfig)
	}
	st := checkpoint.State{
		RunID:      s.runID,
		Dim:        s.pop.Dim(),
		NChains:    s.pop.Size(),
		Generation: s.Generation(),
		Proposed:   s.globalProposed,
		Accepted:   s.globalAccepted,
		Hyper: checkpoint.Hyper{
			Algorithm:      string(s.cfg.Algorithm),
			Inflate:        s.cfg.Inflate,
			CrossoverProbs: s.cfg.CrossoverProbs,
			SnookerProb:    *s.cfg.SnookerProb,
			Varepsilon:     *s.cfg.Varepsilon,
			BurninGen:      s.cfg.BurninGen,
			Seed:           s.cfg.Seed,
		},
		Population: s.pop.Snapshot(),
		History:    s.hist.Records(),
	}
	if err := checkpoint.Save(s.cfg.CheckpointPath, st); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	log.Printf("[sampler %d/%d] run %s: checkpoint at generation %d -> %s",
		s.comm.Rank(), s.comm.Size(), s.runID, st.Generation, s.cfg.CheckpointPath)
	return nil
}
