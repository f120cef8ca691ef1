package sampler

import (
	"fmt"
	"math"
)

// Algorithm selects the proposal rule.
type Algorithm string

const (
	// AlgoDEMC is the plain differential-evolution proposal: every
	// dimension is perturbed by a scaled donor difference.
	AlgoDEMC Algorithm = "demc"
	// AlgoDREAM adds adaptive per-dimension crossover and snooker updates
	// on top of the DE-MC rule.
	AlgoDREAM Algorithm = "dream"
)

// Config carries the sampler hyperparameters and run settings. The zero
// value is not usable; call (or let New call) withDefaults.
type Config struct {
	// NChains is the population size. Hard minimum 4 (a proposal needs the
	// target, two donors and a snooker anchor to be distinct chains);
	// at least 2*dim is recommended for donor diversity.
	NChains int `yaml:"n_chains"`

	// Algorithm selects the proposal rule. Default AlgoDREAM.
	Algorithm Algorithm `yaml:"algorithm"`

	// Inflate scales the differential-evolution step factor. The effective
	// scale is gamma = Inflate * 2.38/sqrt(2*dim). Must be non-zero:
	// gamma = 0 collapses every proposal onto the current state and breaks
	// ergodicity. Default 1.
	Inflate float64 `yaml:"inflate"`

	// CrossoverProbs is the discrete crossover set DREAM draws from.
	// Default {0.1, 0.5, 1.0}.
	CrossoverProbs []float64 `yaml:"crossover_probs"`

	// SnookerProb is the probability of a snooker update per DREAM
	// proposal. Nil means the default 0.1; an explicit 0 disables snooker
	// updates entirely.
	SnookerProb *float64 `yaml:"snooker_prob"`

	// Varepsilon is the magnitude of the isotropic jitter added to every
	// proposal. Nil means the default 1e-6; an explicit 0 disables the
	// jitter.
	Varepsilon *float64 `yaml:"varepsilon"`

	// InitSpread is the scale of the random scatter applied to the initial
	// parameter vector when seeding the chains. Default 0.1. For multimodal
	// targets it must be wide enough, and NChains large enough, that every
	// mode starts with chains near it: difference-based proposals are
	// unlikely to rediscover a mode no chain holds.
	InitSpread float64 `yaml:"init_spread"`

	// BurninGen is the length of the adaptive phase in generations: DREAM
	// adapts its crossover weights only while the generation counter is
	// below BurninGen. Default 0 (no adaptation).
	BurninGen int `yaml:"burnin_gen"`

	// Seed seeds each worker's RNG (offset by rank). Runs are reproducible
	// for a fixed seed and a fixed worker count.
	Seed int64 `yaml:"seed"`

	// CheckpointPath is where periodic checkpoints and SaveState go, and
	// where WarmStart loads from.
	CheckpointPath string `yaml:"checkpoint_path"`

	// CheckpointEvery checkpoints every N generations on the root worker.
	// 0 disables periodic checkpointing.
	CheckpointEvery int `yaml:"checkpoint_every"`

	// WarmStart resumes from CheckpointPath instead of a fresh initial
	// vector. The stored hyperparameters (inflate, crossover set, snooker
	// probability, jitter) replace the ones configured here.
	WarmStart bool `yaml:"warm_start"`

	// Dim optionally pins the expected dimension on warm start; a mismatch
	// with the checkpoint is fatal. 0 means take the checkpoint's word.
	Dim int `yaml:"dim"`
}

// withDefaults fills unset fields.
func (c Config) withDefaults() Config {
	if c.Algorithm == "" {
		c.Algorithm = AlgoDREAM
	}
	if c.Inflate == 0 {
		c.Inflate = 1.0
	}
	if len(c.CrossoverProbs) == 0 {
		c.CrossoverProbs = []float64{0.1, 0.5, 1.0}
	}
	if c.SnookerProb == nil {
		c.SnookerProb = floatPtr(0.1)
	}
	if c.Varepsilon == nil {
		c.Varepsilon = floatPtr(1e-6)
	}
	if c.InitSpread == 0 {
		c.InitSpread = 0.1
	}
	return c
}

// validate checks the configuration against a known dimension.
func (c Config) validate(dim int) error {
	if dim < 1 {
		return fmt.Errorf("%w: dimension must be positive, got %d", ErrConfig, dim)
	}
	if c.NChains < 4 {
		return fmt.Errorf("%w: need at least 4 chains, got %d", ErrConfig, c.NChains)
	}
	if c.Algorithm != AlgoDEMC && c.Algorithm != AlgoDREAM {
		return fmt.Errorf("%w: unknown algorithm %q", ErrConfig, c.Algorithm)
	}
	if c.Inflate == 0 || math.IsNaN(c.Inflate) {
		return fmt.Errorf("%w: inflate must be non-zero", ErrConfig)
	}
	for _, cr := range c.CrossoverProbs {
		if cr <= 0 || cr > 1 {
			return fmt.Errorf("%w: crossover probability %v outside (0, 1]", ErrConfig, cr)
		}
	}
	if *c.SnookerProb < 0 || *c.SnookerProb > 1 {
		return fmt.Errorf("%w: snooker probability %v outside [0, 1]", ErrConfig, *c.SnookerProb)
	}
	if *c.Varepsilon < 0 {
		return fmt.Errorf("%w: varepsilon must be non-negative", ErrConfig)
	}
	if c.BurninGen < 0 {
		return fmt.Errorf("%w: burn-in generations must be non-negative", ErrConfig)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("%w: checkpoint interval must be non-negative", ErrConfig)
	}
	if c.CheckpointEvery > 0 && c.CheckpointPath == "" {
		return fmt.Errorf("%w: periodic checkpointing needs a checkpoint path", ErrConfig)
	}
	return nil
}

func floatPtr(v float64) *float64 { return &v }

// gamma returns the differential-evolution scale factor for the given
// dimension: the classic 2.38/sqrt(2D) choice scaled by Inflate.
func (c Config) gamma(dim int) float64 {
	return c.Inflate * 2.38 / math.Sqrt(2*float64(dim))
}
