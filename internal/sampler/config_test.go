package sampler

import (
	"errors"
	"math"
	"testing"
)

func TestConfigDefaults(t *testing.T) {
	c := Config{NChains: 8}.withDefaults()
	if c.Algorithm != AlgoDREAM {
		t.Errorf("default algorithm = %q, want %q", c.Algorithm, AlgoDREAM)
	}
	if c.Inflate != 1.0 {
		t.Errorf("default inflate = %v, want 1", c.Inflate)
	}
	if len(c.CrossoverProbs) != 3 {
		t.Errorf("default crossover set = %v, want three values", c.CrossoverProbs)
	}
	if *c.SnookerProb != 0.1 || *c.Varepsilon != 1e-6 || c.InitSpread != 0.1 {
		t.Errorf("defaults = (%v, %v, %v)", *c.SnookerProb, *c.Varepsilon, c.InitSpread)
	}
}

func TestConfigExplicitZerosDisable(t *testing.T) {
	c := Config{
		NChains:     8,
		SnookerProb: floatPtr(0),
		Varepsilon:  floatPtr(0),
	}.withDefaults()
	if *c.SnookerProb != 0 {
		t.Errorf("explicit zero snooker probability overwritten to %v", *c.SnookerProb)
	}
	if *c.Varepsilon != 0 {
		t.Errorf("explicit zero varepsilon overwritten to %v", *c.Varepsilon)
	}
	if err := c.validate(3); err != nil {
		t.Errorf("disabled snooker and jitter rejected: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	base := Config{NChains: 8}.withDefaults()
	if err := base.validate(3); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		dim    int
	}{
		{"zero dimension", func(*Config) {}, 0},
		{"too few chains", func(c *Config) { c.NChains = 3 }, 3},
		{"unknown algorithm", func(c *Config) { c.Algorithm = "gibbs" }, 3},
		{"zero inflate", func(c *Config) { c.Inflate = 0 }, 3},
		{"NaN inflate", func(c *Config) { c.Inflate = math.NaN() }, 3},
		{"crossover above one", func(c *Config) { c.CrossoverProbs = []float64{1.5} }, 3},
		{"zero crossover", func(c *Config) { c.CrossoverProbs = []float64{0} }, 3},
		{"snooker above one", func(c *Config) { c.SnookerProb = floatPtr(1.1) }, 3},
		{"negative varepsilon", func(c *Config) { c.Varepsilon = floatPtr(-1) }, 3},
		{"negative burn-in", func(c *Config) { c.BurninGen = -1 }, 3},
		{"interval without path", func(c *Config) { c.CheckpointEvery = 5 }, 3},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := base
			tc.mutate(&c)
			if err := c.validate(tc.dim); !errors.Is(err, ErrConfig) {
				t.Fatalf("validate error = %v, want ErrConfig", err)
			}
		})
	}
}

func TestGammaScale(t *testing.T) {
	c := Config{Inflate: 1.0}
	want := 2.38 / math.Sqrt(2*5.0)
	if got := c.gamma(5); math.Abs(got-want) > 1e-12 {
		t.Errorf("gamma(5) = %v, want %v", got, want)
	}
	c.Inflate = 0.5
	if got := c.gamma(5); math.Abs(got-want/2) > 1e-12 {
		t.Errorf("inflate 0.5: gamma(5) = %v, want %v", got, want/2)
	}
}
