package sampler

import (
	"math"
	"math/rand"
	"testing"
)

func TestAcceptImprovementAlways(t *testing.T) {
	a := &acceptance{rng: rand.New(rand.NewSource(1))}
	for i := 0; i < 100; i++ {
		if !a.accept(-10, -5) {
			t.Fatal("rejected a strictly better candidate")
		}
		if !a.accept(-5, -5) {
			t.Fatal("rejected an equal candidate")
		}
	}
	proposed, accepted := a.counts()
	if proposed != 200 || accepted != 200 {
		t.Errorf("counts = (%d, %d), want (200, 200)", proposed, accepted)
	}
}

func TestAcceptNonFiniteCandidateNever(t *testing.T) {
	a := &acceptance{rng: rand.New(rand.NewSource(2))}
	for i := 0; i < 100; i++ {
		if a.accept(-5, math.Inf(-1)) {
			t.Fatal("accepted a -Inf candidate")
		}
		if a.accept(math.Inf(-1), math.Inf(-1)) {
			t.Fatal("accepted -Inf over -Inf")
		}
		if a.accept(-5, math.NaN()) {
			t.Fatal("accepted a NaN candidate")
		}
	}
	_, accepted := a.counts()
	if accepted != 0 {
		t.Errorf("accepted count = %d, want 0", accepted)
	}
}

func TestAcceptWorseCandidateAtMetropolisRate(t *testing.T) {
	a := &acceptance{rng: rand.New(rand.NewSource(3))}
	// log ratio -1: expect acceptance near exp(-1) ~ 0.368.
	const trials = 20000
	hits := 0
	for i := 0; i < trials; i++ {
		if a.accept(0, -1) {
			hits++
		}
	}
	rate := float64(hits) / trials
	want := math.Exp(-1)
	if math.Abs(rate-want) > 0.02 {
		t.Errorf("acceptance rate %v, want about %v", rate, want)
	}
}

func TestAcceptEscapesInfeasibleCurrent(t *testing.T) {
	a := &acceptance{rng: rand.New(rand.NewSource(4))}
	// Any finite candidate beats a -Inf current state.
	if !a.accept(math.Inf(-1), -100) {
		t.Error("rejected a finite candidate from an infeasible state")
	}
}
