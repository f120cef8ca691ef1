package sampler

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"

	"github.com/dreamware/demc/internal/chain"
)

// snookerGamma is the step factor for snooker updates, the usual
// 2.38/sqrt(2) choice for a one-dimensional projected move.
const snookerGamma = 1.683

// unitGammaProb is the chance of replacing gamma with 1.0 on a DREAM
// proposal, enabling direct jumps between modes of the target.
const unitGammaProb = 0.2

// proposer generates one candidate parameter vector for a target chain from
// a population snapshot. The returned crossover index is -1 when the
// proposal did not use the crossover machinery (DE-MC, snooker, jitter).
type proposer interface {
	propose(snap []chain.State, k int) (cand []float64, crIdx int)
	adapt(crIdx int, jumpSq float64)
}

// demcProposer implements the plain differential-evolution rule:
//
//	cand = x_k + gamma*(x_r1 - x_r2) + varepsilon*N(0, I)
//
// with r1 != r2 != k drawn uniformly without replacement.
type demcProposer struct {
	gamma float64
	eps   float64
	rng   *rand.Rand
}

func (p *demcProposer) propose(snap []chain.State, k int) ([]float64, int) {
	cur := snap[k].Params
	cand := make([]float64, len(cur))
	copy(cand, cur)

	if len(snap) < 3 {
		// Not enough distinct chains for a difference vector; random walk
		// on the jitter alone keeps the chain moving.
		jitter(cand, p.eps, p.rng)
		return cand, -1
	}

	r1 := drawDistinct(p.rng, len(snap), k)
	r2 := drawDistinct(p.rng, len(snap), k, r1)
	diff := make([]float64, len(cur))
	floats.SubTo(diff, snap[r1].Params, snap[r2].Params)
	floats.AddScaled(cand, p.gamma, diff)
	jitter(cand, p.eps, p.rng)
	return cand, -1
}

func (p *demcProposer) adapt(int, float64) {}

// dreamProposer generalizes DE-MC with a per-proposal crossover probability
// drawn from a discrete set, per-dimension subset selection, and an
// occasional snooker update along the line from a third chain to the
// target. Crossover weights adapt during the burn-in phase in proportion to
// the squared jump distance each crossover value achieves.
type dreamProposer struct {
	gamma       float64
	eps         float64
	crs         []float64
	snookerProb float64
	rng         *rand.Rand

	crDelta []float64 // accumulated squared jumps per crossover value
	crCount []float64 // proposals per crossover value
}

func newDreamProposer(gamma, eps float64, crs []float64, snookerProb float64, rng *rand.Rand) *dreamProposer {
	return &dreamProposer{
		gamma:       gamma,
		eps:         eps,
		crs:         append([]float64(nil), crs...),
		snookerProb: snookerProb,
		rng:         rng,
		crDelta:     make([]float64, len(crs)),
		crCount:     make([]float64, len(crs)),
	}
}

func (p *dreamProposer) propose(snap []chain.State, k int) ([]float64, int) {
	cur := snap[k].Params
	cand := make([]float64, len(cur))
	copy(cand, cur)

	if len(snap) < 3 {
		jitter(cand, p.eps, p.rng)
		return cand, -1
	}

	if len(snap) >= 4 && p.rng.Float64() < p.snookerProb {
		if p.snooker(cand, snap, k) {
			return cand, -1
		}
	}

	crIdx := p.pickCrossover()
	cr := p.crs[crIdx]

	gamma := p.gamma
	if p.rng.Float64() < unitGammaProb {
		gamma = 1.0
	}

	r1 := drawDistinct(p.rng, len(snap), k)
	r2 := drawDistinct(p.rng, len(snap), k, r1)
	diff := make([]float64, len(cur))
	floats.SubTo(diff, snap[r1].Params, snap[r2].Params)

	// Perturb a random subset of dimensions; unselected dimensions keep
	// the current value. At least one dimension always moves.
	forced := p.rng.Intn(len(cur))
	for d := range cand {
		if d != forced && p.rng.Float64() >= cr {
			continue
		}
		cand[d] += gamma*diff[d] + p.eps*p.rng.NormFloat64()
	}
	return cand, crIdx
}

// snooker applies the snooker update in place: donor differences are
// projected on the line from a random anchor chain z to the target, so the
// step always points along a direction the population already spans. In one
// dimension the projection is the identity and the move reduces to plain
// DE. Returns false when the anchor coincides with the target, in which
// case the caller falls back to the regular rule.
func (p *dreamProposer) snooker(cand []float64, snap []chain.State, k int) bool {
	cur := snap[k].Params
	z := drawDistinct(p.rng, len(snap), k)
	dir := make([]float64, len(cur))
	floats.SubTo(dir, cur, snap[z].Params)
	norm2 := floats.Dot(dir, dir)
	if norm2 == 0 {
		return false
	}

	r1 := drawDistinct(p.rng, len(snap), k, z)
	r2 := drawDistinct(p.rng, len(snap), k, z, r1)
	diff := make([]float64, len(cur))
	floats.SubTo(diff, snap[r1].Params, snap[r2].Params)

	scale := snookerGamma * floats.Dot(diff, dir) / norm2
	floats.AddScaled(cand, scale, dir)
	jitter(cand, p.eps, p.rng)
	return true
}

// pickCrossover samples a crossover index with probability proportional to
// the smoothed average squared jump it has produced so far. Before any
// adaptation the choice is uniform.
func (p *dreamProposer) pickCrossover() int {
	total := 0.0
	weights := make([]float64, len(p.crs))
	for i := range p.crs {
		weights[i] = (p.crDelta[i] + 1) / (p.crCount[i] + 1)
		total += weights[i]
	}
	u := p.rng.Float64() * total
	for i, w := range weights {
		u -= w
		if u < 0 {
			return i
		}
	}
	return len(p.crs) - 1
}

// adapt credits an accepted jump to the crossover value that produced it.
// Only called during the burn-in phase.
func (p *dreamProposer) adapt(crIdx int, jumpSq float64) {
	if crIdx < 0 || crIdx >= len(p.crs) {
		return
	}
	p.crDelta[crIdx] += jumpSq
	p.crCount[crIdx]++
}

// jitter adds varepsilon-scaled Gaussian noise to every dimension.
func jitter(x []float64, eps float64, rng *rand.Rand) {
	if eps == 0 {
		return
	}
	for d := range x {
		x[d] += eps * rng.NormFloat64()
	}
}

// drawDistinct draws a uniform index in [0, n) distinct from every index in
// exclude. n must exceed len(exclude).
func drawDistinct(rng *rand.Rand, n int, exclude ...int) int {
	for {
		i := rng.Intn(n)
		hit := false
		for _, e := range exclude {
			if i == e {
				hit = true
				break
			}
		}
		if !hit {
			return i
		}
	}
}
