package sampler

import (
	"math"
	"math/rand"
	"sync/atomic"
)

// acceptance implements the Metropolis accept/reject rule and tracks the
// proposal counters behind AcceptanceFraction. Counters are atomic so a
// concurrent stats read never tears.
type acceptance struct {
	rng      *rand.Rand
	proposed atomic.Uint64
	accepted atomic.Uint64
}

// accept decides whether a candidate replaces the current state. A
// candidate at least as good is always taken; a worse one survives with
// probability exp(logCand - logCur). A non-finite candidate log-density
// (outside prior support) is always rejected, whatever the uniform draw.
func (a *acceptance) accept(logCur, logCand float64) bool {
	a.proposed.Add(1)
	if math.IsInf(logCand, -1) || math.IsNaN(logCand) {
		return false
	}
	if logCand >= logCur {
		a.accepted.Add(1)
		return true
	}
	if a.rng.Float64() < math.Exp(logCand-logCur) {
		a.accepted.Add(1)
		return true
	}
	return false
}

// counts returns (proposed, accepted) so far.
func (a *acceptance) counts() (uint64, uint64) {
	return a.proposed.Load(), a.accepted.Load()
}
