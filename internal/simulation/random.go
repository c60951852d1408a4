package simulation

import (
	"math/rand"
	"time"
)

// Random is the subset of *rand.Rand the engine draws from. Hosts inject a seeded
// generator for deterministic target placement and particle layout.
type Random interface {
	Float64() float64
}

// NewRandom returns a seeded generator. A zero seed falls back to the wall clock.
func NewRandom(seed int64) *rand.Rand {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// uniform draws from [lo, hi).
func uniform(r Random, lo, hi float64) float64 {
	return lo + r.Float64()*(hi-lo)
}
