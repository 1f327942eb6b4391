package hnsw

import (
	"math"
	"math/rand/v2"
)

// RNG is the injectable randomness source for level assignment: externally
// controllable so builds with a fixed seed reproduce identical graphs.
type RNG interface {
	// Float64 returns a value in [0, 1).
	Float64() float64
}

// NewSeededRNG returns a deterministic RNG for a fixed seed, so builds with
// identical (seed, ops) reproduce identical graphs.
func NewSeededRNG(seed uint64) RNG {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// RandomLevel draws the per-point level assignment: u in (0,1] uniform,
// level = floor(-ln(u) * levelFactor).
func RandomLevel(rng RNG, levelFactor float64) int {
	u := 1 - rng.Float64() // shift [0,1) to (0,1] so log never sees 0
	return int(math.Floor(-math.Log(u) * levelFactor))
}
