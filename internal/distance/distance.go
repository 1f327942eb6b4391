// Package distance implements three similarity kernels: Euclid, Dot, and
// Cosine, each with a similarity function and a preprocess step.
//
// Smaller similarity scores are "closer" for all three metrics. Euclid is
// plain squared distance, and Dot/Cosine are both expressed as
// `1 - dot(u, v)` so that all three metrics share the min-is-best ordering
// the HNSW graph assumes.
package distance

import (
	"github.com/chewxy/math32"
	"github.com/viterin/vek/vek32"
)

// Metric identifies one of the three supported distance kernels.
type Metric int

const (
	Euclid Metric = iota
	Dot
	Cosine
)

func (m Metric) String() string {
	switch m {
	case Euclid:
		return "Euclid"
	case Dot:
		return "Dot"
	case Cosine:
		return "Cosine"
	default:
		return "Unknown"
	}
}

// Similarity computes similarity(u, v) for the given metric. Callers must
// preprocess both vectors first (Preprocess is a no-op for Euclid and Dot).
func Similarity(m Metric, u, v []float32) float32 {
	recordCall()
	switch m {
	case Euclid:
		return euclidSimilarity(u, v)
	case Dot, Cosine:
		return dotSimilarity(u, v)
	default:
		panic("distance: unknown metric")
	}
}

// euclidSimilarity is a plain scalar loop, not vek32, because vek32 exposes
// no squared-Euclidean-distance primitive (only Dot/Add/Sub/etc.) — see
// DESIGN.md. It is kept branch-free and allocation-free since it sits on the
// search hot path.
func euclidSimilarity(u, v []float32) float32 {
	var sum float32
	for i := range u {
		d := u[i] - v[i]
		sum += d * d
	}
	return sum
}

// dotSimilarity implements both Dot and (post-normalization) Cosine:
// similarity(u,v) = 1 - Σ uᵢ·vᵢ.
func dotSimilarity(u, v []float32) float32 {
	return 1 - vek32.Dot(u, v)
}

// Preprocess applies the metric's preprocessing step. Euclid and Dot return
// the input unchanged (no copy); Cosine returns a new, L2-normalized vector.
func Preprocess(m Metric, v []float32) []float32 {
	if m != Cosine {
		return v
	}
	return cosinePreprocess(v)
}

// cosinePreprocess L2-normalizes v. A zero-length vector divides by zero and
// yields a vector of NaN; this is intentional and left unguarded rather than
// special-cased to a zero vector.
func cosinePreprocess(v []float32) []float32 {
	sumSq := vek32.Dot(v, v)
	length := math32.Sqrt(sumSq)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / length
	}
	return out
}
