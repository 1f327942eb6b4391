// Package hnswtest provides random-vector fixtures and an in-memory vector
// table that serves as an hnsw.PairScorer and, through QueryScorer, as an
// hnsw.PointScorer, for exercising the graph package without a full segment.
package hnswtest

import (
	"math/rand/v2"

	"github.com/diffsec/vectorcore/internal/distance"
	"github.com/diffsec/vectorcore/internal/hnsw"
)

// RandomVectors returns n random vectors of dimension dim, drawn from a
// seeded generator so fixture data is reproducible across test runs.
func RandomVectors(seed uint64, n, dim int) [][]float32 {
	rng := rand.New(rand.NewPCG(seed, seed^0xabcdef))
	out := make([][]float32, n)
	for i := range out {
		v := make([]float32, dim)
		for j := range v {
			v[j] = float32(rng.Float64()*2 - 1)
		}
		out[i] = v
	}
	return out
}

// VectorStore is the minimal in-memory vector table the fixtures need: a
// flat slice of vectors indexed directly by offset.
type VectorStore struct {
	Metric  distance.Metric
	Vectors [][]float32
}

// Score computes the query's similarity to offset. Out-of-range offsets
// report not-ok, mirroring a deleted point.
func (s *VectorStore) Score(query []float32, offset uint32) (float32, bool) {
	if int(offset) >= len(s.Vectors) {
		return 0, false
	}
	return distance.Similarity(s.Metric, query, s.Vectors[offset]), true
}

// ScorePair computes the similarity between two existing offsets, for the
// Malkov-Yashunin heuristic and degree-cap pruning.
func (s *VectorStore) ScorePair(a, b uint32) float32 {
	return distance.Similarity(s.Metric, s.Vectors[a], s.Vectors[b])
}

// QueryScorer binds a query vector against a VectorStore, implementing
// hnsw.PointScorer.
type QueryScorer struct {
	Store *VectorStore
	Query []float32
}

func (q *QueryScorer) Score(offset uint32) (float32, bool) {
	return q.Store.Score(q.Query, offset)
}

// NewInsertScorer binds the scorer used while linking offset into the
// graph: its own (already-preprocessed) vector as the query.
func NewInsertScorer(store *VectorStore, offset uint32) *QueryScorer {
	return &QueryScorer{Store: store, Query: store.Vectors[offset]}
}

// BruteForceTopK is an independent reference implementation used by tests to
// check that graph search recall matches exact search on small fixtures.
func BruteForceTopK(store *VectorStore, query []float32, top int) []hnsw.ScoredPoint {
	all := make([]hnsw.ScoredPoint, len(store.Vectors))
	for i := range store.Vectors {
		score, _ := store.Score(query, uint32(i))
		all[i] = hnsw.ScoredPoint{Offset: uint32(i), Score: score}
	}
	// insertion sort is fine; fixtures are small
	for i := 1; i < len(all); i++ {
		for j := i; j > 0; j-- {
			a, b := all[j-1], all[j]
			if a.Score < b.Score || (a.Score == b.Score && a.Offset <= b.Offset) {
				break
			}
			all[j-1], all[j] = all[j], all[j-1]
		}
	}
	if top > len(all) {
		top = len(all)
	}
	return all[:top]
}
