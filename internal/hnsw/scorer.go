// Package hnsw implements the layered proximity graph used for approximate
// nearest-neighbour search, plus the scorer capabilities the graph is
// generic over.
package hnsw

// ScoredPoint pairs a point offset with its similarity score. Smaller scores
// are closer, matching internal/distance's convention for all three metrics.
type ScoredPoint struct {
	Offset uint32
	Score  float32
}

// RawScorer binds a preprocessed query vector to a vector store and metric.
// Never returns a score for a deleted offset.
type RawScorer interface {
	// Score returns the query's similarity to offset, or ok=false if offset
	// is deleted.
	Score(offset uint32) (score float32, ok bool)
	// ScorePoints writes (offset, score) pairs for up to budget non-deleted
	// offsets drawn from offsets, appending to out and returning it.
	ScorePoints(offsets []uint32, budget int, out []ScoredPoint) []ScoredPoint
}

// Checker answers "does this offset survive the filter". Deletion is already
// handled by the RawScorer; Checker additionally encodes payload-filter
// survival.
type Checker interface {
	Check(offset uint32) bool
}

// AllowAll is a Checker that accepts every offset, used when a search has no
// filter.
type AllowAll struct{}

func (AllowAll) Check(uint32) bool { return true }

// FilteredScorer wraps a RawScorer with an optional Checker. The graph is
// generic over this capability set (score an offset, check that it survives
// a filter) rather than owning a scorer itself.
type FilteredScorer struct {
	Raw     RawScorer
	Checker Checker // nil means AllowAll
}

// NewFilteredScorer builds a FilteredScorer; a nil checker means "no filter".
func NewFilteredScorer(raw RawScorer, checker Checker) *FilteredScorer {
	if checker == nil {
		checker = AllowAll{}
	}
	return &FilteredScorer{Raw: raw, Checker: checker}
}

// Score reports the offset's score only if it survives both deletion
// skipping (via Raw) and the filter (via Checker).
func (f *FilteredScorer) Score(offset uint32) (float32, bool) {
	if !f.Checker.Check(offset) {
		return 0, false
	}
	return f.Raw.Score(offset)
}

// ScoreIterable consumes offsets in order, evaluates the filter lazily, and
// yields at most limit scored survivors in input order. Filter-passing
// offsets are handed to the raw scorer's own budgeted ScorePoints one at a
// time, so deletion-skipping and the budget cutoff stay owned by RawScorer
// rather than duplicated here.
func (f *FilteredScorer) ScoreIterable(offsets []uint32, limit int) []ScoredPoint {
	out := make([]ScoredPoint, 0, min(limit, len(offsets)))
	for _, o := range offsets {
		if len(out) >= limit {
			break
		}
		if !f.Checker.Check(o) {
			continue
		}
		out = f.Raw.ScorePoints([]uint32{o}, limit, out)
	}
	return out
}

// IterableScorer is a PointScorer that can also batch-score a set of
// candidate offsets in one call via ScoreIterable. The graph uses this to
// score all of a candidate's unvisited neighbours together instead of one
// Score call per neighbour; scorers that only bind a single point (e.g. the
// one used while linking a new point into the graph) need not implement it.
type IterableScorer interface {
	PointScorer
	ScoreIterable(offsets []uint32, limit int) []ScoredPoint
}

// PairScorer computes the similarity between two arbitrary existing points,
// independent of any bound query. The Malkov-Yashunin heuristic needs
// exactly this: distances between candidates and between a neighbour and
// the point being pruned, not just distances to the query that produced a
// FilteredScorer.
type PairScorer interface {
	ScorePair(a, b uint32) float32
}
