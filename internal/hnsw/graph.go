package hnsw

import (
	"bufio"
	"container/heap"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"
)

// PointScorer is a capability bound to one query (or, during construction,
// to the vector of the point being inserted): score any existing offset
// against it. *FilteredScorer satisfies this.
type PointScorer interface {
	Score(offset uint32) (float32, bool)
}

// GraphLayers is the multi-layer proximity graph for one segment. Adjacency
// is stored per level as a map from offset to its neighbour slice (never a
// linked structure); a packed flat byte buffer is not used because
// incremental inserts mutate individual adjacency lists at unpredictable
// offsets and would force either frequent whole-layer repacking or a
// free-list scheme no simpler than this map-of-slices — see DESIGN.md.
type GraphLayers struct {
	mu          sync.RWMutex
	params      Params
	levelFactor float64
	pairScorer  PairScorer
	rng         RNG

	layers     []map[uint32][]uint32 // layers[l][offset] = neighbours of offset at level l
	pointLevel map[uint32]int        // offset -> assigned max level; presence means the point is linked

	hasEntry    bool
	entryOffset uint32
	entryLevel  int
}

// NewGraphLayers creates an empty graph. pairScorer computes similarity
// between two arbitrary existing offsets, needed by the Malkov-Yashunin
// heuristic and by degree-cap pruning.
func NewGraphLayers(params Params, pairScorer PairScorer, rng RNG) *GraphLayers {
	return &GraphLayers{
		params:      params,
		levelFactor: params.LevelFactor(),
		pairScorer:  pairScorer,
		rng:         rng,
		layers:      []map[uint32][]uint32{make(map[uint32][]uint32)},
		pointLevel:  make(map[uint32]int),
		entryLevel:  -1,
	}
}

// RandomLevel draws this graph's next insertion level using its injected RNG.
func (g *GraphLayers) RandomLevel() int {
	return RandomLevel(g.rng, g.levelFactor)
}

// NumPoints returns the number of linked (not necessarily non-deleted) points.
func (g *GraphLayers) NumPoints() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.pointLevel)
}

// EntryPoint returns the current entry point, if any.
func (g *GraphLayers) EntryPoint() (offset uint32, level int, ok bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.entryOffset, g.entryLevel, g.hasEntry
}

// Level returns the assigned level for offset.
func (g *GraphLayers) Level(offset uint32) (int, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l, ok := g.pointLevel[offset]
	return l, ok
}

// Neighbors returns a copy of offset's adjacency list at level (for
// inspection/tests; exercised by the degree-cap property test).
func (g *GraphLayers) Neighbors(offset uint32, level int) []uint32 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if level >= len(g.layers) {
		return nil
	}
	n := g.layers[level][offset]
	out := make([]uint32, len(n))
	copy(out, n)
	return out
}

func (g *GraphLayers) ensureLayers(level int) {
	for len(g.layers) <= level {
		g.layers = append(g.layers, make(map[uint32][]uint32))
	}
}

// LinkNewPoint inserts offset into the graph at the given level. Re-inserting
// an offset that is already linked is an error; the caller must delete the
// point from the graph before inserting it again.
func (g *GraphLayers) LinkNewPoint(offset uint32, level int, scorer PointScorer) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.pointLevel[offset]; exists {
		return fmt.Errorf("hnsw: point %d is already linked; delete before re-inserting", offset)
	}

	g.ensureLayers(level)
	g.pointLevel[offset] = level
	for l := 0; l <= level; l++ {
		if _, ok := g.layers[l][offset]; !ok {
			g.layers[l][offset] = nil
		}
	}

	if !g.hasEntry {
		g.hasEntry = true
		g.entryOffset = offset
		g.entryLevel = level
		return nil
	}

	// Greedily descend from the current entry through layers top..level+1.
	entryCandidate := g.entryOffset
	for l := g.entryLevel; l > level; l-- {
		entryCandidate = g.greedySearch(entryCandidate, l, scorer)
	}

	// Bounded search, neighbour selection, and edge insertion, from
	// min(level, entry.top_level) down to 0.
	startLevel := level
	if g.entryLevel < startLevel {
		startLevel = g.entryLevel
	}
	currentEntries := []uint32{entryCandidate}
	for l := startLevel; l >= 0; l-- {
		candidates := g.searchLayer(currentEntries, l, g.params.EfConstruct, scorer)
		selected := g.selectNeighbors(candidates, g.params.DegreeCap(l))
		g.connect(offset, selected, l)
		for _, n := range selected {
			g.pruneIfOverCapacity(n, l)
		}
		if len(candidates) > 0 {
			currentEntries = offsetsOf(candidates)
		}
	}

	// The new entry point is whichever node reaches the highest level,
	// ties broken by the lowest offset.
	if level > g.entryLevel || (level == g.entryLevel && offset < g.entryOffset) {
		g.entryOffset = offset
		g.entryLevel = level
	}
	return nil
}

// Search performs greedy descent through layers > 0, then a bounded
// best-first search at layer 0 with queue size max(ef, top), returning the
// top nearest offsets sorted ascending by score.
func (g *GraphLayers) Search(top, ef int, scorer PointScorer) []ScoredPoint {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.hasEntry {
		return nil
	}

	entry := g.entryOffset
	for l := g.entryLevel; l > 0; l-- {
		entry = g.greedySearch(entry, l, scorer)
	}

	effectiveEf := ef
	if top > effectiveEf {
		effectiveEf = top
	}
	found := g.searchLayer([]uint32{entry}, 0, effectiveEf, scorer)
	if len(found) > top {
		found = found[:top]
	}
	return found
}

// greedySearch repeatedly moves to the best-scoring neighbour of the current
// point at level until no neighbour improves.
func (g *GraphLayers) greedySearch(start uint32, level int, scorer PointScorer) uint32 {
	current := start
	currentScore, ok := scorer.Score(current)
	if !ok {
		return start
	}
	for {
		improved := false
		for _, sp := range scoreOffsets(scorer, g.layers[level][current]) {
			if sp.Score < currentScore || (sp.Score == currentScore && sp.Offset < current) {
				currentScore = sp.Score
				current = sp.Offset
				improved = true
			}
		}
		if !improved {
			return current
		}
	}
}

// scoreOffsets scores every offset in offsets against scorer, preferring a
// single ScoreIterable call when scorer supports it over one Score call per
// offset.
func scoreOffsets(scorer PointScorer, offsets []uint32) []ScoredPoint {
	if it, ok := scorer.(IterableScorer); ok {
		return it.ScoreIterable(offsets, len(offsets))
	}
	out := make([]ScoredPoint, 0, len(offsets))
	for _, o := range offsets {
		if score, ok := scorer.Score(o); ok {
			out = append(out, ScoredPoint{Offset: o, Score: score})
		}
	}
	return out
}

// searchLayer is the bounded best-first search: a visited set, a
// nearest-frontier min-heap of candidates, and an ef-bounded max-heap of the
// best results found so far.
func (g *GraphLayers) searchLayer(entryPoints []uint32, level int, ef int, scorer PointScorer) []ScoredPoint {
	visited := make(map[uint32]bool)
	var candidates candidateHeap
	var results resultHeap

	for _, e := range entryPoints {
		if visited[e] {
			continue
		}
		visited[e] = true
		score, ok := scorer.Score(e)
		if !ok {
			// An entry point the scorer rejects (filtered out or deleted)
			// still routes the search: it joins the frontier so its
			// neighbours get expanded, but never the results.
			heap.Push(&candidates, ScoredPoint{Offset: e, Score: float32(math.Inf(1))})
			continue
		}
		heap.Push(&candidates, ScoredPoint{Offset: e, Score: score})
		heap.Push(&results, ScoredPoint{Offset: e, Score: score})
	}

	for candidates.Len() > 0 {
		c := heap.Pop(&candidates).(ScoredPoint)
		if results.Len() >= ef {
			worst := results[0]
			if c.Score > worst.Score || (c.Score == worst.Score && c.Offset > worst.Offset) {
				break
			}
		}
		var unvisited []uint32
		for _, nb := range g.layers[level][c.Offset] {
			if !visited[nb] {
				visited[nb] = true
				unvisited = append(unvisited, nb)
			}
		}
		for _, sp := range scoreOffsets(scorer, unvisited) {
			if results.Len() < ef {
				heap.Push(&candidates, sp)
				heap.Push(&results, sp)
				continue
			}
			worst := results[0]
			if sp.Score < worst.Score || (sp.Score == worst.Score && sp.Offset < worst.Offset) {
				heap.Push(&candidates, sp)
				heap.Push(&results, sp)
				heap.Pop(&results)
			}
		}
	}

	out := make([]ScoredPoint, len(results))
	copy(out, results)
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score < out[j].Score
		}
		return out[i].Offset < out[j].Offset
	})
	return out
}

// selectNeighbors applies plain nearest-M when UseHeuristic is false, or the
// Malkov-Yashunin heuristic otherwise. candidates must already be sorted
// ascending by score (distance to the
// reference point, which is either the point being inserted or, during
// pruning, the neighbour whose adjacency is being trimmed).
func (g *GraphLayers) selectNeighbors(candidates []ScoredPoint, cap int) []uint32 {
	if !g.params.UseHeuristic {
		n := cap
		if n > len(candidates) {
			n = len(candidates)
		}
		out := make([]uint32, n)
		for i := 0; i < n; i++ {
			out[i] = candidates[i].Offset
		}
		return out
	}

	var accepted []uint32
	for _, cand := range candidates {
		if len(accepted) >= cap {
			break
		}
		dRefC := cand.Score
		ok := true
		for _, a := range accepted {
			if g.pairScorer.ScorePair(a, cand.Offset) < dRefC {
				ok = false
				break
			}
		}
		if ok {
			accepted = append(accepted, cand.Offset)
		}
	}
	return accepted
}

// connect installs p's adjacency at level as neighbours, and adds p to each
// neighbour's own adjacency: edges are inserted symmetrically.
func (g *GraphLayers) connect(p uint32, neighbors []uint32, level int) {
	cp := make([]uint32, len(neighbors))
	copy(cp, neighbors)
	g.layers[level][p] = cp
	for _, n := range neighbors {
		g.layers[level][n] = append(g.layers[level][n], p)
	}
}

// pruneIfOverCapacity re-runs neighbour selection on n's own adjacency at
// level, scored relative to n, when it now exceeds its degree cap.
func (g *GraphLayers) pruneIfOverCapacity(n uint32, level int) {
	capacity := g.params.DegreeCap(level)
	neighbors := g.layers[level][n]
	if len(neighbors) <= capacity {
		return
	}
	candidates := make([]ScoredPoint, 0, len(neighbors))
	for _, nb := range neighbors {
		candidates = append(candidates, ScoredPoint{Offset: nb, Score: g.pairScorer.ScorePair(n, nb)})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score < candidates[j].Score
		}
		return candidates[i].Offset < candidates[j].Offset
	})
	g.layers[level][n] = g.selectNeighbors(candidates, capacity)
}

func offsetsOf(points []ScoredPoint) []uint32 {
	out := make([]uint32, len(points))
	for i, p := range points {
		out[i] = p.Offset
	}
	return out
}

const graphMagic = "HGRP"

// Save serializes the graph layer-by-layer in little-endian form.
func (g *GraphLayers) Save(w io.Writer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bw := bufio.NewWriter(w)
	header := make([]byte, 4+4+4+4+1+1+1+4)
	copy(header[0:4], graphMagic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(g.params.M))
	binary.LittleEndian.PutUint32(header[8:12], uint32(g.params.EfConstruct))
	binary.LittleEndian.PutUint32(header[12:16], uint32(g.params.EfSearch))
	if g.params.UseHeuristic {
		header[16] = 1
	}
	if g.hasEntry {
		header[17] = 1
	}
	header[18] = 0
	binary.LittleEndian.PutUint32(header[19:23], uint32(len(g.layers)))
	if _, err := bw.Write(header); err != nil {
		return err
	}
	var entryBuf [8]byte
	binary.LittleEndian.PutUint32(entryBuf[0:4], g.entryOffset)
	binary.LittleEndian.PutUint32(entryBuf[4:8], uint32(g.entryLevel))
	if _, err := bw.Write(entryBuf[:]); err != nil {
		return err
	}

	for _, layer := range g.layers {
		if err := binary.Write(bw, binary.LittleEndian, uint32(len(layer))); err != nil {
			return err
		}
		offsets := make([]uint32, 0, len(layer))
		for o := range layer {
			offsets = append(offsets, o)
		}
		sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
		for _, o := range offsets {
			neighbors := layer[o]
			if err := binary.Write(bw, binary.LittleEndian, o); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, uint32(len(neighbors))); err != nil {
				return err
			}
			if err := binary.Write(bw, binary.LittleEndian, neighbors); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

// LoadGraphLayers reconstructs a graph previously written by Save.
// pairScorer and rng must be supplied fresh by the caller, matching how a
// segment reconnects its reloaded graph to a freshly opened vector store.
func LoadGraphLayers(r io.Reader, pairScorer PairScorer, rng RNG) (*GraphLayers, error) {
	header := make([]byte, 4+4+4+4+1+1+1+4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("hnsw: read header: %w", err)
	}
	if string(header[0:4]) != graphMagic {
		return nil, fmt.Errorf("hnsw: bad magic %q", header[0:4])
	}
	params := Params{
		M:            int(binary.LittleEndian.Uint32(header[4:8])),
		EfConstruct:  int(binary.LittleEndian.Uint32(header[8:12])),
		EfSearch:     int(binary.LittleEndian.Uint32(header[12:16])),
		UseHeuristic: header[16] == 1,
	}
	hasEntry := header[17] == 1
	numLayers := int(binary.LittleEndian.Uint32(header[19:23]))

	var entryBuf [8]byte
	if _, err := io.ReadFull(r, entryBuf[:]); err != nil {
		return nil, fmt.Errorf("hnsw: read entry point: %w", err)
	}
	entryOffset := binary.LittleEndian.Uint32(entryBuf[0:4])
	entryLevel := int(binary.LittleEndian.Uint32(entryBuf[4:8]))

	g := &GraphLayers{
		params:      params,
		levelFactor: params.LevelFactor(),
		pairScorer:  pairScorer,
		rng:         rng,
		layers:      make([]map[uint32][]uint32, 0, numLayers),
		pointLevel:  make(map[uint32]int),
		hasEntry:    hasEntry,
		entryOffset: entryOffset,
		entryLevel:  entryLevel,
	}

	for l := 0; l < numLayers; l++ {
		var count uint32
		if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
			return nil, fmt.Errorf("hnsw: read layer %d count: %w", l, err)
		}
		layer := make(map[uint32][]uint32, count)
		for i := uint32(0); i < count; i++ {
			var offset, numNeighbors uint32
			if err := binary.Read(r, binary.LittleEndian, &offset); err != nil {
				return nil, fmt.Errorf("hnsw: read offset: %w", err)
			}
			if err := binary.Read(r, binary.LittleEndian, &numNeighbors); err != nil {
				return nil, fmt.Errorf("hnsw: read neighbor count: %w", err)
			}
			neighbors := make([]uint32, numNeighbors)
			if numNeighbors > 0 {
				if err := binary.Read(r, binary.LittleEndian, neighbors); err != nil {
					return nil, fmt.Errorf("hnsw: read neighbors: %w", err)
				}
			}
			layer[offset] = neighbors
			if existing, ok := g.pointLevel[offset]; !ok || l > existing {
				g.pointLevel[offset] = l
			}
		}
		g.layers = append(g.layers, layer)
	}

	return g, nil
}
