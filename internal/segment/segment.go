// Package segment composes a vector store, a payload store, and an HNSW
// graph behind one lock into a self-contained search unit.
package segment

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/diffsec/vectorcore/internal/distance"
	"github.com/diffsec/vectorcore/internal/hnsw"
	"github.com/diffsec/vectorcore/internal/payload"
	"github.com/diffsec/vectorcore/internal/pointid"
	"github.com/diffsec/vectorcore/internal/vcerrors"
	"github.com/diffsec/vectorcore/internal/vecstore"
)

// Config holds the parameters a segment is built with. Every segment in a
// collection shares these across shards.
type Config struct {
	Dim    int
	Metric distance.Metric
	HNSW   hnsw.Params
	Seed   uint64
}

// Segment is a self-contained unit combining a vector store, payload store,
// and HNSW graph. A single RWMutex covers all three: the write path is
// already serialized upstream by the shard, so fine-grained locking here
// would add complexity without a concurrency benefit.
type Segment struct {
	mu         sync.RWMutex
	cfg        Config
	vectors    *vecstore.Store
	payload    *payload.Store
	graph      *hnsw.GraphLayers
	nextOffset uint32
}

// New creates an empty segment backed by a payload store at payloadPath
// (":memory:" for an ephemeral, test-only store).
func New(cfg Config, payloadPath string) (*Segment, error) {
	ps, err := payload.NewStore(payloadPath)
	if err != nil {
		return nil, vcerrors.Wrap(vcerrors.ServiceError, err)
	}
	vs := vecstore.New(cfg.Dim)
	scorer := &pairScorer{vectors: vs, metric: cfg.Metric}
	graph := hnsw.NewGraphLayers(cfg.HNSW, scorer, hnsw.NewSeededRNG(cfg.Seed))
	return &Segment{cfg: cfg, vectors: vs, payload: ps, graph: graph}, nil
}

const (
	vectorsFile = "vectors.bin"
	graphFile   = "graph.bin"
	metaFile    = "meta.json"
)

type snapshotMeta struct {
	NextOffset uint32 `json:"next_offset"`
}

// OpenWithSnapshot builds a segment from a prior Snapshot at snapshotDir, or
// an empty one if snapshotDir holds no snapshot yet.
func OpenWithSnapshot(cfg Config, payloadPath, snapshotDir string) (*Segment, error) {
	ps, err := payload.NewStore(payloadPath)
	if err != nil {
		return nil, vcerrors.Wrap(vcerrors.ServiceError, err)
	}

	vectorsPath := filepath.Join(snapshotDir, vectorsFile)
	data, err := os.ReadFile(vectorsPath)
	if os.IsNotExist(err) {
		return New(cfg, payloadPath)
	}
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("segment: read snapshot vectors: %w", err)
	}

	vs, err := vecstore.Load(bytes.NewReader(data))
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("segment: load snapshot vectors: %w", err)
	}

	scorer := &pairScorer{vectors: vs, metric: cfg.Metric}
	graphData, err := os.ReadFile(filepath.Join(snapshotDir, graphFile))
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("segment: read snapshot graph: %w", err)
	}
	graph, err := hnsw.LoadGraphLayers(bytes.NewReader(graphData), scorer, hnsw.NewSeededRNG(cfg.Seed))
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("segment: load snapshot graph: %w", err)
	}

	metaData, err := os.ReadFile(filepath.Join(snapshotDir, metaFile))
	if err != nil {
		ps.Close()
		return nil, fmt.Errorf("segment: read snapshot meta: %w", err)
	}
	var meta snapshotMeta
	if err := json.Unmarshal(metaData, &meta); err != nil {
		ps.Close()
		return nil, fmt.Errorf("segment: parse snapshot meta: %w", err)
	}

	return &Segment{cfg: cfg, vectors: vs, payload: ps, graph: graph, nextOffset: meta.NextOffset}, nil
}

// Snapshot writes the vector store and HNSW graph to dir, from which
// OpenWithSnapshot can later reconstruct this segment without a full WAL
// replay. The payload store is already durable on every write and is not
// part of the snapshot.
func (s *Segment) Snapshot(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("segment: mkdir snapshot dir: %w", err)
	}

	vf, err := os.Create(filepath.Join(dir, vectorsFile))
	if err != nil {
		return fmt.Errorf("segment: create vectors snapshot: %w", err)
	}
	defer vf.Close()
	if err := s.vectors.Save(vf); err != nil {
		return fmt.Errorf("segment: save vectors snapshot: %w", err)
	}

	gf, err := os.Create(filepath.Join(dir, graphFile))
	if err != nil {
		return fmt.Errorf("segment: create graph snapshot: %w", err)
	}
	defer gf.Close()
	if err := s.graph.Save(gf); err != nil {
		return fmt.Errorf("segment: save graph snapshot: %w", err)
	}

	metaData, err := json.Marshal(snapshotMeta{NextOffset: s.nextOffset})
	if err != nil {
		return fmt.Errorf("segment: marshal snapshot meta: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, metaFile), metaData, 0o644); err != nil {
		return fmt.Errorf("segment: write snapshot meta: %w", err)
	}
	return nil
}

// Dim returns the fixed vector dimension this segment was created with.
func (s *Segment) Dim() int { return s.cfg.Dim }

// Close releases the segment's payload store resources (sqlite handle,
// optional text index).
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payload.Close()
}

// pairScorer answers arbitrary-offset-pair similarity queries for the graph,
// backed directly by the vector store.
type pairScorer struct {
	vectors *vecstore.Store
	metric  distance.Metric
}

func (p *pairScorer) ScorePair(a, b uint32) float32 {
	va, _ := p.vectors.Get(a)
	vb, _ := p.vectors.Get(b)
	return distance.Similarity(p.metric, va, vb)
}

// rawScorer binds one preprocessed query vector against the vector store,
// skipping deleted offsets.
type rawScorer struct {
	vectors *vecstore.Store
	metric  distance.Metric
	query   []float32
}

func (r *rawScorer) Score(offset uint32) (float32, bool) {
	if r.vectors.IsDeleted(offset) {
		return 0, false
	}
	v, err := r.vectors.Get(offset)
	if err != nil {
		return 0, false
	}
	return distance.Similarity(r.metric, r.query, v), true
}

func (r *rawScorer) ScorePoints(offsets []uint32, budget int, out []hnsw.ScoredPoint) []hnsw.ScoredPoint {
	for _, o := range offsets {
		if len(out) >= budget {
			break
		}
		if score, ok := r.Score(o); ok {
			out = append(out, hnsw.ScoredPoint{Offset: o, Score: score})
		}
	}
	return out
}

// filterChecker adapts a payload.Filter into an hnsw.Checker.
type filterChecker struct {
	filter *payload.Filter
	lookup payload.Lookup
}

func (c *filterChecker) Check(offset uint32) bool {
	return payload.Check(c.filter, offset, c.lookup)
}

// Upsert inserts a new point or overwrites an existing one's vector and
// payload in place. Overwriting an existing point reuses its offset and
// leaves its graph edges untouched; an offset is linked into the graph only
// when it is new or not yet linked into this graph instance (WAL replay after
// a reopen).
func (s *Segment) Upsert(id pointid.ID, vector []float32, p payload.Payload) error {
	if len(vector) != s.cfg.Dim {
		return vcerrors.Newf(vcerrors.BadInput, "vector has dimension %d, want %d", len(vector), s.cfg.Dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	preprocessed := distance.Preprocess(s.cfg.Metric, vector)

	if offset, ok := s.payload.OffsetForID(id); ok {
		if err := s.vectors.Put(offset, preprocessed); err != nil {
			return vcerrors.Wrap(vcerrors.ServiceError, err)
		}
		if err := s.payload.Set(offset, id, p); err != nil {
			return vcerrors.Wrap(vcerrors.ServiceError, err)
		}
		// The payload store's id->offset map outlives the vector store and
		// graph, which are rebuilt from a snapshot (or from nothing) on
		// reopen. A WAL entry replayed against that fresh graph looks like
		// an overwrite of an existing id even though offset was never
		// linked into this graph instance, so link it now instead of
		// silently leaving the point unsearchable.
		if _, linked := s.graph.Level(offset); !linked {
			if offset >= s.nextOffset {
				s.nextOffset = offset + 1
			}
			level := s.graph.RandomLevel()
			insertScorer := &rawScorer{vectors: s.vectors, metric: s.cfg.Metric, query: preprocessed}
			if err := s.graph.LinkNewPoint(offset, level, insertScorer); err != nil {
				return vcerrors.Wrap(vcerrors.ServiceError, err)
			}
		}
		return nil
	}

	offset := s.nextOffset
	s.nextOffset++
	if err := s.vectors.Put(offset, preprocessed); err != nil {
		return vcerrors.Wrap(vcerrors.ServiceError, err)
	}
	if err := s.payload.Set(offset, id, p); err != nil {
		return vcerrors.Wrap(vcerrors.ServiceError, err)
	}

	level := s.graph.RandomLevel()
	insertScorer := &rawScorer{vectors: s.vectors, metric: s.cfg.Metric, query: preprocessed}
	if err := s.graph.LinkNewPoint(offset, level, insertScorer); err != nil {
		return vcerrors.Wrap(vcerrors.ServiceError, err)
	}
	return nil
}

// Delete tombstones id's vector and removes its payload row. Its graph edges
// are left dangling; scorers skip deleted offsets, and a future compaction
// pass would be responsible for reclaiming them.
func (s *Segment) Delete(id pointid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset, ok := s.payload.OffsetForID(id)
	if !ok {
		return vcerrors.Newf(vcerrors.NotFound, "point %s not found", id)
	}
	s.vectors.Delete(offset)
	if err := s.payload.Delete(offset); err != nil {
		return vcerrors.Wrap(vcerrors.ServiceError, err)
	}
	return nil
}

// DeleteByFilter deletes every non-deleted point whose payload satisfies
// filter. A nil filter matches everything.
func (s *Segment) DeleteByFilter(filter *payload.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var deleted int
	var toDelete []uint32
	s.vectors.Iterate(func(offset uint32) {
		if filter == nil || payload.Check(filter, offset, s.payload) {
			toDelete = append(toDelete, offset)
		}
	})
	for _, offset := range toDelete {
		s.vectors.Delete(offset)
		if err := s.payload.Delete(offset); err != nil {
			return deleted, vcerrors.Wrap(vcerrors.ServiceError, err)
		}
		deleted++
	}
	return deleted, nil
}

// SetPayload merges updates into id's existing payload, creating the row if
// absent content-wise is not possible (id must already exist via Upsert).
func (s *Segment) SetPayload(id pointid.ID, updates payload.Payload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.payload.OffsetForID(id)
	if !ok {
		return vcerrors.Newf(vcerrors.NotFound, "point %s not found", id)
	}
	if err := s.payload.MergePayload(offset, updates); err != nil {
		return vcerrors.Wrap(vcerrors.ServiceError, err)
	}
	return nil
}

// DeletePayloadKeys removes the given keys from id's payload.
func (s *Segment) DeletePayloadKeys(id pointid.ID, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.payload.OffsetForID(id)
	if !ok {
		return vcerrors.Newf(vcerrors.NotFound, "point %s not found", id)
	}
	if err := s.payload.DeleteKeys(offset, keys); err != nil {
		return vcerrors.Wrap(vcerrors.ServiceError, err)
	}
	return nil
}

// ClearPayload removes every payload key from id, leaving an empty object.
func (s *Segment) ClearPayload(id pointid.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	offset, ok := s.payload.OffsetForID(id)
	if !ok {
		return vcerrors.Newf(vcerrors.NotFound, "point %s not found", id)
	}
	if err := s.payload.ClearPayload(offset); err != nil {
		return vcerrors.Wrap(vcerrors.ServiceError, err)
	}
	return nil
}

// ScoredID pairs a resolved PointId with a similarity score, the result
// shape Search returns once offsets are translated back to ids.
type ScoredID struct {
	ID    pointid.ID
	Score float32
}

// Search runs an HNSW search over query, optionally restricted by filter.
// ef <= 0 means "use the segment's configured default".
func (s *Segment) Search(query []float32, filter *payload.Filter, top, ef int) ([]ScoredID, error) {
	if len(query) != s.cfg.Dim {
		return nil, vcerrors.Newf(vcerrors.BadInput, "query has dimension %d, want %d", len(query), s.cfg.Dim)
	}
	if ef <= 0 {
		ef = s.cfg.HNSW.EfSearch
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	preprocessed := distance.Preprocess(s.cfg.Metric, query)
	raw := &rawScorer{vectors: s.vectors, metric: s.cfg.Metric, query: preprocessed}
	checker := &filterChecker{filter: filter, lookup: s.payload}
	scorer := hnsw.NewFilteredScorer(raw, checker)

	found := s.graph.Search(top, ef, scorer)
	out := make([]ScoredID, 0, len(found))
	for _, sp := range found {
		id, ok := s.payload.IDForOffset(sp.Offset)
		if !ok {
			continue
		}
		out = append(out, ScoredID{ID: id, Score: sp.Score})
	}
	return out, nil
}

// RetrievedPoint is one result of Retrieve.
type RetrievedPoint struct {
	ID      pointid.ID
	Payload payload.Payload
	Vector  []float32
}

// Retrieve fetches points by id. Ids missing from this segment (including
// deleted ones) are silently omitted; the collection layer decides whether
// an id missing from every shard is an error.
func (s *Segment) Retrieve(ids []pointid.ID, withPayload, withVector bool) ([]RetrievedPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]RetrievedPoint, 0, len(ids))
	for _, id := range ids {
		offset, ok := s.payload.OffsetForID(id)
		if !ok || s.vectors.IsDeleted(offset) {
			continue
		}
		rp := RetrievedPoint{ID: id}
		if withPayload {
			p, _, _ := s.payload.Get(offset)
			rp.Payload = p
		}
		if withVector {
			v, err := s.vectors.Get(offset)
			if err == nil {
				cp := make([]float32, len(v))
				copy(cp, v)
				rp.Vector = cp
			}
		}
		out = append(out, rp)
	}
	return out, nil
}

// Scroll returns up to limit non-deleted points satisfying filter, in
// ascending PointId order starting after the given id (nil means from the
// beginning). nextPageOffset is the id of the first surviving point beyond
// the returned page, or nil if exhausted.
func (s *Segment) Scroll(after *pointid.ID, limit int, filter *payload.Filter) ([]pointid.ID, *pointid.ID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var afterKey *string
	if after != nil {
		k := after.SortKey()
		afterKey = &k
	}

	batchSize := limit * 4
	if batchSize < 32 {
		batchSize = 32
	}

	var result []pointid.ID
	for {
		rows, err := s.payload.Scroll(afterKey, batchSize)
		if err != nil {
			return nil, nil, vcerrors.Wrap(vcerrors.ServiceError, err)
		}
		if len(rows) == 0 {
			return result, nil, nil
		}
		for _, row := range rows {
			if s.vectors.IsDeleted(row.Offset) {
				continue
			}
			if filter != nil && !payload.Check(filter, row.Offset, s.payload) {
				continue
			}
			if len(result) < limit {
				result = append(result, row.ID)
				continue
			}
			next := row.ID
			return result, &next, nil
		}
		last := rows[len(rows)-1].ID.SortKey()
		afterKey = &last
		if len(rows) < batchSize {
			return result, nil, nil
		}
	}
}
