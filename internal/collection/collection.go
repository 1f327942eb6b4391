// Package collection implements the sharded collection: stable-hash write
// routing across shards, scatter-gather reads, recommend-by-example, and
// whole-collection snapshot/load.
package collection

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/diffsec/vectorcore/internal/collectionconfig"
	"github.com/diffsec/vectorcore/internal/ops"
	"github.com/diffsec/vectorcore/internal/payload"
	"github.com/diffsec/vectorcore/internal/pointid"
	"github.com/diffsec/vectorcore/internal/segment"
	"github.com/diffsec/vectorcore/internal/shard"
	"github.com/diffsec/vectorcore/internal/vcerrors"
)

// Collection owns a fixed set of shards and routes every operation across
// them by a point id's stable hash.
type Collection struct {
	dir       string
	cfg       collectionconfig.Config
	shards    []*shard.Shard
	opCounter atomic.Uint64
}

func shardDir(dir string, i int) string {
	return filepath.Join(dir, "shards", strconv.Itoa(i))
}

// Create writes a new collection's config to dir and opens it.
func Create(dir string, cfg collectionconfig.Config) (*Collection, error) {
	if err := collectionconfig.Save(dir, cfg); err != nil {
		return nil, err
	}
	return Open(dir)
}

// Open loads a collection's config from dir and opens (or replays) each of
// its shards.
func Open(dir string) (*Collection, error) {
	cfg, err := collectionconfig.Load(dir)
	if err != nil {
		return nil, err
	}
	metric, err := cfg.Metric()
	if err != nil {
		return nil, err
	}

	shards := make([]*shard.Shard, cfg.ShardCount)
	for i := range shards {
		segCfg := segment.Config{
			Dim:    cfg.Dim,
			Metric: metric,
			HNSW:   cfg.HNSW.ToParams(),
			Seed:   cfg.RandomSeed + uint64(i),
		}
		sh, err := shard.Open(shardDir(dir, i), segCfg)
		if err != nil {
			for j := 0; j < i; j++ {
				shards[j].Close()
			}
			return nil, err
		}
		shards[i] = sh
	}

	return &Collection{dir: dir, cfg: cfg, shards: shards}, nil
}

// Close closes every shard, returning the first error encountered.
func (c *Collection) Close() error {
	var firstErr error
	for _, sh := range c.shards {
		if err := sh.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ShardCount reports how many shards this collection is split across.
func (c *Collection) ShardCount() int { return len(c.shards) }

// Dim returns the collection's fixed vector dimension.
func (c *Collection) Dim() int { return c.cfg.Dim }

func (c *Collection) shardIndex(id pointid.ID) int {
	return int(id.StableHash() % uint64(len(c.shards)))
}

func (c *Collection) nextOpID() uint64 { return c.opCounter.Add(1) }

// UpdatePoints routes a PointOperation to the shards it touches: upserts and
// id-deletes are partitioned by each id's shard, a filter-delete is fanned
// out unchanged to every shard. Per-shard writes run in parallel; a failure
// on one shard does not roll back writes already applied on others.
func (c *Collection) UpdatePoints(op ops.PointOperation, wait bool) (ops.Result, error) {
	opID := c.nextOpID()

	var res ops.Result
	var err error
	switch op.Kind {
	case ops.UpsertPointsKind:
		points, perr := op.Points()
		if perr != nil {
			return ops.Result{}, perr
		}
		byShard := make(map[int][]ops.PointStruct)
		for _, p := range points {
			si := c.shardIndex(p.ID)
			byShard[si] = append(byShard[si], p)
		}
		tasks := make(map[int]ops.PointOperation, len(byShard))
		for si, pts := range byShard {
			tasks[si] = ops.NewUpsertPoints(pts)
		}
		res, err = c.dispatchPoints(tasks, wait)

	case ops.DeletePointsKind:
		byShard := make(map[int][]pointid.ID)
		for _, id := range op.DeleteIDs {
			si := c.shardIndex(id)
			byShard[si] = append(byShard[si], id)
		}
		tasks := make(map[int]ops.PointOperation, len(byShard))
		for si, ids := range byShard {
			tasks[si] = ops.NewDeletePoints(ids)
		}
		res, err = c.dispatchPoints(tasks, wait)

	case ops.DeletePointsByFilterKind:
		tasks := make(map[int]ops.PointOperation, len(c.shards))
		for i := range c.shards {
			tasks[i] = ops.NewDeletePointsByFilter(op.DeleteFilter)
		}
		res, err = c.dispatchPoints(tasks, wait)

	default:
		return ops.Result{}, fmt.Errorf("collection: unknown point operation kind %d", op.Kind)
	}
	if err != nil {
		return ops.Result{}, err
	}
	res.OperationID = opID
	return res, nil
}

// UpdatePayload routes a PayloadOperation by partitioning its Points by
// shard, the same way UpdatePoints partitions id-deletes.
func (c *Collection) UpdatePayload(op ops.PayloadOperation, wait bool) (ops.Result, error) {
	opID := c.nextOpID()

	byShard := make(map[int][]pointid.ID)
	for _, id := range op.Points {
		si := c.shardIndex(id)
		byShard[si] = append(byShard[si], id)
	}
	tasks := make(map[int]ops.PayloadOperation, len(byShard))
	for si, ids := range byShard {
		sub := op
		sub.Points = ids
		tasks[si] = sub
	}

	res, err := c.dispatchPayload(tasks, wait)
	if err != nil {
		return ops.Result{}, err
	}
	res.OperationID = opID
	return res, nil
}

type writeOutcome struct {
	res ops.Result
	err error
}

func (c *Collection) dispatchPoints(tasks map[int]ops.PointOperation, wait bool) (ops.Result, error) {
	outcomes := make(chan writeOutcome, len(tasks))
	var wg sync.WaitGroup
	for idx, op := range tasks {
		wg.Add(1)
		go func(i int, o ops.PointOperation) {
			defer wg.Done()
			res, err := c.shards[i].UpdatePoints(o, wait)
			outcomes <- writeOutcome{res, err}
		}(idx, op)
	}
	wg.Wait()
	close(outcomes)
	return mergeWriteOutcomes(outcomes)
}

func (c *Collection) dispatchPayload(tasks map[int]ops.PayloadOperation, wait bool) (ops.Result, error) {
	outcomes := make(chan writeOutcome, len(tasks))
	var wg sync.WaitGroup
	for idx, op := range tasks {
		wg.Add(1)
		go func(i int, o ops.PayloadOperation) {
			defer wg.Done()
			res, err := c.shards[i].UpdatePayload(o, wait)
			outcomes <- writeOutcome{res, err}
		}(idx, op)
	}
	wg.Wait()
	close(outcomes)
	return mergeWriteOutcomes(outcomes)
}

// mergeWriteOutcomes rolls up each shard's individual result: the collection
// is only Completed if every touched shard completed synchronously, and the
// first shard error observed is returned (the operation does not roll back
// whatever other shards already applied).
func mergeWriteOutcomes(outcomes <-chan writeOutcome) (ops.Result, error) {
	status := ops.Completed
	var firstErr error
	for o := range outcomes {
		if o.err != nil {
			if firstErr == nil {
				firstErr = o.err
			}
			continue
		}
		if o.res.Status != ops.Completed {
			status = ops.Acknowledged
		}
	}
	if firstErr != nil {
		return ops.Result{}, firstErr
	}
	return ops.Result{Status: status}, nil
}

// aggregateReadErrors decides the outcome of a scatter-gather read from its
// per-shard errors (nil where a shard succeeded). A BadInput from any shard
// fails the read outright, since the request itself is malformed and
// retrying other shards cannot help. Otherwise the read succeeds as long as
// at least one shard did; only when every shard failed does it return an
// error, preferring the first non-retryable one as the most actionable.
func aggregateReadErrors(errs []error) error {
	var first error
	anyOK := false
	for _, err := range errs {
		if err == nil {
			anyOK = true
			continue
		}
		if vcerrors.KindOf(err) == vcerrors.BadInput {
			return err
		}
		if first == nil {
			first = err
		}
	}
	if anyOK {
		return nil
	}
	for _, err := range errs {
		if err != nil && !vcerrors.Retryable(err) {
			return err
		}
	}
	return first
}

// Search fans query out to every shard with the same top and merges the
// results by ascending (score, id), truncating to top.
func (c *Collection) Search(query []float32, filter *payload.Filter, top, ef int) ([]segment.ScoredID, error) {
	type outcome struct {
		res []segment.ScoredID
		err error
	}
	outcomes := make([]outcome, len(c.shards))
	var wg sync.WaitGroup
	for i, sh := range c.shards {
		wg.Add(1)
		go func(i int, sh *shard.Shard) {
			defer wg.Done()
			res, err := sh.Search(query, filter, top, ef)
			outcomes[i] = outcome{res, err}
		}(i, sh)
	}
	wg.Wait()

	errs := make([]error, len(outcomes))
	for i, o := range outcomes {
		errs[i] = o.err
	}
	if err := aggregateReadErrors(errs); err != nil {
		return nil, err
	}

	var merged []segment.ScoredID
	for _, o := range outcomes {
		if o.err == nil {
			merged = append(merged, o.res...)
		}
	}
	sort.Slice(merged, func(i, j int) bool {
		if merged[i].Score != merged[j].Score {
			return merged[i].Score < merged[j].Score
		}
		return merged[i].ID.Less(merged[j].ID)
	})
	if len(merged) > top {
		merged = merged[:top]
	}
	return merged, nil
}

// Recommend builds a query vector from mean(positive) + (mean(positive) -
// mean(negative)) and searches with that query, excluding the positive and
// negative ids from the results. An id referenced by positive or negative
// must resolve on at least one shard; it is not required to exist on every
// shard.
func (c *Collection) Recommend(positive, negative []pointid.ID, filter *payload.Filter, top, ef int) ([]segment.ScoredID, error) {
	if len(positive) == 0 {
		return nil, vcerrors.New(vcerrors.BadInput, "recommend requires at least one positive point")
	}

	posVecs, err := c.fetchVectors(positive)
	if err != nil {
		return nil, err
	}
	negVecs, err := c.fetchVectors(negative)
	if err != nil {
		return nil, err
	}

	dim := len(posVecs[0])
	posMean := meanVector(posVecs, dim)
	negMean := meanVector(negVecs, dim)
	query := make([]float32, dim)
	for i := range query {
		query[i] = posMean[i] + (posMean[i] - negMean[i])
	}

	exclude := payload.Condition{HasID: &payload.HasID{IDs: append(append([]pointid.ID{}, positive...), negative...)}}
	combined := &payload.Filter{MustNot: []payload.Condition{exclude}}
	if filter != nil {
		combined = &payload.Filter{Must: []payload.Condition{{Nested: filter}, {Nested: &payload.Filter{MustNot: []payload.Condition{exclude}}}}}
	}

	return c.Search(query, combined, top, ef)
}

func meanVector(vecs [][]float32, dim int) []float32 {
	out := make([]float32, dim)
	if len(vecs) == 0 {
		return out
	}
	for _, v := range vecs {
		for i := 0; i < dim; i++ {
			out[i] += v[i]
		}
	}
	n := float32(len(vecs))
	for i := range out {
		out[i] /= n
	}
	return out
}

// fetchVectors resolves each id's vector by querying every shard in
// parallel and tolerating per-shard NotFound: an id only fails if it is
// absent from every shard.
func (c *Collection) fetchVectors(ids []pointid.ID) ([][]float32, error) {
	out := make([][]float32, 0, len(ids))
	for _, id := range ids {
		v, err := c.fetchVector(id)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (c *Collection) fetchVector(id pointid.ID) ([]float32, error) {
	type outcome struct {
		v     []float32
		found bool
	}
	results := make([]outcome, len(c.shards))
	var wg sync.WaitGroup
	for i, sh := range c.shards {
		wg.Add(1)
		go func(i int, sh *shard.Shard) {
			defer wg.Done()
			pts, err := sh.Retrieve([]pointid.ID{id}, false, true)
			if err == nil && len(pts) == 1 {
				results[i] = outcome{v: pts[0].Vector, found: true}
			}
		}(i, sh)
	}
	wg.Wait()
	for _, r := range results {
		if r.found {
			return r.v, nil
		}
	}
	return nil, vcerrors.Newf(vcerrors.NotFound, "point %s not found on any shard", id)
}

// Retrieve fans out to every shard and merges by id, preserving the order
// ids were requested in. An id missing from every shard is silently omitted.
func (c *Collection) Retrieve(ids []pointid.ID, withPayload, withVector bool) ([]segment.RetrievedPoint, error) {
	type outcome struct {
		pts []segment.RetrievedPoint
		err error
	}
	outcomes := make([]outcome, len(c.shards))
	var wg sync.WaitGroup
	for i, sh := range c.shards {
		wg.Add(1)
		go func(i int, sh *shard.Shard) {
			defer wg.Done()
			pts, err := sh.Retrieve(ids, withPayload, withVector)
			outcomes[i] = outcome{pts, err}
		}(i, sh)
	}
	wg.Wait()

	errs := make([]error, len(outcomes))
	for i, o := range outcomes {
		errs[i] = o.err
	}
	if err := aggregateReadErrors(errs); err != nil {
		return nil, err
	}

	byID := make(map[string]segment.RetrievedPoint)
	for _, o := range outcomes {
		if o.err == nil {
			for _, p := range o.pts {
				byID[p.ID.String()] = p
			}
		}
	}
	out := make([]segment.RetrievedPoint, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id.String()]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

// Scroll fans out to every shard requesting limit+1 rows each (enough that
// the globally smallest limit+1 ids are guaranteed to appear among the
// union, by the usual k-way-merge argument), merges ascending by PointId,
// and truncates to limit. nextPageOffset is the (limit+1)-th id across the
// merged stream, or nil if there were limit or fewer in total.
func (c *Collection) Scroll(after *pointid.ID, limit int, filter *payload.Filter) ([]pointid.ID, *pointid.ID, error) {
	type outcome struct {
		ids []pointid.ID
		err error
	}
	outcomes := make([]outcome, len(c.shards))
	var wg sync.WaitGroup
	for i, sh := range c.shards {
		wg.Add(1)
		go func(i int, sh *shard.Shard) {
			defer wg.Done()
			ids, _, err := sh.Scroll(after, limit+1, filter)
			outcomes[i] = outcome{ids, err}
		}(i, sh)
	}
	wg.Wait()

	errs := make([]error, len(outcomes))
	for i, o := range outcomes {
		errs[i] = o.err
	}
	if err := aggregateReadErrors(errs); err != nil {
		return nil, nil, err
	}

	var merged []pointid.ID
	for _, o := range outcomes {
		if o.err == nil {
			merged = append(merged, o.ids...)
		}
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Less(merged[j]) })

	if len(merged) > limit {
		next := merged[limit]
		return merged[:limit], &next, nil
	}
	return merged, nil, nil
}

// Snapshot flushes every shard's segment to disk and compacts its WAL.
func (c *Collection) Snapshot() error {
	for i, sh := range c.shards {
		if err := sh.Snapshot(); err != nil {
			return fmt.Errorf("collection: snapshot shard %d: %w", i, err)
		}
	}
	return nil
}
