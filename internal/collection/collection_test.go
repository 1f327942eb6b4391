package collection

import (
	"path/filepath"
	"testing"

	"github.com/diffsec/vectorcore/internal/collectionconfig"
	"github.com/diffsec/vectorcore/internal/ops"
	"github.com/diffsec/vectorcore/internal/payload"
	"github.com/diffsec/vectorcore/internal/pointid"
	"github.com/diffsec/vectorcore/internal/vcerrors"
)

var shardCounts = []int{1, 4}

func setupCollection(t *testing.T, shards int, dim int, metric string) *Collection {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "coll")
	cfg := collectionconfig.Config{
		Dim:        dim,
		Distance:   metric,
		ShardCount: shards,
		HNSW: collectionconfig.HNSWConfig{
			M: 8, EfConstruct: 64, EfSearch: 64, UseHeuristic: true,
		},
		RandomSeed: 11,
	}
	c, err := Create(dir, cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return c
}

func upsertOne(t *testing.T, c *Collection, id uint64, vec []float32, p payload.Payload) {
	t.Helper()
	op := ops.NewUpsertPoints([]ops.PointStruct{{ID: pointid.FromUint64(id), Vector: vec, Payload: p}})
	if _, err := c.UpdatePoints(op, true); err != nil {
		t.Fatalf("upsert %d: %v", id, err)
	}
}

// Scenario 1 — basic search.
func TestScenarioBasicSearch(t *testing.T) {
	for _, shards := range shardCounts {
		t.Run(shardLabel(shards), func(t *testing.T) {
			c := setupCollection(t, shards, 4, "Dot")
			defer c.Close()

			vecs := [][]float32{
				{1, 0, 1, 1},
				{1, 0, 1, 0},
				{1, 1, 1, 1},
				{1, 1, 0, 1},
				{1, 0, 0, 0},
			}
			for i, v := range vecs {
				upsertOne(t, c, uint64(i), v, nil)
			}

			got, err := c.Search([]float32{1, 1, 1, 1}, nil, 3, 0)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(got) == 0 || got[0].ID != pointid.FromUint64(2) {
				t.Fatalf("first result = %+v, want id 2", got)
			}
		})
	}
}

// Scenario 2 — search with payload/vector.
func TestScenarioSearchWithPayloadAndVector(t *testing.T) {
	for _, shards := range shardCounts {
		t.Run(shardLabel(shards), func(t *testing.T) {
			c := setupCollection(t, shards, 4, "Dot")
			defer c.Close()

			upsertOne(t, c, 0, []float32{1, 0, 1, 1}, payload.Payload{"k": "v1"})
			upsertOne(t, c, 1, []float32{1, 0, 1, 0}, payload.Payload{"k": "v2", "v": "v3"})

			scored, err := c.Search([]float32{1, 0, 1, 1}, nil, 3, 0)
			if err != nil {
				t.Fatalf("Search: %v", err)
			}
			if len(scored) != 2 {
				t.Fatalf("result length = %d, want 2", len(scored))
			}
			if scored[0].ID != pointid.FromUint64(0) {
				t.Fatalf("first id = %v, want 0", scored[0].ID)
			}

			retrieved, err := c.Retrieve([]pointid.ID{scored[0].ID}, true, true)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			if len(retrieved) != 1 {
				t.Fatalf("retrieved length = %d, want 1", len(retrieved))
			}
			if len(retrieved[0].Payload) != 1 {
				t.Fatalf("payload length = %d, want 1", len(retrieved[0].Payload))
			}
			want := []float32{1, 0, 1, 1}
			if len(retrieved[0].Vector) != len(want) {
				t.Fatalf("vector = %v, want %v", retrieved[0].Vector, want)
			}
			for i := range want {
				if retrieved[0].Vector[i] != want[i] {
					t.Fatalf("vector = %v, want %v", retrieved[0].Vector, want)
				}
			}
		})
	}
}

// Scenario 3 — load after restart.
func TestScenarioLoadAfterRestart(t *testing.T) {
	for _, shards := range shardCounts {
		t.Run(shardLabel(shards), func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "coll")
			cfg := collectionconfig.Config{
				Dim: 4, Distance: "Dot", ShardCount: shards,
				HNSW:       collectionconfig.HNSWConfig{M: 8, EfConstruct: 64, EfSearch: 64, UseHeuristic: true},
				RandomSeed: 11,
			}
			c, err := Create(dir, cfg)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}

			vecs := [][]float32{
				{1, 0, 1, 1}, {1, 0, 1, 0}, {1, 1, 1, 1}, {1, 1, 0, 1}, {1, 0, 0, 0},
			}
			for i, v := range vecs {
				upsertOne(t, c, uint64(i), v, nil)
			}

			setOp := ops.NewSetPayload(payload.Payload{"color": "red"},
				[]pointid.ID{pointid.FromUint64(2), pointid.FromUint64(3)})
			if _, err := c.UpdatePayload(setOp, true); err != nil {
				t.Fatalf("UpdatePayload: %v", err)
			}

			if err := c.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			reopened, err := Open(dir)
			if err != nil {
				t.Fatalf("reopen: %v", err)
			}
			defer reopened.Close()

			got, err := reopened.Retrieve([]pointid.ID{pointid.FromUint64(1), pointid.FromUint64(2)}, true, false)
			if err != nil {
				t.Fatalf("Retrieve: %v", err)
			}
			byID := make(map[pointid.ID]payload.Payload)
			for _, p := range got {
				byID[p.ID] = p.Payload
			}
			if len(byID[pointid.FromUint64(2)]) != 1 {
				t.Fatalf("id 2 payload length = %d, want 1", len(byID[pointid.FromUint64(2)]))
			}
			if len(byID[pointid.FromUint64(1)]) != 0 {
				t.Fatalf("id 1 payload length = %d, want 0", len(byID[pointid.FromUint64(1)]))
			}

			// A plain reopen (no Snapshot call before Close) rebuilds the
			// graph purely from WAL replay against a payload store that
			// already has every id; Search must still find them.
			hits, err := reopened.Search([]float32{1, 0, 1, 1}, nil, 5, 0)
			if err != nil {
				t.Fatalf("Search after reopen: %v", err)
			}
			if len(hits) != len(vecs) {
				t.Fatalf("Search after reopen returned %d hits, want %d", len(hits), len(vecs))
			}
			if hits[0].ID != pointid.FromUint64(0) {
				t.Fatalf("Search after reopen: closest id = %v, want 0", hits[0].ID)
			}
		})
	}
}

// Scenario 4 — recommend.
func TestScenarioRecommend(t *testing.T) {
	for _, shards := range shardCounts {
		t.Run(shardLabel(shards), func(t *testing.T) {
			c := setupCollection(t, shards, 4, "Dot")
			defer c.Close()

			vecs := [][]float32{
				{1, 0, 0, 0},       // 0: positive example
				{0, 1, 0, 0},       // 1
				{0, 0, 1, 0},       // 2
				{0, 0, 0, 1},       // 3
				{0.6, 0.4, 0, 0},   // 4
				{0.9, 0.1, 0, 0},   // 5
				{0.85, 0.15, 0, 0}, // 6
				{0, 0, 0.9, 0.1},   // 7
				{-1, 0, 0, 0},      // 8: negative example
			}
			for i, v := range vecs {
				upsertOne(t, c, uint64(i), v, nil)
			}

			got, err := c.Recommend(
				[]pointid.ID{pointid.FromUint64(0)},
				[]pointid.ID{pointid.FromUint64(8)},
				nil, 5, 0,
			)
			if err != nil {
				t.Fatalf("Recommend: %v", err)
			}
			if len(got) == 0 {
				t.Fatalf("no recommend results")
			}
			first := got[0].ID
			if first != pointid.FromUint64(5) && first != pointid.FromUint64(6) {
				t.Fatalf("first recommend result = %v, want 5 or 6", first)
			}
			for _, sp := range got {
				if sp.ID == pointid.FromUint64(0) || sp.ID == pointid.FromUint64(8) {
					t.Fatalf("recommend result contains excluded id %v", sp.ID)
				}
			}
		})
	}
}

// Scenario 5 — scroll paging.
func TestScenarioScrollPaging(t *testing.T) {
	for _, shards := range shardCounts {
		t.Run(shardLabel(shards), func(t *testing.T) {
			c := setupCollection(t, shards, 4, "Dot")
			defer c.Close()

			for i := 0; i < 9; i++ {
				upsertOne(t, c, uint64(i), []float32{float32(i), 0, 0, 0}, nil)
			}

			page, next, err := c.Scroll(nil, 2, nil)
			if err != nil {
				t.Fatalf("Scroll: %v", err)
			}
			if len(page) != 2 {
				t.Fatalf("page length = %d, want 2", len(page))
			}
			if page[0] != pointid.FromUint64(0) || page[1] != pointid.FromUint64(1) {
				t.Fatalf("page = %v, want [0 1]", page)
			}
			if next == nil || *next != pointid.FromUint64(2) {
				t.Fatalf("next = %v, want 2", next)
			}
		})
	}
}

// Scenario 6 — delete by filter.
func TestScenarioDeleteByFilter(t *testing.T) {
	for _, shards := range shardCounts {
		t.Run(shardLabel(shards), func(t *testing.T) {
			c := setupCollection(t, shards, 4, "Dot")
			defer c.Close()

			vecs := [][]float32{
				{1, 0, 1, 1}, {1, 0, 1, 0}, {1, 1, 1, 1}, {1, 1, 0, 1}, {1, 0, 0, 0},
			}
			for i, v := range vecs {
				upsertOne(t, c, uint64(i), v, nil)
			}

			filter := &payload.Filter{
				Must: []payload.Condition{
					{HasID: &payload.HasID{IDs: []pointid.ID{pointid.FromUint64(0), pointid.FromUint64(3)}}},
				},
			}
			if _, err := c.UpdatePoints(ops.NewDeletePointsByFilter(filter), true); err != nil {
				t.Fatalf("DeletePointsByFilter: %v", err)
			}

			page, next, err := c.Scroll(nil, 10, nil)
			if err != nil {
				t.Fatalf("Scroll: %v", err)
			}
			if next != nil {
				t.Fatalf("next = %v, want nil", next)
			}
			want := []pointid.ID{pointid.FromUint64(1), pointid.FromUint64(2), pointid.FromUint64(4)}
			if len(page) != len(want) {
				t.Fatalf("page = %v, want %v", page, want)
			}
			for i := range want {
				if page[i] != want[i] {
					t.Fatalf("page = %v, want %v", page, want)
				}
			}
		})
	}
}

// Property 5 — snapshot/load is observationally transparent.
func TestSnapshotThenLoadPreservesReadAPI(t *testing.T) {
	for _, shards := range shardCounts {
		t.Run(shardLabel(shards), func(t *testing.T) {
			dir := filepath.Join(t.TempDir(), "coll")
			cfg := collectionconfig.Config{
				Dim: 4, Distance: "Euclid", ShardCount: shards,
				HNSW:       collectionconfig.HNSWConfig{M: 8, EfConstruct: 64, EfSearch: 64, UseHeuristic: true},
				RandomSeed: 5,
			}
			c, err := Create(dir, cfg)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			for i := 0; i < 6; i++ {
				upsertOne(t, c, uint64(i), []float32{float32(i), float32(i) % 3, 1, 0}, payload.Payload{"i": float64(i)})
			}

			before, err := c.Search([]float32{2, 2, 1, 0}, nil, 4, 0)
			if err != nil {
				t.Fatalf("Search before snapshot: %v", err)
			}

			if err := c.Snapshot(); err != nil {
				t.Fatalf("Snapshot: %v", err)
			}
			if err := c.Close(); err != nil {
				t.Fatalf("Close: %v", err)
			}

			reopened, err := Open(dir)
			if err != nil {
				t.Fatalf("Open after snapshot: %v", err)
			}
			defer reopened.Close()

			after, err := reopened.Search([]float32{2, 2, 1, 0}, nil, 4, 0)
			if err != nil {
				t.Fatalf("Search after load: %v", err)
			}
			if len(before) != len(after) {
				t.Fatalf("result length changed: before %d, after %d", len(before), len(after))
			}
			for i := range before {
				if before[i].ID != after[i].ID {
					t.Fatalf("result %d id changed: before %v, after %v", i, before[i].ID, after[i].ID)
				}
			}
		})
	}
}

// A single unreachable shard must not fail a fan-out read that the other
// shards can still answer.
func TestScenarioSearchToleratesOneShardDown(t *testing.T) {
	c := setupCollection(t, 4, 4, "Dot")
	defer c.Close()

	vecs := [][]float32{
		{1, 0, 1, 1}, {1, 0, 1, 0}, {1, 1, 1, 1}, {1, 1, 0, 1}, {1, 0, 0, 0},
	}
	for i, v := range vecs {
		upsertOne(t, c, uint64(i), v, nil)
	}

	downed := c.shards[0]
	if err := downed.Close(); err != nil {
		t.Fatalf("Close shard 0: %v", err)
	}

	if _, err := c.Search([]float32{1, 1, 1, 1}, nil, 3, 0); err != nil {
		t.Fatalf("Search with one shard down should still succeed, got: %v", err)
	}
	if _, err := c.Retrieve([]pointid.ID{pointid.FromUint64(1)}, false, false); err != nil {
		t.Fatalf("Retrieve with one shard down should still succeed, got: %v", err)
	}
	if _, _, err := c.Scroll(nil, 10, nil); err != nil {
		t.Fatalf("Scroll with one shard down should still succeed, got: %v", err)
	}
}

func TestAggregateReadErrorsSucceedsIfAnyShardDid(t *testing.T) {
	err := aggregateReadErrors([]error{
		vcerrors.New(vcerrors.ShardUnavailable, "shard 0 down"),
		nil,
		vcerrors.New(vcerrors.Timeout, "shard 2 slow"),
	})
	if err != nil {
		t.Fatalf("aggregateReadErrors = %v, want nil (one shard succeeded)", err)
	}
}

func TestAggregateReadErrorsBadInputAlwaysFails(t *testing.T) {
	err := aggregateReadErrors([]error{
		nil,
		vcerrors.New(vcerrors.BadInput, "malformed filter"),
		nil,
	})
	if vcerrors.KindOf(err) != vcerrors.BadInput {
		t.Fatalf("aggregateReadErrors = %v, want BadInput even though other shards succeeded", err)
	}
}

func TestAggregateReadErrorsPrefersNonRetryableWhenAllFail(t *testing.T) {
	notFound := vcerrors.New(vcerrors.NotFound, "missing")
	err := aggregateReadErrors([]error{
		vcerrors.New(vcerrors.ShardUnavailable, "shard 0 down"),
		notFound,
		vcerrors.New(vcerrors.Timeout, "shard 2 slow"),
	})
	if vcerrors.KindOf(err) != vcerrors.NotFound {
		t.Fatalf("aggregateReadErrors = %v, want the non-retryable NotFound error", err)
	}
}

func TestAggregateReadErrorsAllRetryableFallsBackToFirst(t *testing.T) {
	first := vcerrors.New(vcerrors.ShardUnavailable, "shard 0 down")
	err := aggregateReadErrors([]error{
		first,
		vcerrors.New(vcerrors.Timeout, "shard 1 slow"),
	})
	if err != first {
		t.Fatalf("aggregateReadErrors = %v, want the first error when every shard is retryable-only", err)
	}
}

func shardLabel(shards int) string {
	if shards == 1 {
		return "shards=1"
	}
	return "shards=N"
}
