package shard

import (
	"testing"
	"time"

	"github.com/diffsec/vectorcore/internal/distance"
	"github.com/diffsec/vectorcore/internal/hnsw"
	"github.com/diffsec/vectorcore/internal/ops"
	"github.com/diffsec/vectorcore/internal/pointid"
	"github.com/diffsec/vectorcore/internal/segment"
)

func testConfig() segment.Config {
	return segment.Config{
		Dim:    4,
		Metric: distance.Dot,
		HNSW:   hnsw.Params{M: 8, EfConstruct: 32, EfSearch: 32, UseHeuristic: true},
		Seed:   3,
	}
}

func setupShard(t *testing.T) (*Shard, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return s, dir
}

func TestUpdatePointsWaitTrueCompletesSynchronously(t *testing.T) {
	s, _ := setupShard(t)
	defer s.Close()

	op := ops.NewUpsertPoints([]ops.PointStruct{
		{ID: pointid.FromUint64(1), Vector: []float32{1, 0, 0, 0}},
	})
	res, err := s.UpdatePoints(op, true)
	if err != nil {
		t.Fatalf("UpdatePoints: %v", err)
	}
	if res.Status != ops.Completed {
		t.Fatalf("status = %v, want Completed", res.Status)
	}

	got, err := s.Retrieve([]pointid.ID{pointid.FromUint64(1)}, false, true)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected point to be visible immediately after a waited write, got %d", len(got))
	}
}

func TestUpdatePointsWaitFalseEventuallyApplies(t *testing.T) {
	s, _ := setupShard(t)
	defer s.Close()

	op := ops.NewUpsertPoints([]ops.PointStruct{
		{ID: pointid.FromUint64(2), Vector: []float32{0, 1, 0, 0}},
	})
	res, err := s.UpdatePoints(op, false)
	if err != nil {
		t.Fatalf("UpdatePoints: %v", err)
	}
	if res.Status != ops.Acknowledged {
		t.Fatalf("status = %v, want Acknowledged", res.Status)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := s.Retrieve([]pointid.ID{pointid.FromUint64(2)}, false, false)
		if err != nil {
			t.Fatalf("Retrieve: %v", err)
		}
		if len(got) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("write never became visible")
}

func TestShardSurvivesReopenViaWALReplay(t *testing.T) {
	s, dir := setupShard(t)

	op := ops.NewUpsertPoints([]ops.PointStruct{
		{ID: pointid.FromUint64(5), Vector: []float32{1, 1, 0, 0}},
	})
	if _, err := s.UpdatePoints(op, true); err != nil {
		t.Fatalf("UpdatePoints: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, testConfig())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.Retrieve([]pointid.ID{pointid.FromUint64(5)}, false, true)
	if err != nil {
		t.Fatalf("Retrieve after reopen: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected point to survive reopen, got %d results", len(got))
	}
}

func TestUpsertThenScrollReturnsAllPoints(t *testing.T) {
	s, _ := setupShard(t)
	defer s.Close()

	for i := 0; i < 5; i++ {
		op := ops.NewUpsertPoints([]ops.PointStruct{
			{ID: pointid.FromUint64(uint64(i)), Vector: []float32{float32(i), 0, 0, 0}},
		})
		if _, err := s.UpdatePoints(op, true); err != nil {
			t.Fatalf("UpdatePoints(%d): %v", i, err)
		}
	}

	points, _, err := s.Scroll(nil, 10, nil)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(points) != 5 {
		t.Fatalf("expected 5 points, got %d", len(points))
	}
}
