package segment

import (
	"path/filepath"
	"testing"

	"github.com/diffsec/vectorcore/internal/distance"
	"github.com/diffsec/vectorcore/internal/hnsw"
	"github.com/diffsec/vectorcore/internal/payload"
	"github.com/diffsec/vectorcore/internal/pointid"
)

func setupSegment(t *testing.T) (*Segment, func()) {
	t.Helper()
	dir := t.TempDir()
	cfg := Config{
		Dim:    4,
		Metric: distance.Dot,
		HNSW:   hnsw.Params{M: 8, EfConstruct: 32, EfSearch: 32, UseHeuristic: true},
		Seed:   7,
	}
	seg, err := New(cfg, filepath.Join(dir, "payload.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return seg, func() { seg.Close() }
}

func TestBasicSearch(t *testing.T) {
	seg, teardown := setupSegment(t)
	defer teardown()

	vectors := [][]float32{
		{1, 0, 1, 1},
		{1, 0, 1, 0},
		{1, 1, 1, 1},
		{1, 1, 0, 1},
		{1, 0, 0, 0},
	}
	for i, v := range vectors {
		id := pointid.FromUint64(uint64(i))
		if err := seg.Upsert(id, v, nil); err != nil {
			t.Fatalf("Upsert(%d): %v", i, err)
		}
	}

	got, err := seg.Search([]float32{1, 1, 1, 1}, nil, 3, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) == 0 || got[0].ID != pointid.FromUint64(2) {
		t.Fatalf("expected id 2 first, got %+v", got)
	}
}

func TestUpsertOverwriteReusesOffset(t *testing.T) {
	seg, teardown := setupSegment(t)
	defer teardown()

	id := pointid.FromUint64(1)
	if err := seg.Upsert(id, []float32{1, 0, 0, 0}, payload.Payload{"a": 1.0}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	before, ok := seg.payload.OffsetForID(id)
	if !ok {
		t.Fatalf("no offset for id %v after first upsert", id)
	}
	if err := seg.Upsert(id, []float32{0, 1, 0, 0}, payload.Payload{"a": 2.0}); err != nil {
		t.Fatalf("Upsert overwrite: %v", err)
	}
	after, ok := seg.payload.OffsetForID(id)
	if !ok || after != before {
		t.Fatalf("overwrite moved the point from offset %d to %d (found=%v)", before, after, ok)
	}

	got, err := seg.Retrieve([]pointid.ID{id}, true, true)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 point, got %d", len(got))
	}
	if got[0].Payload["a"] != 2.0 {
		t.Fatalf("payload not overwritten: %+v", got[0].Payload)
	}
	if got[0].Vector[1] != 1 {
		t.Fatalf("vector not overwritten: %+v", got[0].Vector)
	}
}

func TestDeleteThenSearchOmitsPoint(t *testing.T) {
	seg, teardown := setupSegment(t)
	defer teardown()

	for i := 0; i < 5; i++ {
		id := pointid.FromUint64(uint64(i))
		if err := seg.Upsert(id, []float32{float32(i), 0, 0, 0}, nil); err != nil {
			t.Fatalf("Upsert(%d): %v", i, err)
		}
	}
	if err := seg.Delete(pointid.FromUint64(2)); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	found, err := seg.Search([]float32{2, 0, 0, 0}, nil, 5, 0)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	for _, f := range found {
		if f.ID == pointid.FromUint64(2) {
			t.Fatalf("deleted point returned by search: %+v", found)
		}
	}
}

func TestScrollPaging(t *testing.T) {
	seg, teardown := setupSegment(t)
	defer teardown()

	for i := 0; i < 9; i++ {
		id := pointid.FromUint64(uint64(i))
		if err := seg.Upsert(id, []float32{float32(i), 0, 0, 0}, nil); err != nil {
			t.Fatalf("Upsert(%d): %v", i, err)
		}
	}

	page, next, err := seg.Scroll(nil, 2, nil)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if len(page) != 2 || page[0] != pointid.FromUint64(0) || page[1] != pointid.FromUint64(1) {
		t.Fatalf("unexpected page: %+v", page)
	}
	if next == nil || *next != pointid.FromUint64(2) {
		t.Fatalf("expected next_page_offset = 2, got %v", next)
	}
}

func TestDeleteByFilterHasID(t *testing.T) {
	seg, teardown := setupSegment(t)
	defer teardown()

	for i := 0; i < 5; i++ {
		id := pointid.FromUint64(uint64(i))
		if err := seg.Upsert(id, []float32{float32(i), 0, 0, 0}, nil); err != nil {
			t.Fatalf("Upsert(%d): %v", i, err)
		}
	}

	filter := &payload.Filter{
		Must: []payload.Condition{
			{HasID: &payload.HasID{IDs: []pointid.ID{pointid.FromUint64(0), pointid.FromUint64(3)}}},
		},
	}
	n, err := seg.DeleteByFilter(filter)
	if err != nil {
		t.Fatalf("DeleteByFilter: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 deletions, got %d", n)
	}

	page, next, err := seg.Scroll(nil, 10, nil)
	if err != nil {
		t.Fatalf("Scroll: %v", err)
	}
	if next != nil {
		t.Fatalf("expected exhausted scroll, got next=%v", next)
	}
	want := []pointid.ID{pointid.FromUint64(1), pointid.FromUint64(2), pointid.FromUint64(4)}
	if len(page) != len(want) {
		t.Fatalf("scroll after delete = %+v, want %+v", page, want)
	}
	for i := range want {
		if page[i] != want[i] {
			t.Fatalf("scroll after delete = %+v, want %+v", page, want)
		}
	}
}
