package vecstore

import (
	"bytes"
	"testing"
)

func TestPutGetDelete(t *testing.T) {
	s := New(3)
	if err := s.Put(0, []float32{1, 2, 3}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if err := s.Put(1, []float32{4, 5, 6}); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := s.Get(0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got[0] != 1 || got[1] != 2 || got[2] != 3 {
		t.Fatalf("get(0) = %v", got)
	}

	s.Delete(0)
	if !s.IsDeleted(0) {
		t.Fatalf("expected offset 0 deleted")
	}
	if s.IsDeleted(1) {
		t.Fatalf("offset 1 should not be deleted")
	}

	// Overwriting a deleted offset clears the tombstone.
	if err := s.Put(0, []float32{7, 8, 9}); err != nil {
		t.Fatalf("put overwrite: %v", err)
	}
	if s.IsDeleted(0) {
		t.Fatalf("put should clear deletion flag")
	}
	got, _ = s.Get(0)
	if got[0] != 7 {
		t.Fatalf("overwrite did not take effect: %v", got)
	}
}

func TestDimensionMismatch(t *testing.T) {
	s := New(3)
	if err := s.Put(0, []float32{1, 2}); err == nil {
		t.Fatalf("expected dimension mismatch error")
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := New(2)
	_ = s.Put(0, []float32{1, 2})
	_ = s.Put(1, []float32{3, 4})
	_ = s.Put(2, []float32{5, 6})
	s.Delete(1)

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, err := Load(&buf)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Dim() != 2 || loaded.Len() != 3 {
		t.Fatalf("loaded dim=%d len=%d", loaded.Dim(), loaded.Len())
	}
	if !loaded.IsDeleted(1) {
		t.Fatalf("expected offset 1 still deleted after round trip")
	}
	got, _ := loaded.Get(2)
	if got[0] != 5 || got[1] != 6 {
		t.Fatalf("loaded vector mismatch: %v", got)
	}
}

func TestIterateSkipsDeleted(t *testing.T) {
	s := New(1)
	_ = s.Put(0, []float32{0})
	_ = s.Put(1, []float32{1})
	_ = s.Put(2, []float32{2})
	s.Delete(1)

	var seen []uint32
	s.Iterate(func(offset uint32) { seen = append(seen, offset) })
	if len(seen) != 2 || seen[0] != 0 || seen[1] != 2 {
		t.Fatalf("iterate = %v, want [0 2]", seen)
	}
}
