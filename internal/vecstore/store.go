// Package vecstore implements a dense, flat, fixed-dimension vector store
// addressed by PointOffset, plus a deletion bitmap. Deleted offsets are
// skipped by scorers but not reclaimed until compaction.
package vecstore

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/RoaringBitmap/roaring/v2"
)

// Store is a contiguous flat vector store: vectors are laid out back to back
// in a single slice so score kernels receive borrow-friendly, cache-local
// slices.
type Store struct {
	dim     int
	data    []float32 // len == capacity*dim; offset o occupies data[o*dim:(o+1)*dim]
	deleted *roaring.Bitmap
	count   uint32 // one past the highest offset ever put
}

// New creates an empty store for vectors of the given dimension.
func New(dim int) *Store {
	return &Store{
		dim:     dim,
		deleted: roaring.New(),
	}
}

// Dim returns the fixed vector dimension.
func (s *Store) Dim() int { return s.dim }

// Len returns one past the highest offset ever written (not the live count;
// deleted-but-unreclaimed offsets are still counted).
func (s *Store) Len() uint32 { return s.count }

func (s *Store) ensureCapacity(offset uint32) {
	needed := (int(offset) + 1) * s.dim
	if needed <= len(s.data) {
		return
	}
	grown := make([]float32, needed)
	copy(grown, s.data)
	s.data = grown
}

// Put stores vector at offset. A new offset appends (possibly past existing
// holes, which are then implicitly zero-vectors until written); an existing
// offset overwrites in place and clears its deletion flag.
func (s *Store) Put(offset uint32, vector []float32) error {
	if len(vector) != s.dim {
		return fmt.Errorf("vecstore: dimension mismatch: got %d, want %d", len(vector), s.dim)
	}
	s.ensureCapacity(offset)
	copy(s.data[int(offset)*s.dim:], vector)
	s.deleted.Remove(offset)
	if offset+1 > s.count {
		s.count = offset + 1
	}
	return nil
}

// Get returns a borrowed slice into the stored vector at offset. The
// returned slice aliases internal storage and must not be retained across a
// subsequent Put that grows the store.
func (s *Store) Get(offset uint32) ([]float32, error) {
	if offset >= s.count {
		return nil, fmt.Errorf("vecstore: offset %d out of range (len %d)", offset, s.count)
	}
	return s.data[int(offset)*s.dim : int(offset+1)*s.dim], nil
}

// Delete tombstones offset. The vector bytes are left in place; scorers must
// consult IsDeleted.
func (s *Store) Delete(offset uint32) {
	s.deleted.Add(offset)
}

// IsDeleted reports whether offset has been tombstoned.
func (s *Store) IsDeleted(offset uint32) bool {
	return s.deleted.Contains(offset)
}

// DeletedBitmap returns the live deletion bitmap (not a copy); callers that
// need a stable snapshot should Clone it.
func (s *Store) DeletedBitmap() *roaring.Bitmap {
	return s.deleted
}

// Iterate calls fn for every non-deleted offset in ascending order.
func (s *Store) Iterate(fn func(offset uint32)) {
	for o := uint32(0); o < s.count; o++ {
		if !s.deleted.Contains(o) {
			fn(o)
		}
	}
}

const fileMagic = "VSTO"

// Save writes the store's header, deletion bitmap, and vector data to w in a
// little-endian fixed-header-then-payload layout.
func (s *Store) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	header := make([]byte, 16)
	copy(header[0:4], fileMagic)
	binary.LittleEndian.PutUint32(header[4:8], uint32(s.dim))
	binary.LittleEndian.PutUint32(header[8:12], s.count)

	deletedBytes, err := s.deleted.ToBytes()
	if err != nil {
		return fmt.Errorf("vecstore: encode deletion bitmap: %w", err)
	}
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(deletedBytes)))

	if _, err := bw.Write(header); err != nil {
		return err
	}
	if _, err := bw.Write(deletedBytes); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, s.data); err != nil {
		return err
	}
	return bw.Flush()
}

// Load reconstructs a Store previously written by Save.
func Load(r io.Reader) (*Store, error) {
	header := make([]byte, 16)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("vecstore: read header: %w", err)
	}
	if string(header[0:4]) != fileMagic {
		return nil, fmt.Errorf("vecstore: bad magic %q", header[0:4])
	}
	dim := int(binary.LittleEndian.Uint32(header[4:8]))
	count := binary.LittleEndian.Uint32(header[8:12])
	deletedLen := binary.LittleEndian.Uint32(header[12:16])

	deletedBytes := make([]byte, deletedLen)
	if _, err := io.ReadFull(r, deletedBytes); err != nil {
		return nil, fmt.Errorf("vecstore: read deletion bitmap: %w", err)
	}
	deleted := roaring.New()
	if deletedLen > 0 {
		if err := deleted.UnmarshalBinary(deletedBytes); err != nil {
			return nil, fmt.Errorf("vecstore: decode deletion bitmap: %w", err)
		}
	}

	data := make([]float32, int(count)*dim)
	if err := binary.Read(r, binary.LittleEndian, data); err != nil && err != io.EOF {
		return nil, fmt.Errorf("vecstore: read vector data: %w", err)
	}

	return &Store{dim: dim, data: data, deleted: deleted, count: count}, nil
}
