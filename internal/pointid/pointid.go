// Package pointid implements PointId: a value that is either a 64-bit
// unsigned integer or a UUID, with structural equality and a stable hash
// usable for sharding.
package pointid

import (
	"encoding/json"
	"fmt"
	"hash/maphash"
	"strconv"

	"github.com/google/uuid"
)

// Kind distinguishes the two representations a PointId may take.
type Kind uint8

const (
	KindNum Kind = iota
	KindUUID
)

// ID is a PointId: either a u64 or a UUID. The zero value is the numeric id 0.
type ID struct {
	kind Kind
	num  uint64
	uid  uuid.UUID
}

// FromUint64 builds a numeric PointId.
func FromUint64(n uint64) ID {
	return ID{kind: KindNum, num: n}
}

// FromUUID builds a UUID PointId.
func FromUUID(u uuid.UUID) ID {
	return ID{kind: KindUUID, uid: u}
}

// Parse accepts either a decimal integer or a UUID string.
func Parse(s string) (ID, error) {
	if n, err := strconv.ParseUint(s, 10, 64); err == nil {
		return FromUint64(n), nil
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return ID{}, fmt.Errorf("invalid point id %q: not a u64 or uuid", s)
	}
	return FromUUID(u), nil
}

// Kind reports which representation this id uses.
func (id ID) Kind() Kind { return id.kind }

// Uint64 returns the numeric value; only meaningful when Kind() == KindNum.
func (id ID) Uint64() uint64 { return id.num }

// UUID returns the UUID value; only meaningful when Kind() == KindUUID.
func (id ID) UUID() uuid.UUID { return id.uid }

// Equal reports structural equality.
func (id ID) Equal(other ID) bool {
	if id.kind != other.kind {
		return false
	}
	if id.kind == KindNum {
		return id.num == other.num
	}
	return id.uid == other.uid
}

// Less gives the total order used for scroll's ascending PointId ordering
// numeric ids sort before UUID ids, each sorted internally.
func (id ID) Less(other ID) bool {
	if id.kind != other.kind {
		return id.kind < other.kind
	}
	if id.kind == KindNum {
		return id.num < other.num
	}
	return lessUUID(id.uid, other.uid)
}

func lessUUID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (id ID) String() string {
	if id.kind == KindNum {
		return strconv.FormatUint(id.num, 10)
	}
	return id.uid.String()
}

// MarshalJSON emits a bare number for numeric ids and a quoted string for
// UUID ids, matching the union shape used on the wire.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.kind == KindNum {
		return json.Marshal(id.num)
	}
	return json.Marshal(id.uid.String())
}

// UnmarshalJSON accepts either a JSON number or a JSON string (decimal or UUID).
func (id *ID) UnmarshalJSON(data []byte) error {
	var n uint64
	if err := json.Unmarshal(data, &n); err == nil {
		*id = FromUint64(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("point id: %w", err)
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

var hashSeed = maphash.MakeSeed()

// Hash returns a process-stable (but not cross-process-stable) hash. Sharding
// uses StableHash instead, which must survive process restarts.
func (id ID) Hash() uint64 {
	var h maphash.Hash
	h.SetSeed(hashSeed)
	writeHashBytes(&h, id)
	return h.Sum64()
}

func writeHashBytes(h *maphash.Hash, id ID) {
	if id.kind == KindNum {
		var buf [9]byte
		buf[0] = byte(KindNum)
		for i := 0; i < 8; i++ {
			buf[1+i] = byte(id.num >> (8 * i))
		}
		_, _ = h.Write(buf[:])
		return
	}
	var buf [17]byte
	buf[0] = byte(KindUUID)
	copy(buf[1:], id.uid[:])
	_, _ = h.Write(buf[:])
}

// SortKey returns a string whose lexicographic order matches Less: numeric
// ids (zero-padded to 20 digits, the width of MaxUint64) sort before UUID
// ids, and each kind sorts correctly within itself. Used to let a SQL ORDER
// BY/> clause implement ascending-PointId scroll order.
func (id ID) SortKey() string {
	if id.kind == KindNum {
		return "0" + fmt.Sprintf("%020d", id.num)
	}
	return "1" + id.uid.String()
}

// StableHash is a reboot-stable hash used by the collection's sharding
// function: sharding must route the same id to the same shard across
// process restarts. maphash.Hash is seeded randomly per process, so sharding instead
// uses FNV-1a over the id's canonical byte encoding.
func (id ID) StableHash() uint64 {
	const offset64 = 14695981039346656037
	const prime64 = 1099511628211
	h := uint64(offset64)
	feed := func(b byte) {
		h ^= uint64(b)
		h *= prime64
	}
	if id.kind == KindNum {
		feed(byte(KindNum))
		for i := 0; i < 8; i++ {
			feed(byte(id.num >> (8 * i)))
		}
		return h
	}
	feed(byte(KindUUID))
	for _, b := range id.uid {
		feed(b)
	}
	return h
}
