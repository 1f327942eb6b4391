// Package wal implements an append-only write-ahead log backed by bbolt: one
// bucket keyed by big-endian monotonic sequence number, each entry
// CRC32-checked on read.
package wal

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"sync"

	"go.etcd.io/bbolt"
)

var bucketName = []byte("wal")

// WAL is a single shard's durable operation log.
type WAL struct {
	db      *bbolt.DB
	mu      sync.Mutex
	nextSeq uint64
}

// Open opens (creating if absent) the WAL at path.
func Open(path string) (*WAL, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}
	w := &WAL{db: db}
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName)
		if err != nil {
			return err
		}
		if k, _ := b.Cursor().Last(); k != nil {
			w.nextSeq = binary.BigEndian.Uint64(k) + 1
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("wal: init %s: %w", path, err)
	}
	return w, nil
}

// Close closes the underlying bbolt database.
func (w *WAL) Close() error {
	return w.db.Close()
}

// Entry is one decoded, CRC-verified WAL record.
type Entry struct {
	Seq     uint64
	Payload []byte
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}

func encodeRecord(payload []byte) []byte {
	sum := crc32.ChecksumIEEE(payload)
	out := make([]byte, 4+len(payload))
	binary.BigEndian.PutUint32(out[:4], sum)
	copy(out[4:], payload)
	return out
}

func decodeRecord(record []byte) ([]byte, error) {
	if len(record) < 4 {
		return nil, fmt.Errorf("wal: record too short (%d bytes)", len(record))
	}
	want := binary.BigEndian.Uint32(record[:4])
	payload := record[4:]
	if got := crc32.ChecksumIEEE(payload); got != want {
		return nil, fmt.Errorf("wal: checksum mismatch: got %x, want %x", got, want)
	}
	return payload, nil
}

// Append assigns the next monotonic sequence number to payload and durably
// appends it, returning the assigned sequence number.
func (w *WAL) Append(payload []byte) (uint64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	seq := w.nextSeq
	record := encodeRecord(payload)
	err := w.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		return b.Put(seqKey(seq), record)
	})
	if err != nil {
		return 0, fmt.Errorf("wal: append: %w", err)
	}
	w.nextSeq++
	return seq, nil
}

// LastSeq returns one past the highest sequence number ever appended (0 if
// the log is empty).
func (w *WAL) LastSeq() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.nextSeq
}

// Replay calls fn for every entry with Seq >= fromSeq, in ascending order,
// stopping at the first error fn returns.
func (w *WAL) Replay(fromSeq uint64, fn func(Entry) error) error {
	return w.db.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		for k, v := c.Seek(seqKey(fromSeq)); k != nil; k, v = c.Next() {
			payload, err := decodeRecord(v)
			if err != nil {
				return err
			}
			if err := fn(Entry{Seq: binary.BigEndian.Uint64(k), Payload: payload}); err != nil {
				return err
			}
		}
		return nil
	})
}

// CompactBefore permanently removes every entry with Seq < seq, called after
// a snapshot has durably captured everything up to seq. The newest entry of
// the log is always kept, so that Open continues the sequence after it.
func (w *WAL) CompactBefore(seq uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		c := b.Cursor()
		var toDelete [][]byte
		for k, _ := c.First(); k != nil && binary.BigEndian.Uint64(k) < seq; k, _ = c.Next() {
			toDelete = append(toDelete, append([]byte(nil), k...))
		}
		if last, _ := c.Last(); last != nil && binary.BigEndian.Uint64(last) < seq {
			toDelete = toDelete[:len(toDelete)-1]
		}
		for _, k := range toDelete {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}
