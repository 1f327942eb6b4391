package payload

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/diffsec/vectorcore/internal/pointid"
)

// Store is the SQLite-backed payload storage. One row per point
// offset carries both the offset->PointId association (the per-segment
// id map) and the payload JSON, the same pairing
// internal/vectordb/sqlite.go's chunks table makes between a chunk id and its
// vector_idx — generalized here from a fixed chunk schema to an arbitrary
// key/value payload.
type Store struct {
	db   *sql.DB
	text *TextIndex // optional; nil disables MatchText conditions
}

// NewStore opens (or creates) the payload database at path.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("payload: create directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("payload: open database: %w", err)
	}
	s := &Store{db: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// WithTextIndex attaches a bleve-backed TextIndex used to evaluate MatchText
// conditions. Optional: without one, MatchText conditions always fail.
func (s *Store) WithTextIndex(idx *TextIndex) *Store {
	s.text = idx
	return s
}

func (s *Store) init() error {
	schema := `
		CREATE TABLE IF NOT EXISTS points (
			offset   INTEGER PRIMARY KEY,
			point_id TEXT NOT NULL,
			sort_key TEXT NOT NULL,
			payload  TEXT NOT NULL DEFAULT '{}'
		);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_points_point_id ON points(point_id);
		CREATE INDEX IF NOT EXISTS idx_points_sort_key ON points(sort_key);
	`
	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("payload: create schema: %w", err)
	}
	return nil
}

// Set associates offset with id and stores its payload (possibly nil/empty),
// replacing any existing row for that offset.
func (s *Store) Set(offset uint32, id pointid.ID, p Payload) error {
	if p == nil {
		p = Payload{}
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("payload: marshal: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO points (offset, point_id, sort_key, payload) VALUES (?, ?, ?, ?)`,
		offset, id.String(), id.SortKey(), string(raw),
	)
	if err != nil {
		return fmt.Errorf("payload: set: %w", err)
	}
	if s.text != nil {
		s.text.IndexPayload(offset, p)
	}
	return nil
}

// SetPayload replaces the payload for an already-known offset without
// touching its id association (used by the SetPayload update operation).
func (s *Store) SetPayload(offset uint32, p Payload) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("payload: marshal: %w", err)
	}
	res, err := s.db.Exec(`UPDATE points SET payload = ? WHERE offset = ?`, string(raw), offset)
	if err != nil {
		return fmt.Errorf("payload: set payload: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("payload: offset %d not found", offset)
	}
	if s.text != nil {
		s.text.IndexPayload(offset, p)
	}
	return nil
}

// MergePayload overlays new keys onto the existing payload (used by the
// SetPayload operation, whose merge semantics are distinct from ClearPayload;
// an upsert of an existing point replaces its payload through Set instead).
func (s *Store) MergePayload(offset uint32, updates Payload) error {
	existing, ok, err := s.Get(offset)
	if err != nil {
		return err
	}
	if !ok {
		existing = Payload{}
	}
	merged := existing.Clone()
	for k, v := range updates {
		merged[k] = v
	}
	return s.SetPayload(offset, merged)
}

// Get retrieves the payload stored for offset.
func (s *Store) Get(offset uint32) (Payload, bool, error) {
	var raw string
	err := s.db.QueryRow(`SELECT payload FROM points WHERE offset = ?`, offset).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("payload: get: %w", err)
	}
	var p Payload
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, false, fmt.Errorf("payload: decode: %w", err)
	}
	return p, true, nil
}

// PayloadFor implements Lookup.
func (s *Store) PayloadFor(offset uint32) (Payload, bool) {
	p, ok, err := s.Get(offset)
	if err != nil {
		return nil, false
	}
	return p, ok
}

// DeleteKeys removes the given keys from offset's payload.
func (s *Store) DeleteKeys(offset uint32, keys []string) error {
	p, ok, err := s.Get(offset)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("payload: offset %d not found", offset)
	}
	for _, k := range keys {
		delete(p, k)
	}
	return s.SetPayload(offset, p)
}

// ClearPayload empties offset's payload entirely, keeping its id association.
func (s *Store) ClearPayload(offset uint32) error {
	return s.SetPayload(offset, Payload{})
}

// Delete removes the row for offset entirely (point tombstoned/removed).
func (s *Store) Delete(offset uint32) error {
	_, err := s.db.Exec(`DELETE FROM points WHERE offset = ?`, offset)
	if err != nil {
		return fmt.Errorf("payload: delete: %w", err)
	}
	if s.text != nil {
		s.text.Delete(offset)
	}
	return nil
}

// OffsetForID implements Lookup.
func (s *Store) OffsetForID(id pointid.ID) (uint32, bool) {
	var offset uint32
	err := s.db.QueryRow(`SELECT offset FROM points WHERE point_id = ?`, id.String()).Scan(&offset)
	if err != nil {
		return 0, false
	}
	return offset, true
}

// IDForOffset is the inverse of OffsetForID.
func (s *Store) IDForOffset(offset uint32) (pointid.ID, bool) {
	var s2 string
	err := s.db.QueryRow(`SELECT point_id FROM points WHERE offset = ?`, offset).Scan(&s2)
	if err != nil {
		return pointid.ID{}, false
	}
	id, err := pointid.Parse(s2)
	if err != nil {
		return pointid.ID{}, false
	}
	return id, true
}

// MatchText implements Lookup; without an attached TextIndex it always fails.
func (s *Store) MatchText(offset uint32, key, query string) bool {
	if s.text == nil {
		return false
	}
	return s.text.Matches(offset, key, query)
}

// ScrollRow is one row of an ascending-PointId scroll page.
type ScrollRow struct {
	Offset uint32
	ID     pointid.ID
}

// Scroll returns up to limit rows in ascending PointId order, starting with
// the first row whose sort key is greater than *afterSortKey if afterSortKey
// is non-nil, or from the beginning otherwise. The segment above this applies the filter predicate
// and next_page_offset logic.
func (s *Store) Scroll(afterSortKey *string, limit int) ([]ScrollRow, error) {
	var rows *sql.Rows
	var err error
	if afterSortKey == nil {
		rows, err = s.db.Query(`SELECT offset, point_id FROM points ORDER BY sort_key ASC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(`SELECT offset, point_id FROM points WHERE sort_key > ? ORDER BY sort_key ASC LIMIT ?`, *afterSortKey, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("payload: scroll: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ScrollRow
	for rows.Next() {
		var offset uint32
		var idStr string
		if err := rows.Scan(&offset, &idStr); err != nil {
			return nil, fmt.Errorf("payload: scroll scan: %w", err)
		}
		id, err := pointid.Parse(idStr)
		if err != nil {
			return nil, fmt.Errorf("payload: scroll decode id: %w", err)
		}
		out = append(out, ScrollRow{Offset: offset, ID: id})
	}
	return out, rows.Err()
}

// Count returns the number of live (non-deleted) point rows.
func (s *Store) Count() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM points`).Scan(&n)
	return n, err
}

// Clear removes all rows.
func (s *Store) Clear() error {
	_, err := s.db.Exec(`DELETE FROM points`)
	return err
}

// Close closes the underlying database (and text index, if any).
func (s *Store) Close() error {
	if s.text != nil {
		_ = s.text.Close()
	}
	return s.db.Close()
}
