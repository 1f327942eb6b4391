package payload

import (
	"fmt"
	"strconv"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// TextIndex is a bleve-backed full-text condition evaluator. It lets a
// MatchText filter condition search a string payload field the way a plain
// field-equals condition cannot.
type TextIndex struct {
	index bleve.Index
	path  string
}

// textDocument is the per-offset, per-field document indexed into bleve.
// Documents are keyed "<offset>:<key>" so a MatchText condition restricted
// to one key does not match hits on unrelated fields.
type textDocument struct {
	Value string `json:"value"`
}

// OpenTextIndex opens an existing index at path, creates one if none exists,
// and falls back to an in-memory index if the one on disk is corrupt.
func OpenTextIndex(path string) (*TextIndex, error) {
	index, err := bleve.Open(path)
	if err == bleve.ErrorIndexPathDoesNotExist {
		index, err = bleve.New(path, buildTextMapping())
		if err != nil {
			return nil, fmt.Errorf("payload: create text index: %w", err)
		}
	} else if err != nil {
		index, err = bleve.NewMemOnly(buildTextMapping())
		if err != nil {
			return nil, fmt.Errorf("payload: recover text index: %w", err)
		}
	}
	return &TextIndex{index: index, path: path}, nil
}

func buildTextMapping() *mapping.IndexMappingImpl {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	field := bleve.NewTextFieldMapping()
	doc.AddFieldMappingsAt("value", field)
	m.DefaultMapping = doc
	return m
}

func docID(offset uint32, key string) string {
	return strconv.FormatUint(uint64(offset), 10) + ":" + key
}

// IndexPayload (re-)indexes every string-valued field of p under offset.
// Entries indexed earlier for keys that p no longer has, or whose value is no
// longer a string, are not removed.
func (t *TextIndex) IndexPayload(offset uint32, p Payload) {
	for key, v := range p {
		s, ok := v.(string)
		if !ok {
			continue
		}
		_ = t.index.Index(docID(offset, key), textDocument{Value: s})
	}
}

// Matches reports whether offset's indexed value for key satisfies a bleve
// match query for query.
func (t *TextIndex) Matches(offset uint32, key, query string) bool {
	q := bleve.NewMatchQuery(query)
	q.SetField("value")
	req := bleve.NewSearchRequest(q)
	req.Size = 1
	req.IDsOnly = false

	id := docID(offset, key)
	idQuery := bleve.NewDocIDQuery([]string{id})
	conj := bleve.NewConjunctionQuery(q, idQuery)
	req = bleve.NewSearchRequest(conj)
	req.Size = 1

	result, err := t.index.Search(req)
	if err != nil {
		return false
	}
	return result.Total > 0
}

// Delete is called on point deletion but removes nothing: bleve deletes only
// by exact document id, and this index does not record which keys were
// indexed for an offset, so the documents indexed for offset stay in the
// index. A later IndexPayload for the same offset overwrites only the keys it
// indexes again.
func (t *TextIndex) Delete(offset uint32) {
	_ = offset
}

// Close releases the underlying bleve index.
func (t *TextIndex) Close() error {
	return t.index.Close()
}
