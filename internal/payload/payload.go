// Package payload implements per-point JSON-like attributes and a boolean
// filter-tree evaluator over them.
package payload

import (
	"golang.org/x/text/unicode/norm"

	"github.com/diffsec/vectorcore/internal/pointid"
)

// Payload is a mapping from string keys to typed scalar/array values
// (strings, numbers, booleans, geo points, or arrays thereof). Its sole role
// in the core is filter evaluation and retrieval.
type Payload map[string]interface{}

// GeoPoint is a latitude/longitude payload value.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Clone returns a shallow copy, sufficient for the core's read-only use
// (retrieve/scroll never mutate a returned payload in place).
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Filter is a boolean tree: must is conjunctive, should is disjunctive (at
// least one must match if non-empty), must_not is negated-conjunctive; all
// three combine conjunctively.
type Filter struct {
	Must    []Condition `json:"must,omitempty" yaml:"must,omitempty"`
	Should  []Condition `json:"should,omitempty" yaml:"should,omitempty"`
	MustNot []Condition `json:"must_not,omitempty" yaml:"must_not,omitempty"`
}

// Condition is a tagged union of five condition kinds: field-equals,
// field-range, has-id, nested filter, and full-text match. Exactly one field
// should be non-nil.
type Condition struct {
	Field     *FieldMatch  `json:"field,omitempty" yaml:"field,omitempty"`
	Range     *FieldRange  `json:"range,omitempty" yaml:"range,omitempty"`
	HasID     *HasID       `json:"has_id,omitempty" yaml:"has_id,omitempty"`
	Nested    *Filter      `json:"nested,omitempty" yaml:"nested,omitempty"`
	MatchText *MatchText   `json:"match_text,omitempty" yaml:"match_text,omitempty"`
}

// FieldMatch is a field-equals condition.
type FieldMatch struct {
	Key   string      `json:"key" yaml:"key"`
	Value interface{} `json:"value" yaml:"value"`
}

// FieldRange is a field-range condition; any subset of bounds may be set.
type FieldRange struct {
	Key string   `json:"key" yaml:"key"`
	Gt  *float64 `json:"gt,omitempty" yaml:"gt,omitempty"`
	Gte *float64 `json:"gte,omitempty" yaml:"gte,omitempty"`
	Lt  *float64 `json:"lt,omitempty" yaml:"lt,omitempty"`
	Lte *float64 `json:"lte,omitempty" yaml:"lte,omitempty"`
}

// HasID is an explicit-id-set condition: matches offsets whose PointId is in IDs.
type HasID struct {
	IDs []pointid.ID `json:"ids" yaml:"ids"`
}

// MatchText is a full-text condition over a string payload field, backed by
// a bleve index.
type MatchText struct {
	Key   string `json:"key" yaml:"key"`
	Query string `json:"query" yaml:"query"`
}

// Lookup is the narrow capability the evaluator needs from a payload store:
// read a point's payload, resolve a PointId to its local offset, and
// (optionally) test a text-match condition. Segment's payload storage
// implements this.
type Lookup interface {
	PayloadFor(offset uint32) (Payload, bool)
	OffsetForID(id pointid.ID) (uint32, bool)
	MatchText(offset uint32, key, query string) bool
}

// Check evaluates filter against offset using lookup. Evaluation
// short-circuits and is side-effect-free. A nil filter
// always matches.
func Check(filter *Filter, offset uint32, lookup Lookup) bool {
	if filter == nil {
		return true
	}
	for _, c := range filter.Must {
		if !evalCondition(&c, offset, lookup) {
			return false
		}
	}
	if len(filter.Should) > 0 {
		any := false
		for _, c := range filter.Should {
			if evalCondition(&c, offset, lookup) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	for _, c := range filter.MustNot {
		if evalCondition(&c, offset, lookup) {
			return false
		}
	}
	return true
}

func evalCondition(c *Condition, offset uint32, lookup Lookup) bool {
	switch {
	case c.Field != nil:
		return evalFieldMatch(c.Field, offset, lookup)
	case c.Range != nil:
		return evalFieldRange(c.Range, offset, lookup)
	case c.HasID != nil:
		return evalHasID(c.HasID, offset, lookup)
	case c.Nested != nil:
		return Check(c.Nested, offset, lookup)
	case c.MatchText != nil:
		return lookup.MatchText(offset, c.MatchText.Key, c.MatchText.Query)
	default:
		return true // an empty condition matches everything
	}
}

func evalHasID(h *HasID, offset uint32, lookup Lookup) bool {
	// has-id conditions materialize directly from the explicit set rather
	// than iterating the payload map.
	for _, id := range h.IDs {
		if o, ok := lookup.OffsetForID(id); ok && o == offset {
			return true
		}
	}
	return false
}

func evalFieldMatch(f *FieldMatch, offset uint32, lookup Lookup) bool {
	p, ok := lookup.PayloadFor(offset)
	if !ok {
		return false
	}
	v, present := p[f.Key]
	if !present {
		return false
	}
	return valuesEqual(v, f.Value)
}

func valuesEqual(a, b interface{}) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if aok && bok {
		return af == bf
	}
	if arr, ok := a.([]interface{}); ok {
		for _, item := range arr {
			if valuesEqual(item, b) {
				return true
			}
		}
		return false
	}
	if as, aok := a.(string); aok {
		if bs, bok := b.(string); bok {
			return norm.NFC.String(as) == norm.NFC.String(bs)
		}
	}
	return a == b
}

func evalFieldRange(r *FieldRange, offset uint32, lookup Lookup) bool {
	p, ok := lookup.PayloadFor(offset)
	if !ok {
		return false
	}
	raw, present := p[r.Key]
	if !present {
		return false
	}
	v, ok := toFloat(raw)
	if !ok {
		return false
	}
	if r.Gt != nil && !(v > *r.Gt) {
		return false
	}
	if r.Gte != nil && !(v >= *r.Gte) {
		return false
	}
	if r.Lt != nil && !(v < *r.Lt) {
		return false
	}
	if r.Lte != nil && !(v <= *r.Lte) {
		return false
	}
	return true
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
