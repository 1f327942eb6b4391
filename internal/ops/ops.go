// Package ops implements the wire-level operation union: PointOperation and
// PayloadOperation, each a closed set of tagged variants, plus JSON and
// binary codecs for them.
package ops

import (
	"github.com/diffsec/vectorcore/internal/payload"
	"github.com/diffsec/vectorcore/internal/pointid"
	"github.com/diffsec/vectorcore/internal/vcerrors"
)

func errBadInput(format string, args ...interface{}) error {
	return vcerrors.Newf(vcerrors.BadInput, format, args...)
}

// PointStruct is one point as carried on the wire: id, vector, and an
// optional payload.
type PointStruct struct {
	ID      pointid.ID      `json:"id"`
	Vector  []float32       `json:"vector"`
	Payload payload.Payload `json:"payload,omitempty"`
}

// Batch is the columnar form of a group of upserts: ids[], vectors[], and an
// optional payloads[], all of equal length.
type Batch struct {
	IDs      []pointid.ID      `json:"ids"`
	Vectors  [][]float32       `json:"vectors"`
	Payloads []payload.Payload `json:"payloads,omitempty"`
}

// PointOpKind tags which variant a PointOperation holds.
type PointOpKind uint8

const (
	UpsertPointsKind PointOpKind = iota
	DeletePointsKind
	DeletePointsByFilterKind
)

// PointOperation is a tagged union over the three point-mutating operations.
// Exactly one of its payload fields is populated, selected by Kind.
type PointOperation struct {
	Kind PointOpKind `json:"kind"`

	UpsertBatch  *Batch        `json:"upsert_batch,omitempty"`
	UpsertPoints []PointStruct `json:"upsert_points,omitempty"`
	DeleteIDs    []pointid.ID  `json:"delete_ids,omitempty"`
	DeleteFilter *payload.Filter `json:"delete_filter,omitempty"`
}

// NewUpsertBatch builds an UpsertPoints(Batch) operation.
func NewUpsertBatch(b Batch) PointOperation {
	return PointOperation{Kind: UpsertPointsKind, UpsertBatch: &b}
}

// NewUpsertPoints builds an UpsertPoints(Vec<PointStruct>) operation.
func NewUpsertPoints(points []PointStruct) PointOperation {
	return PointOperation{Kind: UpsertPointsKind, UpsertPoints: points}
}

// NewDeletePoints builds a DeletePoints(ids) operation.
func NewDeletePoints(ids []pointid.ID) PointOperation {
	return PointOperation{Kind: DeletePointsKind, DeleteIDs: ids}
}

// NewDeletePointsByFilter builds a DeletePointsByFilter(filter) operation.
func NewDeletePointsByFilter(filter *payload.Filter) PointOperation {
	return PointOperation{Kind: DeletePointsByFilterKind, DeleteFilter: filter}
}

// Points flattens either wire shape (Batch or []PointStruct) of an
// UpsertPoints operation into a uniform []PointStruct, validating that
// Batch's parallel arrays are of equal length.
func (op PointOperation) Points() ([]PointStruct, error) {
	switch {
	case op.UpsertBatch != nil:
		b := op.UpsertBatch
		if len(b.Payloads) != 0 && len(b.Payloads) != len(b.IDs) {
			return nil, errBadInput("batch payloads length %d does not match ids length %d", len(b.Payloads), len(b.IDs))
		}
		if len(b.Vectors) != len(b.IDs) {
			return nil, errBadInput("batch vectors length %d does not match ids length %d", len(b.Vectors), len(b.IDs))
		}
		out := make([]PointStruct, len(b.IDs))
		for i := range b.IDs {
			ps := PointStruct{ID: b.IDs[i], Vector: b.Vectors[i]}
			if i < len(b.Payloads) {
				ps.Payload = b.Payloads[i]
			}
			out[i] = ps
		}
		return out, nil
	case op.UpsertPoints != nil:
		return op.UpsertPoints, nil
	default:
		return nil, errBadInput("upsert operation carries neither a batch nor points")
	}
}

// PayloadOpKind tags which variant a PayloadOperation holds.
type PayloadOpKind uint8

const (
	SetPayloadKind PayloadOpKind = iota
	DeletePayloadKind
	ClearPayloadKind
)

// PayloadOperation is a tagged union over the three payload-mutating
// operations.
type PayloadOperation struct {
	Kind PayloadOpKind `json:"kind"`

	Payload payload.Payload `json:"payload,omitempty"`
	Keys    []string        `json:"keys,omitempty"`
	Points  []pointid.ID    `json:"points"`
}

// NewSetPayload builds a SetPayload({payload, points}) operation.
func NewSetPayload(p payload.Payload, points []pointid.ID) PayloadOperation {
	return PayloadOperation{Kind: SetPayloadKind, Payload: p, Points: points}
}

// NewDeletePayload builds a DeletePayload({keys, points}) operation.
func NewDeletePayload(keys []string, points []pointid.ID) PayloadOperation {
	return PayloadOperation{Kind: DeletePayloadKind, Keys: keys, Points: points}
}

// NewClearPayload builds a ClearPayload({points}) operation.
func NewClearPayload(points []pointid.ID) PayloadOperation {
	return PayloadOperation{Kind: ClearPayloadKind, Points: points}
}

// Status is the acknowledgement level a write returns.
type Status int

const (
	Acknowledged Status = iota
	Completed
)

func (s Status) String() string {
	if s == Completed {
		return "Completed"
	}
	return "Acknowledged"
}

// Result is what an update operation returns.
type Result struct {
	OperationID uint64 `json:"operation_id"`
	Status      Status `json:"status"`
}
