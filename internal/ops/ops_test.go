package ops

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/diffsec/vectorcore/internal/payload"
	"github.com/diffsec/vectorcore/internal/pointid"
)

func samplePointOperations() []PointOperation {
	filter := &payload.Filter{
		Must: []payload.Condition{
			{HasID: &payload.HasID{IDs: []pointid.ID{pointid.FromUint64(0), pointid.FromUint64(3)}}},
		},
	}
	return []PointOperation{
		NewUpsertBatch(Batch{
			IDs:      []pointid.ID{pointid.FromUint64(1), pointid.FromUint64(2)},
			Vectors:  [][]float32{{1, 0, 1, 1}, {1, 0, 1, 0}},
			Payloads: []payload.Payload{{"k": "v1"}, nil},
		}),
		NewUpsertPoints([]PointStruct{
			{ID: pointid.FromUint64(9), Vector: []float32{0.5, -1.5, 2, 3}, Payload: payload.Payload{"n": 1.0}},
		}),
		NewDeletePoints([]pointid.ID{pointid.FromUint64(5), pointid.FromUint64(6)}),
		NewDeletePointsByFilter(filter),
	}
}

func samplePayloadOperations() []PayloadOperation {
	return []PayloadOperation{
		NewSetPayload(payload.Payload{"color": "red"}, []pointid.ID{pointid.FromUint64(2), pointid.FromUint64(3)}),
		NewDeletePayload([]string{"color", "size"}, []pointid.ID{pointid.FromUint64(1)}),
		NewClearPayload([]pointid.ID{pointid.FromUint64(4)}),
	}
}

func TestPointOperationJSONRoundTrip(t *testing.T) {
	for i, op := range samplePointOperations() {
		b, err := json.Marshal(op)
		if err != nil {
			t.Fatalf("case %d: Marshal: %v", i, err)
		}
		var got PointOperation
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("case %d: Unmarshal: %v", i, err)
		}
		if !reflect.DeepEqual(op, got) {
			t.Fatalf("case %d: round trip mismatch:\n  want %+v\n  got  %+v", i, op, got)
		}
	}
}

func TestPointOperationBinaryRoundTrip(t *testing.T) {
	for i, op := range samplePointOperations() {
		b, err := EncodePointOperation(op)
		if err != nil {
			t.Fatalf("case %d: Encode: %v", i, err)
		}
		got, err := DecodePointOperation(b)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if !reflect.DeepEqual(op, got) {
			t.Fatalf("case %d: round trip mismatch:\n  want %+v\n  got  %+v", i, op, got)
		}
	}
}

func TestPayloadOperationJSONRoundTrip(t *testing.T) {
	for i, op := range samplePayloadOperations() {
		b, err := json.Marshal(op)
		if err != nil {
			t.Fatalf("case %d: Marshal: %v", i, err)
		}
		var got PayloadOperation
		if err := json.Unmarshal(b, &got); err != nil {
			t.Fatalf("case %d: Unmarshal: %v", i, err)
		}
		if !reflect.DeepEqual(op, got) {
			t.Fatalf("case %d: round trip mismatch:\n  want %+v\n  got  %+v", i, op, got)
		}
	}
}

func TestPayloadOperationBinaryRoundTrip(t *testing.T) {
	for i, op := range samplePayloadOperations() {
		b, err := EncodePayloadOperation(op)
		if err != nil {
			t.Fatalf("case %d: Encode: %v", i, err)
		}
		got, err := DecodePayloadOperation(b)
		if err != nil {
			t.Fatalf("case %d: Decode: %v", i, err)
		}
		if !reflect.DeepEqual(op, got) {
			t.Fatalf("case %d: round trip mismatch:\n  want %+v\n  got  %+v", i, op, got)
		}
	}
}

func TestPointsFlattensBatchAndValidatesLengths(t *testing.T) {
	op := NewUpsertBatch(Batch{
		IDs:     []pointid.ID{pointid.FromUint64(1)},
		Vectors: [][]float32{{1, 2}, {3, 4}},
	})
	if _, err := op.Points(); err == nil {
		t.Fatalf("expected error for mismatched batch array lengths")
	}

	ok := NewUpsertBatch(Batch{
		IDs:     []pointid.ID{pointid.FromUint64(1), pointid.FromUint64(2)},
		Vectors: [][]float32{{1, 2}, {3, 4}},
	})
	points, err := ok.Points()
	if err != nil {
		t.Fatalf("Points: %v", err)
	}
	if len(points) != 2 || points[1].ID != pointid.FromUint64(2) {
		t.Fatalf("unexpected flattened points: %+v", points)
	}
}
