package ops

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/diffsec/vectorcore/internal/payload"
	"github.com/diffsec/vectorcore/internal/pointid"
)

func floatBits(f float32) uint32      { return math.Float32bits(f) }
func floatFromBits(b uint32) float32  { return math.Float32frombits(b) }
func uuidFromBytes(b []byte) (uuid.UUID, error) { return uuid.FromBytes(b) }

// Binary envelope layout: everything hot (ids, vectors, counts) is encoded
// directly; payloads and filter trees, which are arbitrary nested values and
// rarely on a latency-critical path, are nested as length-prefixed JSON
// blobs rather than given a bespoke binary grammar.

const (
	idKindNum  byte = 0
	idKindUUID byte = 1

	upsertSubBatch  byte = 0
	upsertSubPoints byte = 1
)

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func readUvarint(r *bytes.Reader) (uint64, error) {
	return binary.ReadUvarint(r)
}

func writeID(buf *bytes.Buffer, id pointid.ID) {
	if id.Kind() == pointid.KindUUID {
		buf.WriteByte(idKindUUID)
		u := id.UUID()
		buf.Write(u[:])
		return
	}
	buf.WriteByte(idKindNum)
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], id.Uint64())
	buf.Write(tmp[:])
}

func readID(r *bytes.Reader) (pointid.ID, error) {
	kindByte, err := r.ReadByte()
	if err != nil {
		return pointid.ID{}, err
	}
	switch kindByte {
	case idKindNum:
		var tmp [8]byte
		if _, err := readFull(r, tmp[:]); err != nil {
			return pointid.ID{}, err
		}
		return pointid.FromUint64(binary.LittleEndian.Uint64(tmp[:])), nil
	case idKindUUID:
		var tmp [16]byte
		if _, err := readFull(r, tmp[:]); err != nil {
			return pointid.ID{}, err
		}
		u, err := uuidFromBytes(tmp[:])
		if err != nil {
			return pointid.ID{}, err
		}
		return pointid.FromUUID(u), nil
	default:
		return pointid.ID{}, fmt.Errorf("ops: unknown id kind byte %d", kindByte)
	}
}

func readFull(r *bytes.Reader, p []byte) (int, error) {
	n := 0
	for n < len(p) {
		m, err := r.Read(p[n:])
		n += m
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func writeVector(buf *bytes.Buffer, v []float32) {
	writeUvarint(buf, uint64(len(v)))
	for _, x := range v {
		var tmp [4]byte
		binary.LittleEndian.PutUint32(tmp[:], floatBits(x))
		buf.Write(tmp[:])
	}
}

func readVector(r *bytes.Reader) ([]float32, error) {
	n, err := readUvarint(r)
	if err != nil {
		return nil, err
	}
	out := make([]float32, n)
	for i := range out {
		var tmp [4]byte
		if _, err := readFull(r, tmp[:]); err != nil {
			return nil, err
		}
		out[i] = floatFromBits(binary.LittleEndian.Uint32(tmp[:]))
	}
	return out, nil
}

func writeJSONBlob(buf *bytes.Buffer, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeUvarint(buf, uint64(len(b)))
	buf.Write(b)
	return nil
}

func readJSONBlob(r *bytes.Reader, v interface{}) error {
	n, err := readUvarint(r)
	if err != nil {
		return err
	}
	b := make([]byte, n)
	if _, err := readFull(r, b); err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return json.Unmarshal(b, v)
}

func writePointStruct(buf *bytes.Buffer, p PointStruct) error {
	writeID(buf, p.ID)
	writeVector(buf, p.Vector)
	return writeJSONBlob(buf, p.Payload)
}

func readPointStruct(r *bytes.Reader) (PointStruct, error) {
	var p PointStruct
	id, err := readID(r)
	if err != nil {
		return p, err
	}
	v, err := readVector(r)
	if err != nil {
		return p, err
	}
	var pl payload.Payload
	if err := readJSONBlob(r, &pl); err != nil {
		return p, err
	}
	p.ID, p.Vector, p.Payload = id, v, pl
	return p, nil
}

// EncodePointOperation serializes op into the binary envelope.
func EncodePointOperation(op PointOperation) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(op.Kind))
	switch op.Kind {
	case UpsertPointsKind:
		if op.UpsertBatch != nil {
			buf.WriteByte(upsertSubBatch)
			b := op.UpsertBatch
			writeUvarint(&buf, uint64(len(b.IDs)))
			for _, id := range b.IDs {
				writeID(&buf, id)
			}
			writeUvarint(&buf, uint64(len(b.Vectors)))
			for _, v := range b.Vectors {
				writeVector(&buf, v)
			}
			if err := writeJSONBlob(&buf, b.Payloads); err != nil {
				return nil, err
			}
		} else {
			buf.WriteByte(upsertSubPoints)
			writeUvarint(&buf, uint64(len(op.UpsertPoints)))
			for _, p := range op.UpsertPoints {
				if err := writePointStruct(&buf, p); err != nil {
					return nil, err
				}
			}
		}
	case DeletePointsKind:
		writeUvarint(&buf, uint64(len(op.DeleteIDs)))
		for _, id := range op.DeleteIDs {
			writeID(&buf, id)
		}
	case DeletePointsByFilterKind:
		if err := writeJSONBlob(&buf, op.DeleteFilter); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("ops: unknown point operation kind %d", op.Kind)
	}
	return buf.Bytes(), nil
}

// DecodePointOperation is the inverse of EncodePointOperation.
func DecodePointOperation(data []byte) (PointOperation, error) {
	r := bytes.NewReader(data)
	kindByte, err := r.ReadByte()
	if err != nil {
		return PointOperation{}, err
	}
	kind := PointOpKind(kindByte)
	op := PointOperation{Kind: kind}

	switch kind {
	case UpsertPointsKind:
		sub, err := r.ReadByte()
		if err != nil {
			return op, err
		}
		switch sub {
		case upsertSubBatch:
			var b Batch
			nIDs, err := readUvarint(r)
			if err != nil {
				return op, err
			}
			b.IDs = make([]pointid.ID, nIDs)
			for i := range b.IDs {
				if b.IDs[i], err = readID(r); err != nil {
					return op, err
				}
			}
			nVecs, err := readUvarint(r)
			if err != nil {
				return op, err
			}
			b.Vectors = make([][]float32, nVecs)
			for i := range b.Vectors {
				if b.Vectors[i], err = readVector(r); err != nil {
					return op, err
				}
			}
			if err := readJSONBlob(r, &b.Payloads); err != nil {
				return op, err
			}
			op.UpsertBatch = &b
		case upsertSubPoints:
			n, err := readUvarint(r)
			if err != nil {
				return op, err
			}
			points := make([]PointStruct, n)
			for i := range points {
				if points[i], err = readPointStruct(r); err != nil {
					return op, err
				}
			}
			op.UpsertPoints = points
		default:
			return op, fmt.Errorf("ops: unknown upsert sub-kind %d", sub)
		}
	case DeletePointsKind:
		n, err := readUvarint(r)
		if err != nil {
			return op, err
		}
		ids := make([]pointid.ID, n)
		for i := range ids {
			if ids[i], err = readID(r); err != nil {
				return op, err
			}
		}
		op.DeleteIDs = ids
	case DeletePointsByFilterKind:
		var f payload.Filter
		if err := readJSONBlob(r, &f); err != nil {
			return op, err
		}
		op.DeleteFilter = &f
	default:
		return op, fmt.Errorf("ops: unknown point operation kind %d", kind)
	}
	return op, nil
}

// EncodePayloadOperation serializes op into the binary envelope.
func EncodePayloadOperation(op PayloadOperation) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(op.Kind))
	if err := writeJSONBlob(&buf, op.Payload); err != nil {
		return nil, err
	}
	writeUvarint(&buf, uint64(len(op.Keys)))
	for _, k := range op.Keys {
		writeUvarint(&buf, uint64(len(k)))
		buf.WriteString(k)
	}
	writeUvarint(&buf, uint64(len(op.Points)))
	for _, id := range op.Points {
		writeID(&buf, id)
	}
	return buf.Bytes(), nil
}

// DecodePayloadOperation is the inverse of EncodePayloadOperation.
func DecodePayloadOperation(data []byte) (PayloadOperation, error) {
	r := bytes.NewReader(data)
	kindByte, err := r.ReadByte()
	if err != nil {
		return PayloadOperation{}, err
	}
	op := PayloadOperation{Kind: PayloadOpKind(kindByte)}

	var p payload.Payload
	if err := readJSONBlob(r, &p); err != nil {
		return op, err
	}
	op.Payload = p

	nKeys, err := readUvarint(r)
	if err != nil {
		return op, err
	}
	keys := make([]string, nKeys)
	for i := range keys {
		klen, err := readUvarint(r)
		if err != nil {
			return op, err
		}
		kb := make([]byte, klen)
		if _, err := readFull(r, kb); err != nil {
			return op, err
		}
		keys[i] = string(kb)
	}
	if nKeys > 0 {
		op.Keys = keys
	}

	nPoints, err := readUvarint(r)
	if err != nil {
		return op, err
	}
	points := make([]pointid.ID, nPoints)
	for i := range points {
		if points[i], err = readID(r); err != nil {
			return op, err
		}
	}
	op.Points = points
	return op, nil
}
