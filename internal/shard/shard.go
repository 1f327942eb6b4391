// Package shard implements the single-writer shard: one WAL and one active
// segment, with all writes funneled through a serial apply goroutine.
package shard

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/diffsec/vectorcore/internal/ops"
	"github.com/diffsec/vectorcore/internal/payload"
	"github.com/diffsec/vectorcore/internal/pointid"
	"github.com/diffsec/vectorcore/internal/segment"
	"github.com/diffsec/vectorcore/internal/vcerrors"
	"github.com/diffsec/vectorcore/internal/vclog"
	"github.com/diffsec/vectorcore/internal/wal"
)

const snapshotSeqFile = "snapshot_seq.txt"

// writeRequest is one pending write, submitted to the apply goroutine and
// resolved on result once the requested durability level is reached.
type writeRequest struct {
	op     anyOp
	wait   bool
	result chan writeResult
}

type writeResult struct {
	res ops.Result
	err error
}

// anyOp is either a PointOperation or a PayloadOperation, tagged so the
// apply loop and the WAL encoding can dispatch exhaustively.
type anyOp struct {
	point   *ops.PointOperation
	payload *ops.PayloadOperation
}

func pointOp(op ops.PointOperation) anyOp     { return anyOp{point: &op} }
func payloadOp(op ops.PayloadOperation) anyOp { return anyOp{payload: &op} }

// walRecord is the envelope written to the WAL for one operation: a flag
// saying which operation field is set, JSON-encoded together with that
// operation.
type walRecord struct {
	IsPoint bool                 `json:"is_point"`
	Point   *ops.PointOperation  `json:"point,omitempty"`
	Payload *ops.PayloadOperation `json:"payload,omitempty"`
}

// Shard owns one WAL and one active segment, with a single serial apply
// goroutine implementing the single-writer invariant.
type Shard struct {
	log     *wal.WAL
	seg     *segment.Segment
	cfg     segment.Config
	dataDir string

	appliedSeq uint64

	requests chan writeRequest
	done     chan struct{}
	wg       sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// Open opens or creates a shard rooted at dataDir (containing wal.db and
// payload.db), replaying the WAL tail into a freshly built segment.
func Open(dataDir string, cfg segment.Config) (*Shard, error) {
	w, err := wal.Open(filepath.Join(dataDir, "wal.db"))
	if err != nil {
		return nil, vcerrors.Wrap(vcerrors.ServiceError, err)
	}
	seg, err := segment.OpenWithSnapshot(cfg, filepath.Join(dataDir, "payload.db"), filepath.Join(dataDir, "snapshot"))
	if err != nil {
		w.Close()
		return nil, err
	}
	fromSeq, err := readSnapshotSeq(dataDir)
	if err != nil {
		w.Close()
		return nil, vcerrors.Wrap(vcerrors.ServiceError, err)
	}

	s := &Shard{
		log:        w,
		seg:        seg,
		cfg:        cfg,
		dataDir:    dataDir,
		appliedSeq: fromSeq,
		requests:   make(chan writeRequest, 64),
		done:       make(chan struct{}),
	}

	if err := w.Replay(fromSeq, func(e wal.Entry) error {
		var rec walRecord
		if err := json.Unmarshal(e.Payload, &rec); err != nil {
			return fmt.Errorf("shard: replay seq %d: %w", e.Seq, err)
		}
		if err := s.apply(rec); err != nil {
			vclog.Warnf("shard: replay seq %d failed: %v", e.Seq, err)
		}
		s.appliedSeq = e.Seq + 1
		return nil
	}); err != nil {
		w.Close()
		return nil, vcerrors.Wrap(vcerrors.ServiceError, err)
	}

	s.wg.Add(1)
	go s.run()
	return s, nil
}

// Close stops the apply goroutine and closes the WAL and segment. Only the
// first call does this; later calls return the first call's result.
func (s *Shard) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
		s.seg.Close()
		s.closeErr = s.log.Close()
	})
	return s.closeErr
}

func (s *Shard) run() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.requests:
			s.handle(req)
		case <-s.done:
			return
		}
	}
}

func (s *Shard) handle(req writeRequest) {
	rec := toRecord(req.op)
	data, err := json.Marshal(rec)
	if err != nil {
		req.result <- writeResult{err: vcerrors.Wrap(vcerrors.ServiceError, err)}
		return
	}

	seq, err := s.log.Append(data)
	if err != nil {
		req.result <- writeResult{err: vcerrors.Wrap(vcerrors.ServiceError, err)}
		return
	}

	if !req.wait {
		// The caller is released as soon as the WAL append lands, but the
		// apply itself still runs here, on the single run() goroutine,
		// strictly after every request ahead of it and strictly before
		// every request behind it. Detaching it onto its own goroutine
		// would let a later wait=true op apply out of WAL order and would
		// race appliedSeq, which only this goroutine is allowed to touch.
		req.result <- writeResult{res: ops.Result{OperationID: seq, Status: ops.Acknowledged}}
		if err := s.apply(rec); err != nil {
			vclog.Errorf("shard: deferred apply of seq %d failed: %v", seq, err)
		}
		s.appliedSeq = seq + 1
		return
	}

	if err := s.apply(rec); err != nil {
		req.result <- writeResult{err: err}
		return
	}
	s.appliedSeq = seq + 1
	req.result <- writeResult{res: ops.Result{OperationID: seq, Status: ops.Completed}}
}

func toRecord(op anyOp) walRecord {
	if op.point != nil {
		return walRecord{IsPoint: true, Point: op.point}
	}
	return walRecord{IsPoint: false, Payload: op.payload}
}

func (s *Shard) apply(rec walRecord) error {
	if rec.IsPoint {
		return s.applyPoint(*rec.Point)
	}
	return s.applyPayload(*rec.Payload)
}

func (s *Shard) applyPoint(op ops.PointOperation) error {
	switch op.Kind {
	case ops.UpsertPointsKind:
		points, err := op.Points()
		if err != nil {
			return err
		}
		for _, p := range points {
			if err := s.seg.Upsert(p.ID, p.Vector, p.Payload); err != nil {
				return err
			}
		}
		return nil
	case ops.DeletePointsKind:
		for _, id := range op.DeleteIDs {
			if err := s.seg.Delete(id); err != nil && vcerrors.KindOf(err) != vcerrors.NotFound {
				return err
			}
		}
		return nil
	case ops.DeletePointsByFilterKind:
		_, err := s.seg.DeleteByFilter(op.DeleteFilter)
		return err
	default:
		return fmt.Errorf("shard: unknown point operation kind %d", op.Kind)
	}
}

func (s *Shard) applyPayload(op ops.PayloadOperation) error {
	switch op.Kind {
	case ops.SetPayloadKind:
		for _, id := range op.Points {
			if err := s.seg.SetPayload(id, op.Payload); err != nil && vcerrors.KindOf(err) != vcerrors.NotFound {
				return err
			}
		}
		return nil
	case ops.DeletePayloadKind:
		for _, id := range op.Points {
			if err := s.seg.DeletePayloadKeys(id, op.Keys); err != nil && vcerrors.KindOf(err) != vcerrors.NotFound {
				return err
			}
		}
		return nil
	case ops.ClearPayloadKind:
		for _, id := range op.Points {
			if err := s.seg.ClearPayload(id); err != nil && vcerrors.KindOf(err) != vcerrors.NotFound {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("shard: unknown payload operation kind %d", op.Kind)
	}
}

// UpdatePoints submits a PointOperation. If wait is true, the call resolves
// Completed only after WAL append and apply both succeed; otherwise it
// resolves Acknowledged right after WAL append.
func (s *Shard) UpdatePoints(op ops.PointOperation, wait bool) (ops.Result, error) {
	return s.submit(pointOp(op), wait)
}

// UpdatePayload submits a PayloadOperation with the same ack semantics as
// UpdatePoints.
func (s *Shard) UpdatePayload(op ops.PayloadOperation, wait bool) (ops.Result, error) {
	return s.submit(payloadOp(op), wait)
}

func (s *Shard) submit(op anyOp, wait bool) (ops.Result, error) {
	req := writeRequest{op: op, wait: wait, result: make(chan writeResult, 1)}
	select {
	case s.requests <- req:
	case <-s.done:
		return ops.Result{}, vcerrors.New(vcerrors.ShardUnavailable, "shard is closed")
	}
	res := <-req.result
	return res.res, res.err
}

// Search runs a read against the shard's current segment. Reads bypass the
// apply goroutine entirely; the segment's own lock gives them a consistent
// view as of whatever the most recently applied write was.
func (s *Shard) Search(query []float32, filter *payload.Filter, top, ef int) ([]segment.ScoredID, error) {
	return s.seg.Search(query, filter, top, ef)
}

// Retrieve fetches points by id from this shard.
func (s *Shard) Retrieve(ids []pointid.ID, withPayload, withVector bool) ([]segment.RetrievedPoint, error) {
	return s.seg.Retrieve(ids, withPayload, withVector)
}

// Scroll returns a page of this shard's points.
func (s *Shard) Scroll(after *pointid.ID, limit int, filter *payload.Filter) ([]pointid.ID, *pointid.ID, error) {
	return s.seg.Scroll(after, limit, filter)
}

// Snapshot flushes the segment's vector store and graph to dataDir/snapshot
// and compacts the WAL up to the applied sequence, so a later Open can skip
// straight to the snapshot instead of replaying from the start.
func (s *Shard) Snapshot() error {
	if err := s.seg.Snapshot(filepath.Join(s.dataDir, "snapshot")); err != nil {
		return err
	}
	seq := s.appliedSeq
	if err := writeSnapshotSeq(s.dataDir, seq); err != nil {
		return err
	}
	return s.log.CompactBefore(seq)
}

func readSnapshotSeq(dataDir string) (uint64, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, snapshotSeqFile))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	seq, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("shard: parse snapshot seq: %w", err)
	}
	return seq, nil
}

func writeSnapshotSeq(dataDir string, seq uint64) error {
	return os.WriteFile(filepath.Join(dataDir, snapshotSeqFile), []byte(strconv.FormatUint(seq, 10)), 0o644)
}
