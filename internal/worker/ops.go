package worker

import (
	"io"

	"github.com/vidardb/kvbridge"
	"github.com/vidardb/kvbridge/internal/bulk"
	"github.com/vidardb/kvbridge/internal/constants"
	"github.com/vidardb/kvbridge/internal/engine"
	"github.com/vidardb/kvbridge/internal/wire"
)

func (r *Runner) handleOpen(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	req, err := wire.DecodeOpenEntity(entity)
	if err != nil {
		return 0, kvbridge.WrapError("Open", err)
	}

	r.mu.Lock()
	d, ok := r.dbs[h.DBID]
	if ok {
		d.refCount++
		r.mu.Unlock()
		return wire.EncodeBoolResultEntity(wire.BoolResultEntity{Ok: true}, respBuf)
	}
	r.mu.Unlock()

	eng := r.newEngine()
	if err := eng.Open(req.Path, engine.OpenOptions{
		RawOpts:    req.RawOpts,
		ColumnFlag: req.ColumnFlag,
		AttrCount:  req.AttrCount,
	}); err != nil {
		return 0, kvbridge.NewWorkerError("Open", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
	}

	r.mu.Lock()
	r.dbs[h.DBID] = &dbHandle{eng: eng, refCount: 1, path: req.Path}
	r.mu.Unlock()

	return wire.EncodeBoolResultEntity(wire.BoolResultEntity{Ok: true}, respBuf)
}

// handleClose decrements the open database's reference count. A handle
// reaching a reference count of zero is not closed: the Runner keeps the
// engine open for the rest of the process's life, so a client that
// reopens the same DBID does not pay the cost of a fresh engine Open.
func (r *Runner) handleClose(h wire.Header, respBuf []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dbs[h.DBID]
	if !ok {
		return 0, kvbridge.NewWorkerError("Close", r.workerID, h.DBID, kvbridge.ProtocolViolation, "database not open")
	}
	if d.refCount > 0 {
		d.refCount--
	}
	return wire.EncodeBoolResultEntity(wire.BoolResultEntity{Ok: true}, respBuf)
}

func (r *Runner) handleCount(h wire.Header, respBuf []byte) (int, error) {
	eng, err := r.dbEngine(h.DBID)
	if err != nil {
		return 0, err
	}
	n, err := eng.Count()
	if err != nil {
		return 0, kvbridge.NewWorkerError("Count", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
	}
	return wire.EncodeCountResultEntity(wire.CountResultEntity{Count: n}, respBuf)
}

func (r *Runner) handlePut(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	req, err := wire.DecodeKVEntity(entity)
	if err != nil {
		return 0, kvbridge.WrapError("Put", err)
	}
	eng, err := r.dbEngine(h.DBID)
	if err != nil {
		return 0, err
	}
	ok, err := eng.Put(req.Key, req.Value)
	if err != nil {
		return 0, kvbridge.NewWorkerError("Put", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
	}
	return wire.EncodeBoolResultEntity(wire.BoolResultEntity{Ok: ok}, respBuf)
}

func (r *Runner) handleGet(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	req, err := wire.DecodeKeyEntity(entity)
	if err != nil {
		return 0, kvbridge.WrapError("Get", err)
	}
	eng, err := r.dbEngine(h.DBID)
	if err != nil {
		return 0, err
	}
	val, ok, err := eng.Get(req.Key)
	if err != nil {
		return 0, kvbridge.NewWorkerError("Get", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
	}
	return wire.EncodeGetResultEntity(wire.GetResultEntity{Found: ok, Value: val}, respBuf)
}

func (r *Runner) handleDel(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	req, err := wire.DecodeKeyEntity(entity)
	if err != nil {
		return 0, kvbridge.WrapError("Del", err)
	}
	eng, err := r.dbEngine(h.DBID)
	if err != nil {
		return 0, err
	}
	ok, err := eng.Delete(req.Key)
	if err != nil {
		return 0, kvbridge.NewWorkerError("Del", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
	}
	return wire.EncodeBoolResultEntity(wire.BoolResultEntity{Ok: ok}, respBuf)
}

// handleLoad is a bulk-write variant of Put, carrying the same KVEntity
// layout and reporting its result the same way Put does. Clients use it
// for high-volume inserts; the distinct wire op lets bulk-load traffic
// be told apart from interactive writes in logs and metrics.
func (r *Runner) handleLoad(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	req, err := wire.DecodeKVEntity(entity)
	if err != nil {
		return 0, kvbridge.WrapError("Load", err)
	}
	eng, err := r.dbEngine(h.DBID)
	if err != nil {
		return 0, err
	}
	ok, err := eng.Put(req.Key, req.Value)
	if err != nil {
		return 0, kvbridge.NewWorkerError("Load", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
	}
	return wire.EncodeBoolResultEntity(wire.BoolResultEntity{Ok: ok}, respBuf)
}

// handleReadBatch serves one batch of a forward scan. On the first call
// for a given cursor id it opens the underlying iterator and the bulk
// segment that will carry every batch of this cursor's lifetime;
// subsequent calls with the same cursor id reuse both.
func (r *Runner) handleReadBatch(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	req, err := wire.DecodeCursorEntity(entity)
	if err != nil {
		return 0, kvbridge.WrapError("ReadBatch", err)
	}
	key := cursorKeyFor(h, req.CursorID)

	r.mu.Lock()
	cs, ok := r.cursors[key]
	r.mu.Unlock()

	if !ok {
		eng, err := r.dbEngine(h.DBID)
		if err != nil {
			return 0, err
		}
		iter, err := eng.GetIter()
		if err != nil {
			return 0, kvbridge.NewWorkerError("ReadBatch", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
		}
		seg, err := bulk.Create(constants.ReadBatchPrefix, key.ClientPID, r.workerID, key.CursorID, constants.DefaultReadBatchSize)
		if err != nil {
			return 0, kvbridge.NewWorkerError("ReadBatch", r.workerID, h.DBID, kvbridge.IpcSystemError, err.Error())
		}
		cs = &cursorState{iter: iter, bulkSeg: seg, capacity: constants.DefaultReadBatchSize}
		r.mu.Lock()
		r.cursors[key] = cs
		r.mu.Unlock()
	}

	n, hasMore, err := cs.iter.BatchRead(cs.bulkSeg.Bytes())
	if err != nil && err != io.EOF {
		return 0, kvbridge.NewWorkerError("ReadBatch", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
	}
	r.observer.ObserveBulkBatch(uint64(n))
	return wire.EncodeBatchResultEntity(wire.BatchResultEntity{HasMore: hasMore, Size: uint64(n)}, respBuf)
}

// handleDelCursor destroys the cursor identified by the request, if one
// is open. An absent cursor is not an error: CloseCursor is idempotent,
// so a client that closes twice (or races a worker-side eviction) still
// gets success back.
func (r *Runner) handleDelCursor(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	req, err := wire.DecodeCursorEntity(entity)
	if err != nil {
		return 0, kvbridge.WrapError("DelCursor", err)
	}
	key := cursorKeyFor(h, req.CursorID)
	r.mu.Lock()
	cs, ok := r.cursors[key]
	delete(r.cursors, key)
	r.mu.Unlock()
	if ok {
		cs.iter.Close()
		cs.bulkSeg.Close()
		bulk.Unlink(constants.ReadBatchPrefix, key.ClientPID, r.workerID, key.CursorID)
	}
	return wire.EncodeBoolResultEntity(wire.BoolResultEntity{Ok: true}, respBuf)
}

// handleRangeQuery serves one batch of a range session. On the first
// call for a given cursor id it parses the range options and opens a
// fresh session; subsequent calls with the same cursor id continue the
// already-open one, ignoring the repeated Start/Limit/Attrs (the client
// resends them only because the entity has no "continue" variant).
func (r *Runner) handleRangeQuery(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	req, err := wire.DecodeRangeQueryArgsEntity(entity)
	if err != nil {
		return 0, kvbridge.WrapError("RangeQuery", err)
	}
	key := cursorKeyFor(h, req.CursorID)

	r.mu.Lock()
	rs, ok := r.ranges[key]
	r.mu.Unlock()

	if !ok {
		eng, err := r.dbEngine(h.DBID)
		if err != nil {
			return 0, err
		}
		cur, ro, err := eng.ParseRangeOptions(engine.RangeOptions{
			Start:         req.Start,
			Limit:         req.Limit,
			BatchCapacity: req.BatchCapacity,
			Attrs:         req.Attrs,
		})
		if err != nil {
			return 0, kvbridge.NewWorkerError("RangeQuery", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
		}

		capacity := int(req.BatchCapacity)
		if capacity <= 0 {
			capacity = constants.DefaultRangeBatchCapacity
		}
		seg, err := bulk.Create(constants.RangeQueryPrefix, key.ClientPID, r.workerID, key.CursorID, capacity)
		if err != nil {
			return 0, kvbridge.NewWorkerError("RangeQuery", r.workerID, h.DBID, kvbridge.IpcSystemError, err.Error())
		}

		rs = &rangeState{cur: cur, ro: ro, bulkSeg: seg, capacity: capacity}
		r.mu.Lock()
		r.ranges[key] = rs
		r.mu.Unlock()
	}

	n, hasMore, err := rs.cur.RangeRead(rs.ro, rs.bulkSeg.Bytes())
	if err != nil && err != io.EOF {
		return 0, kvbridge.NewWorkerError("RangeQuery", r.workerID, h.DBID, kvbridge.EngineError, err.Error())
	}
	r.observer.ObserveBulkBatch(uint64(n))

	return wire.EncodeBatchResultEntity(wire.BatchResultEntity{HasMore: hasMore, Size: uint64(n)}, respBuf)
}

func (r *Runner) handleClearRangeQuery(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	req, err := wire.DecodeCursorEntity(entity)
	if err != nil {
		return 0, kvbridge.WrapError("ClearRangeQuery", err)
	}
	key := cursorKeyFor(h, req.CursorID)
	r.mu.Lock()
	rs, ok := r.ranges[key]
	delete(r.ranges, key)
	r.mu.Unlock()
	if !ok {
		// Mirrors handleDelCursor: clearing a range session that is
		// already gone (double-close, or a worker-side eviction race)
		// is not an error.
		return wire.EncodeBoolResultEntity(wire.BoolResultEntity{Ok: true}, respBuf)
	}
	rs.cur.ClearRangeMeta(rs.ro)
	rs.cur.Close()
	rs.bulkSeg.Close()
	bulk.Unlink(constants.RangeQueryPrefix, key.ClientPID, r.workerID, key.CursorID)
	return wire.EncodeBoolResultEntity(wire.BoolResultEntity{Ok: true}, respBuf)
}
