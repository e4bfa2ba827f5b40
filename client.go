package kvbridge

import (
	"context"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/vidardb/kvbridge/internal/bulk"
	"github.com/vidardb/kvbridge/internal/channel"
	"github.com/vidardb/kvbridge/internal/constants"
	"github.com/vidardb/kvbridge/internal/logging"
	"github.com/vidardb/kvbridge/internal/manager"
	"github.com/vidardb/kvbridge/internal/shm"
	"github.com/vidardb/kvbridge/internal/wire"
)

// Options configures Open.
type Options struct {
	// Context for cancellation during worker launch (if nil, uses context.Background())
	Context context.Context

	// Logger for debug/info messages (if nil, uses the package default)
	Logger *logging.Logger

	// Observer for metrics collection (if nil, uses a no-op observer)
	Observer Observer

	// EngineKind selects the worker's storage engine ("buntkv" or
	// "memkv"). Defaults to "buntkv".
	EngineKind string

	// WorkerBinaryPath is the kvworker executable to launch if no
	// worker is already serving WorkerID. Defaults to "kvworker".
	WorkerBinaryPath string

	// RunDir holds the manager's per-worker lock files. Defaults to
	// os.TempDir().
	RunDir string

	// LaunchTimeout bounds how long Open waits for a freshly launched
	// worker's channel to appear.
	LaunchTimeout time.Duration
}

// Client is a connection to one (worker, database) pair, speaking the
// channel protocol to a kvworker process. A Client is not safe for
// concurrent use from multiple goroutines; callers that need
// concurrency should use one Client per goroutine, or serialize access.
type Client struct {
	ch   *channel.Channel
	cc   *channel.Client
	mgr  *manager.Manager
	log  *logging.Logger
	obs  Observer

	workerID uint32
	dbID     uint32
	relID    uint32

	nextCursorID atomic.Uint64
}

// Open ensures a worker is running for workerID (launching one via the
// manager if necessary), opens a channel connection to it, and opens
// dbID against dbPath.
func Open(workerID, dbID uint32, dbPath string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{}
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	obs := opts.Observer
	if obs == nil {
		obs = NoOpObserver{}
	}
	engineKind := opts.EngineKind
	if engineKind == "" {
		engineKind = "buntkv"
	}
	launchTimeout := opts.LaunchTimeout
	if launchTimeout == 0 {
		launchTimeout = 5 * time.Second
	}

	mgr := manager.New(manager.Options{
		BinaryPath: opts.WorkerBinaryPath,
		RunDir:     opts.RunDir,
		Logger:     log,
	})

	channelName := fmt.Sprintf("%s%d", constants.ChannelPrefix, workerID)
	if !shm.Exists(channelName + ".arena") {
		if _, err := mgr.Launch(ctx, workerID, dbPath, engineKind); err != nil {
			return nil, WrapError("Open", err)
		}
		if err := waitForChannel(channelName, launchTimeout); err != nil {
			return nil, WrapError("Open", err)
		}
	}

	ch, err := channel.Open(channelName, constants.DefaultSlotCount)
	if err != nil {
		return nil, WrapError("Open", err)
	}
	cc := channel.NewClient(ch)

	c := &Client{
		ch:       ch,
		cc:       cc,
		mgr:      mgr,
		log:      log,
		obs:      obs,
		workerID: workerID,
		dbID:     dbID,
		relID:    uint32(os.Getpid()),
	}

	openBuf := make([]byte, 256)
	n, err := wire.EncodeOpenEntity(wire.OpenEntity{Path: dbPath}, openBuf)
	if err != nil {
		ch.Close()
		return nil, WrapError("Open", err)
	}
	if _, err := c.roundTrip(wire.OpOpen, openBuf[:n]); err != nil {
		ch.Close()
		return nil, err
	}
	return c, nil
}

func waitForChannel(channelName string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if shm.Exists(channelName + ".arena") {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("timeout waiting for channel %s", channelName)
}

func (c *Client) roundTrip(op wire.Op, entity []byte) ([]byte, error) {
	start := time.Now()
	slot, err := c.cc.Send(op, c.dbID, c.relID, entity)
	if err != nil {
		return nil, WrapError(op.String(), err)
	}
	h, resp, err := c.cc.Recv(slot)
	if err != nil {
		c.cc.Release(slot)
		return nil, WrapError(op.String(), err)
	}
	out := append([]byte(nil), resp...)
	c.cc.Release(slot)

	c.obs.ObserveRequest(uint64(time.Since(start).Nanoseconds()), h.Status == wire.StatusSuccess)
	if h.Status != wire.StatusSuccess {
		return nil, NewWorkerError(op.String(), c.workerID, c.dbID, EngineError, string(out))
	}
	return out, nil
}

// Put stores key/val.
func (c *Client) Put(key, val []byte) error {
	buf := make([]byte, constants.SlotSize-wire.HeaderSize)
	n, err := wire.EncodeKVEntity(wire.KVEntity{Key: key, Value: val}, buf)
	if err != nil {
		return WrapError("Put", err)
	}
	_, err = c.roundTrip(wire.OpPut, buf[:n])
	return err
}

// Get retrieves key, returning (nil, false, nil) if absent.
func (c *Client) Get(key []byte) ([]byte, bool, error) {
	buf := make([]byte, 4+len(key))
	n, err := wire.EncodeKeyEntity(wire.KeyEntity{Key: key}, buf)
	if err != nil {
		return nil, false, WrapError("Get", err)
	}
	resp, err := c.roundTrip(wire.OpGet, buf[:n])
	if err != nil {
		return nil, false, err
	}
	res, err := wire.DecodeGetResultEntity(resp)
	if err != nil {
		return nil, false, WrapError("Get", err)
	}
	return res.Value, res.Found, nil
}

// Delete removes key, reporting whether it was present.
func (c *Client) Delete(key []byte) (bool, error) {
	buf := make([]byte, 4+len(key))
	n, err := wire.EncodeKeyEntity(wire.KeyEntity{Key: key}, buf)
	if err != nil {
		return false, WrapError("Delete", err)
	}
	resp, err := c.roundTrip(wire.OpDel, buf[:n])
	if err != nil {
		return false, err
	}
	res, err := wire.DecodeBoolResultEntity(resp)
	if err != nil {
		return false, WrapError("Delete", err)
	}
	return res.Ok, nil
}

// Count returns the number of entries in the database.
func (c *Client) Count() (uint64, error) {
	resp, err := c.roundTrip(wire.OpCount, nil)
	if err != nil {
		return 0, err
	}
	res, err := wire.DecodeCountResultEntity(resp)
	if err != nil {
		return 0, WrapError("Count", err)
	}
	return res.Count, nil
}

// Close releases this client's reference to the open database and
// closes the channel connection. It does not terminate the worker.
func (c *Client) Close() error {
	_, err := c.roundTrip(wire.OpClose, nil)
	if cerr := c.ch.Close(); err == nil {
		err = cerr
	}
	return err
}

// Load is a bulk-write variant of Put, routed through the worker's
// OpLoad dispatch so bulk-insert traffic is distinguishable from
// interactive writes in logs and metrics. It is otherwise identical to
// Put.
func (c *Client) Load(key, val []byte) error {
	buf := make([]byte, constants.SlotSize-wire.HeaderSize)
	n, err := wire.EncodeKVEntity(wire.KVEntity{Key: key, Value: val}, buf)
	if err != nil {
		return WrapError("Load", err)
	}
	_, err = c.roundTrip(wire.OpLoad, buf[:n])
	return err
}

// Cursor opens a forward iterator over the whole database and fetches
// its first batch. The batch size is fixed by the worker.
func (c *Client) Cursor() (*Cursor, error) {
	cursorID := c.nextCursorID.Add(1)
	cur := &Cursor{c: c, cursorID: cursorID}
	hasMore, err := cur.fetch()
	if err != nil {
		return nil, err
	}
	seg, err := bulk.Open(constants.ReadBatchPrefix, c.relID, c.workerID, cursorID, constants.DefaultReadBatchSize)
	if err != nil {
		return nil, WrapError("ReadBatch", err)
	}
	cur.seg = seg
	pending, err := cur.capture()
	if err != nil {
		return nil, err
	}
	cur.pending = pending
	cur.pendingMore = hasMore
	return cur, nil
}

// Cursor is a client-side handle for an open forward iteration. It keeps
// one batch fetched ahead of what it has handed to the caller, so the
// batch that reports hasMore=false (the one that exhausts the engine's
// keys, per engine/memkv and engine/buntkv) is still delivered by Next
// instead of being discarded by a premature done check.
type Cursor struct {
	c        *Client
	cursorID uint64
	seg      *bulk.Segment
	size     uint64

	pending     []byte
	pendingMore bool
	exhausted   bool
}

func (cur *Cursor) fetch() (hasMore bool, err error) {
	buf := make([]byte, 8)
	n, err := wire.EncodeCursorEntity(wire.CursorEntity{CursorID: cur.cursorID}, buf)
	if err != nil {
		return false, WrapError("ReadBatch", err)
	}
	resp, err := cur.c.roundTrip(wire.OpReadBatch, buf[:n])
	if err != nil {
		return false, err
	}
	res, err := wire.DecodeBatchResultEntity(resp)
	if err != nil {
		return false, WrapError("ReadBatch", err)
	}
	cur.size = res.Size
	return res.HasMore, nil
}

// capture copies the bytes the most recent fetch wrote into the bulk
// segment, trimmed to the exact size the worker reported.
func (cur *Cursor) capture() ([]byte, error) {
	segBytes := cur.seg.Bytes()
	if cur.size > uint64(len(segBytes)) {
		return nil, NewError("ReadBatch.Next", ProtocolViolation, "batch size exceeds segment")
	}
	return append([]byte(nil), segBytes[:cur.size]...), nil
}

// Next returns the next undelivered batch and, if the one just
// delivered was not the scan's last, fetches the following one so it is
// ready for the next call. hasMore is false when the batch just
// returned is the final one.
func (cur *Cursor) Next() (payload []byte, hasMore bool, err error) {
	if cur.seg == nil {
		return nil, false, NewError("ReadBatch.Next", ProtocolViolation, "cursor not positioned")
	}
	if cur.exhausted {
		return nil, false, nil
	}
	data := cur.pending
	if !cur.pendingMore {
		cur.exhausted = true
		return data, false, nil
	}
	more, err := cur.fetch()
	if err != nil {
		return data, false, err
	}
	pending, err := cur.capture()
	if err != nil {
		return data, false, err
	}
	cur.pending = pending
	cur.pendingMore = more
	return data, true, nil
}

// Close releases the cursor on the worker and unmaps the bulk segment.
func (cur *Cursor) Close() error {
	buf := make([]byte, 8)
	n, _ := wire.EncodeCursorEntity(wire.CursorEntity{CursorID: cur.cursorID}, buf)
	_, err := cur.c.roundTrip(wire.OpDelCursor, buf[:n])
	if cerr := cur.seg.Close(); err == nil {
		err = cerr
	}
	return err
}

// RangeQuery opens a bounded iterator over [start, limit) and fetches
// its first batch.
func (c *Client) RangeQuery(start, limit []byte, batchCapacity uint64) (*RangeCursor, error) {
	cursorID := c.nextCursorID.Add(1)
	capacity := int(batchCapacity)
	if capacity <= 0 {
		capacity = constants.DefaultRangeBatchCapacity
	}
	rc := &RangeCursor{
		c: c, cursorID: cursorID, capacity: uint64(capacity),
		start: start, limit: limit,
	}
	hasMore, err := rc.fetch()
	if err != nil {
		return nil, err
	}

	seg, err := bulk.Open(constants.RangeQueryPrefix, c.relID, c.workerID, cursorID, capacity)
	if err != nil {
		return nil, WrapError("RangeQuery", err)
	}
	rc.seg = seg
	pending, err := rc.capture()
	if err != nil {
		return nil, err
	}
	rc.pending = pending
	rc.pendingMore = hasMore
	return rc, nil
}

// RangeCursor is a client-side handle for an open range query. Like
// Cursor, it keeps one batch fetched ahead of what it has handed to the
// caller so the batch that reports hasMore=false is still delivered.
type RangeCursor struct {
	c        *Client
	cursorID uint64
	capacity uint64
	start    []byte
	limit    []byte
	seg      *bulk.Segment
	size     uint64

	pending     []byte
	pendingMore bool
	exhausted   bool
}

func (rc *RangeCursor) fetch() (hasMore bool, err error) {
	buf := make([]byte, 64+len(rc.start)+len(rc.limit))
	n, err := wire.EncodeRangeQueryArgsEntity(wire.RangeQueryArgsEntity{
		CursorID: rc.cursorID, Start: rc.start, Limit: rc.limit, BatchCapacity: rc.capacity,
	}, buf)
	if err != nil {
		return false, WrapError("RangeQuery", err)
	}
	resp, err := rc.c.roundTrip(wire.OpRangeQuery, buf[:n])
	if err != nil {
		return false, err
	}
	res, err := wire.DecodeBatchResultEntity(resp)
	if err != nil {
		return false, WrapError("RangeQuery", err)
	}
	rc.size = res.Size
	return res.HasMore, nil
}

// capture copies the bytes the most recent fetch wrote into the bulk
// segment, trimmed to the exact size the worker reported.
func (rc *RangeCursor) capture() ([]byte, error) {
	segBytes := rc.seg.Bytes()
	if rc.size > uint64(len(segBytes)) {
		return nil, NewError("RangeQuery.Next", ProtocolViolation, "batch size exceeds segment")
	}
	return append([]byte(nil), segBytes[:rc.size]...), nil
}

// Next returns the next undelivered batch and, if the one just
// delivered was not the session's last, fetches the following one so
// it is ready for the next call. hasMore is false when the batch just
// returned is the final one.
func (rc *RangeCursor) Next() (payload []byte, hasMore bool, err error) {
	if rc.seg == nil {
		return nil, false, NewError("RangeQuery.Next", ProtocolViolation, "cursor not positioned")
	}
	if rc.exhausted {
		return nil, false, nil
	}
	data := rc.pending
	if !rc.pendingMore {
		rc.exhausted = true
		return data, false, nil
	}
	more, err := rc.fetch()
	if err != nil {
		return data, false, err
	}
	pending, err := rc.capture()
	if err != nil {
		return data, false, err
	}
	rc.pending = pending
	rc.pendingMore = more
	return data, true, nil
}

// Close clears the worker's range session and unmaps the bulk segment.
func (rc *RangeCursor) Close() error {
	buf := make([]byte, 8)
	n, _ := wire.EncodeCursorEntity(wire.CursorEntity{CursorID: rc.cursorID}, buf)
	_, err := rc.c.roundTrip(wire.OpClearRangeQuery, buf[:n])
	if cerr := rc.seg.Close(); err == nil {
		err = cerr
	}
	return err
}
