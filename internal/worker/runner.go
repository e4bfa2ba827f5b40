// Package worker implements the dispatch loop that turns requests
// arriving on a channel into calls against an embedded storage engine,
// and the per-connection state (open engine handles, open cursors and
// range sessions) that dispatch needs between requests.
package worker

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vidardb/kvbridge"
	"github.com/vidardb/kvbridge/internal/bulk"
	"github.com/vidardb/kvbridge/internal/channel"
	"github.com/vidardb/kvbridge/internal/constants"
	"github.com/vidardb/kvbridge/internal/engine"
	"github.com/vidardb/kvbridge/internal/logging"
	"github.com/vidardb/kvbridge/internal/wire"
)

// EngineFactory creates a fresh, unopened storage engine. The Runner
// calls it once per distinct DBID it is asked to Open.
type EngineFactory func() engine.Engine

// CursorKey identifies one client's open iteration session. A cursor
// belongs to the (client, cursor id) pair rather than to the DB alone,
// since a single client process can run several live iterations over
// the same database concurrently.
type CursorKey struct {
	ClientPID uint32
	CursorID  uint64
}

type dbHandle struct {
	eng      engine.Engine
	refCount int
	path     string
}

type cursorState struct {
	iter     engine.Iterator
	bulkSeg  *bulk.Segment
	capacity int
}

type rangeState struct {
	cur      engine.RangeCursor
	ro       engine.ReadOptions
	bulkSeg  *bulk.Segment
	capacity int
}

// Runner is one worker process's dispatch loop, grounded on the
// teacher's per-tag state machine: a single goroutine drains requests
// off the channel serially and consults and mutates the maps below.
// Engine calls run synchronously on that goroutine, so a slow engine
// call delays every later request.
type Runner struct {
	worker      *channel.Worker
	channelName string
	workerID    uint32
	newEngine   EngineFactory
	observer    kvbridge.Observer
	log         *logging.Logger

	mu      sync.Mutex
	dbs     map[uint32]*dbHandle
	cursors map[CursorKey]*cursorState
	ranges  map[CursorKey]*rangeState

	stopped atomic.Bool
}

// Config configures a new Runner.
type Config struct {
	WorkerID    uint32
	ChannelName string
	NewEngine   EngineFactory
	Observer    kvbridge.Observer
	Logger      *logging.Logger
}

// New constructs a Runner bound to worker. Call Run to start dispatching.
func New(w *channel.Worker, cfg Config) *Runner {
	obs := cfg.Observer
	if obs == nil {
		obs = kvbridge.NoOpObserver{}
	}
	log := cfg.Logger
	if log == nil {
		log = logging.Default()
	}
	return &Runner{
		worker:      w,
		channelName: cfg.ChannelName,
		workerID:    cfg.WorkerID,
		newEngine:   cfg.NewEngine,
		observer:    obs,
		log:         log,
		dbs:         make(map[uint32]*dbHandle),
		cursors:     make(map[CursorKey]*cursorState),
		ranges:      make(map[CursorKey]*rangeState),
	}
}

// Run drains requests until Stop is called or RecvRequest returns an
// unrecoverable error.
func (r *Runner) Run() error {
	buf := make([]byte, constants.ArenaSize)
	for !r.stopped.Load() {
		h, entity, err := r.worker.RecvRequest(buf)
		if err != nil {
			if r.stopped.Load() {
				return nil
			}
			return fmt.Errorf("worker: recv request: %w", err)
		}
		r.dispatch(h, entity)
	}
	return nil
}

// Stop requests the dispatch loop to exit once the request it is serving
// has been dispatched. A Run blocked waiting for a request keeps waiting
// until one arrives, serves it, and then returns.
func (r *Runner) Stop() { r.stopped.Store(true) }

func (r *Runner) dispatch(h wire.Header, entity []byte) {
	start := time.Now()
	respBuf := make([]byte, constants.SlotSize-wire.HeaderSize)
	status := wire.StatusSuccess
	n, derr := r.handle(h, entity, respBuf)
	success := derr == nil
	if derr != nil {
		status = wire.StatusFailure
		n = r.encodeError(derr, respBuf)
		r.log.Warnf("worker: channel=%s op=%s db=%d failed: %v", r.channelName, h.Op, h.DBID, derr)
	}
	r.observer.ObserveRequest(uint64(time.Since(start).Nanoseconds()), success)
	if err := r.worker.SendResponse(h, status, respBuf[:n]); err != nil {
		r.log.Errorf("worker: channel=%s send response op=%s db=%d: %v", r.channelName, h.Op, h.DBID, err)
	}
}

func (r *Runner) encodeError(err error, buf []byte) int {
	msg := err.Error()
	if len(msg) > len(buf) {
		msg = msg[:len(buf)]
	}
	return copy(buf, msg)
}

func (r *Runner) handle(h wire.Header, entity []byte, respBuf []byte) (int, error) {
	switch h.Op {
	case wire.OpOpen:
		return r.handleOpen(h, entity, respBuf)
	case wire.OpClose:
		return r.handleClose(h, respBuf)
	case wire.OpCount:
		return r.handleCount(h, respBuf)
	case wire.OpPut:
		return r.handlePut(h, entity, respBuf)
	case wire.OpGet:
		return r.handleGet(h, entity, respBuf)
	case wire.OpDel:
		return r.handleDel(h, entity, respBuf)
	case wire.OpLoad:
		return r.handleLoad(h, entity, respBuf)
	case wire.OpReadBatch:
		return r.handleReadBatch(h, entity, respBuf)
	case wire.OpDelCursor:
		return r.handleDelCursor(h, entity, respBuf)
	case wire.OpRangeQuery:
		return r.handleRangeQuery(h, entity, respBuf)
	case wire.OpClearRangeQuery:
		return r.handleClearRangeQuery(h, entity, respBuf)
	default:
		return 0, kvbridge.NewWorkerError("dispatch", r.workerID, h.DBID, kvbridge.ProtocolViolation, fmt.Sprintf("unknown op %s", h.Op))
	}
}

func (r *Runner) dbEngine(dbID uint32) (engine.Engine, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.dbs[dbID]
	if !ok {
		return nil, kvbridge.NewWorkerError("dispatch", r.workerID, dbID, kvbridge.ProtocolViolation, "database not open")
	}
	return d.eng, nil
}

// cursorKeyFor derives a CursorKey from a request header. RelID doubles
// as the requesting client's process id for cursor namespacing, since
// one channel connection always belongs to exactly one client process.
func cursorKeyFor(h wire.Header, cursorID uint64) CursorKey {
	return CursorKey{ClientPID: h.RelID, CursorID: cursorID}
}
