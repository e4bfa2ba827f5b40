// Package engine defines the storage-engine collaborator contract the
// worker dispatches onto. It is kept separate from internal/worker to
// avoid an import cycle between the worker and any concrete engine
// implementation (engine/memkv, engine/buntkv).
package engine

import "errors"

// ErrNotFound reports a missing key. Engine.Get does not return it: a
// miss is reported as ok == false with a nil error.
var ErrNotFound = errors.New("engine: key not found")

// ErrBatchTooSmall is returned by BatchRead/RangeRead when the next
// undelivered entry alone does not fit in the caller's buffer, so no
// progress can be made without growing the bulk segment.
var ErrBatchTooSmall = errors.New("engine: entry larger than batch buffer")

// OpenOptions carries the engine configuration passed through an Open
// request's entity payload, unchanged, to the engine collaborator.
type OpenOptions struct {
	// RawOpts is the opaque engine_opts passthrough.
	RawOpts []byte
	// ColumnFlag selects row-store (false) or column-store (true) layout.
	ColumnFlag bool
	// AttrCount is the number of columns when ColumnFlag is set.
	AttrCount int32
}

// ReadOptions describes one in-progress range-query session, produced by
// ParseRangeOptions and threaded through successive RangeRead calls.
type ReadOptions struct {
	Start         []byte
	Limit         []byte
	BatchCapacity uint64
	Attrs         []int32
}

// RangeOptions is the raw range-query request payload.
type RangeOptions struct {
	Start         []byte
	Limit         []byte
	BatchCapacity uint64
	Attrs         []int32
}

// Engine is the storage-engine collaborator the worker drives. A worker
// opens one Engine instance per DBID and shares it among every client
// that opens that DBID on that worker (see internal/worker's
// ref-counting).
type Engine interface {
	Open(path string, opts OpenOptions) error
	Close() error
	Count() (uint64, error)
	Put(key, val []byte) (bool, error)
	Get(key []byte) (val []byte, ok bool, err error)
	Delete(key []byte) (bool, error)
	GetIter() (Iterator, error)
	ParseRangeOptions(opts RangeOptions) (RangeCursor, ReadOptions, error)
}

// Iterator is a forward scan cursor kept in the worker on behalf of one
// client, addressed by a worker.CursorKey.
type Iterator interface {
	// BatchRead serializes as many entries as fit in buf, returning the
	// number of bytes written and whether more entries remain.
	BatchRead(buf []byte) (n int, hasMore bool, err error)
	Close() error
}

// RangeCursor drives a bounded range scan across repeated RangeQuery
// round-trips.
type RangeCursor interface {
	RangeRead(ro ReadOptions, buf []byte) (n int, hasMore bool, err error)
	// ClearRangeMeta releases any engine-side state associated with ro
	// without closing the underlying iteration object.
	ClearRangeMeta(ro ReadOptions) error
	Close() error
}
