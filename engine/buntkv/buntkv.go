// Package buntkv is the default production-shaped engine.Engine,
// backed by tidwall/buntdb. buntdb's native Ascend/AscendRange iteration
// maps directly onto this module's GetIter/ParseRangeOptions operations.
package buntkv

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/tidwall/buntdb"

	"github.com/vidardb/kvbridge/internal/engine"
)

// Engine adapts a buntdb.DB to engine.Engine.
type Engine struct {
	mu sync.Mutex
	db *buntdb.DB
}

// New creates an unopened buntkv engine.
func New() *Engine {
	return &Engine{}
}

func (e *Engine) Open(path string, opts engine.OpenOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db != nil {
		return nil
	}
	if path == "" {
		path = ":memory:"
	}
	db, err := buntdb.Open(path)
	if err != nil {
		return fmt.Errorf("buntkv: open: %w", err)
	}
	e.db = db
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil
	}
	err := e.db.Close()
	e.db = nil
	return err
}

func (e *Engine) Count() (uint64, error) {
	db, err := e.handle()
	if err != nil {
		return 0, err
	}
	var n uint64
	err = db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(k, v string) bool {
			n++
			return true
		})
	})
	return n, err
}

func (e *Engine) Put(key, val []byte) (bool, error) {
	db, err := e.handle()
	if err != nil {
		return false, err
	}
	err = db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(string(key), string(val), nil)
		return err
	})
	return err == nil, err
}

func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	db, err := e.handle()
	if err != nil {
		return nil, false, err
	}
	var val string
	err = db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(string(key))
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return []byte(val), true, nil
}

func (e *Engine) Delete(key []byte) (bool, error) {
	db, err := e.handle()
	if err != nil {
		return false, err
	}
	err = db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(string(key))
		return err
	})
	if err == buntdb.ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// GetIter snapshots the ascending key order at call time, then fetches
// each value lazily in BatchRead. The snapshot-of-keys approach avoids
// holding a buntdb transaction open across the worker's dispatch loop.
func (e *Engine) GetIter() (engine.Iterator, error) {
	db, err := e.handle()
	if err != nil {
		return nil, err
	}
	var keys []string
	err = db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("", func(k, v string) bool {
			keys = append(keys, k)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	return &iterator{e: e, keys: keys}, nil
}

// ParseRangeOptions snapshots the ascending key order within [start, limit).
func (e *Engine) ParseRangeOptions(opts engine.RangeOptions) (engine.RangeCursor, engine.ReadOptions, error) {
	ro := engine.ReadOptions{
		Start:         opts.Start,
		Limit:         opts.Limit,
		BatchCapacity: opts.BatchCapacity,
		Attrs:         opts.Attrs,
	}
	db, err := e.handle()
	if err != nil {
		return nil, ro, err
	}
	var keys []string
	err = db.View(func(tx *buntdb.Tx) error {
		return tx.AscendRange("", string(opts.Start), string(opts.Limit), func(k, v string) bool {
			keys = append(keys, k)
			return true
		})
	})
	if err != nil {
		return nil, ro, err
	}
	return &rangeCursor{e: e, keys: keys}, ro, nil
}

func (e *Engine) handle() (*buntdb.DB, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.db == nil {
		return nil, fmt.Errorf("buntkv: engine not open")
	}
	return e.db, nil
}

// iterator and rangeCursor both serialize entries as:
// key_len(u32) || key || val_len(u32) || val.

type iterator struct {
	e    *Engine
	keys []string
	pos  int
}

func (it *iterator) BatchRead(buf []byte) (int, bool, error) {
	n := 0
	for it.pos < len(it.keys) {
		key := it.keys[it.pos]
		val, ok, err := it.e.Get([]byte(key))
		if err != nil {
			return n, true, err
		}
		if !ok {
			it.pos++
			continue
		}
		need := 4 + len(key) + 4 + len(val)
		if n+need > len(buf) {
			if n == 0 {
				return 0, false, engine.ErrBatchTooSmall
			}
			return n, true, nil
		}
		binary.LittleEndian.PutUint32(buf[n:], uint32(len(key)))
		n += 4
		n += copy(buf[n:], key)
		binary.LittleEndian.PutUint32(buf[n:], uint32(len(val)))
		n += 4
		n += copy(buf[n:], val)
		it.pos++
	}
	return n, false, nil
}

func (it *iterator) Close() error { return nil }

type rangeCursor struct {
	e    *Engine
	keys []string
	pos  int
}

func (rc *rangeCursor) RangeRead(ro engine.ReadOptions, buf []byte) (int, bool, error) {
	n := 0
	for rc.pos < len(rc.keys) {
		key := rc.keys[rc.pos]
		val, ok, err := rc.e.Get([]byte(key))
		if err != nil {
			return n, true, err
		}
		if !ok {
			rc.pos++
			continue
		}
		need := 4 + len(key) + 4 + len(val)
		if n+need > len(buf) {
			if n == 0 {
				return 0, false, engine.ErrBatchTooSmall
			}
			return n, true, nil
		}
		binary.LittleEndian.PutUint32(buf[n:], uint32(len(key)))
		n += 4
		n += copy(buf[n:], key)
		binary.LittleEndian.PutUint32(buf[n:], uint32(len(val)))
		n += 4
		n += copy(buf[n:], val)
		rc.pos++
	}
	return n, false, nil
}

func (rc *rangeCursor) ClearRangeMeta(ro engine.ReadOptions) error { return nil }

func (rc *rangeCursor) Close() error { return nil }

var _ engine.Engine = (*Engine)(nil)
