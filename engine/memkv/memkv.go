// Package memkv is a dependency-free, in-memory engine.Engine
// implementation used for tests and documentation: a correctness
// baseline, not a production path.
package memkv

import (
	"bytes"
	"encoding/binary"
	"sort"
	"sync"

	"github.com/vidardb/kvbridge/internal/engine"
)

// Engine is a sorted, in-memory key-value store.
type Engine struct {
	mu   sync.RWMutex
	data map[string][]byte
	open bool
}

// New creates an unopened memkv engine.
func New() *Engine {
	return &Engine{data: make(map[string][]byte)}
}

func (e *Engine) Open(path string, opts engine.OpenOptions) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = true
	return nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.open = false
	e.data = make(map[string][]byte)
	return nil
}

func (e *Engine) Count() (uint64, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return uint64(len(e.data)), nil
}

func (e *Engine) Put(key, val []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make([]byte, len(val))
	copy(cp, val)
	e.data[string(key)] = cp
	return true, nil
}

func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (e *Engine) Delete(key []byte) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.data[string(key)]
	delete(e.data, string(key))
	return ok, nil
}

func (e *Engine) sortedKeys() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	keys := make([]string, 0, len(e.data))
	for k := range e.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// GetIter returns a forward iterator over a snapshot of the current keys,
// taken at iterator creation time.
func (e *Engine) GetIter() (engine.Iterator, error) {
	return &iterator{e: e, keys: e.sortedKeys()}, nil
}

// ParseRangeOptions snapshots the keys in [start, limit) at call time.
func (e *Engine) ParseRangeOptions(opts engine.RangeOptions) (engine.RangeCursor, engine.ReadOptions, error) {
	ro := engine.ReadOptions{
		Start:         opts.Start,
		Limit:         opts.Limit,
		BatchCapacity: opts.BatchCapacity,
		Attrs:         opts.Attrs,
	}
	all := e.sortedKeys()
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if ro.Start != nil && bytes.Compare([]byte(k), ro.Start) < 0 {
			continue
		}
		if ro.Limit != nil && bytes.Compare([]byte(k), ro.Limit) >= 0 {
			continue
		}
		keys = append(keys, k)
	}
	return &rangeCursor{e: e, keys: keys}, ro, nil
}

// iterator serializes each entry as: key_len(u32) || key || val_len(u32) || val.
type iterator struct {
	e    *Engine
	keys []string
	pos  int
}

func (it *iterator) BatchRead(buf []byte) (int, bool, error) {
	n := 0
	for it.pos < len(it.keys) {
		key := it.keys[it.pos]
		it.e.mu.RLock()
		val, ok := it.e.data[key]
		it.e.mu.RUnlock()
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
		rc.e.mu.RLock()
		val, ok := rc.e.data[key]
		rc.e.mu.RUnlock()
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
