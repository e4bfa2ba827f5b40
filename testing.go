package kvbridge

import (
	"sort"
	"sync"

	"github.com/vidardb/kvbridge/internal/engine"
)

// MockEngine is a minimal engine.Engine implementation for tests of
// code built on top of this package, tracking call counts for Open,
// Close, Put, Get and Delete.
type MockEngine struct {
	mu   sync.RWMutex
	data map[string][]byte
	open bool

	OpenCalls   int
	CloseCalls  int
	PutCalls    int
	GetCalls    int
	DeleteCalls int
}

// NewMockEngine creates an empty, unopened mock engine.
func NewMockEngine() *MockEngine {
	return &MockEngine{data: make(map[string][]byte)}
}

func (m *MockEngine) Open(path string, opts engine.OpenOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.OpenCalls++
	m.open = true
	return nil
}

func (m *MockEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CloseCalls++
	m.open = false
	return nil
}

func (m *MockEngine) Count() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.data)), nil
}

func (m *MockEngine) Put(key, val []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PutCalls++
	if !m.open {
		return false, NewError("MockEngine.Put", EngineError, "engine not open")
	}
	cp := make([]byte, len(val))
	copy(cp, val)
	m.data[string(key)] = cp
	return true, nil
}

func (m *MockEngine) Get(key []byte) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.GetCalls++
	v, ok := m.data[string(key)]
	if !ok {
		return nil, false, nil
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (m *MockEngine) Delete(key []byte) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.DeleteCalls++
	_, ok := m.data[string(key)]
	delete(m.data, string(key))
	return ok, nil
}

// GetIter and ParseRangeOptions are intentionally minimal: tests of the
// dispatch loop's iteration and range-query paths exercise engine/memkv
// instead, which implements the real snapshot/serialize behavior.

func (m *MockEngine) GetIter() (engine.Iterator, error) {
	return &mockIterator{keys: m.sortedKeys()}, nil
}

func (m *MockEngine) ParseRangeOptions(opts engine.RangeOptions) (engine.RangeCursor, engine.ReadOptions, error) {
	ro := engine.ReadOptions{Start: opts.Start, Limit: opts.Limit, BatchCapacity: opts.BatchCapacity, Attrs: opts.Attrs}
	return &mockRangeCursor{keys: m.sortedKeys()}, ro, nil
}

func (m *MockEngine) sortedKeys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type mockIterator struct {
	keys []string
	pos  int
}

func (it *mockIterator) BatchRead(buf []byte) (int, bool, error) {
	it.pos = len(it.keys)
	return 0, false, nil
}

func (it *mockIterator) Close() error { return nil }

type mockRangeCursor struct {
	keys []string
	pos  int
}

func (rc *mockRangeCursor) RangeRead(ro engine.ReadOptions, buf []byte) (int, bool, error) {
	rc.pos = len(rc.keys)
	return 0, false, nil
}

func (rc *mockRangeCursor) ClearRangeMeta(ro engine.ReadOptions) error { return nil }

func (rc *mockRangeCursor) Close() error { return nil }

var _ engine.Engine = (*MockEngine)(nil)
