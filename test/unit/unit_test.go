//go:build !integration

// Package unit holds tests that exercise the bridge's public surface
// without needing /dev/shm or SysV semaphores, so they run in any CI
// environment.
package unit

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vidardb/kvbridge"
	"github.com/vidardb/kvbridge/internal/constants"
	"github.com/vidardb/kvbridge/internal/engine"
	"github.com/vidardb/kvbridge/internal/wire"
)

func TestWireHeaderSize(t *testing.T) {
	require.Equal(t, 28, wire.HeaderSize)
}

func TestOpStringCoversAllOps(t *testing.T) {
	ops := []wire.Op{
		wire.OpOpen, wire.OpClose, wire.OpCount, wire.OpPut, wire.OpGet, wire.OpDel,
		wire.OpLoad, wire.OpReadBatch, wire.OpDelCursor, wire.OpRangeQuery,
		wire.OpClearRangeQuery, wire.OpLaunch, wire.OpTerminate,
	}
	for _, op := range ops {
		require.NotEqual(t, "Unknown", op.String(), "op %d should have a name", op)
	}
	require.Equal(t, "Unknown", wire.Op(255).String())
}

func TestErrorTypesImplementError(t *testing.T) {
	var errs = []error{
		kvbridge.NewError("Get", kvbridge.ProtocolViolation, "bad entity"),
		kvbridge.NewWorkerError("Put", 1, 2, kvbridge.EngineError, "disk full"),
		kvbridge.WrapError("Close", fmt.Errorf("boom")),
	}
	for _, err := range errs {
		require.NotEmpty(t, err.Error())
	}
}

func TestIsCodeMatchesOnlyItsOwnCode(t *testing.T) {
	err := kvbridge.NewError("Get", kvbridge.BufferOverflow, "batch too big")
	require.True(t, kvbridge.IsCode(err, kvbridge.BufferOverflow))
	require.False(t, kvbridge.IsCode(err, kvbridge.ChannelClosed))
	require.False(t, kvbridge.IsCode(fmt.Errorf("plain"), kvbridge.BufferOverflow))
}

func TestNoOpObserverSatisfiesObserver(t *testing.T) {
	var _ kvbridge.Observer = kvbridge.NoOpObserver{}
	var _ kvbridge.Observer = kvbridge.NewMetricsObserver(kvbridge.NewMetrics())
}

func TestMetricsSnapshotAccumulates(t *testing.T) {
	m := kvbridge.NewMetrics()
	obs := kvbridge.NewMetricsObserver(m)
	obs.ObserveRequest(1000, true)
	obs.ObserveRequest(2000, false)
	obs.ObserveBulkBatch(4096)

	snap := m.Snapshot()
	require.Equal(t, uint64(2), snap.RequestsSent)
	require.Equal(t, uint64(1), snap.RequestErrors)
	require.Equal(t, uint64(4096), snap.BulkBytes)

	m.Reset()
	require.Equal(t, uint64(0), m.Snapshot().RequestsSent)
}

func TestChannelNameFormat(t *testing.T) {
	name := fmt.Sprintf("%s%d", constants.ChannelPrefix, 7)
	require.Equal(t, "/KVChannel7", name)
}

func TestDefaultSizesArePositive(t *testing.T) {
	require.Greater(t, constants.ArenaSize, 0)
	require.Greater(t, constants.SlotSize, 0)
	require.Greater(t, constants.DefaultSlotCount, 0)
	require.Greater(t, constants.DefaultReadBatchSize, 0)
	require.Greater(t, constants.DefaultRangeBatchCapacity, 0)
}

// mockEngine is a minimal engine.Engine used only to check interface
// compliance and constructor wiring, not to exercise real storage
// semantics.
type mockEngine struct {
	opened bool
	data   map[string][]byte
}

func newMockEngine() *mockEngine { return &mockEngine{data: make(map[string][]byte)} }

func (e *mockEngine) Open(path string, opts engine.OpenOptions) error { e.opened = true; return nil }
func (e *mockEngine) Close() error                                   { return nil }
func (e *mockEngine) Count() (uint64, error)                         { return uint64(len(e.data)), nil }

func (e *mockEngine) Put(key, val []byte) (bool, error) {
	_, existed := e.data[string(key)]
	e.data[string(key)] = append([]byte(nil), val...)
	return !existed, nil
}

func (e *mockEngine) Get(key []byte) ([]byte, bool, error) {
	v, ok := e.data[string(key)]
	return v, ok, nil
}

func (e *mockEngine) Delete(key []byte) (bool, error) {
	_, ok := e.data[string(key)]
	delete(e.data, string(key))
	return ok, nil
}

func (e *mockEngine) GetIter() (engine.Iterator, error) { return nil, engine.ErrNotFound }

func (e *mockEngine) ParseRangeOptions(opts engine.RangeOptions) (engine.RangeCursor, engine.ReadOptions, error) {
	return nil, engine.ReadOptions{}, engine.ErrNotFound
}

func TestMockEngineSatisfiesInterface(t *testing.T) {
	var e engine.Engine = newMockEngine()
	require.NoError(t, e.Open("mem", engine.OpenOptions{}))

	created, err := e.Put([]byte("k"), []byte("v"))
	require.NoError(t, err)
	require.True(t, created)

	val, ok, err := e.Get([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v"), val)

	n, err := e.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(1), n)

	deleted, err := e.Delete([]byte("k"))
	require.NoError(t, err)
	require.True(t, deleted)
}

func TestEngineFactorySelectsDistinctInstances(t *testing.T) {
	factory := func() engine.Engine { return newMockEngine() }
	a := factory()
	b := factory()
	require.NotSame(t, a.(*mockEngine), b.(*mockEngine))
}
