package worker

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vidardb/kvbridge/engine/memkv"
	"github.com/vidardb/kvbridge/internal/engine"
	"github.com/vidardb/kvbridge/internal/shm"
	"github.com/vidardb/kvbridge/internal/wire"
)

func requireDevShm(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(shm.Dir); err != nil {
		t.Skipf("skipping: %s not available: %v", shm.Dir, err)
	}
}

func newTestRunner(channelName string) *Runner {
	return New(nil, Config{
		WorkerID:    1,
		ChannelName: channelName,
		NewEngine:   func() engine.Engine { return memkv.New() },
	})
}

func TestRunnerOpenPutGetDel(t *testing.T) {
	r := newTestRunner("/kvbridge-test-runner-basic")
	h := wire.Header{Op: wire.OpOpen, DBID: 1, RelID: 100}

	openBuf := make([]byte, 128)
	n, err := wire.EncodeOpenEntity(wire.OpenEntity{Path: "mem"}, openBuf)
	require.NoError(t, err)
	resp := make([]byte, 64)
	n, err = r.handle(h, openBuf[:n], resp)
	require.NoError(t, err)
	br, err := wire.DecodeBoolResultEntity(resp[:n])
	require.NoError(t, err)
	require.True(t, br.Ok)

	putBuf := make([]byte, 64)
	n, err = wire.EncodeKVEntity(wire.KVEntity{Key: []byte("k1"), Value: []byte("v1")}, putBuf)
	require.NoError(t, err)
	n, err = r.handle(wire.Header{Op: wire.OpPut, DBID: 1, RelID: 100}, putBuf[:n], resp)
	require.NoError(t, err)
	br, err = wire.DecodeBoolResultEntity(resp[:n])
	require.NoError(t, err)
	require.True(t, br.Ok)

	getBuf := make([]byte, 64)
	n, err = wire.EncodeKeyEntity(wire.KeyEntity{Key: []byte("k1")}, getBuf)
	require.NoError(t, err)
	n, err = r.handle(wire.Header{Op: wire.OpGet, DBID: 1, RelID: 100}, getBuf[:n], resp)
	require.NoError(t, err)
	gr, err := wire.DecodeGetResultEntity(resp[:n])
	require.NoError(t, err)
	require.True(t, gr.Found)
	require.Equal(t, []byte("v1"), gr.Value)

	n, err = r.handle(wire.Header{Op: wire.OpCount, DBID: 1, RelID: 100}, nil, resp)
	require.NoError(t, err)
	cr, err := wire.DecodeCountResultEntity(resp[:n])
	require.NoError(t, err)
	require.Equal(t, uint64(1), cr.Count)

	delBuf := make([]byte, 64)
	n, err = wire.EncodeKeyEntity(wire.KeyEntity{Key: []byte("k1")}, delBuf)
	require.NoError(t, err)
	n, err = r.handle(wire.Header{Op: wire.OpDel, DBID: 1, RelID: 100}, delBuf[:n], resp)
	require.NoError(t, err)
	br, err = wire.DecodeBoolResultEntity(resp[:n])
	require.NoError(t, err)
	require.True(t, br.Ok)
}

func TestRunnerRejectsUnknownDatabase(t *testing.T) {
	r := newTestRunner("/kvbridge-test-runner-unknown-db")
	_, err := r.handle(wire.Header{Op: wire.OpCount, DBID: 99, RelID: 1}, nil, make([]byte, 16))
	require.Error(t, err)
}

func TestRunnerLoadReadBatchDelCursor(t *testing.T) {
	requireDevShm(t)
	r := newTestRunner("/kvbridge-test-runner-cursor")
	openHdr := wire.Header{Op: wire.OpOpen, DBID: 2, RelID: 7}
	openBuf := make([]byte, 128)
	n, err := wire.EncodeOpenEntity(wire.OpenEntity{Path: "mem"}, openBuf)
	require.NoError(t, err)
	resp := make([]byte, 64)
	_, err = r.handle(openHdr, openBuf[:n], resp)
	require.NoError(t, err)

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}} {
		putBuf := make([]byte, 64)
		n, err := wire.EncodeKVEntity(wire.KVEntity{Key: []byte(kv[0]), Value: []byte(kv[1])}, putBuf)
		require.NoError(t, err)
		_, err = r.handle(wire.Header{Op: wire.OpPut, DBID: 2, RelID: 7}, putBuf[:n], resp)
		require.NoError(t, err)
	}

	loadBuf := make([]byte, 32)
	n, err = wire.EncodeKVEntity(wire.KVEntity{Key: []byte("c"), Value: []byte("3")}, loadBuf)
	require.NoError(t, err)
	_, err = r.handle(wire.Header{Op: wire.OpLoad, DBID: 2, RelID: 7}, loadBuf[:n], resp)
	require.NoError(t, err)

	cursorBuf := make([]byte, 8)
	n, err = wire.EncodeCursorEntity(wire.CursorEntity{CursorID: 1}, cursorBuf)
	require.NoError(t, err)
	n, err = r.handle(wire.Header{Op: wire.OpReadBatch, DBID: 2, RelID: 7}, cursorBuf[:n], resp)
	require.NoError(t, err)
	br, err := wire.DecodeBatchResultEntity(resp[:n])
	require.NoError(t, err)
	require.False(t, br.HasMore)

	delBuf := make([]byte, 8)
	n, err = wire.EncodeCursorEntity(wire.CursorEntity{CursorID: 1}, delBuf)
	require.NoError(t, err)
	n, err = r.handle(wire.Header{Op: wire.OpDelCursor, DBID: 2, RelID: 7}, delBuf[:n], resp)
	require.NoError(t, err)
	res, err := wire.DecodeBoolResultEntity(resp[:n])
	require.NoError(t, err)
	require.True(t, res.Ok)

	// Closing an already-closed (or never-opened) cursor is a no-op that
	// still reports success.
	n, err = r.handle(wire.Header{Op: wire.OpDelCursor, DBID: 2, RelID: 7}, delBuf, resp)
	require.NoError(t, err)
	res, err = wire.DecodeBoolResultEntity(resp[:n])
	require.NoError(t, err)
	require.True(t, res.Ok)
}

func TestRunnerRangeQueryAndClear(t *testing.T) {
	requireDevShm(t)
	r := newTestRunner("/kvbridge-test-runner-range")
	openHdr := wire.Header{Op: wire.OpOpen, DBID: 3, RelID: 5}
	openBuf := make([]byte, 128)
	n, err := wire.EncodeOpenEntity(wire.OpenEntity{Path: "mem"}, openBuf)
	require.NoError(t, err)
	resp := make([]byte, 64)
	_, err = r.handle(openHdr, openBuf[:n], resp)
	require.NoError(t, err)

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		putBuf := make([]byte, 64)
		n, err := wire.EncodeKVEntity(wire.KVEntity{Key: []byte(kv[0]), Value: []byte(kv[1])}, putBuf)
		require.NoError(t, err)
		_, err = r.handle(wire.Header{Op: wire.OpPut, DBID: 3, RelID: 5}, putBuf[:n], resp)
		require.NoError(t, err)
	}

	rqBuf := make([]byte, 64)
	n, err = wire.EncodeRangeQueryArgsEntity(wire.RangeQueryArgsEntity{
		CursorID: 9, Start: []byte("a"), Limit: []byte("c"), BatchCapacity: 4096,
	}, rqBuf)
	require.NoError(t, err)
	n, err = r.handle(wire.Header{Op: wire.OpRangeQuery, DBID: 3, RelID: 5}, rqBuf[:n], resp)
	require.NoError(t, err)
	br, err := wire.DecodeBatchResultEntity(resp[:n])
	require.NoError(t, err)
	require.False(t, br.HasMore)

	clearBuf := make([]byte, 8)
	n, err = wire.EncodeCursorEntity(wire.CursorEntity{CursorID: 9}, clearBuf)
	require.NoError(t, err)
	n, err = r.handle(wire.Header{Op: wire.OpClearRangeQuery, DBID: 3, RelID: 5}, clearBuf[:n], resp)
	require.NoError(t, err)
	res, err := wire.DecodeBoolResultEntity(resp[:n])
	require.NoError(t, err)
	require.True(t, res.Ok)
}
