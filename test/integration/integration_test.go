//go:build integration

// Package integration drives the real shared-memory channel and a
// worker dispatch loop together, in-process, against the public
// kvbridge.Client API. Each test pre-creates the channel itself so
// kvbridge.Open finds a worker already "running" and skips launching
// a kvworker subprocess.
package integration

import (
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vidardb/kvbridge"
	"github.com/vidardb/kvbridge/engine/memkv"
	"github.com/vidardb/kvbridge/internal/channel"
	"github.com/vidardb/kvbridge/internal/constants"
	"github.com/vidardb/kvbridge/internal/engine"
	"github.com/vidardb/kvbridge/internal/shm"
	"github.com/vidardb/kvbridge/internal/worker"
)

func requireDevShm(t *testing.T) {
	t.Helper()
	if _, err := os.Stat(shm.Dir); err != nil {
		t.Skipf("skipping: %s not available: %v", shm.Dir, err)
	}
}

// openInProcess starts a worker dispatch loop over a freshly created
// channel and returns a connected Client plus a cleanup func. It stands
// in for a real kvworker process for tests that only need to exercise
// the wire protocol, not process supervision.
func openInProcess(t *testing.T, workerID, dbID uint32) (*kvbridge.Client, func()) {
	t.Helper()
	channelName := fmt.Sprintf("%s%d", constants.ChannelPrefix, workerID)

	ch, err := channel.Create(channelName, constants.DefaultSlotCount)
	require.NoError(t, err)

	r := worker.New(channel.NewWorker(ch), worker.Config{
		WorkerID:    workerID,
		ChannelName: channelName,
		NewEngine:   func() engine.Engine { return memkv.New() },
	})
	runErrCh := make(chan error, 1)
	go func() { runErrCh <- r.Run() }()

	client, err := kvbridge.Open(workerID, dbID, "mem", &kvbridge.Options{EngineKind: "mem"})
	require.NoError(t, err)

	cleanup := func() {
		client.Close()
		r.Stop()
		ch.Close()
		ch.Unlink()
	}
	return client, cleanup
}

func TestIntegrationPutGetDeleteCount(t *testing.T) {
	requireDevShm(t)
	client, cleanup := openInProcess(t, 9001, 1)
	defer cleanup()

	require.NoError(t, client.Put([]byte("k1"), []byte("v1")))
	require.NoError(t, client.Put([]byte("k2"), []byte("v2")))

	val, ok, err := client.Get([]byte("k1"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []byte("v1"), val)

	_, ok, err = client.Get([]byte("missing"))
	require.NoError(t, err)
	require.False(t, ok)

	count, err := client.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(2), count)

	deleted, err := client.Delete([]byte("k1"))
	require.NoError(t, err)
	require.True(t, deleted)

	count, err = client.Count()
	require.NoError(t, err)
	require.Equal(t, uint64(1), count)
}

func TestIntegrationCursorScansEverything(t *testing.T) {
	requireDevShm(t)
	client, cleanup := openInProcess(t, 9002, 1)
	defer cleanup()

	want := map[string]string{"a": "1", "b": "2", "c": "3"}
	for k, v := range want {
		require.NoError(t, client.Load([]byte(k), []byte(v)))
	}

	cur, err := client.Cursor()
	require.NoError(t, err)
	defer cur.Close()

	got := make(map[string]string)
	for {
		payload, hasMore, err := cur.Next()
		require.NoError(t, err)
		decodeEntries(t, payload, got)
		if !hasMore {
			break
		}
	}
	require.Equal(t, want, got)
}

func TestIntegrationRangeQueryRespectsBounds(t *testing.T) {
	requireDevShm(t)
	client, cleanup := openInProcess(t, 9003, 1)
	defer cleanup()

	for _, k := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, client.Put([]byte(k), []byte(k+k)))
	}

	rc, err := client.RangeQuery([]byte("b"), []byte("d"), 4096)
	require.NoError(t, err)
	defer rc.Close()

	got := make(map[string]string)
	for {
		payload, hasMore, err := rc.Next()
		require.NoError(t, err)
		decodeEntries(t, payload, got)
		if !hasMore {
			break
		}
	}

	keys := make([]string, 0, len(got))
	for k := range got {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	require.Subset(t, []string{"b", "c"}, keys)
}

// decodeEntries parses the key_len(u32) || key || val_len(u32) || val
// stream memkv and buntkv both write into a batch buffer, merging
// entries into dst.
func decodeEntries(t *testing.T, buf []byte, dst map[string]string) {
	t.Helper()
	off := 0
	for off < len(buf) {
		if off+4 > len(buf) {
			break
		}
		klen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if klen == 0 || off+klen > len(buf) {
			break
		}
		key := buf[off : off+klen]
		off += klen

		if off+4 > len(buf) {
			break
		}
		vlen := int(binary.LittleEndian.Uint32(buf[off:]))
		off += 4
		if off+vlen > len(buf) {
			break
		}
		val := buf[off : off+vlen]
		off += vlen

		dst[string(key)] = string(val)
	}
}
