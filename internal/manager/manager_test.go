package manager

import (
	"context"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireSleepBinary(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("skipping: no sleep binary on PATH")
	}
	return path
}

func TestLaunchIsIdempotentPerWorkerID(t *testing.T) {
	bin := requireSleepBinary(t)
	m := New(Options{BinaryPath: bin, RunDir: t.TempDir()})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	h1, err := m.Launch(ctx, 1, "/tmp/db", "memkv")
	require.NoError(t, err)
	require.NotZero(t, h1.Pid())

	h2, err := m.Launch(ctx, 1, "/tmp/db", "memkv")
	require.NoError(t, err)
	require.Equal(t, h1.Pid(), h2.Pid())

	require.NoError(t, m.Terminate(context.Background(), 1, time.Second))
}

func TestTerminateUnknownWorkerFails(t *testing.T) {
	m := New(Options{RunDir: t.TempDir()})
	err := m.Terminate(context.Background(), 42, time.Second)
	require.Error(t, err)
}

func TestChannelNameIsPerWorker(t *testing.T) {
	m := New(Options{RunDir: t.TempDir()})
	require.NotEqual(t, m.channelName(1), m.channelName(2))
}
