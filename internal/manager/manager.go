// Package manager implements the boundary between client processes and
// the worker processes they depend on: launching a worker for a given
// worker id if none is running, tracking liveness, and terminating it
// cleanly.
package manager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/vidardb/kvbridge"
	"github.com/vidardb/kvbridge/internal/constants"
	"github.com/vidardb/kvbridge/internal/logging"
)

// defaultMaxConcurrentLaunches bounds how many kvworker processes a single
// Manager will fork at once, so a burst of Launch calls for many distinct
// worker ids doesn't thundering-herd exec() and the filesystem under it.
const defaultMaxConcurrentLaunches = 4

// WorkerHandle tracks one launched worker process.
type WorkerHandle struct {
	WorkerID    uint32
	ChannelName string
	cmd         *exec.Cmd
	lock        *flock.Flock
}

// Pid returns the worker process's OS pid, or 0 if it isn't running.
func (h *WorkerHandle) Pid() int {
	if h.cmd == nil || h.cmd.Process == nil {
		return 0
	}
	return h.cmd.Process.Pid
}

// Manager launches and supervises kvworker processes, one per worker id.
// Each worker id is guarded by a file lock under runDir so that two
// managers never race to launch the same worker. kvworker itself does
// not take this lock, so a manually started worker is not guarded.
type Manager struct {
	binaryPath string
	runDir     string
	log        *logging.Logger
	launchSem  *semaphore.Weighted

	mu      sync.Mutex
	workers map[uint32]*WorkerHandle
}

// Options configures a Manager.
type Options struct {
	// BinaryPath is the kvworker executable to launch. Defaults to
	// "kvworker" resolved against PATH.
	BinaryPath string
	// RunDir holds per-worker lock files. Defaults to os.TempDir().
	RunDir string
	// MaxConcurrentLaunches bounds how many Launch calls may be forking a
	// worker process at once. Defaults to defaultMaxConcurrentLaunches.
	MaxConcurrentLaunches int64
	Logger                *logging.Logger
}

// New creates a Manager.
func New(opts Options) *Manager {
	bin := opts.BinaryPath
	if bin == "" {
		bin = "kvworker"
	}
	dir := opts.RunDir
	if dir == "" {
		dir = os.TempDir()
	}
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}
	maxLaunches := opts.MaxConcurrentLaunches
	if maxLaunches <= 0 {
		maxLaunches = defaultMaxConcurrentLaunches
	}
	return &Manager{
		binaryPath: bin,
		runDir:     dir,
		log:        log,
		launchSem:  semaphore.NewWeighted(maxLaunches),
		workers:    make(map[uint32]*WorkerHandle),
	}
}

func (m *Manager) lockPath(workerID uint32) string {
	return filepath.Join(m.runDir, fmt.Sprintf("kvworker-%d.lock", workerID))
}

func (m *Manager) channelName(workerID uint32) string {
	return fmt.Sprintf("%s%d", constants.ChannelPrefix, workerID)
}

// Launch starts a worker process for workerID if one is not already
// running under this manager's lock, and returns its handle. Launch is
// idempotent per workerID for the lifetime of the Manager.
func (m *Manager) Launch(ctx context.Context, workerID uint32, dbPath, engineKind string) (*WorkerHandle, error) {
	m.mu.Lock()
	if h, ok := m.workers[workerID]; ok {
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	lk := flock.New(m.lockPath(workerID))
	locked, err := lk.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return nil, kvbridge.NewWorkerError("Launch", workerID, 0, kvbridge.IpcSystemError, err.Error())
	}
	if !locked {
		return nil, kvbridge.NewWorkerError("Launch", workerID, 0, kvbridge.IpcSystemError, "worker already launching elsewhere")
	}

	if err := m.launchSem.Acquire(ctx, 1); err != nil {
		lk.Unlock()
		return nil, kvbridge.NewWorkerError("Launch", workerID, 0, kvbridge.IpcSystemError, err.Error())
	}
	defer m.launchSem.Release(1)

	channelName := m.channelName(workerID)
	cmd := exec.CommandContext(ctx, m.binaryPath,
		"-worker-id", fmt.Sprintf("%d", workerID),
		"-channel", channelName,
		"-db-path", dbPath,
		"-engine", engineKind,
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		lk.Unlock()
		return nil, kvbridge.NewWorkerError("Launch", workerID, 0, kvbridge.IpcSystemError, err.Error())
	}

	h := &WorkerHandle{WorkerID: workerID, ChannelName: channelName, cmd: cmd, lock: lk}

	m.mu.Lock()
	m.workers[workerID] = h
	m.mu.Unlock()

	m.log.Infof("manager: launched worker %d pid=%d channel=%s", workerID, h.Pid(), channelName)
	return h, nil
}

// Terminate signals the worker's process to exit and waits for it,
// releasing the launch lock.
func (m *Manager) Terminate(ctx context.Context, workerID uint32, timeout time.Duration) error {
	m.mu.Lock()
	h, ok := m.workers[workerID]
	if ok {
		delete(m.workers, workerID)
	}
	m.mu.Unlock()
	if !ok {
		return kvbridge.NewWorkerError("Terminate", workerID, 0, kvbridge.ProtocolViolation, "worker not launched by this manager")
	}

	if h.cmd.Process != nil {
		_ = h.cmd.Process.Signal(os.Interrupt)
	}

	done := make(chan error, 1)
	go func() { done <- h.cmd.Wait() }()

	select {
	case err := <-done:
		h.lock.Unlock()
		if err != nil {
			m.log.Warnf("manager: worker %d exited with error: %v", workerID, err)
		}
		return nil
	case <-time.After(timeout):
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		<-done
		h.lock.Unlock()
		return kvbridge.NewWorkerError("Terminate", workerID, 0, kvbridge.IpcSystemError, "worker killed after timeout")
	case <-ctx.Done():
		if h.cmd.Process != nil {
			_ = h.cmd.Process.Kill()
		}
		<-done
		h.lock.Unlock()
		return ctx.Err()
	}
}

// Handle returns the handle for a launched worker, if any.
func (m *Manager) Handle(workerID uint32) (*WorkerHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.workers[workerID]
	return h, ok
}

// Watch runs a liveness probe over every currently launched worker at
// the given interval, calling onDead for any whose process has exited,
// until ctx is cancelled. It returns the first probe-setup error, if
// any; probe failures for individual workers are reported via onDead
// instead of aborting Watch.
func (m *Manager) Watch(ctx context.Context, interval time.Duration, onDead func(workerID uint32)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.probeAll(ctx, onDead); err != nil {
				return err
			}
		}
	}
}

func (m *Manager) probeAll(ctx context.Context, onDead func(workerID uint32)) error {
	m.mu.Lock()
	ids := make([]uint32, 0, len(m.workers))
	handles := make(map[uint32]*WorkerHandle, len(m.workers))
	for id, h := range m.workers {
		ids = append(ids, id)
		handles[id] = h
	}
	m.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		h := handles[id]
		g.Go(func() error {
			if !processAlive(h.Pid()) {
				onDead(id)
			}
			return nil
		})
	}
	return g.Wait()
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds; signal 0 is the standard
	// liveness probe that doesn't actually deliver anything.
	return proc.Signal(syscall.Signal(0)) == nil
}
