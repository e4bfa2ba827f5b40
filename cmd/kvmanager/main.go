package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/vidardb/kvbridge/internal/constants"
	"github.com/vidardb/kvbridge/internal/logging"
	"github.com/vidardb/kvbridge/internal/manager"
)

// workerSpec is one "-worker id:dbpath:engine" flag occurrence.
type workerSpec struct {
	id     uint32
	dbPath string
	engine string
}

type workerSpecList []workerSpec

func (l *workerSpecList) String() string {
	if l == nil {
		return ""
	}
	parts := make([]string, len(*l))
	for i, s := range *l {
		parts[i] = fmt.Sprintf("%d:%s:%s", s.id, s.dbPath, s.engine)
	}
	return strings.Join(parts, ",")
}

func (l *workerSpecList) Set(value string) error {
	parts := strings.SplitN(value, ":", 3)
	if len(parts) != 3 {
		return fmt.Errorf("expected id:dbpath:engine, got %q", value)
	}
	id, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid worker id %q: %w", parts[0], err)
	}
	*l = append(*l, workerSpec{id: uint32(id), dbPath: parts[1], engine: parts[2]})
	return nil
}

func main() {
	var (
		binaryPath = flag.String("worker-bin", "kvworker", "kvworker executable to launch")
		runDir     = flag.String("run-dir", "", "directory for per-worker lock files (defaults to os.TempDir())")
		interval   = flag.Duration("watch-interval", constants.DefaultLivenessIntervalMillis*time.Millisecond, "liveness probe interval")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	var specs workerSpecList
	flag.Var(&specs, "worker", "worker to launch, repeatable: id:dbpath:engine")
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if len(specs) == 0 {
		fmt.Fprintln(os.Stderr, "kvmanager: at least one -worker id:dbpath:engine is required")
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mgr := manager.New(manager.Options{
		BinaryPath: *binaryPath,
		RunDir:     *runDir,
		Logger:     logger,
	})

	for _, s := range specs {
		if _, err := mgr.Launch(ctx, s.id, s.dbPath, s.engine); err != nil {
			logger.Error("failed to launch worker", "worker_id", s.id, "error", err)
			os.Exit(1)
		}
	}

	byID := make(map[uint32]workerSpec, len(specs))
	for _, s := range specs {
		byID[s.id] = s
	}

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()
	go func() {
		err := mgr.Watch(watchCtx, *interval, func(workerID uint32) {
			s, ok := byID[workerID]
			if !ok {
				return
			}
			logger.Warn("worker died, relaunching", "worker_id", workerID)
			if _, err := mgr.Launch(watchCtx, s.id, s.dbPath, s.engine); err != nil {
				logger.Error("relaunch failed", "worker_id", workerID, "error", err)
			}
		})
		if err != nil && watchCtx.Err() == nil {
			logger.Error("watch loop exited", "error", err)
		}
	}()

	logger.Info("kvmanager running", "worker_count", len(specs))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	stopWatch()

	termCtx, cancelTerm := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTerm()
	for _, s := range specs {
		if err := mgr.Terminate(termCtx, s.id, 2*time.Second); err != nil {
			logger.Warn("terminate failed", "worker_id", s.id, "error", err)
		}
	}

	logger.Info("kvmanager stopped")
}
