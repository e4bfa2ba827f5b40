package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/vidardb/kvbridge"
	"github.com/vidardb/kvbridge/engine/buntkv"
	"github.com/vidardb/kvbridge/engine/memkv"
	"github.com/vidardb/kvbridge/internal/channel"
	"github.com/vidardb/kvbridge/internal/constants"
	"github.com/vidardb/kvbridge/internal/engine"
	"github.com/vidardb/kvbridge/internal/logging"
	"github.com/vidardb/kvbridge/internal/worker"
)

func main() {
	var (
		workerID    = flag.Uint("worker-id", 0, "worker id, also used to derive the channel name")
		channelName = flag.String("channel", "", "shared-memory channel name to serve")
		dbPath      = flag.String("db-path", "", "path passed through to the engine on Open")
		engineKind  = flag.String("engine", "buntkv", "storage engine: buntkv or memkv")
		slotCount   = flag.Int("slots", constants.DefaultSlotCount, "response slot count for this channel")
		verbose     = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *channelName == "" {
		fmt.Fprintln(os.Stderr, "kvworker: -channel is required")
		os.Exit(2)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	newEngine, err := engineFactory(*engineKind)
	if err != nil {
		logger.Error("unknown engine", "engine", *engineKind, "error", err)
		os.Exit(1)
	}

	ch, err := channel.Create(*channelName, *slotCount)
	if err != nil {
		logger.Error("failed to create channel", "channel", *channelName, "error", err)
		os.Exit(1)
	}
	defer ch.Close()

	chanWorker := channel.NewWorker(ch)
	metrics := kvbridge.NewMetrics()
	runner := worker.New(chanWorker, worker.Config{
		WorkerID:    uint32(*workerID),
		ChannelName: *channelName,
		NewEngine:   newEngine,
		Observer:    kvbridge.NewMetricsObserver(metrics),
		Logger:      logger,
	})

	logger.Info("kvworker serving", "worker_id", *workerID, "channel", *channelName, "engine", *engineKind, "db_path", *dbPath)

	runErrCh := make(chan error, 1)
	go func() {
		runErrCh <- runner.Run()
	}()

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			buf := make([]byte, 1024*1024)
			n := runtime.Stack(buf, true)
			fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP (worker %d) ===\n", *workerID)
			fmt.Fprintf(os.Stderr, "%s\n", buf[:n])

			filename := fmt.Sprintf("kvworker-%d-stacks.txt", *workerID)
			if f, err := os.Create(filename); err == nil {
				fmt.Fprintf(f, "Worker %d stack dump\n\n", *workerID)
				f.Write(buf[:n])
				fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
				pprof.Lookup("goroutine").WriteTo(f, 2)
				f.Close()
				logger.Info("stack trace written", "file", filename)
			}
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-runErrCh:
		if err != nil {
			logger.Error("dispatch loop exited", "error", err)
		}
	}

	runner.Stop()

	cleanupDone := make(chan struct{})
	go func() {
		<-runErrCh
		close(cleanupDone)
	}()

	select {
	case <-cleanupDone:
	case <-time.After(2 * time.Second):
		logger.Warn("cleanup timeout, forcing exit")
	}

	if err := ch.Unlink(); err != nil {
		logger.Warn("failed to unlink channel on shutdown", "error", err)
	}

	logger.Info("kvworker stopped", "worker_id", *workerID)
}

// engineFactory accepts the engine names the root package's Open and
// the manager pass through on the command line ("buntkv"/"memkv"), plus
// the shorter aliases a human running kvworker by hand would reach for.
func engineFactory(kind string) (worker.EngineFactory, error) {
	switch kind {
	case "buntkv", "bunt", "buntdb", "":
		return func() engine.Engine { return buntkv.New() }, nil
	case "memkv", "mem", "memory":
		return func() engine.Engine { return memkv.New() }, nil
	default:
		return nil, fmt.Errorf("unsupported engine kind %q", kind)
	}
}
