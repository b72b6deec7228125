// Command kvsd is an in-process key-value server: it reads a
// directory of .job files, runs each job's command stream against a
// sharded store, serves live sessions over named pipes, and answers
// BACKUP by spawning a snapshot child process.
//
// Usage:
//
//	kvsd <jobs_dir> <max_threads> <max_backups> <registration_fifo_path>
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/kvsd/kvsd/internal/config"
	"github.com/kvsd/kvsd/internal/jobqueue"
	"github.com/kvsd/kvsd/internal/kvsops"
	"github.com/kvsd/kvsd/internal/lifecycle"
	"github.com/kvsd/kvsd/internal/logging"
	"github.com/kvsd/kvsd/internal/metrics"
	"github.com/kvsd/kvsd/internal/session"
	"github.com/kvsd/kvsd/internal/snapshot"
	"github.com/kvsd/kvsd/internal/store"
	"github.com/kvsd/kvsd/internal/sysmonitor"
	"github.com/kvsd/kvsd/internal/worker"
	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"
)

// terminatePollInterval bounds how often main's top-level loop rechecks
// the cooperative terminate flag once the job queue has drained and the
// process is only serving live sessions.
const terminatePollInterval = 50 * time.Millisecond

func main() {
	if len(os.Args) >= 3 && os.Args[1] == snapshot.ChildFlag {
		runSnapshotChild(os.Args[2])
		return
	}

	if len(os.Args) != 5 {
		fmt.Fprintln(os.Stderr, "usage: kvsd <jobs_dir> <max_threads> <max_backups> <registration_fifo_path>")
		os.Exit(1)
	}

	jobsDir := os.Args[1]
	maxThreads, err := strconv.Atoi(os.Args[2])
	if err != nil || maxThreads < 1 {
		fmt.Fprintln(os.Stderr, "kvsd: max_threads must be a positive integer")
		os.Exit(1)
	}
	maxBackups, err := strconv.Atoi(os.Args[3])
	if err != nil || maxBackups < 1 {
		fmt.Fprintln(os.Stderr, "kvsd: max_backups must be a positive integer")
		os.Exit(1)
	}
	fifoPath := os.Args[4]

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "kvsd: load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(logging.Config{
		Level:  logging.Level(cfg.LogLevel),
		Format: logging.Format(cfg.LogFormat),
	})

	lockPath := filepath.Join(filepath.Dir(fifoPath), filepath.Base(fifoPath)+".lock")
	lc, err := lifecycle.New(lockPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to acquire process lock")
	}

	run(jobsDir, maxThreads, maxBackups, fifoPath, cfg, logger, lc)

	if err := lc.Release(); err != nil {
		logger.Warn().Err(err).Msg("failed to release process lock")
	}
}

func runSnapshotChild(destPath string) {
	if err := snapshot.RunChild(os.Stdin, destPath); err != nil {
		fmt.Fprintf(os.Stderr, "kvsd snapshot child: %v\n", err)
		os.Exit(1)
	}
}

func run(jobsDir string, maxThreads, maxBackups int, fifoPath string, cfg *config.Config, logger zerolog.Logger, lc *lifecycle.State) {
	st := store.New()
	registry := session.NewRegistry(st.Exists, logger)

	exePath, err := os.Executable()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to resolve own executable path")
	}
	snapEngine := snapshot.NewEngine(exePath, maxBackups, cfg.BackupSpawnRatePerSec, logger)

	mon, err := sysmonitor.New(cfg.SysMonitorInterval, 90, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start system monitor")
	}
	mon.Start()

	m := metrics.New()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, m)
	go func() {
		if err := metricsSrv.Start(); err != nil {
			logger.Warn().Err(err).Msg("metrics server stopped")
		}
	}()

	backupAdapter := worker.BackupAdapter{
		Spawner: func(destPath string) error {
			if !mon.AllowBackup() {
				logger.Warn().Str("dest", destPath).Msg("admitting backup while host is under CPU pressure")
			}
			m.BackupsTotal.Inc()
			src := snapshot.StoreSnapshot{Store: st}
			if err := snapEngine.SpawnFor(src, destPath); err != nil {
				m.BackupsFailedTotal.Inc()
				return err
			}
			return nil
		},
	}

	opsEngine := &kvsops.Engine{
		Store:    st,
		Notifier: countingNotifier{registry: registry, counter: m.NotificationsTotal},
		Backup:   backupAdapter,
		Logger:   logger,
	}

	stopSignals := lc.WatchSignals()
	defer stopSignals()

	queue := session.NewQueue()
	pool := session.NewWorkerPool(queue, registry, logger)
	pool.Start()

	listener := session.NewListener(fifoPath, queue, registry, cfg.SessionConnectRatePerSec, &lc.SigUSR1Received, &lc.Terminate, logger)
	go listener.Run()

	jobs := jobqueue.NewQueue()
	if err := jobs.Enumerate(jobsDir); err != nil {
		logger.Fatal().Err(err).Str("dir", jobsDir).Msg("failed to enumerate job files")
	}
	workerCount := maxThreads
	if n := jobs.Len(); n < workerCount {
		workerCount = n
	}
	jobPool := worker.NewPool(jobs, opsEngine, workerCount, logger)
	jobPool.Run()

	logger.Info().Msg("job queue drained, serving sessions until terminated")
	waitForTerminate(lc)

	listener.Stop()
	<-listener.Done()
	pool.Stop()
	snapEngine.Wait()
	lifecycle.Shutdown(logger, metricsSrv, mon)
}

func waitForTerminate(lc *lifecycle.State) {
	for !lc.Terminate.Load() {
		time.Sleep(terminatePollInterval)
	}
}

type countingNotifier struct {
	registry *session.Registry
	counter  interface{ Inc() }
}

func (c countingNotifier) Notify(key, value string) {
	c.registry.Notify(key, value)
	c.counter.Inc()
}
