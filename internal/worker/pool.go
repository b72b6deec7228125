// Package worker implements the job worker pool: a fixed number of
// goroutines that drain a jobqueue.Queue, each running one job file's
// command stream to completion before picking up the next.
//
// Modeled on the session subsystem's WorkerPool (itself a
// fixed-goroutine, panic-recovering worker pool), but with a
// dequeue-until-empty shape instead of a persistent request loop, since
// the job set is fixed once enumeration completes.
package worker

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sync"

	"github.com/kvsd/kvsd/internal/jobfile"
	"github.com/kvsd/kvsd/internal/jobqueue"
	"github.com/kvsd/kvsd/internal/kvsops"
	atomicfile "github.com/natefinch/atomic"
	"github.com/rs/zerolog"
)

// Pool runs Count goroutines against Queue, each calling Engine.Execute
// for every parsed command in its current job until the queue is
// empty. No new jobs are discovered after Enumerate populates Queue.
type Pool struct {
	queue  *jobqueue.Queue
	engine *kvsops.Engine
	count  int
	logger zerolog.Logger

	wg sync.WaitGroup
}

// NewPool builds a Pool bound to queue and engine, running count
// goroutines — typically min(max_threads, num_jobs), computed by the
// caller since Pool itself does not know num_jobs in advance of
// draining.
func NewPool(queue *jobqueue.Queue, engine *kvsops.Engine, count int, logger zerolog.Logger) *Pool {
	if count < 1 {
		count = 1
	}
	return &Pool{queue: queue, engine: engine, count: count, logger: logger}
}

// Run launches the pool and blocks until every job has been processed.
func (p *Pool) Run() {
	for i := 0; i < p.count; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.wg.Wait()
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for {
		j := p.queue.Dequeue()
		if j == nil {
			return
		}
		p.runJob(j)
	}
}

// runJob opens a job's input file, dispatches its command stream to the
// operations engine into an in-memory buffer, and writes that buffer to
// the job's output file once at the end, logging and skipping any
// malformed command rather than aborting the job. Recovers from panics
// the same way session workers do, so one misbehaving job cannot take
// the whole pool down.
func (p *Pool) runJob(j *jobqueue.Job) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Str("job", j.Path).
				Msg("job worker panic recovered")
		}
	}()

	in, err := os.Open(j.Path)
	if err != nil {
		p.logger.Error().Err(err).Str("job", j.Path).Msg("failed to open job file")
		return
	}
	defer in.Close()

	var out bytes.Buffer
	p.runCommands(j, in, &out)

	// Written once, atomically, so a concurrent reader of "<stem>.out"
	// never sees a partially executed job's results.
	if err := atomicfile.WriteFile(j.OutputPath(), &out); err != nil {
		p.logger.Error().Err(err).Str("job", j.Path).Msg("failed to write job output file")
	}
}

func (p *Pool) runCommands(j *jobqueue.Job, in io.Reader, out io.Writer) {
	parser := jobfile.NewParser(in)
	for {
		cmd, err := parser.Next()
		if err != nil {
			if err != io.EOF {
				p.logger.Warn().Err(err).Str("job", j.Path).Msg("skipping malformed command")
				continue
			}
			return
		}

		nextBackupPath := func() string { return j.NextBackupPath() }
		if err := p.engine.Execute(cmd, out, nextBackupPath); err != nil {
			p.logger.Warn().Err(err).Str("job", j.Path).Msg("command execution failed")
		}
	}
}

// BackupAdapter adapts a *snapshot.Engine + SnapshotSource pair into
// kvsops.Backupper. It lives here rather than in package snapshot so
// that snapshot has no compile-time dependency on kvsops, keeping the
// store/operations/backup layering one-way.
type BackupAdapter struct {
	Spawner func(destPath string) error
}

// Spawn implements kvsops.Backupper.
func (b BackupAdapter) Spawn(destPath string) error {
	if b.Spawner == nil {
		return fmt.Errorf("worker: backup adapter has no spawner configured")
	}
	return b.Spawner(destPath)
}
