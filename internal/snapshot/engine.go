// Package snapshot implements the backup mechanism: an
// at-most-N-concurrent, never-retried snapshot of the store to a
// "<job-stem>-<n>.bck" file.
//
// Go has no straightforward fork()+continue primitive, so this engine
// takes the alternative of capturing the store's textual snapshot
// under a short, already-released set of bucket read locks (the same
// locks SHOW takes), then handing those bytes to a genuinely separate
// OS process over its stdin pipe — the process plays the role of the
// forked child, and because it receives an already-serialized byte
// slice rather than a shared address space, no store lock is ever held
// across the process boundary.
package snapshot

import (
	"context"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ChildFlag is the hidden argv[1] the parent re-execs itself with to
// run as a snapshot child; see RunChild.
const ChildFlag = "--kvsd-snapshot-child"

// Engine gates concurrent snapshot children to at most maxBackups in
// flight at once.
type Engine struct {
	exePath string
	sem     chan struct{} // counted semaphore, capacity == max_backups
	limiter *rate.Limiter
	logger  zerolog.Logger

	wg     sync.WaitGroup
	active int64 // atomic: live children, for metrics and tests
}

// SnapshotSource renders the store's current contents in SHOW's exact
// text format, used as the bytes handed to the child.
type SnapshotSource interface {
	RenderSnapshot() []byte
}

// NewEngine builds an Engine. exePath is the current executable
// (os.Executable()), re-invoked with ChildFlag to act as the child.
// spawnRatePerSec paces admissions on top of the hard semaphore bound,
// smoothing bursts of BACKUP commands (see SPEC_FULL.md's domain
// stack).
func NewEngine(exePath string, maxBackups int, spawnRatePerSec float64, logger zerolog.Logger) *Engine {
	return &Engine{
		exePath: exePath,
		sem:     make(chan struct{}, maxBackups),
		limiter: rate.NewLimiter(rate.Limit(spawnRatePerSec), 1),
		logger:  logger,
	}
}

// Active returns the current number of live snapshot children.
func (e *Engine) Active() int64 {
	return atomic.LoadInt64(&e.active)
}

// SpawnFor captures src's current snapshot and admits a new child to
// write it to destPath, blocking only on the spawn-rate limiter and the
// concurrency gate — never on the child's own completion. The parent never waits for the
// child.
func (e *Engine) SpawnFor(src SnapshotSource, destPath string) error {
	e.limiter.Wait(context.Background())

	e.sem <- struct{}{} // blocks if max_backups children are already in flight

	snapshot := src.RenderSnapshot()

	cmd := exec.Command(e.exePath, ChildFlag, destPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		<-e.sem
		return fmt.Errorf("snapshot: prepare child stdin: %w", err)
	}

	if err := cmd.Start(); err != nil {
		<-e.sem // fork failed: replenish immediately and report failure
		return fmt.Errorf("snapshot: spawn child: %w", err)
	}

	atomic.AddInt64(&e.active, 1)
	e.wg.Add(1)

	go func() {
		defer e.wg.Done()
		defer atomic.AddInt64(&e.active, -1)
		defer func() { <-e.sem }() // the reaper's replenishment, once per reaped child

		n, werr := stdin.Write(snapshot)
		stdin.Close()
		if werr != nil || n != len(snapshot) {
			e.logger.Warn().Err(werr).Str("dest", destPath).Msg("failed to stream snapshot to child")
		}

		if err := cmd.Wait(); err != nil {
			e.logger.Warn().Err(err).Str("dest", destPath).Msg("snapshot child exited with error")
		}
	}()

	return nil
}

// Wait blocks until every in-flight child has been reaped. Used only
// during shutdown to avoid orphaning children after the store is
// destroyed.
func (e *Engine) Wait() {
	e.wg.Wait()
}
