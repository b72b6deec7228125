// Package lifecycle owns process-wide startup/shutdown concerns that
// belong to the server as a whole rather than to any one component:
// signal handling (SIGINT/SIGTERM for termination, SIGUSR1 for
// reload), orderly shutdown sequencing, and a single-owner advisory
// lock over the registration FIFO's path so two kvsd processes never
// race over the same session queue.
package lifecycle

import (
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
)

// Component is anything the process must join at shutdown. Listener,
// session.WorkerPool, the metrics Server and the sysmonitor Monitor all
// satisfy it.
type Component interface {
	Stop()
}

// State holds the cooperative flags every long-running loop polls and
// the advisory process lock; the components to stop are passed to
// Shutdown separately. Flags are atomics rather than a real signal/cancellation
// mechanism because every consumer already polls at a blocking-call
// boundary.
type State struct {
	SigUSR1Received atomic.Bool
	Terminate       atomic.Bool

	lock   *flock.Flock
	logger zerolog.Logger
}

// New builds a State and acquires an advisory lock at lockPath,
// preventing a second kvsd instance from starting against the same
// registration FIFO. The lock file is a sibling of the FIFO, not the
// FIFO itself, since flock semantics on named pipes are unreliable
// across platforms.
func New(lockPath string, logger zerolog.Logger) (*State, error) {
	lock := flock.New(lockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lifecycle: acquire lock %s: %w", lockPath, err)
	}
	if !locked {
		return nil, fmt.Errorf("lifecycle: another kvsd instance holds %s", lockPath)
	}
	return &State{lock: lock, logger: logger}, nil
}

// Release drops the advisory lock. Call once during shutdown, after
// every component has stopped.
func (s *State) Release() error {
	return s.lock.Unlock()
}

// WatchSignals installs handlers that flip Terminate on SIGINT/SIGTERM
// and SigUSR1Received on SIGUSR1, using a single
// signal-channel pattern but splitting on signal type instead of
// treating every signal as shutdown. Returns a stop function that
// restores default signal handling.
func (s *State) WatchSignals() (stop func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM, syscall.SIGUSR1)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case sig, ok := <-ch:
				if !ok {
					return
				}
				switch sig {
				case syscall.SIGUSR1:
					s.logger.Info().Msg("received SIGUSR1, reload requested")
					s.SigUSR1Received.Store(true)
				default:
					s.logger.Info().Str("signal", sig.String()).Msg("received termination signal")
					s.Terminate.Store(true)
				}
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(ch)
		close(done)
	}
}

// Shutdown stops every component in order, logging as it goes. Order
// matters: the listener must stop admitting new sessions before the
// session pool is drained, and the session pool before the store is
// released by the caller.
func Shutdown(logger zerolog.Logger, components ...Component) {
	for _, c := range components {
		if c == nil {
			continue
		}
		logger.Info().Msg("stopping component")
		c.Stop()
	}
}
