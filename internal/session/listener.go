package session

import (
	"sync/atomic"
	"time"

	"github.com/kvsd/kvsd/internal/pipeio"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// RegistrationMode is the file mode the registration FIFO is created
// with.
const RegistrationMode = 0o666

// Listener owns the well-known registration pipe, parses CONNECT
// records, rejects duplicate sessions, and polls the reload flag
// cooperatively.
type Listener struct {
	path     string
	queue    *Queue
	registry *Registry
	limiter  *rate.Limiter
	logger   zerolog.Logger

	sigusr1Received *atomic.Bool
	terminate       *atomic.Bool

	stop chan struct{}
	done chan struct{}
}

// NewListener builds a Listener. sigusr1Received and terminate are
// shared atomics owned by the process lifecycle (internal/lifecycle),
// polled here rather than acted on directly by a signal handler.
func NewListener(path string, queue *Queue, registry *Registry, connectRatePerSec float64, sigusr1Received, terminate *atomic.Bool, logger zerolog.Logger) *Listener {
	return &Listener{
		path:             path,
		queue:            queue,
		registry:         registry,
		limiter:          rate.NewLimiter(rate.Limit(connectRatePerSec), 1),
		logger:           logger,
		sigusr1Received:  sigusr1Received,
		terminate:        terminate,
		stop:             make(chan struct{}),
		done:             make(chan struct{}),
	}
}

// Run creates the registration FIFO if absent, opens it non-blocking,
// and loops until terminate is observed. Run is meant to be launched
// in its own goroutine; call Stop and then <-Done() to join it.
func (l *Listener) Run() {
	defer close(l.done)

	if err := pipeio.EnsureFIFO(l.path, RegistrationMode); err != nil {
		l.logger.Error().Err(err).Msg("failed to create registration pipe")
		return
	}
	f, err := pipeio.OpenReadNonBlocking(l.path)
	if err != nil {
		l.logger.Error().Err(err).Msg("failed to open registration pipe")
		return
	}
	defer l.shutdownCleanup()

	for {
		select {
		case <-l.stop:
			return
		default:
		}
		if l.terminate.Load() {
			return
		}

		if l.sigusr1Received.Load() {
			l.reload()
			l.sigusr1Received.Store(false)
		}

		line, err := readFrame(f)
		if err != nil {
			time.Sleep(pollInterval)
			continue
		}

		reqPath, respPath, notifPath, ok := parseConnect(line)
		if !ok {
			continue // non-CONNECT record on this pipe is ignored
		}

		if !l.limiter.Allow() {
			continue // ambient backpressure; the client will retry its CONNECT
		}

		l.admit(reqPath, respPath, notifPath)
	}
}

// admit rejects a duplicate response-pipe path directly on the new
// client's response pipe, or otherwise constructs and enqueues a
// Session.
func (l *Listener) admit(reqPath, respPath, notifPath string) {
	if l.queue.IsDuplicate(respPath) {
		l.rejectDuplicate(respPath)
		return
	}
	l.queue.Enqueue(New(reqPath, respPath, notifPath))
}

func (l *Listener) rejectDuplicate(respPath string) {
	f, err := pipeio.OpenWrite(respPath)
	if err != nil {
		l.logger.Warn().Err(err).Str("path", respPath).Msg("failed to reject duplicate session")
		return
	}
	defer f.Close()
	ack := encodeResponse(OpConnectAck, 3)
	f.Write(ack[:])
}

// reload clears every subscription and disconnects every session,
// without terminating the process. Triggered by SIGUSR1.
func (l *Listener) reload() {
	l.registry.ClearAll()
	l.queue.DisconnectAll()
}

func (l *Listener) shutdownCleanup() {
	pipeio.Remove(l.path)
	l.registry.ClearAll()
	l.queue.DisconnectAll()
}

// Stop requests Run to exit at its next loop iteration.
func (l *Listener) Stop() {
	close(l.stop)
}

// Done reports when Run has returned.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}
