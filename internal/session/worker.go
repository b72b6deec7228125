package session

import (
	"runtime/debug"
	"sync"
	"time"

	"github.com/kvsd/kvsd/internal/pipeio"
	"github.com/rs/zerolog"
)

// pollInterval bounds how often an idle session's request loop
// re-checks its non-blocking pipe; it is the practical stand-in for a
// blocking poll()/select() on the FIFO's read end.
const pollInterval = 10 * time.Millisecond

// WorkerCount is the fixed session worker pool size.
const WorkerCount = 8

// WorkerPool drains Queue with a fixed number of goroutines, each
// serving one session's full request loop before returning for the
// next one. Fixed goroutine count,
// panic-recovering task execution), specialized to sessions instead of
// closures since each "task" here is a stateful multi-step protocol,
// not a one-shot function.
type WorkerPool struct {
	queue    *Queue
	registry *Registry
	logger   zerolog.Logger

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewWorkerPool builds a pool bound to queue and registry.
func NewWorkerPool(queue *Queue, registry *Registry, logger zerolog.Logger) *WorkerPool {
	return &WorkerPool{
		queue:    queue,
		registry: registry,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// Start launches WorkerCount goroutines. Each blocks on Dequeue, so
// Start returns immediately; shutdown is via Stop.
func (p *WorkerPool) Start() {
	for i := 0; i < WorkerCount; i++ {
		p.wg.Add(1)
		go p.run(i)
	}
}

// Stop signals every worker to finish its current session and exit,
// then waits for them. A worker blocked in Dequeue is released when
// Stop closes the stop channel, which makes Dequeue return nil;
// callers should first drive Queue.DisconnectAll so in-flight sessions
// exit their request loops promptly.
func (p *WorkerPool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

func (p *WorkerPool) run(id int) {
	defer p.wg.Done()
	for {
		s := p.queue.Dequeue(p.stop)
		if s == nil {
			return
		}
		p.serve(s)
	}
}

// serve opens a session's three pipes, sends the CONNECT ack, and runs
// its request loop until DISCONNECT or termination, recovering from
// any panic so one bad session cannot take the worker down (mirrors
// the pool's own panic-recovery guard).
func (p *WorkerPool) serve(s *Session) {
	defer p.queue.Forget(s)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error().
				Interface("panic", r).
				Str("stack", string(debug.Stack())).
				Msg("session worker panic recovered")
		}
	}()

	if s.Terminated() {
		return // disconnected (reload/shutdown) while still queued
	}

	req, err := pipeio.OpenReadNonBlocking(s.RequestPath)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", s.RequestPath).Msg("failed to open request pipe, dropping session")
		return
	}
	resp, err := pipeio.OpenWrite(s.ResponsePath)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", s.ResponsePath).Msg("failed to open response pipe, dropping session")
		req.Close()
		return
	}
	notif, err := pipeio.OpenWrite(s.NotificationPath)
	if err != nil {
		p.logger.Warn().Err(err).Str("path", s.NotificationPath).Msg("failed to open notification pipe, dropping session")
		req.Close()
		resp.Close()
		return
	}

	s.request, s.response, s.notification = req, resp, notif
	defer s.Close()

	ack := encodeResponse(OpConnectAck, 0)
	if _, err := resp.Write(ack[:]); err != nil {
		p.logger.Warn().Err(err).Msg("failed to send CONNECT ack")
		return
	}

	p.requestLoop(s)
	p.registry.RemoveClient(s.notification)
}

// requestLoop reads and dispatches requests until the session
// disconnects or is flagged terminated. Pipe reads are polled with
// readFrame; a caller that has nothing to say simply leaves
// the worker spinning on EOF/EAGAIN, checking Terminated between
// attempts, until either termination is flagged or DISCONNECT is
// received.
func (p *WorkerPool) requestLoop(s *Session) {
	for {
		if s.Terminated() {
			return
		}

		line, err := readFrame(s.request)
		if err != nil {
			time.Sleep(pollInterval)
			continue
		}

		req, err := parseRequest(line)
		if err != nil {
			p.logger.Warn().Err(err).Str("raw", line).Msg("malformed session request")
			continue
		}

		switch req.opcode {
		case OpDisconnect:
			p.registry.RemoveClient(s.notification)
			ack := encodeResponse(OpDisconnect, 0)
			s.response.Write(ack[:])
			return
		case OpSubscribe:
			code := p.registry.Subscribe(req.key, s.notification)
			ack := encodeResponse(OpSubscribe, code)
			s.response.Write(ack[:])
		case OpUnsubscribe:
			code := p.registry.Unsubscribe(req.key, s.notification)
			ack := encodeResponse(OpUnsubscribe, code)
			s.response.Write(ack[:])
		default:
			ack := encodeResponse(req.opcode, 1)
			s.response.Write(ack[:])
		}
	}
}
