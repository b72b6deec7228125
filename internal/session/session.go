package session

import (
	"os"
	"sync/atomic"
)

// Session is one connected client's record: its three pipe paths, the
// descriptors once opened by a session worker, and a terminate flag
// any thread can set (reload, shutdown, or the worker itself on
// DISCONNECT).
type Session struct {
	RequestPath      string
	ResponsePath     string
	NotificationPath string

	request      *os.File
	response     *os.File
	notification *os.File

	terminate atomic.Bool
}

// New builds a Session from a parsed CONNECT record. Descriptors are
// opened lazily by whichever session worker dequeues it.
func New(requestPath, responsePath, notificationPath string) *Session {
	return &Session{
		RequestPath:      requestPath,
		ResponsePath:     responsePath,
		NotificationPath: notificationPath,
	}
}

// Terminate flags the session for termination; the session worker
// driving its request loop observes this at its next read boundary.
func (s *Session) Terminate() {
	s.terminate.Store(true)
}

// Terminated reports whether Terminate has been called.
func (s *Session) Terminated() bool {
	return s.terminate.Load()
}

// Close closes any descriptors the session worker opened. Safe to call
// more than once and safe to call before any descriptor was opened.
func (s *Session) Close() {
	for _, f := range []*os.File{s.request, s.response, s.notification} {
		if f != nil {
			_ = f.Close()
		}
	}
}
