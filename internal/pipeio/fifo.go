// Package pipeio wraps the POSIX FIFO calls kvsd needs: creating named
// pipes and opening them non-blocking in either direction. This is the
// one layer of the system that cannot be expressed portably — sessions
// and the registration listener talk exclusively over named pipes on
// the local host, never over the network.
package pipeio

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// EnsureFIFO creates the named pipe at path with the given mode if it
// does not already exist. It is not an error for the path to already
// exist as a FIFO.
func EnsureFIFO(path string, mode uint32) error {
	err := unix.Mkfifo(path, mode)
	if err == nil || err == unix.EEXIST {
		return nil
	}
	return fmt.Errorf("pipeio: mkfifo %s: %w", path, err)
}

// OpenReadNonBlocking opens path for non-blocking reads. A FIFO opened
// O_RDONLY|O_NONBLOCK succeeds immediately even with no writer yet
// attached, which is what lets the registration listener and session
// workers poll a terminate flag instead of blocking forever.
func OpenReadNonBlocking(path string) (*os.File, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("pipeio: open %s for read: %w", path, err)
	}
	return os.NewFile(uintptr(fd), path), nil
}

// OpenWrite opens path for writing. Unlike the read side this blocks
// until a reader attaches, so a session worker opening a response or
// notification pipe waits until the client has opened that pipe's read
// end.
func OpenWrite(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("pipeio: open %s for write: %w", path, err)
	}
	return f, nil
}

// Remove unlinks the FIFO at path, ignoring a not-exist error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("pipeio: remove %s: %w", path, err)
	}
	return nil
}
