package session

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kvsd/kvsd/internal/pipeio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// TestRequestLoopHandlesSubscribeAndDisconnectWithNoTrailingDelimiter
// drives a session's three real FIFOs end to end, writing SUBSCRIBE and
// DISCONNECT exactly as the reference client does: raw bytes, no NUL or
// newline terminator. This is the regression coverage for the framing
// bug in readFrame — a delimiter-based reader would stall forever here.
func TestRequestLoopHandlesSubscribeAndDisconnectWithNoTrailingDelimiter(t *testing.T) {
	dir := t.TempDir()
	reqPath := filepath.Join(dir, "req")
	respPath := filepath.Join(dir, "resp")
	notifPath := filepath.Join(dir, "notif")

	require.NoError(t, pipeio.EnsureFIFO(reqPath, 0o666))
	require.NoError(t, pipeio.EnsureFIFO(respPath, 0o666))
	require.NoError(t, pipeio.EnsureFIFO(notifPath, 0o666))

	queue := NewQueue()
	registry := NewRegistry(alwaysExists, zerolog.Nop())
	pool := NewWorkerPool(queue, registry, zerolog.Nop())

	s := New(reqPath, respPath, notifPath)

	served := make(chan struct{})
	go func() {
		defer close(served)
		pool.serve(s)
	}()

	respReader, err := os.OpenFile(respPath, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer respReader.Close()
	notifReader, err := os.OpenFile(notifPath, os.O_RDONLY, 0)
	require.NoError(t, err)
	defer notifReader.Close()

	require.Equal(t, [ResponseFrameSize]byte{byte(OpConnectAck), 0}, readAck(t, respReader))

	reqWriter, err := os.OpenFile(reqPath, os.O_WRONLY, 0)
	require.NoError(t, err)
	defer reqWriter.Close()

	_, err = reqWriter.Write([]byte("3|k"))
	require.NoError(t, err)
	require.Equal(t, [ResponseFrameSize]byte{byte(OpSubscribe), byte(SubOK)}, readAck(t, respReader))

	_, err = reqWriter.Write([]byte("4|k"))
	require.NoError(t, err)
	require.Equal(t, [ResponseFrameSize]byte{byte(OpUnsubscribe), byte(UnsubOK)}, readAck(t, respReader))

	_, err = reqWriter.Write([]byte("2"))
	require.NoError(t, err)
	require.Equal(t, [ResponseFrameSize]byte{byte(OpDisconnect), 0}, readAck(t, respReader))

	select {
	case <-served:
	case <-time.After(time.Second):
		t.Fatal("serve did not return after DISCONNECT")
	}
}

func readAck(t *testing.T, r *os.File) [ResponseFrameSize]byte {
	t.Helper()
	var buf [ResponseFrameSize]byte
	_, err := io.ReadFull(r, buf[:])
	require.NoError(t, err)
	return buf
}
