package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestQueueDuplicateResponsePathRejected(t *testing.T) {
	q := NewQueue()
	s1 := New("/tmp/req1", "/tmp/resp-shared", "/tmp/notif1")
	q.Enqueue(s1)

	require.True(t, q.IsDuplicate("/tmp/resp-shared"))
	require.False(t, q.IsDuplicate("/tmp/resp-other"))
}

func TestQueueBoundedAtCapacity(t *testing.T) {
	q := NewQueue()
	for i := 0; i < QueueCapacity; i++ {
		q.Enqueue(New("r", string(rune('a'+i)), "n"))
	}
	require.Equal(t, QueueCapacity, q.Len())
}

func TestQueueEnqueueBlocksWhenFull(t *testing.T) {
	q := NewQueue()
	for i := 0; i < QueueCapacity; i++ {
		q.Enqueue(New("r", string(rune('a'+i)), "n"))
	}

	done := make(chan struct{})
	go func() {
		q.Enqueue(New("r", "overflow", "n"))
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Enqueue should have blocked on a full queue")
	case <-time.After(50 * time.Millisecond):
	}

	// Draining one slot must unblock the pending Enqueue.
	q.Dequeue(nil)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Enqueue did not unblock after a slot freed")
	}
}

func TestQueueDisconnectAllTerminatesLiveSessions(t *testing.T) {
	q := NewQueue()
	s := New("r", "resp", "n")
	q.Enqueue(s)

	q.DisconnectAll()

	require.True(t, s.Terminated())
}
