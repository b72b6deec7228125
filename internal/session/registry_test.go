package session

import (
	"os"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func pipePair(t *testing.T) (*os.File, *os.File) {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })
	return r, w
}

func alwaysExists(string) bool { return true }

func TestSubscribeRejectsUnknownKey(t *testing.T) {
	_, w := pipePair(t)
	r := NewRegistry(func(string) bool { return false }, zerolog.Nop())
	require.Equal(t, SubNoSuchKey, r.Subscribe("a", w))
}

func TestSubscribeDuplicateRejected(t *testing.T) {
	_, w := pipePair(t)
	r := NewRegistry(alwaysExists, zerolog.Nop())
	require.Equal(t, SubOK, r.Subscribe("a", w))
	require.Equal(t, SubAlreadySubbed, r.Subscribe("a", w))
}

func TestSubscriptionCapEnforced(t *testing.T) {
	_, w := pipePair(t)
	r := NewRegistry(alwaysExists, zerolog.Nop())
	for i := 0; i < MaxSubscriptionsPerEndpoint; i++ {
		key := string(rune('a' + i))
		require.Equal(t, SubOK, r.Subscribe(key, w))
	}
	require.Equal(t, SubLimitReached, r.Subscribe("z", w))
}

func TestUnsubscribeMatchesKeyAndEndpoint(t *testing.T) {
	_, w1 := pipePair(t)
	_, w2 := pipePair(t)
	r := NewRegistry(alwaysExists, zerolog.Nop())
	require.Equal(t, SubOK, r.Subscribe("a", w1))
	require.Equal(t, SubOK, r.Subscribe("a", w2))

	// w2 unsubscribing from "a" must not affect w1's subscription.
	require.Equal(t, UnsubOK, r.Unsubscribe("a", w2))
	require.Equal(t, UnsubNotFound, r.Unsubscribe("a", w2))

	r1, _ := pipePair(t)
	_ = r1
}

func TestNotifyFansOutToEachSubscriberOnce(t *testing.T) {
	r1, w1 := pipePair(t)
	r2, w2 := pipePair(t)
	reg := NewRegistry(alwaysExists, zerolog.Nop())
	require.Equal(t, SubOK, reg.Subscribe("k", w1))
	require.Equal(t, SubOK, reg.Subscribe("k", w2))

	reg.Notify("k", "v")

	buf1 := make([]byte, 64)
	n1, err := r1.Read(buf1)
	require.NoError(t, err)
	require.Equal(t, "(k,v)\x00", string(buf1[:n1]))

	buf2 := make([]byte, 64)
	n2, err := r2.Read(buf2)
	require.NoError(t, err)
	require.Equal(t, "(k,v)\x00", string(buf2[:n2]))
}

func TestRemoveClientDropsAllItsSubscriptions(t *testing.T) {
	_, w := pipePair(t)
	r := NewRegistry(alwaysExists, zerolog.Nop())
	require.Equal(t, SubOK, r.Subscribe("a", w))
	require.Equal(t, SubOK, r.Subscribe("b", w))

	r.RemoveClient(w)

	require.Equal(t, UnsubNotFound, r.Unsubscribe("a", w))
	require.Equal(t, UnsubNotFound, r.Unsubscribe("b", w))
}

func TestClearAllDropsEverySubscription(t *testing.T) {
	_, w := pipePair(t)
	r := NewRegistry(alwaysExists, zerolog.Nop())
	require.Equal(t, SubOK, r.Subscribe("a", w))
	r.ClearAll()
	require.Equal(t, UnsubNotFound, r.Unsubscribe("a", w))
}
