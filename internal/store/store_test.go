package store

import (
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestBucketIndexCollapsesLettersAndDigits(t *testing.T) {
	require.Equal(t, 0, BucketIndex("apple"))
	require.Equal(t, 0, BucketIndex("0zero"))
	require.Equal(t, 0, BucketIndex("Apple"))
	require.Equal(t, 25, BucketIndex("zebra"))
	require.Equal(t, -1, BucketIndex("_nope"))
	require.Equal(t, -1, BucketIndex(""))
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	s := New()
	var notified []string
	ok := s.WriteBatch([]Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}, func(k, v string) {
		notified = append(notified, fmt.Sprintf("%s=%s", k, v))
	})
	require.Equal(t, []bool{true, true}, ok)
	require.ElementsMatch(t, []string{"a=1", "b=2"}, notified)

	got := s.ReadBatch([]string{"a", "b"})
	want := []Pair{{Key: "a", Value: "1"}, {Key: "b", Value: "2"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ReadBatch mismatch (-want +got):\n%s", diff)
	}
}

func TestReadMissingKey(t *testing.T) {
	s := New()
	got := s.ReadBatch([]string{"z"})
	require.Equal(t, []Pair{{Key: "z", Missing: true}}, got)
}

func TestDeleteIdempotence(t *testing.T) {
	s := New()
	s.WriteBatch([]Pair{{Key: "a", Value: "1"}}, nil)

	missing := s.DeleteBatch([]string{"a"})
	require.Empty(t, missing)

	missing = s.DeleteBatch([]string{"a"})
	require.Equal(t, []string{"a"}, missing)
}

func TestWriteOverwriteDoesNotDuplicate(t *testing.T) {
	s := New()
	s.WriteBatch([]Pair{{Key: "a", Value: "1"}}, nil)
	s.WriteBatch([]Pair{{Key: "a", Value: "2"}}, nil)

	got := s.ReadBatch([]string{"a"})
	require.Equal(t, "2", got[0].Value)
	require.Equal(t, []Pair{{Key: "a", Value: "2"}}, s.Show())
}

func TestOversizedPairRejectedButBatchSucceeds(t *testing.T) {
	s := New()
	long := make([]byte, MaxStringSize+1)
	for i := range long {
		long[i] = 'x'
	}
	ok := s.WriteBatch([]Pair{{Key: "a", Value: "1"}, {Key: string(long), Value: "2"}}, nil)
	require.Equal(t, []bool{true, false}, ok)
}

func TestShowOrdersByBucketIndex(t *testing.T) {
	s := New()
	s.WriteBatch([]Pair{{Key: "z", Value: "1"}, {Key: "a", Value: "2"}, {Key: "m", Value: "3"}}, nil)

	got := s.Show()
	idxs := make([]int, len(got))
	for i, p := range got {
		idxs[i] = BucketIndex(p.Key)
	}
	require.True(t, sort.IntsAreSorted(idxs))
}

// TestConcurrentOverlappingBatchesDoNotDeadlock fuzzes concurrent
// batches on overlapping key sets: they must never deadlock, and every
// individual write must land.
func TestConcurrentOverlappingBatchesDoNotDeadlock(t *testing.T) {
	s := New()
	keys := []string{"a", "b", "c", "d", "e"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pairs := make([]Pair, len(keys))
			for j, k := range keys {
				pairs[j] = Pair{Key: k, Value: fmt.Sprintf("v%d", i)}
			}
			s.WriteBatch(pairs, nil)
		}(i)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("deadlock: concurrent batches did not complete")
	}

	got := s.ReadBatch(keys)
	for _, p := range got {
		require.False(t, p.Missing)
	}
}
