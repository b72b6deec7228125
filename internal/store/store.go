// Package store implements the sharded hash table at the core of kvsd:
// 26 buckets, each an independently locked singly linked list of entries.
package store

import (
	"fmt"
	"sort"
	"sync"
)

// MaxStringSize bounds both keys and values, matching spec's MAX_STRING_SIZE.
const MaxStringSize = 40

// BucketCount is fixed; the table never resizes.
const BucketCount = 26

// ErrKeyTooLong is returned when a key or value exceeds MaxStringSize.
var ErrKeyTooLong = fmt.Errorf("kvsd/store: key or value exceeds %d bytes", MaxStringSize)

// entry is one key-value pair in a bucket's chain.
type entry struct {
	key   string
	value string
	next  *entry
}

// bucket owns one chain of entries and the lock guarding it.
type bucket struct {
	mu   sync.RWMutex
	head *entry
}

// Store is the fixed 26-bucket sharded hash table. Zero value is not
// usable; construct with New.
type Store struct {
	buckets [BucketCount]*bucket
}

// New returns an empty, ready-to-use Store.
func New() *Store {
	s := &Store{}
	for i := range s.buckets {
		s.buckets[i] = &bucket{}
	}
	return s
}

// BucketIndex hashes a key to a bucket: lowercase first byte, 'a'-'z'
// maps to 0-25, '0'-'9' collapses into the same 0-25 range alongside
// letters, anything else is rejected with -1.
func BucketIndex(key string) int {
	if key == "" {
		return -1
	}
	c := key[0]
	if c >= 'A' && c <= 'Z' {
		c = c - 'A' + 'a'
	}
	switch {
	case c >= 'a' && c <= 'z':
		return int(c - 'a')
	case c >= '0' && c <= '9':
		return int(c - '0')
	default:
		return -1
	}
}

// distinctBuckets returns the ascending, de-duplicated set of bucket
// indices touched by keys. Invalid keys are simply excluded from the returned set;
// callers treat them as "not found"/"rejected" at the operation layer.
func distinctBuckets(keys []string) []int {
	seen := make(map[int]struct{}, len(keys))
	for _, k := range keys {
		if idx := BucketIndex(k); idx >= 0 {
			seen[idx] = struct{}{}
		}
	}
	out := make([]int, 0, len(seen))
	for idx := range seen {
		out = append(out, idx)
	}
	sort.Ints(out)
	return out
}

// lockSet is a RAII-style guard over a batch's distinct buckets, always
// acquired in ascending index order and released in the same order.
// Acquiring in ascending order across every caller is what makes
// concurrent overlapping batches deadlock-free.
type lockSet struct {
	buckets []*bucket
	write   bool
}

func (s *Store) lockBuckets(keys []string, write bool) *lockSet {
	idxs := distinctBuckets(keys)
	ls := &lockSet{buckets: make([]*bucket, len(idxs)), write: write}
	for i, idx := range idxs {
		b := s.buckets[idx]
		if write {
			b.mu.Lock()
		} else {
			b.mu.RLock()
		}
		ls.buckets[i] = b
	}
	return ls
}

func (ls *lockSet) unlock() {
	for _, b := range ls.buckets {
		if ls.write {
			b.mu.Unlock()
		} else {
			b.mu.RUnlock()
		}
	}
}

// find scans bucket b's chain for key. Caller must hold b.mu in the
// required mode.
func (b *bucket) find(key string) *entry {
	for e := b.head; e != nil; e = e.next {
		if e.key == key {
			return e
		}
	}
	return nil
}

// upsert writes key/value into bucket b, returning whether a new entry
// was created (false means an existing entry was overwritten). Caller
// must hold b.mu for writing.
func (b *bucket) upsert(key, value string) bool {
	if e := b.find(key); e != nil {
		e.value = value
		return false
	}
	b.head = &entry{key: key, value: value, next: b.head}
	return true
}

// remove deletes key from bucket b if present, reporting whether it was
// found. Caller must hold b.mu for writing.
func (b *bucket) remove(key string) bool {
	var prev *entry
	for e := b.head; e != nil; e = e.next {
		if e.key == key {
			if prev == nil {
				b.head = e.next
			} else {
				prev.next = e.next
			}
			return true
		}
		prev = e
	}
	return false
}

// Exists reports whether key is currently present. The result is
// advisory: nothing prevents the key from being deleted immediately
// after this call returns, which is the same advisory guarantee
// SUBSCRIBE's key-existence check relies on.
func (s *Store) Exists(key string) bool {
	idx := BucketIndex(key)
	if idx < 0 {
		return false
	}
	b := s.buckets[idx]
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.find(key) != nil
}

// Pair is one key-value result, used by Read and Show.
type Pair struct {
	Key     string
	Value   string
	Missing bool
}

// WriteBatch upserts every (key, value) pair. Keys longer than
// MaxStringSize, or values longer than MaxStringSize, are rejected for
// that pair only; the batch itself always succeeds as a whole. onWrite
// is called once per pair that actually lands in the table, with all
// bucket locks for the batch already released — see Registry.Notify in
// package session for why that ordering matters.
func (s *Store) WriteBatch(pairs []Pair, onWrite func(key, value string)) []bool {
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = p.Key
	}
	ls := s.lockBuckets(keys, true)
	ok := make([]bool, len(pairs))
	written := make([]Pair, 0, len(pairs))
	for i, p := range pairs {
		idx := BucketIndex(p.Key)
		if idx < 0 || len(p.Key) > MaxStringSize || len(p.Value) > MaxStringSize {
			ok[i] = false
			continue
		}
		s.buckets[idx].upsert(p.Key, p.Value)
		ok[i] = true
		written = append(written, p)
	}
	ls.unlock()

	if onWrite != nil {
		for _, p := range written {
			onWrite(p.Key, p.Value)
		}
	}
	return ok
}

// ReadBatch returns one Pair per requested key, in the order given,
// marking absent or invalid keys as Missing.
func (s *Store) ReadBatch(keys []string) []Pair {
	ls := s.lockBuckets(keys, false)
	defer ls.unlock()

	out := make([]Pair, len(keys))
	for i, k := range keys {
		idx := BucketIndex(k)
		if idx < 0 {
			out[i] = Pair{Key: k, Missing: true}
			continue
		}
		if e := s.buckets[idx].find(k); e != nil {
			out[i] = Pair{Key: k, Value: e.value}
		} else {
			out[i] = Pair{Key: k, Missing: true}
		}
	}
	return out
}

// DeleteBatch removes every present key, returning the subset that was
// missing (and therefore not removed). No notification is emitted for
// deletes — only writes fan out.
func (s *Store) DeleteBatch(keys []string) []string {
	ls := s.lockBuckets(keys, true)
	defer ls.unlock()

	missing := make([]string, 0, len(keys))
	for _, k := range keys {
		idx := BucketIndex(k)
		if idx < 0 || !s.buckets[idx].remove(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// Show returns every entry in bucket-index order, taking all 26 bucket
// read locks for the duration so the result is a consistent snapshot
// with respect to writers. Blocks every writer for its duration; use
// sparingly.
func (s *Store) Show() []Pair {
	for i := range s.buckets {
		s.buckets[i].mu.RLock()
	}
	defer func() {
		for i := range s.buckets {
			s.buckets[i].mu.RUnlock()
		}
	}()

	var out []Pair
	for _, b := range s.buckets {
		for e := b.head; e != nil; e = e.next {
			out = append(out, Pair{Key: e.key, Value: e.value})
		}
	}
	return out
}
