// Package session implements the live-client half of kvsd: the
// subscription registry, the bounded session queue, the session
// worker pool, and the registration listener.
package session

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Subscribe status codes, wire-exact.
const (
	SubOK            = 0
	SubNoSuchKey     = 1
	SubAlreadySubbed = 3
	// SubLimitReached shares the "no such key"-class status byte; a cap
	// hit and a missing key are indistinguishable to the client.
	SubLimitReached = 1
)

// Unsubscribe status codes.
const (
	UnsubOK       = 0
	UnsubNotFound = 1
)

// MaxSubscriptionsPerEndpoint is the server-enforced per-client
// subscription cap.
const MaxSubscriptionsPerEndpoint = 10

// Endpoint is the notification sink a subscription fans out to. The
// registry only ever writes to it; ownership (including closing it)
// belongs to whoever created the Session.
type Endpoint = *os.File

type subscription struct {
	key      string
	endpoint Endpoint
}

// Registry is the single mutex-protected list of (key, endpoint)
// subscriptions. It never closes an endpoint: it only holds a
// back-reference.
type Registry struct {
	mu     sync.Mutex
	subs   []subscription
	exists func(key string) bool
	logger zerolog.Logger
}

// NewRegistry builds a Registry. exists is consulted on Subscribe to
// implement an advisory key-existence check.
func NewRegistry(exists func(key string) bool, logger zerolog.Logger) *Registry {
	return &Registry{exists: exists, logger: logger}
}

// Subscribe records (key, endpoint), returning SubOK, SubNoSuchKey if
// the key does not currently exist, SubAlreadySubbed if the exact pair
// is already registered, or SubLimitReached if endpoint already holds
// MaxSubscriptionsPerEndpoint subscriptions.
func (r *Registry) Subscribe(key string, endpoint Endpoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.exists(key) {
		return SubNoSuchKey
	}

	count := 0
	for _, s := range r.subs {
		if s.endpoint == endpoint {
			count++
		}
		if s.key == key && s.endpoint == endpoint {
			return SubAlreadySubbed
		}
	}
	if count >= MaxSubscriptionsPerEndpoint {
		return SubLimitReached
	}

	r.subs = append(r.subs, subscription{key: key, endpoint: endpoint})
	return SubOK
}

// Unsubscribe removes the (key, endpoint) pair: only an entry matching
// both the key and the caller's own endpoint is removed, so one client
// can never unsubscribe another's subscription.
func (r *Registry) Unsubscribe(key string, endpoint Endpoint) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.subs {
		if s.key == key && s.endpoint == endpoint {
			r.subs = append(r.subs[:i], r.subs[i+1:]...)
			return UnsubOK
		}
	}
	return UnsubNotFound
}

// RemoveClient deletes every subscription held by endpoint. Called on
// DISCONNECT, reload, and shutdown.
func (r *Registry) RemoveClient(endpoint Endpoint) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.subs[:0]
	for _, s := range r.subs {
		if s.endpoint != endpoint {
			kept = append(kept, s)
		}
	}
	r.subs = kept
}

// Notify fans "(key,value)\0" out to every endpoint subscribed to key.
// Per-endpoint write failures (a dead client) are dropped silently;
// the stale entry is cleaned up later by the normal RemoveClient path,
// not here. Callers must not hold any store lock when calling Notify:
// a subscriber that is also a writer could otherwise invert lock
// order against the registry mutex.
func (r *Registry) Notify(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	payload := append([]byte("("+key+","+value+")"), 0)
	for _, s := range r.subs {
		if s.key != key {
			continue
		}
		if _, err := s.endpoint.Write(payload); err != nil {
			r.logger.Debug().Err(err).Str("key", key).Msg("notification write failed, dropping")
		}
	}
}

// ClearAll drops every subscription, used on reload (SIGUSR1) and
// shutdown.
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = nil
}
