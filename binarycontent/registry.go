// Package binarycontent correlates a text packet referencing a
// binary-content id with the out-of-band binary frame that carries the
// blobs, and times out resolvers that never arrive (spec §4.3).
package binarycontent

import (
	"sync"
	"time"

	"github.com/ZironServer/ziron-go/zerr"
)

type resolver struct {
	callback func(blobs [][]byte, err error)
	timer    *time.Timer
	blobs    [][]byte // accumulated across continuation frames (Open Question (a): buffered semantics)
}

// Registry holds the outstanding id -> resolver map for one side of one
// connection.
type Registry struct {
	mu        sync.Mutex
	resolvers map[int64]*resolver
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{resolvers: make(map[int64]*resolver)}
}

// Await registers cb to fire once the BinaryContent frame for id arrives,
// or once timeout elapses, whichever comes first. Creating a resolver for
// an id that already has one outstanding is a fatal protocol error (spec
// §4.3 invariant) and panics — callers must allocate binary-content ids
// from a single-threaded owner so this can never happen in practice.
func (r *Registry) Await(id int64, timeout time.Duration, cb func(blobs [][]byte, err error)) {
	r.mu.Lock()
	if _, exists := r.resolvers[id]; exists {
		r.mu.Unlock()
		panic("binarycontent: resolver already registered for id (protocol invariant violated)")
	}
	res := &resolver{callback: cb}
	res.timer = time.AfterFunc(timeout, func() {
		r.fire(id, nil, &zerr.TimeoutError{Kind: zerr.TimeoutBinaryResolve})
	})
	r.resolvers[id] = res
	r.mu.Unlock()
}

// Deliver feeds one arrived BinaryContent frame's blobs to the resolver for
// id. When continued is true, the blobs are buffered and the resolver stays
// outstanding awaiting a further frame with the same id (Open Question (a)).
func (r *Registry) Deliver(id int64, blobs [][]byte, continued bool) {
	r.mu.Lock()
	res, ok := r.resolvers[id]
	if !ok {
		r.mu.Unlock()
		return // no bearing resolver (already timed out, or stray frame) — not fatal
	}
	res.blobs = append(res.blobs, blobs...)
	if continued {
		r.mu.Unlock()
		return
	}
	delete(r.resolvers, id)
	res.timer.Stop()
	r.mu.Unlock()
	res.callback(res.blobs, nil)
}

func (r *Registry) fire(id int64, blobs [][]byte, err error) {
	r.mu.Lock()
	res, ok := r.resolvers[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.resolvers, id)
	r.mu.Unlock()
	res.callback(blobs, err)
}

// DropAll rejects every outstanding resolver with err (used on
// bad-connection) and clears the registry.
func (r *Registry) DropAll(err error) {
	r.mu.Lock()
	pending := r.resolvers
	r.resolvers = make(map[int64]*resolver)
	r.mu.Unlock()

	for _, res := range pending {
		res.timer.Stop()
		res.callback(res.blobs, err)
	}
}

// Len reports the number of outstanding resolvers (test/diagnostic use).
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.resolvers)
}

// IsLive reports whether id currently has an outstanding resolver, letting
// the controller's id allocator skip collisions on wrap (spec §9 Open
// Question c).
func (r *Registry) IsLive(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.resolvers[id]
	return ok
}
