// Package batch implements spec §6's external PackageBuffer collaborator:
// batching outgoing packages under size/time thresholds before a flush
// sends them as one socket write boundary.
package batch

import (
	"sync"
	"time"
)

// Package is the minimal shape batch needs from a transport package: a
// pre-encoded frame ready to send, and an optional hook the buffer calls
// once it has actually been flushed. Extra carries a companion binary-opcode
// frame (e.g. a BinaryContent frame riding alongside a Transmit/Invoke text
// head) that must be written immediately after Payload within the same
// flush, so the pair is never split across two batch flushes.
type Package struct {
	Payload    []byte
	IsBinary   bool
	Extra      []byte
	AfterFlush func()
}

// Buffer is transport's external PackageBuffer collaborator (spec §6):
// `add`, `flushBuffer`, `clearBatchTime`, `tryRemove`, with size/time
// threshold options. Grounded on the teacher's `internal/pool/watcher.go`
// ticker-driven background loop, adapted from file-change polling to a
// flush deadline.
type Buffer struct {
	mu       sync.Mutex
	maxSize  int
	maxDelay time.Duration
	items    []*Package
	size     int
	timer    *time.Timer

	flush func(items []*Package)
}

// New constructs a Buffer that flushes when either maxSize bytes have
// accumulated or maxDelay has elapsed since the first buffered item,
// whichever comes first. flush is called with the buffered items in
// arrival order; it must actually perform the socket write(s).
func New(maxSize int, maxDelay time.Duration, flush func(items []*Package)) *Buffer {
	return &Buffer{maxSize: maxSize, maxDelay: maxDelay, flush: flush}
}

// Add enqueues pkg. If batch is false, or the buffered bytes reach
// maxSize, it flushes immediately (including anything already queued).
func (b *Buffer) Add(pkg *Package, batch bool) {
	b.mu.Lock()
	if !batch {
		pending := b.drainLocked()
		b.mu.Unlock()
		b.flushItems(append(pending, pkg))
		return
	}

	b.items = append(b.items, pkg)
	b.size += len(pkg.Payload) + len(pkg.Extra)
	if b.timer == nil {
		b.timer = time.AfterFunc(b.maxDelay, b.onTimer)
	}
	exceeded := b.maxSize > 0 && b.size >= b.maxSize
	var pending []*Package
	if exceeded {
		pending = b.drainLocked()
	}
	b.mu.Unlock()

	if exceeded {
		b.flushItems(pending)
	}
}

func (b *Buffer) onTimer() {
	b.mu.Lock()
	pending := b.drainLocked()
	b.mu.Unlock()
	b.flushItems(pending)
}

// drainLocked empties the buffer and stops the pending timer, returning
// whatever had accumulated. Caller holds b.mu.
func (b *Buffer) drainLocked() []*Package {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	items := b.items
	b.items = nil
	b.size = 0
	return items
}

func (b *Buffer) flushItems(items []*Package) {
	if len(items) == 0 {
		return
	}
	b.flush(items)
	for _, it := range items {
		if it.AfterFlush != nil {
			it.AfterFlush()
		}
	}
}

// FlushBuffer forces an immediate flush of whatever is currently queued.
func (b *Buffer) FlushBuffer() {
	b.mu.Lock()
	pending := b.drainLocked()
	b.mu.Unlock()
	b.flushItems(pending)
}

// ClearBatchTime cancels the pending flush timer without flushing,
// used when a connection drops mid-batch (spec §4.6 emitBadConnection
// "clear batch timer").
func (b *Buffer) ClearBatchTime() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
}

// TryRemove removes pkg from the buffer if it hasn't been flushed yet,
// reporting whether it was found (spec's `tryCancelPackage`).
func (b *Buffer) TryRemove(pkg *Package) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, it := range b.items {
		if it == pkg {
			b.items = append(b.items[:i], b.items[i+1:]...)
			b.size -= len(pkg.Payload) + len(pkg.Extra)
			return true
		}
	}
	return false
}
