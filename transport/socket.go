package transport

import "github.com/ZironServer/ziron-go/batch"

// Socket is the external transport-level collaborator (spec.md §6): the
// controller sends raw frames through it and asks it about send
// backpressure, but never learns what kind of connection backs it
// (websocket, in-process pipe, anything else satisfying this interface).
type Socket interface {
	// Send writes one already-encoded frame. isBinary selects the
	// underlying connection's binary vs. text message mode.
	Send(payload []byte, isBinary bool) error
	// Cork lets the caller batch multiple Send calls (e.g. a text head
	// immediately followed by its binary-content companion frame) into
	// one underlying write/flush when the transport supports it.
	Cork(fn func())
	// HasLowSendBackpressure reports whether the underlying connection's
	// outbound buffer is currently shallow enough that a stream writer
	// gated on it should proceed.
	HasLowSendBackpressure() bool
}

// PackageBuffer is spec.md §6's external PackageBuffer collaborator.
// batch.Buffer satisfies this implicitly.
type PackageBuffer interface {
	Add(pkg *batch.Package, batched bool)
	FlushBuffer()
	ClearBatchTime()
	TryRemove(pkg *batch.Package) bool
}
