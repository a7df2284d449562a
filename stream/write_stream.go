package stream

import (
	"sync"

	"github.com/ZironServer/ziron-go/codec"
)

// Chunk is one unit handed to WriteStream.Write: Value for an object
// stream, Raw for a binary stream. Size is the credit cost the caller
// declares for this chunk (item count for object streams, byte length for
// binary streams) and must never exceed the credit check performed here.
type Chunk struct {
	Value codec.Value
	Raw   []byte
	Size  int64
}

// WriteSinks are the transport-owned hooks a WriteStream calls to actually
// put bytes on the wire. They must be safe to call synchronously; send
// failures are returned to the caller of Write/End/Close, matching spec
// §6's "send(...) — best-effort, may throw".
type WriteSinks struct {
	SendChunk func(streamID int64, kind Kind, chunk Chunk) error
	SendEnd   func(streamID int64, kind Kind, hasChunk bool, chunk Chunk) error
	SendClose func(streamID int64, code int) error
}

// WriteStream is the write-side half of spec §4.5's per-stream state
// machine. It satisfies codec.StreamRef so a caller can embed it directly
// in a Value tree; the encoder calls BindID once an id has been allocated.
type WriteStream struct {
	mu    sync.Mutex
	cond  *sync.Cond
	kind  Kind
	id    int64
	state State

	credit int64

	backpressure *backpressureGate
	sinks        WriteSinks

	closeCode   int
	closeErr    error
	onClosed    []func(code int, err error)
}

// NewWriteStream constructs an unbound write-stream. hasLowSendBackpressure
// is the socket-owned predicate consulted before every chunk send.
func NewWriteStream(kind Kind, sinks WriteSinks, hasLowSendBackpressure func() bool) *WriteStream {
	w := &WriteStream{
		kind:         kind,
		state:        StateCreated,
		backpressure: newBackpressureGate(hasLowSendBackpressure),
		sinks:        sinks,
	}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// BindID implements codec.StreamRef; the encoder calls it once per encode
// with a freshly allocated stream id.
func (w *WriteStream) BindID(id int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.id = id
}

// ID returns the bound stream id, or 0 before BindID has been called.
func (w *WriteStream) ID() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.id
}

func (w *WriteStream) Kind() Kind { return w.kind }

// IsBinaryStream implements codec.StreamRef, telling the encoder's id
// allocator which signed id space (spec §3) this stream belongs to.
func (w *WriteStream) IsBinaryStream() bool { return w.kind == KindBinary }

func (w *WriteStream) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// AfterSend transitions Created -> AwaitingAccept once the packet carrying
// this stream's id has actually gone out (spec §4.2 "after `_afterSend`,
// transition the writer to awaiting accept").
func (w *WriteStream) AfterSend() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateCreated {
		w.state = StateAwaitingAccept
	}
}

// Accept transitions Created/AwaitingAccept -> Open with the granted
// initial credit, in response to an inbound StreamAccept.
func (w *WriteStream) Accept(initialCredit int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateClosed {
		return
	}
	w.state = StateOpen
	w.credit = initialCredit
	w.cond.Broadcast()
}

// GrantCredit adds additional credit in response to an inbound
// StreamDataPermission.
func (w *WriteStream) GrantCredit(additional int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateClosed {
		return
	}
	w.credit += additional
	w.cond.Broadcast()
}

// Write sends one chunk once credit covers chunk.Size and the socket's
// low-backpressure predicate holds, blocking until both conditions are
// met or the stream closes. The writer never sends beyond cumulative
// granted credit (spec §8 "Credit respect").
func (w *WriteStream) Write(chunk Chunk) error {
	w.mu.Lock()
	for {
		if w.state == StateClosed {
			err := w.closeErr
			w.mu.Unlock()
			if err != nil {
				return err
			}
			return ErrStreamClosed
		}
		if w.state == StateOpen && w.credit >= chunk.Size {
			break
		}
		w.cond.Wait()
	}
	w.credit -= chunk.Size
	id := w.id
	kind := w.kind
	w.mu.Unlock()

	w.backpressure.wait()
	return w.sinks.SendChunk(id, kind, chunk)
}

// End sends StreamEnd, optionally carrying a final chunk, and transitions
// to Closed. chunk.Size is not checked against credit: a final chunk is
// accepted regardless of remaining balance, mirroring spec §4.5's "user
// end -> sends StreamEnd (with optional final chunk) -> Closed".
func (w *WriteStream) End(chunk *Chunk) error {
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		return ErrStreamClosed
	}
	id, kind := w.id, w.kind
	w.mu.Unlock()

	var hasChunk bool
	var c Chunk
	if chunk != nil {
		hasChunk = true
		c = *chunk
	}
	err := w.sinks.SendEnd(id, kind, hasChunk, c)
	w.transitionClosed(CloseCodeEnd, nil)
	return err
}

// CloseLocal aborts the stream locally, sending WriteStreamClose(code).
func (w *WriteStream) CloseLocal(code int) error {
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		return ErrAlreadyClosed
	}
	id := w.id
	w.mu.Unlock()

	err := w.sinks.SendClose(id, code)
	w.transitionClosed(code, nil)
	return err
}

// OnReadStreamClose handles an inbound ReadStreamClose: the reader aborted,
// so this side transitions to Closed without sending anything further.
func (w *WriteStream) OnReadStreamClose(code int) {
	w.transitionClosed(code, nil)
}

// Abort forces Closed with err, used by bad-connection fan-out.
func (w *WriteStream) Abort(err error) {
	w.transitionClosed(0, err)
}

func (w *WriteStream) transitionClosed(code int, err error) {
	w.mu.Lock()
	if w.state == StateClosed {
		w.mu.Unlock()
		return
	}
	w.state = StateClosed
	w.closeCode = code
	w.closeErr = err
	listeners := w.onClosed
	w.onClosed = nil
	w.cond.Broadcast()
	w.mu.Unlock()

	for _, fn := range listeners {
		fn(code, err)
	}
}

// OnClosed registers fn to run once the stream closes (any reason); fn
// runs immediately, synchronously, if the stream is already closed. Used
// by the invoke registry's lazy timer arming (spec §4.4).
func (w *WriteStream) OnClosed(fn func(code int, err error)) {
	w.mu.Lock()
	if w.state == StateClosed {
		code, err := w.closeCode, w.closeErr
		w.mu.Unlock()
		fn(code, err)
		return
	}
	w.onClosed = append(w.onClosed, fn)
	w.mu.Unlock()
}

// DrainBackpressure wakes writers queued on the backpressure gate; the
// socket adapter calls this when it observes backpressure easing.
func (w *WriteStream) DrainBackpressure() {
	w.backpressure.drain()
}
