// Package transport composes the wire/codec/binarycontent/invoke/stream
// packages into the single connection-facing façade of spec.md §4.6: one
// Controller per connection, talking to an externally-owned Socket and
// PackageBuffer.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/ZironServer/ziron-go/batch"
	"github.com/ZironServer/ziron-go/binarycontent"
	"github.com/ZironServer/ziron-go/codec"
	"github.com/ZironServer/ziron-go/invoke"
	"github.com/ZironServer/ziron-go/stream"
	"github.com/ZironServer/ziron-go/wire"
	"github.com/ZironServer/ziron-go/zerr"
)

// Controller is one side of one ziron connection.
type Controller struct {
	mu     sync.Mutex
	socket Socket
	open   bool

	buffer PackageBuffer
	opts   Options
	logger *slog.Logger

	invokes  *invoke.Registry
	binaries *binarycontent.Registry
	streams  *stream.Registry

	binaryIDs *idAllocator

	badConnectionStamp int64

	onTransmit       func(sender string, data any, dataType wire.DataType)
	onInvoke         func(ctx *InvokeContext)
	onPing           func()
	onPong           func()
	onInvalidMessage func(err error)
	onListenerError  func(err error)
}

// NewController wires a Controller around socket and buffer. Neither is
// used until EmitConnection marks the controller open.
func NewController(buffer PackageBuffer, opts Options, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		buffer:   buffer,
		opts:     opts,
		logger:   logger,
		invokes:  invoke.NewRegistry(),
		binaries: binarycontent.NewRegistry(),
		streams:  stream.NewRegistry(),
	}
	c.binaryIDs = newIDAllocator(c.binaries.IsLive)
	return c
}

func (c *Controller) nextBinaryContentID() int64 { return c.binaryIDs.next() }

// OnTransmit registers the inbound-transmit listener.
func (c *Controller) OnTransmit(fn func(sender string, data any, dataType wire.DataType)) {
	c.onTransmit = fn
}

// OnInvoke registers the inbound-invoke listener.
func (c *Controller) OnInvoke(fn func(ctx *InvokeContext)) { c.onInvoke = fn }

// OnPing registers the ping listener.
func (c *Controller) OnPing(fn func()) { c.onPing = fn }

// OnPong registers the pong listener.
func (c *Controller) OnPong(fn func()) { c.onPong = fn }

// OnInvalidMessage registers the malformed-inbound-frame listener.
func (c *Controller) OnInvalidMessage(fn func(err error)) { c.onInvalidMessage = fn }

// OnListenerError registers the catch-all for panics/errors raised by any
// other listener (spec.md §4.6/§7: "errors in onListenerError are
// swallowed to prevent cascading").
func (c *Controller) OnListenerError(fn func(err error)) { c.onListenerError = fn }

// encode runs the value codec against this controller's id allocators and
// adopts any embedded write-streams into the stream registry.
func (c *Controller) encode(v codec.Value, disableComplex bool) (codec.EncodeResult, error) {
	deps := codec.EncodeDeps{
		AllocateBinaryID: c.nextBinaryContentID,
		AllocateStreamID: c.streams.ReserveWriterID,
	}
	res, err := codec.Encode(v, deps, disableComplex)
	if err != nil {
		return codec.EncodeResult{}, err
	}
	for _, ref := range res.Streams {
		if ws, ok := ref.(*stream.WriteStream); ok {
			c.streams.AdoptWriter(ws)
			// Every adopted writer must leave the registry once it closes by
			// any path, not only the inbound-ReadStreamClose path dispatch.go
			// already handles; End()/CloseLocal() reaching transitionClosed
			// was never unregistering the writer, leaking it for the life of
			// the connection.
			id := ws.ID()
			ws.OnClosed(func(int, error) { c.streams.RemoveWriter(id) })
		}
	}
	return res, nil
}

func (c *Controller) dehydrateError(err error) (json.RawMessage, error) {
	return json.Marshal(err.Error())
}

// sendHeadAndFrame writes head and, if present, frame as one corked write
// when the connection is open; when it is not, it reports a bad-connection
// error instead of silently dropping the frame.
func (c *Controller) sendHeadAndFrame(head, frame []byte) error {
	c.mu.Lock()
	socket, open := c.socket, c.open
	c.mu.Unlock()
	if !open || socket == nil {
		return &zerr.BadConnectionError{ConnType: "transport", Msg: "connection not open"}
	}
	var sendErr error
	socket.Cork(func() {
		if err := socket.Send(head, false); err != nil {
			sendErr = err
			return
		}
		if frame != nil {
			sendErr = socket.Send(frame, true)
		}
	})
	c.maybeDrainBackpressure()
	return sendErr
}

// PrepareTransmit encodes v into a ready-to-send Transmit package without
// sending it.
func (c *Controller) PrepareTransmit(receiver string, v codec.Value, opts TransmitOptions) (*Package, error) {
	res, err := c.encode(v, opts.DisableComplexTypes)
	if err != nil {
		return nil, fmt.Errorf("transport: encoding transmit payload: %w", err)
	}
	data, err := dataField(res)
	if err != nil {
		return nil, err
	}
	p := wire.TransmitPacket{Receiver: receiver, DataType: res.DataType, Data: data, Meta: metaField(res)}
	head, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("transport: encoding transmit tuple: %w", err)
	}

	pkg := &Package{Head: head, BinaryFrame: buildBinaryFrame(res)}
	pkg.afterSend = c.afterSendHook(res)
	return pkg, nil
}

// afterSendHook builds the callback that fires stream AfterSend hooks once
// a prepared package with embedded streams has actually left the socket.
func (c *Controller) afterSendHook(res codec.EncodeResult) func() {
	if len(res.Streams) == 0 {
		return nil
	}
	return func() {
		for _, ref := range res.Streams {
			if ws, ok := ref.(*stream.WriteStream); ok {
				ws.AfterSend()
			}
		}
	}
}

// Transmit prepares and immediately sends a Transmit package.
func (c *Controller) Transmit(receiver string, v codec.Value, opts TransmitOptions) error {
	pkg, err := c.PrepareTransmit(receiver, v, opts)
	if err != nil {
		return err
	}
	return c.SendPackage(pkg, opts.Batch)
}

// PrepareInvoke encodes v into a ready-to-send Invoke package and returns
// the future its response will settle.
func (c *Controller) PrepareInvoke(procedure string, v codec.Value, opts InvokeOptions) (*Package, *InvokeFuture, error) {
	future := newInvokeFuture()
	callID := c.invokes.Prepare(
		func(resp invoke.Response) { future.settle(resp, nil) },
		func(err error) { future.settle(invoke.Response{}, err) },
		opts.ReturnDataType,
	)

	res, err := c.encode(v, opts.DisableComplexTypes)
	if err != nil {
		c.invokes.Reject(callID, err)
		return nil, nil, fmt.Errorf("transport: encoding invoke payload: %w", err)
	}
	data, err := dataField(res)
	if err != nil {
		c.invokes.Reject(callID, err)
		return nil, nil, err
	}
	p := wire.InvokePacket{Procedure: procedure, CallID: callID, DataType: res.DataType, Data: data, Meta: metaField(res)}
	head, err := p.Encode()
	if err != nil {
		c.invokes.Reject(callID, err)
		return nil, nil, fmt.Errorf("transport: encoding invoke tuple: %w", err)
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.opts.ResponseTimeout
	}
	if len(res.Streams) > 0 {
		c.invokes.AwaitStreamClose(callID, len(res.Streams))
		for _, ref := range res.Streams {
			if ws, ok := ref.(*stream.WriteStream); ok {
				ws.OnClosed(func(int, error) { c.invokes.StreamClosed(callID) })
			}
		}
	}

	pkg := &Package{Head: head, BinaryFrame: buildBinaryFrame(res), Invoke: future}
	afterStream := c.afterSendHook(res)
	pkg.afterSend = func() {
		if afterStream != nil {
			afterStream()
		}
		c.invokes.Arm(callID, timeout)
	}
	return pkg, future, nil
}

// Invoke prepares, sends, and blocks for the response to an invoke call.
func (c *Controller) Invoke(ctx context.Context, procedure string, v codec.Value, opts InvokeOptions) (invoke.Response, error) {
	pkg, future, err := c.PrepareInvoke(procedure, v, opts)
	if err != nil {
		return invoke.Response{}, err
	}
	if err := c.SendPackage(pkg, opts.Batch); err != nil {
		return invoke.Response{}, err
	}
	return future.Wait(ctx)
}

// SendPackage sends pkg now, or hands it to the PackageBuffer when batched
// is true or the connection is currently down (spec.md §4.6: packages sent
// while disconnected still queue for the next connection).
func (c *Controller) SendPackage(pkg *Package, batched bool) error {
	c.mu.Lock()
	open := c.open
	c.mu.Unlock()

	if batched || !open {
		bp := &batch.Package{Payload: pkg.Head, Extra: pkg.BinaryFrame, AfterFlush: pkg.afterSend}
		pkg.buffered = bp
		c.buffer.Add(bp, true)
		if !open {
			// No flush deadline while disconnected: EmitConnection's
			// FlushBuffer sends the queue. Reaching the buffer's size
			// threshold still flushes it at once.
			c.buffer.ClearBatchTime()
		}
		return nil
	}

	if err := c.sendHeadAndFrame(pkg.Head, pkg.BinaryFrame); err != nil {
		return err
	}
	if pkg.afterSend != nil {
		pkg.afterSend()
	}
	return nil
}

// SendPackageWithPromise sends pkg and blocks until it has actually left
// the socket (immediately, or on a later batch flush) or ctx is done.
func (c *Controller) SendPackageWithPromise(ctx context.Context, pkg *Package, batched bool) error {
	done := make(chan struct{})
	inner := pkg.afterSend
	pkg.afterSend = func() {
		if inner != nil {
			inner()
		}
		close(done)
	}
	if err := c.SendPackage(pkg, batched); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryCancelPackage removes pkg from the package buffer if it has not yet
// been flushed, reporting whether it was found.
func (c *Controller) TryCancelPackage(pkg *Package) bool {
	if pkg.buffered == nil {
		return false
	}
	return c.buffer.TryRemove(pkg.buffered)
}

// SendPing best-effort sends a single PING control byte. Failures are
// logged, not returned (spec.md §7: ping/pong send errors are swallowed).
func (c *Controller) SendPing() {
	c.mu.Lock()
	socket, open := c.socket, c.open
	c.mu.Unlock()
	if !open || socket == nil {
		return
	}
	if err := socket.Send([]byte{wire.PingByte}, true); err != nil {
		c.logger.Debug("send ping failed", "error", err)
	}
}

// SendPong best-effort sends a single PONG control byte.
func (c *Controller) SendPong() {
	c.mu.Lock()
	socket, open := c.socket, c.open
	c.mu.Unlock()
	if !open || socket == nil {
		return
	}
	if err := socket.Send([]byte{wire.PongByte}, true); err != nil {
		c.logger.Debug("send pong failed", "error", err)
	}
}

// EmitConnection marks the controller open against socket and flushes
// anything queued while disconnected (or before the first connection).
func (c *Controller) EmitConnection(socket Socket) {
	c.mu.Lock()
	c.socket = socket
	c.open = true
	c.mu.Unlock()
	c.buffer.FlushBuffer()
}

// EmitBadConnection marks the controller closed and rejects every
// outstanding invoke, binary-content resolver, and stream with a
// BadConnectionError. Identifier counters are not reset (spec.md §9).
func (c *Controller) EmitBadConnection(connType, msg string) {
	c.mu.Lock()
	c.open = false
	c.socket = nil
	c.mu.Unlock()
	atomic.AddInt64(&c.badConnectionStamp, 1)
	c.buffer.ClearBatchTime()

	err := &zerr.BadConnectionError{ConnType: connType, Msg: msg}
	c.invokes.DropAll(err)
	c.binaries.DropAll(err)
	c.streams.DropAll(err)
}

func (c *Controller) safeCall(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.reportListenerError(fmt.Errorf("transport: listener panicked: %v", r))
		}
	}()
	fn()
}

func (c *Controller) reportListenerError(err error) {
	if c.onListenerError == nil {
		c.logger.Warn("unhandled listener error", "error", err)
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("onListenerError itself panicked; swallowed", "panic", r)
		}
	}()
	c.onListenerError(err)
}

func (c *Controller) reportInvalidMessage(err error) {
	if c.onInvalidMessage == nil {
		c.logger.Warn("invalid inbound message", "error", err)
		return
	}
	c.safeCall(func() { c.onInvalidMessage(err) })
}

// SendRaw satisfies multitransmit.Dispatcher, letting a Controller be used
// directly as a broadcast target.
func (c *Controller) SendRaw(payload []byte, isBinary bool) error {
	c.mu.Lock()
	socket, open := c.socket, c.open
	c.mu.Unlock()
	if !open || socket == nil {
		return &zerr.BadConnectionError{ConnType: "transport", Msg: "connection not open"}
	}
	return socket.Send(payload, isBinary)
}
