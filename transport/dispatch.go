package transport

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/ZironServer/ziron-go/codec"
	"github.com/ZironServer/ziron-go/stream"
	"github.com/ZironServer/ziron-go/wire"
	"github.com/ZironServer/ziron-go/zerr"
)

// EmitMessage is the single inbound entry point: every byte arriving on
// the socket, text or binary, is handed to this method (spec.md §4.6).
// A panic anywhere in the dispatch tree is recovered and reported as an
// invalid message rather than killing the connection.
func (c *Controller) EmitMessage(raw []byte, isBinary bool) {
	defer func() {
		if r := recover(); r != nil {
			c.reportInvalidMessage(fmt.Errorf("transport: panic handling inbound message: %v", r))
		}
	}()
	if isBinary {
		c.handleBinaryFrame(raw)
		return
	}
	c.handleTextFrame(raw)
}

func (c *Controller) handleBinaryFrame(raw []byte) {
	if ping, pong, ok := wire.IsControlByte(raw); ok {
		if ping {
			c.fireOnPing()
		} else if pong {
			c.fireOnPong()
		}
		return
	}

	frame, err := wire.DecodeBinaryFrame(raw)
	if err != nil {
		c.reportInvalidMessage(&zerr.InvalidMessageError{Reason: "binary frame", Cause: err})
		return
	}

	switch frame.Type {
	case wire.BinaryContent:
		blobs, continued, err := wire.DecodeBlobs(frame.Payload)
		if err != nil {
			c.reportInvalidMessage(&zerr.InvalidMessageError{Reason: "binary content payload", Cause: err})
			return
		}
		c.binaries.Deliver(int64(frame.ID), blobs, continued)

	case wire.StreamChunk:
		c.handleBinaryStreamChunk(int64(frame.ID), frame.Payload)

	case wire.StreamEnd:
		c.handleBinaryStreamEnd(int64(frame.ID), frame.Payload)

	default:
		c.reportInvalidMessage(&zerr.InvalidMessageError{Reason: fmt.Sprintf("unexpected binary frame type %s", frame.Type)})
	}
}

func (c *Controller) handleBinaryStreamChunk(id int64, payload []byte) {
	rs, ok := c.streams.Reader(id)
	if !ok {
		return // stream already closed/unknown — stray frame, not fatal
	}
	seq := rs.Reserve()
	chunk := append([]byte(nil), payload...)
	rs.Resolve(seq, chunk, int64(len(chunk)), nil)
}

func (c *Controller) handleBinaryStreamEnd(id int64, payload []byte) {
	rs, ok := c.streams.Reader(id)
	if !ok {
		return
	}
	seq := rs.Reserve()
	if len(payload) == 0 {
		rs.ResolveEnd(seq, false, nil, 0, nil)
	} else {
		chunk := append([]byte(nil), payload...)
		rs.ResolveEnd(seq, true, chunk, int64(len(chunk)), nil)
	}
	c.streams.RemoveReader(id)
}

func (c *Controller) handleTextFrame(raw []byte) {
	pkt, err := wire.ParseFrame(raw, true)
	if err != nil {
		c.reportInvalidMessage(&zerr.InvalidMessageError{Reason: "text frame", Cause: err})
		return
	}
	c.dispatchPacket(pkt)
}

func (c *Controller) dispatchPacket(pkt wire.Packet) {
	switch p := pkt.(type) {
	case wire.BundlePacket:
		for _, action := range p.Actions {
			c.dispatchPacket(action)
		}
	case wire.TransmitPacket:
		c.handleTransmit(p)
	case wire.InvokePacket:
		c.handleInvoke(p)
	case wire.InvokeDataRespPacket:
		c.handleInvokeDataResp(p)
	case wire.InvokeErrRespPacket:
		c.handleInvokeErrResp(p)
	case wire.StreamAcceptPacket:
		c.handleStreamAccept(p)
	case wire.StreamChunkPacket:
		c.handleStreamChunk(p)
	case wire.StreamEndPacket:
		c.handleStreamEnd(p)
	case wire.StreamDataPermissionPacket:
		c.handleStreamDataPermission(p)
	case wire.WriteStreamClosePacket:
		c.handleWriteStreamClose(p)
	case wire.ReadStreamClosePacket:
		c.handleReadStreamClose(p)
	default:
		c.reportInvalidMessage(&zerr.InvalidMessageError{Reason: fmt.Sprintf("unhandled packet type %T", pkt)})
	}
}

// decodeDeps builds the codec.DecodeDeps shared by every inbound payload
// decode, parameterized by whether embedded streams are legal in this
// context (top-level Transmit/Invoke data vs. a stream chunk, gated by
// Options.ChunksCanContainStreams).
func (c *Controller) decodeDeps(allowStreams bool) codec.DecodeDeps {
	return codec.DecodeDeps{
		ResolveBinary:          c.binaries.Await,
		NewReadStream:          c.newReadStream,
		BinaryContentTimeout:   c.opts.BinaryContentPacketTimeout,
		StreamsPerPackageLimit: c.opts.StreamsPerPackageLimit,
		AllowEmbeddedStreams:   allowStreams && c.opts.StreamsEnabled,
	}
}

// newReadStream constructs and registers a read-side stream for a decoded
// {_s:sid} placeholder. Its kind follows id's sign per spec.md §3's signed
// identifier spaces.
func (c *Controller) newReadStream(id int64) any {
	kind := stream.KindObject
	if id < 0 {
		kind = stream.KindBinary
	}
	rs := stream.NewReadStream(id, kind, c.opts.StreamInitialCredit, stream.ReadHooks{
		SendAccept: func(initialCredit int64) error {
			p := wire.StreamAcceptPacket{StreamID: id, InitialCredit: uint64(initialCredit)}
			return c.sendControlFrame(p)
		},
		SendPermission: func(additional int64) error {
			p := wire.StreamDataPermissionPacket{StreamID: id, AdditionalCredit: uint64(additional)}
			return c.sendControlFrame(p)
		},
		SendClose: func(code int) error {
			p := wire.ReadStreamClosePacket{StreamID: id, Code: code, HasCode: true}
			return c.sendControlFrame(p)
		},
	})
	c.streams.RegisterReader(id, rs)
	return rs
}

type encodable interface {
	Encode() ([]byte, error)
}

func (c *Controller) sendControlFrame(p encodable) error {
	b, err := p.Encode()
	if err != nil {
		return err
	}
	c.mu.Lock()
	socket, open := c.socket, c.open
	c.mu.Unlock()
	if !open || socket == nil {
		return &zerr.BadConnectionError{ConnType: "transport", Msg: "connection not open"}
	}
	err = socket.Send(b, false)
	c.maybeDrainBackpressure()
	return err
}

func (c *Controller) handleTransmit(p wire.TransmitPacket) {
	codec.Decode(p.DataType, p.Data, p.Meta, c.decodeDeps(true), func(val any, err error) {
		if err != nil {
			c.reportInvalidMessage(err)
			return
		}
		c.fireOnTransmit(p.Receiver, val, p.DataType)
	})
}

func (c *Controller) handleInvoke(p wire.InvokePacket) {
	stamp := atomic.LoadInt64(&c.badConnectionStamp)
	codec.Decode(p.DataType, p.Data, p.Meta, c.decodeDeps(true), func(val any, err error) {
		if err != nil {
			c.reportInvalidMessage(err)
			return
		}
		ctx := &InvokeContext{
			Procedure: p.Procedure,
			Data:      val,
			DataType:  p.DataType,
			c:         c,
			callID:    p.CallID,
			stamp:     stamp,
		}
		c.fireOnInvoke(ctx)
	})
}

func (c *Controller) handleInvokeDataResp(p wire.InvokeDataRespPacket) {
	codec.Decode(p.DataType, p.Data, p.Meta, c.decodeDeps(true), func(val any, err error) {
		if err != nil {
			c.invokes.Reject(p.CallID, err)
			return
		}
		c.invokes.Resolve(p.CallID, val, uint8(p.DataType))
	})
}

func (c *Controller) handleInvokeErrResp(p wire.InvokeErrRespPacket) {
	var msg string
	if len(p.RawErr) > 0 {
		if err := json.Unmarshal(p.RawErr, &msg); err != nil {
			msg = string(p.RawErr)
		}
	}
	c.invokes.Reject(p.CallID, fmt.Errorf("%s", msg))
}

func (c *Controller) handleStreamAccept(p wire.StreamAcceptPacket) {
	w, ok := c.streams.Writer(p.StreamID)
	if !ok {
		return
	}
	w.Accept(int64(p.InitialCredit))
}

func (c *Controller) handleStreamDataPermission(p wire.StreamDataPermissionPacket) {
	w, ok := c.streams.Writer(p.StreamID)
	if !ok {
		return
	}
	w.GrantCredit(int64(p.AdditionalCredit))
}

func (c *Controller) handleWriteStreamClose(p wire.WriteStreamClosePacket) {
	rs, ok := c.streams.Reader(p.StreamID)
	if !ok {
		return
	}
	rs.HandleWriteStreamClose(p.Code)
	c.streams.RemoveReader(p.StreamID)
}

func (c *Controller) handleReadStreamClose(p wire.ReadStreamClosePacket) {
	w, ok := c.streams.Writer(p.StreamID)
	if !ok {
		return
	}
	// transitionClosed fires the OnClosed hook registered in encode(),
	// which removes the writer from the registry; no need to do it here too.
	w.OnReadStreamClose(p.Code)
}

// handleStreamChunk decodes one object-stream chunk. Embedded streams are
// only permitted here when ChunksCanContainStreams is set (spec.md §9
// Open Question (b) territory: the chunk's own {_s:sid} placeholders never
// collide with the enclosing StreamChunkPacket.StreamID header field).
func (c *Controller) handleStreamChunk(p wire.StreamChunkPacket) {
	rs, ok := c.streams.Reader(p.StreamID)
	if !ok {
		return
	}
	seq := rs.Reserve()
	codec.Decode(p.DataType, p.Data, p.Meta, c.decodeDeps(c.opts.ChunksCanContainStreams), func(val any, err error) {
		rs.Resolve(seq, val, 1, err)
	})
}

func (c *Controller) handleStreamEnd(p wire.StreamEndPacket) {
	rs, ok := c.streams.Reader(p.StreamID)
	if !ok {
		return
	}
	seq := rs.Reserve()
	if !p.HasData {
		rs.ResolveEnd(seq, false, nil, 0, nil)
		c.streams.RemoveReader(p.StreamID)
		return
	}
	codec.Decode(p.DataType, p.Data, p.Meta, c.decodeDeps(c.opts.ChunksCanContainStreams), func(val any, err error) {
		rs.ResolveEnd(seq, true, val, 1, err)
		c.streams.RemoveReader(p.StreamID)
	})
}

func (c *Controller) fireOnPing() {
	if c.onPing == nil {
		return
	}
	c.safeCall(c.onPing)
}

func (c *Controller) fireOnPong() {
	if c.onPong == nil {
		return
	}
	c.safeCall(c.onPong)
}

func (c *Controller) fireOnTransmit(sender string, data any, dataType wire.DataType) {
	if c.onTransmit == nil {
		return
	}
	c.safeCall(func() { c.onTransmit(sender, data, dataType) })
}

func (c *Controller) fireOnInvoke(ctx *InvokeContext) {
	if c.onInvoke == nil {
		ctx.Reject(fmt.Errorf("no invoke handler registered"))
		return
	}
	c.safeCall(func() { c.onInvoke(ctx) })
}
