package transport

import (
	"github.com/ZironServer/ziron-go/codec"
	"github.com/ZironServer/ziron-go/stream"
	"github.com/ZironServer/ziron-go/wire"
	"github.com/ZironServer/ziron-go/zerr"
)

// OpenStream returns a new, unbound write-stream of the requested kind,
// wired to this controller's real send path. Its id is assigned only once
// the stream is actually embedded in a value (via codec.Stream) and passed
// through Transmit/PrepareTransmit/Invoke/PrepareInvoke: encode's allocator
// calls BindID exactly once per stream, so OpenStream must not pre-allocate
// or pre-adopt here, only hand back something ready to be embedded.
func (c *Controller) OpenStream(kind stream.Kind) *stream.WriteStream {
	sinks := stream.WriteSinks{
		SendChunk: func(streamID int64, k stream.Kind, chunk stream.Chunk) error {
			if k == stream.KindBinary {
				return c.sendRawBinary(wire.EncodeBinaryFrame(wire.BinaryFrame{
					Type: wire.StreamChunk, ID: float64(streamID), Payload: chunk.Raw,
				}))
			}
			return c.sendStreamObjectChunk(streamID, chunk.Value)
		},
		SendEnd: func(streamID int64, k stream.Kind, hasChunk bool, chunk stream.Chunk) error {
			if k == stream.KindBinary {
				var payload []byte
				if hasChunk {
					payload = chunk.Raw
				}
				return c.sendRawBinary(wire.EncodeBinaryFrame(wire.BinaryFrame{
					Type: wire.StreamEnd, ID: float64(streamID), Payload: payload,
				}))
			}
			return c.sendStreamObjectEnd(streamID, hasChunk, chunk.Value)
		},
		SendClose: func(streamID int64, code int) error {
			return c.sendControlFrame(wire.WriteStreamClosePacket{StreamID: streamID, Code: code})
		},
	}
	return stream.NewWriteStream(kind, sinks, c.hasLowSendBackpressure)
}

// hasLowSendBackpressure is the predicate passed to every write-stream this
// controller opens. A disconnected controller reports low backpressure
// rather than blocking writers forever on a predicate that can never flip:
// the actual send attempt surfaces the disconnect as a BadConnectionError.
func (c *Controller) hasLowSendBackpressure() bool {
	c.mu.Lock()
	socket := c.socket
	c.mu.Unlock()
	if socket == nil {
		return true
	}
	return socket.HasLowSendBackpressure()
}

// maybeDrainBackpressure replays every live writer's backpressure waiters
// once the socket reports capacity again (spec.md §4.5
// "emitSendBackpressureDrain"); drain is a no-op for a writer with nothing
// queued, so calling this after every send that might have freed capacity
// is safe even when nothing changed.
func (c *Controller) maybeDrainBackpressure() {
	c.mu.Lock()
	socket, open := c.socket, c.open
	c.mu.Unlock()
	if !open || socket == nil || !socket.HasLowSendBackpressure() {
		return
	}
	for _, w := range c.streams.Writers() {
		w.DrainBackpressure()
	}
}

// sendRawBinary sends a binary-opcode frame (StreamChunk/StreamEnd) with no
// accompanying text head, the wire shape binary-stream payloads use end to
// end (dispatch.go's handleBinaryFrame never expects a head for these).
func (c *Controller) sendRawBinary(payload []byte) error {
	c.mu.Lock()
	socket, open := c.socket, c.open
	c.mu.Unlock()
	if !open || socket == nil {
		return &zerr.BadConnectionError{ConnType: "transport", Msg: "connection not open"}
	}
	err := socket.Send(payload, true)
	c.maybeDrainBackpressure()
	return err
}

// sendStreamObjectChunk encodes and sends one object-stream chunk value as
// a StreamChunkPacket, with whatever companion BinaryContent frame its
// encoding produced (e.g. a blob embedded in the chunk's own value tree).
func (c *Controller) sendStreamObjectChunk(streamID int64, v codec.Value) error {
	res, err := c.encode(v, false)
	if err != nil {
		return err
	}
	data, err := dataField(res)
	if err != nil {
		return err
	}
	p := wire.StreamChunkPacket{StreamID: streamID, DataType: res.DataType, Data: data, Meta: metaField(res)}
	head, err := p.Encode()
	if err != nil {
		return err
	}
	if err := c.sendHeadAndFrame(head, buildBinaryFrame(res)); err != nil {
		return err
	}
	if hook := c.afterSendHook(res); hook != nil {
		hook()
	}
	return nil
}

// sendStreamObjectEnd encodes and sends a StreamEndPacket, with or without
// a final chunk value.
func (c *Controller) sendStreamObjectEnd(streamID int64, hasChunk bool, v codec.Value) error {
	if !hasChunk {
		return c.sendControlFrame(wire.StreamEndPacket{StreamID: streamID})
	}
	res, err := c.encode(v, false)
	if err != nil {
		return err
	}
	data, err := dataField(res)
	if err != nil {
		return err
	}
	p := wire.StreamEndPacket{StreamID: streamID, HasData: true, DataType: res.DataType, Data: data, Meta: metaField(res)}
	head, err := p.Encode()
	if err != nil {
		return err
	}
	if err := c.sendHeadAndFrame(head, buildBinaryFrame(res)); err != nil {
		return err
	}
	if hook := c.afterSendHook(res); hook != nil {
		hook()
	}
	return nil
}
