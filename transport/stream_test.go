package transport

import (
	"testing"

	"github.com/ZironServer/ziron-go/codec"
	"github.com/ZironServer/ziron-go/stream"
)

// TestOpenStreamWritesAndEndsEndToEnd exercises the write side of the
// Stream Engine through its only real production entry point: Controller
// encodes an OpenStream-returned writer into a Transmit payload, writes a
// chunk, ends it, and the peer's auto-created reader observes both.
func TestOpenStreamWritesAndEndsEndToEnd(t *testing.T) {
	a, b := newPairedControllers(t, DefaultOptions())

	ws := a.OpenStream(stream.KindObject)
	v := codec.Object(codec.Field{Key: "s", Value: codec.Stream(ws)})
	if err := a.Transmit("room", v, TransmitOptions{}); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	id := ws.ID()
	if id == 0 {
		t.Fatalf("expected OpenStream's writer to be bound to a nonzero id once embedded")
	}
	if _, ok := a.streams.Writer(id); !ok {
		t.Fatalf("expected the writer to be adopted into the registry after encode")
	}
	rs, ok := b.streams.Reader(id)
	if !ok {
		t.Fatalf("expected the peer to have auto-created a read-stream for id %d", id)
	}

	if err := ws.Write(stream.Chunk{Value: codec.String("hello"), Size: 1}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	item, ok := rs.Recv()
	if !ok || item.IsEnd {
		t.Fatalf("expected a non-terminal chunk, got %#v (ok=%v)", item, ok)
	}
	if item.Value != "hello" {
		t.Fatalf("expected chunk value %q, got %#v", "hello", item.Value)
	}

	if err := ws.End(nil); err != nil {
		t.Fatalf("End: %v", err)
	}
	endItem, ok := rs.Recv()
	if !ok || !endItem.IsEnd {
		t.Fatalf("expected a terminal item, got %#v (ok=%v)", endItem, ok)
	}

	if _, ok := a.streams.Writer(id); ok {
		t.Fatalf("expected End to remove the writer from the registry, leaking id %d", id)
	}
}

// TestOpenStreamBinaryChunkRoundTrips exercises the binary-frame-only
// write path (no text head) for a KindBinary writer.
func TestOpenStreamBinaryChunkRoundTrips(t *testing.T) {
	a, b := newPairedControllers(t, DefaultOptions())

	ws := a.OpenStream(stream.KindBinary)
	v := codec.Object(codec.Field{Key: "s", Value: codec.Stream(ws)})
	if err := a.Transmit("room", v, TransmitOptions{}); err != nil {
		t.Fatalf("Transmit: %v", err)
	}

	id := ws.ID()
	rs, ok := b.streams.Reader(id)
	if !ok {
		t.Fatalf("expected the peer to have auto-created a read-stream for id %d", id)
	}

	payload := []byte("binary-chunk")
	if err := ws.Write(stream.Chunk{Raw: payload, Size: int64(len(payload))}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	item, ok := rs.Recv()
	if !ok || item.IsEnd {
		t.Fatalf("expected a non-terminal chunk, got %#v (ok=%v)", item, ok)
	}
	chunk, ok := item.Value.([]byte)
	if !ok || string(chunk) != string(payload) {
		t.Fatalf("unexpected binary chunk: %#v", item.Value)
	}

	if err := ws.End(nil); err != nil {
		t.Fatalf("End: %v", err)
	}
	if _, ok := rs.Recv(); !ok {
		t.Fatalf("expected a terminal item for the binary stream")
	}

	if _, ok := a.streams.Writer(id); ok {
		t.Fatalf("expected End to remove the binary writer from the registry, leaking id %d", id)
	}
}
