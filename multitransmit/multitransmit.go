// Package multitransmit implements spec.md §2's Multi-transmit Helper:
// encode one Transmit package once and dispatch the same bytes to many
// peer connections, without coupling to any single transport's local
// identifier state.
package multitransmit

import (
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/ZironServer/ziron-go/codec"
	"github.com/ZironServer/ziron-go/wire"
)

// binaryID is a package-local, atomic, negative id counter for the
// binary-content frames multi-prepared packages may carry (spec.md §9
// "Global multi-transmit counter" / §3 "multi-prepared helper uses an
// independent negative id space ... so its packages can be broadcast
// without local-state coupling"). It only has to avoid self-collision
// across concurrent prepares; it shares no space with any transport's own
// binary-content resolver ids, which is what the negative sign buys.
var binaryID atomic.Int64

func init() {
	binaryID.Store(0)
}

func nextBinaryID() int64 {
	return binaryID.Add(-1)
}

// Dispatcher is the subset of transport.Controller a multi-prepared
// package needs in order to actually put bytes on the wire for one peer.
type Dispatcher interface {
	SendRaw(payload []byte, isBinary bool) error
}

// Package is a Transmit prepared once and reusable across many peers: a
// text head plus an optional companion binary-content frame.
type Package struct {
	Head        []byte
	BinaryFrame []byte
}

// Prepare encodes receiver/v as a Transmit packet suitable for broadcast.
// Embedded live streams are rejected outright (spec.md §2: "no live
// streams, binaries permitted") since a stream is bound to exactly one
// peer connection and cannot be meaningfully shared.
func Prepare(receiver string, v codec.Value) (*Package, error) {
	// The encoder reaches AllocateStreamID for the first stream in the tree;
	// it panics with errEmbeddedStream there, before the stream is bound to
	// an id, and the panic is turned back into that error below.
	errEmbeddedStream := fmt.Errorf("multitransmit: embedded live streams are not permitted in a multi-transmit package")
	deps := codec.EncodeDeps{
		AllocateBinaryID: nextBinaryID,
		AllocateStreamID: func(bool) int64 { panic(errEmbeddedStream) },
	}
	res, err := func() (res codec.EncodeResult, err error) {
		defer func() {
			if r := recover(); r != nil {
				if r != errEmbeddedStream {
					panic(r)
				}
				err = errEmbeddedStream
			}
		}()
		return codec.Encode(v, deps, false)
	}()
	if err == errEmbeddedStream {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("multitransmit: encoding payload: %w", err)
	}
	if len(res.Streams) > 0 {
		return nil, fmt.Errorf("multitransmit: embedded live streams are not permitted in a multi-transmit package")
	}

	p := wire.TransmitPacket{Receiver: receiver, DataType: res.DataType, Meta: json.RawMessage(res.Meta)}
	switch res.DataType {
	case wire.DataTypeBinary:
		idJSON, err := json.Marshal(res.BinaryID)
		if err != nil {
			return nil, fmt.Errorf("multitransmit: encoding binary id: %w", err)
		}
		p.Data = idJSON
	default:
		p.Data = json.RawMessage(res.DataJSON)
	}

	head, err := p.Encode()
	if err != nil {
		return nil, fmt.Errorf("multitransmit: encoding tuple: %w", err)
	}

	pkg := &Package{Head: head}
	if len(res.Binaries) > 0 {
		frame := wire.BinaryFrame{Type: wire.BinaryContent, ID: float64(res.BinaryID)}
		var payload []byte
		for _, b := range res.Binaries {
			payload = wire.EncodeBlob(payload, b)
		}
		frame.Payload = payload
		pkg.BinaryFrame = wire.EncodeBinaryFrame(frame)
	}
	return pkg, nil
}

// Dispatch sends pkg's already-encoded bytes to every given peer,
// collecting (not short-circuiting on) per-peer errors.
func Dispatch(pkg *Package, peers ...Dispatcher) []error {
	var errs []error
	for _, peer := range peers {
		if err := peer.SendRaw(pkg.Head, false); err != nil {
			errs = append(errs, err)
			continue
		}
		if pkg.BinaryFrame != nil {
			if err := peer.SendRaw(pkg.BinaryFrame, true); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errs
}
