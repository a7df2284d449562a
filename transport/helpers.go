package transport

import (
	"encoding/json"
	"fmt"

	"github.com/ZironServer/ziron-go/codec"
	"github.com/ZironServer/ziron-go/wire"
)

// dataField renders an encode result's Data tuple field: the binary-content
// id when the payload is a single blob (DataTypeBinary), the stream id when
// it is a single stream (DataTypeStream), otherwise the JSON tree as-is (a
// mixed form's binary-content id travels in the Meta field instead).
func dataField(res codec.EncodeResult) (json.RawMessage, error) {
	switch res.DataType {
	case wire.DataTypeBinary:
		idJSON, err := json.Marshal(res.BinaryID)
		if err != nil {
			return nil, fmt.Errorf("encoding binary id: %w", err)
		}
		return idJSON, nil
	case wire.DataTypeStream:
		idJSON, err := json.Marshal(res.StreamID)
		if err != nil {
			return nil, fmt.Errorf("encoding stream id: %w", err)
		}
		return idJSON, nil
	default:
		return json.RawMessage(res.DataJSON), nil
	}
}

// metaField renders an encode result's Meta tuple field. A nil/empty Meta
// is passed through as-is; wire's rawOr drops it as a trailing omitted
// field when nothing follows it in the tuple.
func metaField(res codec.EncodeResult) json.RawMessage {
	if len(res.Meta) == 0 {
		return nil
	}
	return json.RawMessage(res.Meta)
}

// buildBinaryFrame renders the companion BinaryContent frame for an encode
// result that collected one or more blobs, or nil if it collected none.
func buildBinaryFrame(res codec.EncodeResult) []byte {
	if len(res.Binaries) == 0 {
		return nil
	}
	frame := wire.BinaryFrame{Type: wire.BinaryContent, ID: float64(res.BinaryID)}
	var payload []byte
	for _, b := range res.Binaries {
		payload = wire.EncodeBlob(payload, b)
	}
	frame.Payload = payload
	return wire.EncodeBinaryFrame(frame)
}
