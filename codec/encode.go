package codec

import (
	"fmt"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/ZironServer/ziron-go/wire"
	"github.com/ZironServer/ziron-go/zerr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// dateLayout is RFC3339 with nanosecond precision, used for the {_d:...}
// passthrough wrapper that survives the JSON round-trip (spec §9 notes that
// Date values are "passed through as-is"; JSON has no native date literal,
// so ziron wraps it the same way it wraps blobs and streams).
const dateLayout = time.RFC3339Nano

// EncodeDeps supplies the controller-owned identifier allocators the codec
// needs while walking a value tree.
type EncodeDeps struct {
	AllocateBinaryID func() int64
	AllocateStreamID func(isBinaryStream bool) int64
}

// EncodeResult is the text-head/binary-frame/stream-list triple produced by
// encoding one user value for one packet slot.
type EncodeResult struct {
	DataType wire.DataType
	DataJSON []byte      // set when DataType is JSON-flavored
	BinaryID int64       // set when DataType == DataTypeBinary, or meta for mixed+binaries
	StreamID int64       // set when DataType == DataTypeStream
	Meta     []byte      // JSON-encoded BinaryID, set only for mixed forms carrying binaries
	Binaries [][]byte    // blobs to ship in a companion BinaryContent frame, in encounter order
	Streams  []StreamRef // write-streams to transition to "awaiting accept" after send
}

// Encode renders v for one packet slot. When forbidComplex is true (the
// transmit/invoke `processComplexTypes=false` option), any embedded blob or
// stream anywhere in the tree is a hard error instead of being lifted out.
func Encode(v Value, deps EncodeDeps, forbidComplex bool) (EncodeResult, error) {
	switch v.kind {
	case KindBlob:
		if forbidComplex {
			return EncodeResult{}, fmt.Errorf("codec: processComplexTypes=false forbids binary payloads")
		}
		if len(v.blob) > wire.MaxSupportedArrayBufferSize {
			return EncodeResult{}, fmt.Errorf("codec: %w", zerr.ErrMaxBufferSizeExceeded)
		}
		id := deps.AllocateBinaryID()
		return EncodeResult{DataType: wire.DataTypeBinary, BinaryID: id, Binaries: [][]byte{v.blob}}, nil

	case KindStream:
		if forbidComplex {
			return EncodeResult{}, fmt.Errorf("codec: processComplexTypes=false forbids stream payloads")
		}
		id := deps.AllocateStreamID(v.stream.IsBinaryStream())
		v.stream.BindID(id)
		return EncodeResult{DataType: wire.DataTypeStream, StreamID: id, Streams: []StreamRef{v.stream}}, nil

	default:
		var blobs [][]byte
		var streams []StreamRef
		tree, err := walkEncode(v, &blobs, &streams, deps.AllocateStreamID, forbidComplex)
		if err != nil {
			return EncodeResult{}, err
		}
		dataJSON, err := json.Marshal(tree)
		if err != nil {
			return EncodeResult{}, fmt.Errorf("codec: marshaling value tree: %w", err)
		}

		res := EncodeResult{DataType: classify(len(blobs) > 0, len(streams) > 0), DataJSON: dataJSON, Streams: streams}
		if len(blobs) > 0 {
			res.BinaryID = deps.AllocateBinaryID()
			res.Binaries = blobs
			metaJSON, err := json.Marshal(res.BinaryID)
			if err != nil {
				return EncodeResult{}, err
			}
			res.Meta = metaJSON
		}
		return res, nil
	}
}

func classify(hasBlobs, hasStreams bool) wire.DataType {
	switch {
	case hasBlobs && hasStreams:
		return wire.DataTypeJSONWithStreamsAndBinaries
	case hasBlobs:
		return wire.DataTypeJSONWithBinaries
	case hasStreams:
		return wire.DataTypeJSONWithStreams
	default:
		return wire.DataTypeJSON
	}
}

func walkEncode(v Value, blobs *[][]byte, streams *[]StreamRef, allocStreamID func(isBinaryStream bool) int64, forbidComplex bool) (any, error) {
	switch v.kind {
	case KindNull:
		return nil, nil
	case KindBool:
		return v.b, nil
	case KindNumber:
		return v.n, nil
	case KindString:
		return v.s, nil
	case KindDate:
		return map[string]any{"_d": v.t.Format(dateLayout)}, nil
	case KindBlob:
		if forbidComplex {
			return nil, fmt.Errorf("codec: processComplexTypes=false forbids binary payloads")
		}
		if len(v.blob) > wire.MaxSupportedArrayBufferSize {
			return nil, fmt.Errorf("codec: %w", zerr.ErrMaxBufferSizeExceeded)
		}
		idx := len(*blobs)
		*blobs = append(*blobs, v.blob)
		return map[string]any{"_b": idx}, nil
	case KindStream:
		if forbidComplex {
			return nil, fmt.Errorf("codec: processComplexTypes=false forbids stream payloads")
		}
		id := allocStreamID(v.stream.IsBinaryStream())
		v.stream.BindID(id)
		*streams = append(*streams, v.stream)
		return map[string]any{"_s": id}, nil
	case KindArray:
		out := make([]any, len(v.arr))
		for i, item := range v.arr {
			enc, err := walkEncode(item, blobs, streams, allocStreamID, forbidComplex)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return out, nil
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for _, f := range v.obj {
			enc, err := walkEncode(f.Value, blobs, streams, allocStreamID, forbidComplex)
			if err != nil {
				return nil, err
			}
			out[escapeKey(f.Key)] = enc
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unknown value kind %d", v.kind)
	}
}
