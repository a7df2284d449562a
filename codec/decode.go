package codec

import (
	"fmt"
	"time"

	"github.com/ZironServer/ziron-go/wire"
	"github.com/ZironServer/ziron-go/zerr"
)

// DecodeDeps supplies the controller-owned collaborators the codec needs
// while resolving a decoded value's embedded binaries and streams.
type DecodeDeps struct {
	// ResolveBinary registers a one-shot callback for the binary-content
	// frame carrying id, or for a deadline that fires ErrTimeoutBinaryResolve
	// first. Implemented by binarycontent.Registry.
	ResolveBinary func(id int64, timeout time.Duration, cb func(blobs [][]byte, err error))
	// NewReadStream constructs and registers a read-side stream for a
	// decoded {_s:sid} placeholder, returning an opaque handle (a
	// *stream.ReadStream in practice).
	NewReadStream func(id int64) any
	// BinaryContentTimeout bounds how long a resolver waits.
	BinaryContentTimeout time.Duration
	// StreamsPerPackageLimit caps how many stream placeholders one decode
	// call may resolve.
	StreamsPerPackageLimit int
	// AllowEmbeddedStreams gates whether {_s:...} placeholders are legal in
	// this decode context (false inside a stream chunk when
	// chunksCanContainStreams is disabled).
	AllowEmbeddedStreams bool
}

// Decode inverts Encode. done is invoked exactly once: synchronously unless
// the payload references binary content (DataTypeBinary, or a mixed form
// with an embedded-binaries meta id), in which case it fires when the
// matching BinaryContent frame arrives or the resolver times out.
func Decode(dt wire.DataType, data, meta []byte, deps DecodeDeps, done func(val any, err error)) {
	switch dt {
	case wire.DataTypeBinary:
		var id int64
		if err := json.Unmarshal(data, &id); err != nil {
			done(nil, &zerr.InvalidMessageError{Reason: "binary content id", Cause: err})
			return
		}
		deps.ResolveBinary(id, deps.BinaryContentTimeout, func(blobs [][]byte, err error) {
			if err != nil {
				done(nil, err)
				return
			}
			if len(blobs) != 1 {
				done(nil, &zerr.InvalidMessageError{Reason: "expected exactly one blob for Binary dataType"})
				return
			}
			done(blobs[0], nil)
		})

	case wire.DataTypeStream:
		var id int64
		if err := json.Unmarshal(data, &id); err != nil {
			done(nil, &zerr.InvalidMessageError{Reason: "stream id", Cause: err})
			return
		}
		if !deps.AllowEmbeddedStreams {
			done(nil, &zerr.InvalidMessageError{Reason: "streams not permitted in this context"})
			return
		}
		done(deps.NewReadStream(id), nil)

	case wire.DataTypeJSON, wire.DataTypeJSONWithBinaries, wire.DataTypeJSONWithStreams, wire.DataTypeJSONWithStreamsAndBinaries:
		var tree any
		if len(data) > 0 {
			if err := json.Unmarshal(data, &tree); err != nil {
				done(nil, &zerr.InvalidMessageError{Reason: "mixed JSON payload", Cause: err})
				return
			}
		}

		needsBinaries := dt == wire.DataTypeJSONWithBinaries || dt == wire.DataTypeJSONWithStreamsAndBinaries
		if !needsBinaries {
			count := 0
			val, err := walkDecode(tree, nil, deps, &count)
			if err != nil {
				done(nil, &zerr.InvalidMessageError{Reason: "decoding value tree", Cause: err})
				return
			}
			done(val, nil)
			return
		}

		if len(meta) == 0 {
			done(nil, &zerr.InvalidMessageError{Reason: "missing binary-content meta id for mixed payload"})
			return
		}
		var metaID int64
		if err := json.Unmarshal(meta, &metaID); err != nil {
			done(nil, &zerr.InvalidMessageError{Reason: "meta id", Cause: err})
			return
		}
		deps.ResolveBinary(metaID, deps.BinaryContentTimeout, func(blobs [][]byte, err error) {
			if err != nil {
				done(nil, err)
				return
			}
			count := 0
			val, derr := walkDecode(tree, blobs, deps, &count)
			if derr != nil {
				done(nil, &zerr.InvalidMessageError{Reason: "decoding value tree", Cause: derr})
				return
			}
			done(val, nil)
		})

	default:
		done(nil, &zerr.InvalidMessageError{Reason: fmt.Sprintf("unknown dataType %d", dt)})
	}
}

// placeholderObject reports whether m is exactly one of the recognized
// single-key placeholder shapes. A key only counts if both the key name and
// the value's JSON kind match (determinism rule, spec §4.2): a number for
// _b/_s, a string for _d.
func placeholderObject(m map[string]any) (key string, val any, ok bool) {
	if len(m) != 1 {
		return "", nil, false
	}
	for k, v := range m {
		switch k {
		case "_b", "_s":
			if _, isNum := v.(float64); isNum {
				return k, v, true
			}
		case "_d":
			if _, isStr := v.(string); isStr {
				return k, v, true
			}
		}
	}
	return "", nil, false
}

func walkDecode(node any, binaries [][]byte, deps DecodeDeps, streamCount *int) (any, error) {
	switch n := node.(type) {
	case nil, bool, float64, string:
		return n, nil
	case map[string]any:
		if key, val, ok := placeholderObject(n); ok {
			switch key {
			case "_b":
				idx := int(val.(float64))
				if binaries == nil {
					return nil, fmt.Errorf("encountered {_b} placeholder with no binary-content frame available")
				}
				if idx < 0 || idx >= len(binaries) {
					return nil, fmt.Errorf("blob index %d out of range (have %d)", idx, len(binaries))
				}
				return binaries[idx], nil
			case "_s":
				if !deps.AllowEmbeddedStreams {
					return nil, fmt.Errorf("streams not permitted in this context")
				}
				*streamCount++
				if deps.StreamsPerPackageLimit > 0 && *streamCount > deps.StreamsPerPackageLimit {
					return nil, fmt.Errorf("exceeded streams-per-package limit (%d)", deps.StreamsPerPackageLimit)
				}
				id := int64(val.(float64))
				return deps.NewReadStream(id), nil
			case "_d":
				t, err := time.Parse(dateLayout, val.(string))
				if err != nil {
					return nil, fmt.Errorf("invalid date literal: %w", err)
				}
				return t, nil
			}
		}
		out := make(map[string]any, len(n))
		for k, v := range n {
			dv, err := walkDecode(v, binaries, deps, streamCount)
			if err != nil {
				return nil, err
			}
			out[unescapeKey(k)] = dv
		}
		return out, nil
	case []any:
		out := make([]any, len(n))
		for i, item := range n {
			dv, err := walkDecode(item, binaries, deps, streamCount)
			if err != nil {
				return nil, err
			}
			out[i] = dv
		}
		return out, nil
	default:
		return nil, fmt.Errorf("codec: unexpected decoded JSON node type %T", node)
	}
}
