package wire

import (
	"encoding/binary"
	"fmt"
	"math"
)

// BinaryFrame is a decoded binary-opcode frame: a BinaryContent, StreamChunk
// or StreamEnd carried as raw bytes rather than a JSON text packet.
type BinaryFrame struct {
	Type    PacketType
	ID      float64 // binary-content packet id, or stream id (same numeric identity as the text form)
	Payload []byte
}

// EncodeBinaryFrame serializes a BinaryContent/StreamChunk/StreamEnd frame:
// [0]=type, [1..9]=big-endian float64 id, [9:]=payload.
func EncodeBinaryFrame(f BinaryFrame) []byte {
	buf := make([]byte, BinaryFrameHeaderSize+len(f.Payload))
	buf[0] = byte(f.Type)
	binary.BigEndian.PutUint64(buf[1:9], math.Float64bits(f.ID))
	copy(buf[9:], f.Payload)
	return buf
}

// DecodeBinaryFrame parses a binary frame's header. The caller must already
// have excluded the length-1 PING/PONG case.
func DecodeBinaryFrame(raw []byte) (BinaryFrame, error) {
	if len(raw) < BinaryFrameHeaderSize {
		return BinaryFrame{}, fmt.Errorf("wire: binary frame too short (%d bytes)", len(raw))
	}
	t := PacketType(raw[0])
	switch t {
	case BinaryContent, StreamChunk, StreamEnd:
	default:
		return BinaryFrame{}, fmt.Errorf("wire: invalid binary frame header type %d", raw[0])
	}
	id := math.Float64frombits(binary.BigEndian.Uint64(raw[1:9]))
	payload := raw[BinaryFrameHeaderSize:]
	return BinaryFrame{Type: t, ID: id, Payload: payload}, nil
}

// IsControlByte reports whether a length-1 binary frame is PING or PONG.
func IsControlByte(raw []byte) (ping bool, pong bool, ok bool) {
	if len(raw) != 1 {
		return false, false, false
	}
	switch raw[0] {
	case PingByte:
		return true, false, true
	case PongByte:
		return false, true, true
	default:
		return false, false, false
	}
}

// EncodeBlob writes one (uint32 len, len bytes) entry into a binary-content
// payload under construction.
func EncodeBlob(dst []byte, blob []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(blob)))
	dst = append(dst, lenBuf[:]...)
	dst = append(dst, blob...)
	return dst
}

// EncodeContinuationSentinel appends the NEXT_BINARIES_PACKET_TOKEN marker,
// signalling that a later BinaryContent frame with the same id continues
// this one's blob list.
func EncodeContinuationSentinel(dst []byte) []byte {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], NextBinariesPacketToken)
	return append(dst, lenBuf[:]...)
}

// DecodeBlobs scans a binary-content payload into its component blobs.
// continued reports whether the frame ended on the continuation sentinel
// (more blobs arrive in a later frame sharing the same id).
func DecodeBlobs(payload []byte) (blobs [][]byte, continued bool, err error) {
	i := 0
	for i < len(payload) {
		if i+4 > len(payload) {
			return nil, false, fmt.Errorf("wire: truncated blob length prefix at offset %d", i)
		}
		l := binary.BigEndian.Uint32(payload[i : i+4])
		i += 4
		if l == NextBinariesPacketToken {
			if i != len(payload) {
				return nil, false, fmt.Errorf("wire: continuation sentinel not at frame end")
			}
			return blobs, true, nil
		}
		if uint64(i)+uint64(l) > uint64(len(payload)) {
			return nil, false, fmt.Errorf("wire: blob length %d exceeds remaining payload", l)
		}
		blobs = append(blobs, payload[i:i+int(l)])
		i += int(l)
	}
	return blobs, false, nil
}
