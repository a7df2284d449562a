// Package wire implements the on-the-wire framing for ziron: the text
// action-packet grammar (a bare, comma-joined JSON tuple) and the binary
// frame layouts for out-of-band blobs and stream chunks.
package wire

import "math"

// PacketType is the first element of every action packet tuple and the
// first byte of every binary frame header. Values are stable wire
// constants — never renumber them.
type PacketType uint8

const (
	Bundle PacketType = iota
	Transmit
	Invoke
	InvokeDataResp
	InvokeErrResp
	BinaryContent
	StreamAccept
	StreamChunk
	StreamEnd
	StreamDataPermission
	WriteStreamClose
	ReadStreamClose
)

func (t PacketType) String() string {
	switch t {
	case Bundle:
		return "Bundle"
	case Transmit:
		return "Transmit"
	case Invoke:
		return "Invoke"
	case InvokeDataResp:
		return "InvokeDataResp"
	case InvokeErrResp:
		return "InvokeErrResp"
	case BinaryContent:
		return "BinaryContent"
	case StreamAccept:
		return "StreamAccept"
	case StreamChunk:
		return "StreamChunk"
	case StreamEnd:
		return "StreamEnd"
	case StreamDataPermission:
		return "StreamDataPermission"
	case WriteStreamClose:
		return "WriteStreamClose"
	case ReadStreamClose:
		return "ReadStreamClose"
	default:
		return "Unknown"
	}
}

// DataType tells a decoder how to interpret an action packet's data field.
type DataType uint8

const (
	DataTypeJSON DataType = iota
	DataTypeBinary
	DataTypeStream
	DataTypeJSONWithBinaries
	DataTypeJSONWithStreams
	DataTypeJSONWithStreamsAndBinaries
)

// Control bytes: a binary frame of length 1 carrying one of these is a
// PING or PONG, never a packet-typed frame.
const (
	PingByte byte = 57 // 0x39
	PongByte byte = 65 // 0x41
)

// MaxSupportedArrayBufferSize is the largest single blob a binary-content
// frame can carry: the length prefix is a uint32, minus the continuation
// sentinel value and one byte of header slack.
const MaxSupportedArrayBufferSize = math.MaxUint32 - 1

// NextBinariesPacketToken is the length-prefix sentinel marking a
// binary-content frame as continued by a later frame sharing the same id.
const NextBinariesPacketToken uint32 = math.MaxUint32

// BinaryFrameHeaderSize is the byte length of [type][float64 id] that
// precedes every binary-content / binary-stream-chunk / binary-stream-end
// frame payload.
const BinaryFrameHeaderSize = 9
