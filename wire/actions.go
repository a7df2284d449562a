package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Packet is any decoded action packet (everything except raw binary frames).
type Packet interface {
	Type() PacketType
}

// omitted is a sentinel for a trailing optional field (data?, meta?) that
// was not supplied; trailing omitted fields are dropped from the wire
// tuple rather than encoded as JSON null.
type omitted struct{}

// Omitted marks an absent trailing optional field.
var Omitted = omitted{}

func isOmitted(v any) bool {
	_, ok := v.(omitted)
	return ok
}

// EncodeTuple marshals fields (after the PacketType tag) into a comma-joined
// bare JSON tuple body, dropping trailing Omitted fields.
func EncodeTuple(t PacketType, fields ...any) ([]byte, error) {
	end := len(fields)
	for end > 0 && isOmitted(fields[end-1]) {
		end--
	}
	fields = fields[:end]

	parts := make([][]byte, 0, len(fields)+1)
	head, err := json.Marshal(t)
	if err != nil {
		return nil, err
	}
	parts = append(parts, head)
	for _, f := range fields {
		b, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("wire: encoding field: %w", err)
		}
		parts = append(parts, b)
	}
	return bytes.Join(parts, []byte(",")), nil
}

// EncodeNested wraps EncodeTuple's output in '[' ']' so it can sit as one
// element of a Bundle's action list (a genuine JSON array, not a bare tuple).
func EncodeNested(t PacketType, fields ...any) ([]byte, error) {
	body, err := EncodeTuple(t, fields...)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, len(body)+2)
	out = append(out, '[')
	out = append(out, body...)
	out = append(out, ']')
	return out, nil
}

// ParseFrame decodes one action packet. bare must be true for a top-level
// text frame (which omits its enclosing brackets per spec §4.1) and false
// for an action nested inside a Bundle's action list (already a proper
// JSON array).
func ParseFrame(raw []byte, bare bool) (Packet, error) {
	var elems []json.RawMessage
	var err error
	if bare {
		wrapped := make([]byte, 0, len(raw)+2)
		wrapped = append(wrapped, '[')
		wrapped = append(wrapped, raw...)
		wrapped = append(wrapped, ']')
		err = json.Unmarshal(wrapped, &elems)
	} else {
		err = json.Unmarshal(raw, &elems)
	}
	if err != nil {
		return nil, fmt.Errorf("wire: invalid packet tuple: %w", err)
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("wire: empty packet tuple")
	}
	var pt int
	if err := json.Unmarshal(elems[0], &pt); err != nil {
		return nil, fmt.Errorf("wire: invalid packet type tag: %w", err)
	}
	return decodeByType(PacketType(pt), elems[1:])
}

func field(elems []json.RawMessage, i int) (json.RawMessage, bool) {
	if i < 0 || i >= len(elems) {
		return nil, false
	}
	if bytes.Equal(bytes.TrimSpace(elems[i]), []byte("null")) {
		return nil, false
	}
	return elems[i], true
}

func decodeString(elems []json.RawMessage, i int) (string, error) {
	raw, ok := field(elems, i)
	if !ok {
		return "", fmt.Errorf("wire: missing string field at index %d", i)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("wire: field %d not a string: %w", i, err)
	}
	return s, nil
}

func decodeUint64(elems []json.RawMessage, i int) (uint64, error) {
	raw, ok := field(elems, i)
	if !ok {
		return 0, fmt.Errorf("wire: missing numeric field at index %d", i)
	}
	var n uint64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("wire: field %d not a number: %w", i, err)
	}
	return n, nil
}

func decodeInt64(elems []json.RawMessage, i int) (int64, error) {
	raw, ok := field(elems, i)
	if !ok {
		return 0, fmt.Errorf("wire: missing numeric field at index %d", i)
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err != nil {
		return 0, fmt.Errorf("wire: field %d not a number: %w", i, err)
	}
	return n, nil
}

func decodeDataType(elems []json.RawMessage, i int) (DataType, error) {
	n, err := decodeUint64(elems, i)
	if err != nil {
		return 0, err
	}
	return DataType(n), nil
}

func decodeByType(t PacketType, elems []json.RawMessage) (Packet, error) {
	switch t {
	case Bundle:
		raw, ok := field(elems, 0)
		if !ok {
			return BundlePacket{}, nil
		}
		var rawActions []json.RawMessage
		if err := json.Unmarshal(raw, &rawActions); err != nil {
			return nil, fmt.Errorf("wire: decoding bundle actions: %w", err)
		}
		actions := make([]Packet, 0, len(rawActions))
		for idx, ra := range rawActions {
			p, err := ParseFrame(ra, false)
			if err != nil {
				return nil, fmt.Errorf("wire: bundle action %d: %w", idx, err)
			}
			actions = append(actions, p)
		}
		return BundlePacket{Actions: actions}, nil

	case Transmit:
		receiver, err := decodeString(elems, 0)
		if err != nil {
			return nil, err
		}
		dt, err := decodeDataType(elems, 1)
		if err != nil {
			return nil, err
		}
		data, _ := field(elems, 2)
		meta, _ := field(elems, 3)
		return TransmitPacket{Receiver: receiver, DataType: dt, Data: data, Meta: meta}, nil

	case Invoke:
		procedure, err := decodeString(elems, 0)
		if err != nil {
			return nil, err
		}
		callID, err := decodeUint64(elems, 1)
		if err != nil {
			return nil, err
		}
		dt, err := decodeDataType(elems, 2)
		if err != nil {
			return nil, err
		}
		data, _ := field(elems, 3)
		meta, _ := field(elems, 4)
		return InvokePacket{Procedure: procedure, CallID: callID, DataType: dt, Data: data, Meta: meta}, nil

	case InvokeDataResp:
		callID, err := decodeUint64(elems, 0)
		if err != nil {
			return nil, err
		}
		dt, err := decodeDataType(elems, 1)
		if err != nil {
			return nil, err
		}
		data, _ := field(elems, 2)
		meta, _ := field(elems, 3)
		return InvokeDataRespPacket{CallID: callID, DataType: dt, Data: data, Meta: meta}, nil

	case InvokeErrResp:
		callID, err := decodeUint64(elems, 0)
		if err != nil {
			return nil, err
		}
		rawErr, _ := field(elems, 1)
		return InvokeErrRespPacket{CallID: callID, RawErr: rawErr}, nil

	case StreamAccept:
		id, err := decodeInt64(elems, 0)
		if err != nil {
			return nil, err
		}
		credit, err := decodeUint64(elems, 1)
		if err != nil {
			return nil, err
		}
		return StreamAcceptPacket{StreamID: id, InitialCredit: credit}, nil

	case StreamChunk:
		id, err := decodeInt64(elems, 0)
		if err != nil {
			return nil, err
		}
		dt, err := decodeDataType(elems, 1)
		if err != nil {
			return nil, err
		}
		data, _ := field(elems, 2)
		meta, _ := field(elems, 3)
		return StreamChunkPacket{StreamID: id, DataType: dt, Data: data, Meta: meta}, nil

	case StreamEnd:
		id, err := decodeInt64(elems, 0)
		if err != nil {
			return nil, err
		}
		dtRaw, hasDT := field(elems, 1)
		p := StreamEndPacket{StreamID: id}
		if hasDT {
			var n int
			if err := json.Unmarshal(dtRaw, &n); err != nil {
				return nil, fmt.Errorf("wire: StreamEnd dataType: %w", err)
			}
			p.HasData = true
			p.DataType = DataType(n)
			p.Data, _ = field(elems, 2)
			p.Meta, _ = field(elems, 3)
		}
		return p, nil

	case StreamDataPermission:
		id, err := decodeInt64(elems, 0)
		if err != nil {
			return nil, err
		}
		credit, err := decodeUint64(elems, 1)
		if err != nil {
			return nil, err
		}
		return StreamDataPermissionPacket{StreamID: id, AdditionalCredit: credit}, nil

	case WriteStreamClose:
		id, err := decodeInt64(elems, 0)
		if err != nil {
			return nil, err
		}
		// Unlike ReadStreamClose, Code is mandatory here (Encode always
		// writes it), so a decode failure means a malformed packet, not an
		// omitted optional field.
		code, err := decodeInt64(elems, 1)
		if err != nil {
			return nil, fmt.Errorf("wire: WriteStreamClose code: %w", err)
		}
		return WriteStreamClosePacket{StreamID: id, Code: int(code)}, nil

	case ReadStreamClose:
		id, err := decodeInt64(elems, 0)
		if err != nil {
			return nil, err
		}
		p := ReadStreamClosePacket{StreamID: id, Code: 200}
		if raw, ok := field(elems, 1); ok {
			var n int
			if err := json.Unmarshal(raw, &n); err == nil {
				p.Code = n
				p.HasCode = true
			}
		}
		return p, nil

	default:
		return nil, fmt.Errorf("wire: unknown packet type %d", t)
	}
}

// BundlePacket carries a batch of action packets flushed together.
type BundlePacket struct{ Actions []Packet }

func (BundlePacket) Type() PacketType { return Bundle }

// TransmitPacket is a fire-and-forget one-way message.
type TransmitPacket struct {
	Receiver string
	DataType DataType
	Data     json.RawMessage
	Meta     json.RawMessage
}

func (TransmitPacket) Type() PacketType { return Transmit }

// Encode renders this packet as a bare tuple.
func (p TransmitPacket) Encode() ([]byte, error) {
	return EncodeTuple(Transmit, p.Receiver, p.DataType, rawOr(p.Data), rawOr(p.Meta))
}

// InvokePacket requests exactly one response from the peer.
type InvokePacket struct {
	Procedure string
	CallID    uint64
	DataType  DataType
	Data      json.RawMessage
	Meta      json.RawMessage
}

func (InvokePacket) Type() PacketType { return Invoke }

func (p InvokePacket) Encode() ([]byte, error) {
	return EncodeTuple(Invoke, p.Procedure, p.CallID, p.DataType, rawOr(p.Data), rawOr(p.Meta))
}

// InvokeDataRespPacket is a successful invoke response.
type InvokeDataRespPacket struct {
	CallID   uint64
	DataType DataType
	Data     json.RawMessage
	Meta     json.RawMessage
}

func (InvokeDataRespPacket) Type() PacketType { return InvokeDataResp }

func (p InvokeDataRespPacket) Encode() ([]byte, error) {
	return EncodeTuple(InvokeDataResp, p.CallID, p.DataType, rawOr(p.Data), rawOr(p.Meta))
}

// InvokeErrRespPacket is a failed invoke response carrying a dehydrated error.
type InvokeErrRespPacket struct {
	CallID uint64
	RawErr json.RawMessage
}

func (InvokeErrRespPacket) Type() PacketType { return InvokeErrResp }

func (p InvokeErrRespPacket) Encode() ([]byte, error) {
	return EncodeTuple(InvokeErrResp, p.CallID, rawOr(p.RawErr))
}

// StreamAcceptPacket tells the writer the reader is ready, with credit.
type StreamAcceptPacket struct {
	StreamID      int64
	InitialCredit uint64
}

func (StreamAcceptPacket) Type() PacketType { return StreamAccept }

func (p StreamAcceptPacket) Encode() ([]byte, error) {
	return EncodeTuple(StreamAccept, p.StreamID, p.InitialCredit)
}

// StreamChunkPacket carries one object-stream chunk.
type StreamChunkPacket struct {
	StreamID int64
	DataType DataType
	Data     json.RawMessage
	Meta     json.RawMessage
}

func (StreamChunkPacket) Type() PacketType { return StreamChunk }

func (p StreamChunkPacket) Encode() ([]byte, error) {
	return EncodeTuple(StreamChunk, p.StreamID, p.DataType, rawOr(p.Data), rawOr(p.Meta))
}

// StreamEndPacket closes an object stream, optionally with a final chunk.
type StreamEndPacket struct {
	StreamID int64
	HasData  bool
	DataType DataType
	Data     json.RawMessage
	Meta     json.RawMessage
}

func (StreamEndPacket) Type() PacketType { return StreamEnd }

func (p StreamEndPacket) Encode() ([]byte, error) {
	if !p.HasData {
		return EncodeTuple(StreamEnd, p.StreamID)
	}
	return EncodeTuple(StreamEnd, p.StreamID, p.DataType, rawOr(p.Data), rawOr(p.Meta))
}

// StreamDataPermissionPacket grants a reader's additional credit to a writer.
type StreamDataPermissionPacket struct {
	StreamID         int64
	AdditionalCredit uint64
}

func (StreamDataPermissionPacket) Type() PacketType { return StreamDataPermission }

func (p StreamDataPermissionPacket) Encode() ([]byte, error) {
	return EncodeTuple(StreamDataPermission, p.StreamID, p.AdditionalCredit)
}

// WriteStreamClosePacket aborts a stream from the writer's side.
type WriteStreamClosePacket struct {
	StreamID int64
	Code     int
}

func (WriteStreamClosePacket) Type() PacketType { return WriteStreamClose }

func (p WriteStreamClosePacket) Encode() ([]byte, error) {
	return EncodeTuple(WriteStreamClose, p.StreamID, p.Code)
}

// ReadStreamClosePacket aborts a stream from the reader's side. Code
// defaults to 200 ("End") when the sender omits it.
type ReadStreamClosePacket struct {
	StreamID int64
	Code     int
	HasCode  bool
}

func (ReadStreamClosePacket) Type() PacketType { return ReadStreamClose }

func (p ReadStreamClosePacket) Encode() ([]byte, error) {
	if !p.HasCode {
		return EncodeTuple(ReadStreamClose, p.StreamID)
	}
	return EncodeTuple(ReadStreamClose, p.StreamID, p.Code)
}

func rawOr(r json.RawMessage) any {
	if r == nil {
		return Omitted
	}
	return r
}
