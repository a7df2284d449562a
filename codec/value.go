// Package codec implements the value-encoding pipeline: turning a tree of
// user data (possibly containing raw byte blobs and live write-streams)
// into a text head plus optional binary-content frame, and the inverse.
package codec

import "time"

// Kind discriminates the tagged Value variant.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindDate
	KindBlob
	KindStream
	KindArray
	KindObject
)

// StreamRef is the subset of stream.WriteStream the codec needs: a place to
// deposit the id the controller's identifier space assigns during encode,
// and enough of its identity (object vs. binary stream) for the allocator
// to pick an id from the right signed space (spec §3). Defined here
// (rather than imported from package stream) so codec has no dependency on
// the stream engine.
type StreamRef interface {
	BindID(id int64)
	IsBinaryStream() bool
}

// Field is one ordered key/value pair of an object Value.
type Field struct {
	Key   string
	Value Value
}

// Value is ziron's total, statically-typed rendering of the source's
// runtime-inspected payload tree (spec §9's "Design Note" on placeholder
// encoding): every user payload is built from these constructors instead of
// relying on interface{} + type switches at encode time.
type Value struct {
	kind   Kind
	b      bool
	n      float64
	s      string
	t      time.Time
	blob   []byte
	stream StreamRef
	arr    []Value
	obj    []Field
}

func (v Value) Kind() Kind { return v.kind }

func Null() Value                { return Value{kind: KindNull} }
func Bool(b bool) Value          { return Value{kind: KindBool, b: b} }
func Number(n float64) Value     { return Value{kind: KindNumber, n: n} }
func String(s string) Value      { return Value{kind: KindString, s: s} }
func Date(t time.Time) Value     { return Value{kind: KindDate, t: t} }
func Blob(b []byte) Value        { return Value{kind: KindBlob, blob: b} }
func Stream(s StreamRef) Value   { return Value{kind: KindStream, stream: s} }
func Array(items ...Value) Value { return Value{kind: KindArray, arr: items} }

// Object builds an object Value from an order-preserving field list.
func Object(fields ...Field) Value { return Value{kind: KindObject, obj: fields} }

// ObjectMap builds an object Value from a map; Go map iteration order is
// randomized, but JSON objects are unordered by spec so this only matters
// for wire-format stability across repeated encodes of the same map, which
// ziron does not guarantee.
func ObjectMap(fields map[string]Value) Value {
	out := make([]Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, Field{Key: k, Value: v})
	}
	return Value{kind: KindObject, obj: out}
}
