package codec

import (
	"testing"
	"time"

	"github.com/ZironServer/ziron-go/wire"
)

func noopDeps() EncodeDeps {
	nextBinary := int64(0)
	nextStream := int64(0)
	return EncodeDeps{
		AllocateBinaryID: func() int64 { nextBinary++; return nextBinary },
		AllocateStreamID: func(isBinaryStream bool) int64 { nextStream++; return nextStream },
	}
}

func TestEncodePlainJSON(t *testing.T) {
	v := Object(Field{Key: "a", Value: Number(1)}, Field{Key: "b", Value: String("x")})
	res, err := Encode(v, noopDeps(), false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.DataType != wire.DataTypeJSON {
		t.Errorf("expected DataTypeJSON, got %v", res.DataType)
	}
	if len(res.Binaries) != 0 || len(res.Streams) != 0 {
		t.Errorf("expected no binaries/streams")
	}
}

func TestEncodeDecodeRoundtripPlain(t *testing.T) {
	v := Object(
		Field{Key: "name", Value: String("alice")},
		Field{Key: "age", Value: Number(30)},
		Field{Key: "tags", Value: Array(String("a"), String("b"))},
	)
	res, err := Encode(v, noopDeps(), false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got any
	var decErr error
	Decode(res.DataType, res.DataJSON, res.Meta, DecodeDeps{}, func(val any, err error) {
		got, decErr = val, err
	})
	if decErr != nil {
		t.Fatalf("Decode: %v", decErr)
	}
	m := got.(map[string]any)
	if m["name"] != "alice" || m["age"] != float64(30) {
		t.Errorf("unexpected decode: %+v", m)
	}
}

func TestEncodeSingleBlob(t *testing.T) {
	v := Blob([]byte{1, 2, 3})
	res, err := Encode(v, noopDeps(), false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.DataType != wire.DataTypeBinary {
		t.Fatalf("expected DataTypeBinary, got %v", res.DataType)
	}
	if len(res.Binaries) != 1 {
		t.Fatalf("expected 1 binary, got %d", len(res.Binaries))
	}
}

func TestEncodeMixedWithBlobCollectsBinaryAndMeta(t *testing.T) {
	v := Object(
		Field{Key: "file", Value: Blob([]byte("payload"))},
		Field{Key: "label", Value: String("x")},
	)
	res, err := Encode(v, noopDeps(), false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if res.DataType != wire.DataTypeJSONWithBinaries {
		t.Fatalf("expected JSONWithBinaries, got %v", res.DataType)
	}
	if len(res.Meta) == 0 {
		t.Fatalf("expected meta to carry binary-content id")
	}
	if len(res.Binaries) != 1 || string(res.Binaries[0]) != "payload" {
		t.Fatalf("unexpected binaries: %v", res.Binaries)
	}

	var got any
	Decode(res.DataType, res.DataJSON, res.Meta, DecodeDeps{
		ResolveBinary: func(id int64, timeout time.Duration, cb func([][]byte, error)) {
			if id != res.BinaryID {
				t.Fatalf("unexpected resolver id %d, want %d", id, res.BinaryID)
			}
			cb(res.Binaries, nil)
		},
	}, func(val any, err error) {
		if err != nil {
			t.Fatalf("decode callback error: %v", err)
		}
		got = val
	})
	m := got.(map[string]any)
	if string(m["file"].([]byte)) != "payload" {
		t.Errorf("blob not resolved: %+v", m)
	}
	if m["label"] != "x" {
		t.Errorf("sibling field corrupted: %+v", m)
	}
}

func TestKeyEscapeInjectivity(t *testing.T) {
	v := Object(
		Field{Key: "_b", Value: Number(99)},
		Field{Key: "_s", Value: String("not-a-stream")},
		Field{Key: "__already_escaped", Value: Bool(true)},
	)
	res, err := Encode(v, noopDeps(), false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var got any
	Decode(res.DataType, res.DataJSON, res.Meta, DecodeDeps{}, func(val any, err error) {
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = val
	})
	m := got.(map[string]any)
	if m["_b"] != float64(99) {
		t.Errorf("adversarial _b key mangled: %+v", m)
	}
	if m["_s"] != "not-a-stream" {
		t.Errorf("adversarial _s key mangled: %+v", m)
	}
	if m["__already_escaped"] != true {
		t.Errorf("already-underscored key mangled: %+v", m)
	}
}

func TestDateRoundtrip(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	v := Object(Field{Key: "when", Value: Date(now)})
	res, err := Encode(v, noopDeps(), false)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var got any
	Decode(res.DataType, res.DataJSON, res.Meta, DecodeDeps{}, func(val any, err error) {
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		got = val
	})
	m := got.(map[string]any)
	gotTime, ok := m["when"].(time.Time)
	if !ok || !gotTime.Equal(now) {
		t.Errorf("date mismatch: %+v", m["when"])
	}
}

func TestForbidComplexRejectsBlob(t *testing.T) {
	_, err := Encode(Blob([]byte("x")), noopDeps(), true)
	if err == nil {
		t.Errorf("expected error for processComplexTypes=false with blob payload")
	}
}

func TestStreamsPerPackageLimitEnforced(t *testing.T) {
	tree := map[string]any{"a": map[string]any{"_s": float64(1)}, "b": map[string]any{"_s": float64(2)}}
	count := 0
	deps := DecodeDeps{
		StreamsPerPackageLimit: 1,
		AllowEmbeddedStreams:   true,
		NewReadStream:          func(id int64) any { return id },
	}
	_, err := walkDecode(tree, nil, deps, &count)
	if err == nil {
		t.Errorf("expected streams-per-package limit to be enforced")
	}
}
