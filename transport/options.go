package transport

import "time"

// Options are the recognized configuration knobs of spec.md §6.
type Options struct {
	ResponseTimeout            time.Duration
	BinaryContentPacketTimeout time.Duration
	StreamsPerPackageLimit     int
	StreamsEnabled             bool
	ChunksCanContainStreams    bool
	// StreamInitialCredit is handed to NewReadStream as the reader's
	// initial offer (spec.md §4.5 "reader issues StreamAccept(initialBuffer)").
	// Not named in spec.md's recognized-options list directly, but the
	// reader side has to pick some opening credit — grounded on the
	// teacher's internal/config default buffer sizing idiom.
	StreamInitialCredit int64
}

// DefaultOptions mirrors spec.md §6's documented defaults.
func DefaultOptions() Options {
	return Options{
		ResponseTimeout:            10 * time.Second,
		BinaryContentPacketTimeout: 10 * time.Second,
		StreamsPerPackageLimit:     20,
		StreamsEnabled:             true,
		ChunksCanContainStreams:    false,
		StreamInitialCredit:        65536,
	}
}

// TransmitOptions configures one Transmit call (spec.md §4.6).
type TransmitOptions struct {
	// Batch requests the call be handed to the package buffer instead of
	// sent immediately.
	Batch bool
	// DisableComplexTypes is spec.md's `processComplexTypes=false`:
	// forbids embedded streams and blobs, treating the payload as pure JSON.
	DisableComplexTypes bool
}

// InvokeOptions configures one Invoke call.
type InvokeOptions struct {
	Batch               bool
	DisableComplexTypes bool
	// Timeout overrides Options.ResponseTimeout for this call when > 0.
	Timeout time.Duration
	// ReturnDataType asks the resolved invoke.Response to also carry the
	// wire DataType the response arrived as.
	ReturnDataType bool
}
