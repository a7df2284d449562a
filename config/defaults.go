package config

import "time"

// Default returns an Options with sensible defaults, mirroring
// transport.DefaultOptions() and the teacher's config.Default().
func Default() *Options {
	return &Options{
		Socket: SocketConfig{
			Address:      "0.0.0.0:7700",
			Path:         "/ziron",
			PingInterval: Duration(30 * time.Second),
		},
		Transport: TransportOpts{
			ResponseTimeout:            Duration(10 * time.Second),
			BinaryContentPacketTimeout: Duration(10 * time.Second),
			StreamsPerPackageLimit:     20,
			StreamsEnabled:             true,
			ChunksCanContainStreams:    false,
			StreamInitialCredit:        65536,
		},
		Batch: BatchOpts{
			MaxBufferedBytes: 16 * 1024,
			MaxDelay:         Duration(5 * time.Millisecond),
		},
		Logging: LogConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}
