// Package config loads the YAML configuration for a ziron-loopback
// deployment: transport options plus the socket address a server binds
// and a client dials. Grounded on the teacher's internal/config/config.go
// and defaults.go.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ZironServer/ziron-go/transport"
	"github.com/ZironServer/ziron-go/wsconn"
)

// Options holds the complete ziron-loopback configuration.
type Options struct {
	Socket    SocketConfig  `yaml:"socket"`
	Transport TransportOpts `yaml:"transport"`
	Batch     BatchOpts     `yaml:"batch"`
	Logging   LogConfig     `yaml:"logging"`
}

// SocketConfig mirrors the teacher's ServerConfig, trimmed to what a
// websocket-only transport needs: a listen/dial address and a heartbeat
// interval (spec.md §7: PING/PONG are application-driven, not a transport
// keepalive). Nothing in this module reads PingInterval or sends pings on
// a timer; the field is carried as configuration only.
type SocketConfig struct {
	Address      string   `yaml:"address"`
	Path         string   `yaml:"path"`
	PingInterval Duration `yaml:"ping_interval"`
}

// TransportOpts mirrors transport.Options field-for-field so it can be
// YAML-unmarshaled directly, then converted with ToTransportOptions.
type TransportOpts struct {
	ResponseTimeout            Duration `yaml:"response_timeout"`
	BinaryContentPacketTimeout Duration `yaml:"binary_content_packet_timeout"`
	StreamsPerPackageLimit     int      `yaml:"streams_per_package_limit"`
	StreamsEnabled             bool     `yaml:"streams_enabled"`
	ChunksCanContainStreams    bool     `yaml:"chunks_can_contain_streams"`
	StreamInitialCredit        int64    `yaml:"stream_initial_credit"`
}

// ToTransportOptions converts the YAML-facing shape into transport.Options.
func (t TransportOpts) ToTransportOptions() transport.Options {
	return transport.Options{
		ResponseTimeout:            t.ResponseTimeout.Duration(),
		BinaryContentPacketTimeout: t.BinaryContentPacketTimeout.Duration(),
		StreamsPerPackageLimit:     t.StreamsPerPackageLimit,
		StreamsEnabled:             t.StreamsEnabled,
		ChunksCanContainStreams:    t.ChunksCanContainStreams,
		StreamInitialCredit:        t.StreamInitialCredit,
	}
}

// BatchOpts mirrors wsconn.BatchOptions.
type BatchOpts struct {
	MaxBufferedBytes int      `yaml:"max_buffered_bytes"`
	MaxDelay         Duration `yaml:"max_delay"`
}

// ToBatchOptions converts the YAML-facing shape into wsconn.BatchOptions.
func (b BatchOpts) ToBatchOptions() wsconn.BatchOptions {
	return wsconn.BatchOptions{MaxBufferedBytes: b.MaxBufferedBytes, MaxDelay: b.MaxDelay.Duration()}
}

// LogConfig mirrors the teacher's LogConfig.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads config from a YAML file, applying defaults for missing
// values.
func Load(path string) (*Options, error) {
	opts := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, opts); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return opts, nil
}

// Validate checks the config for invalid values.
func (o *Options) Validate() error {
	if o.Socket.Address == "" {
		return fmt.Errorf("socket.address is required")
	}
	if o.Transport.StreamsPerPackageLimit < 0 {
		return fmt.Errorf("transport.streams_per_package_limit must be >= 0, got %d", o.Transport.StreamsPerPackageLimit)
	}
	if o.Transport.StreamInitialCredit <= 0 {
		return fmt.Errorf("transport.stream_initial_credit must be > 0, got %d", o.Transport.StreamInitialCredit)
	}
	if o.Batch.MaxBufferedBytes < 0 {
		return fmt.Errorf("batch.max_buffered_bytes must be >= 0, got %d", o.Batch.MaxBufferedBytes)
	}
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[o.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug/info/warn/error, got %q", o.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[o.Logging.Format] {
		return fmt.Errorf("logging.format must be 'json' or 'text', got %q", o.Logging.Format)
	}
	return nil
}
