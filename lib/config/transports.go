package config

import (
	"time"
)

// Transport-layer protocol constants, per the I2P transport specification.
const (
	// DefaultSessionCreationTimeout is how long a peer record may exist
	// without an established session before it is evicted and its queued
	// messages dropped.
	DefaultSessionCreationTimeout = 10 * time.Second

	// DefaultLowBandwidthLimit is the threshold, in bytes per second, above
	// which the router reports its bandwidth as exceeded.
	DefaultLowBandwidthLimit = 32 * 1024

	// DefaultKeyPoolSize is how many ephemeral key pairs the supplier keeps
	// pre-generated.
	DefaultKeyPoolSize = 5

	// DefaultCleanupInterval is how often the peer cleanup sweep runs.
	DefaultCleanupInterval = 5 * time.Second

	// DefaultBandwidthInterval is how often the bandwidth snapshot updates.
	DefaultBandwidthInterval = time.Second

	// DefaultMaxConnections caps concurrent sessions across all transports.
	DefaultMaxConnections = 1024
)

// transports.config options
type TransportsConfig struct {
	// timeout for establishing a session before the peer record is reclaimed
	SessionCreationTimeout time.Duration
	// bytes per second above which IsBandwidthExceeded reports true
	LowBandwidthLimit uint64
	// target size of the pre-generated ephemeral key-pair pool
	KeyPoolSize int
	// how often sessionless peer records are swept
	CleanupInterval time.Duration
	// how often the bandwidth snapshot is recomputed
	BandwidthInterval time.Duration
	// maximum concurrent sessions across all transports
	MaxConnections int
}

// defaults for transports
var defaultTransportsConfig = TransportsConfig{
	SessionCreationTimeout: DefaultSessionCreationTimeout,
	LowBandwidthLimit:      DefaultLowBandwidthLimit,
	KeyPoolSize:            DefaultKeyPoolSize,
	CleanupInterval:        DefaultCleanupInterval,
	BandwidthInterval:      DefaultBandwidthInterval,
	MaxConnections:         DefaultMaxConnections,
}

// DefaultTransportsConfig returns a copy of the default transport settings.
func DefaultTransportsConfig() TransportsConfig {
	return defaultTransportsConfig
}

var TransportsConfigProperties = DefaultTransportsConfig()
