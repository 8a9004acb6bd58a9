package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

// TestViperDefaultsRoundTrip verifies that every default set via setDefaults()
// is read back by NewTransportsConfigFromViper() under the same viper key.
// This catches key mismatches between SetDefault and Get calls.
func TestViperDefaultsRoundTrip(t *testing.T) {
	viper.Reset()
	setDefaults()

	cfg := NewTransportsConfigFromViper()
	defaults := DefaultTransportsConfig()

	if cfg != defaults {
		t.Errorf("NewTransportsConfigFromViper() = %+v, want %+v", cfg, defaults)
	}
}

// TestViperOverrides verifies explicit settings win over defaults.
func TestViperOverrides(t *testing.T) {
	viper.Reset()
	setDefaults()

	viper.Set("transports.session_creation_timeout", 30*time.Second)
	viper.Set("transports.low_bandwidth_limit", 64*1024)
	viper.Set("transports.max_connections", 16)

	cfg := NewTransportsConfigFromViper()

	if cfg.SessionCreationTimeout != 30*time.Second {
		t.Errorf("SessionCreationTimeout = %v, want 30s", cfg.SessionCreationTimeout)
	}
	if cfg.LowBandwidthLimit != 64*1024 {
		t.Errorf("LowBandwidthLimit = %d, want %d", cfg.LowBandwidthLimit, 64*1024)
	}
	if cfg.MaxConnections != 16 {
		t.Errorf("MaxConnections = %d, want 16", cfg.MaxConnections)
	}
	// untouched keys keep their defaults
	if cfg.KeyPoolSize != DefaultKeyPoolSize {
		t.Errorf("KeyPoolSize = %d, want %d", cfg.KeyPoolSize, DefaultKeyPoolSize)
	}
}

// TestUpdateTransportsConfig verifies the global properties track viper.
func TestUpdateTransportsConfig(t *testing.T) {
	viper.Reset()
	setDefaults()
	viper.Set("transports.keypool_size", 11)

	UpdateTransportsConfig()
	defer func() {
		viper.Reset()
		TransportsConfigProperties = DefaultTransportsConfig()
	}()

	if TransportsConfigProperties.KeyPoolSize != 11 {
		t.Errorf("TransportsConfigProperties.KeyPoolSize = %d, want 11",
			TransportsConfigProperties.KeyPoolSize)
	}
}
