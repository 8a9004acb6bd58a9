package config

import (
	"os"
	"path/filepath"

	"github.com/go-i2p/logger"
	"github.com/spf13/viper"

	"github.com/go-i2p/go-transports/lib/util"
)

var (
	CfgFile string
	log     = logger.GetGoI2PLogger()
)

const GOTRANSPORTS_BASE_DIR = ".go-transports"

func InitConfig() {
	if CfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(CfgFile)
	} else {
		// Set up viper to use the default config path $HOME/.go-transports/
		viper.AddConfigPath(BuildDirPath())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	// Load defaults
	setDefaults()

	// handle config file creating it if needed
	handleConfigFile()

	// Update TransportsConfigProperties
	UpdateTransportsConfig()
}

func setDefaults() {
	viper.SetDefault("transports.session_creation_timeout", DefaultSessionCreationTimeout)
	viper.SetDefault("transports.low_bandwidth_limit", DefaultLowBandwidthLimit)
	viper.SetDefault("transports.keypool_size", DefaultKeyPoolSize)
	viper.SetDefault("transports.cleanup_interval", DefaultCleanupInterval)
	viper.SetDefault("transports.bandwidth_interval", DefaultBandwidthInterval)
	viper.SetDefault("transports.max_connections", DefaultMaxConnections)
}

// NewTransportsConfigFromViper creates a new TransportsConfig from current
// viper settings. This is the preferred way to get config instead of using
// the global TransportsConfigProperties.
func NewTransportsConfigFromViper() TransportsConfig {
	return TransportsConfig{
		SessionCreationTimeout: viper.GetDuration("transports.session_creation_timeout"),
		LowBandwidthLimit:      viper.GetUint64("transports.low_bandwidth_limit"),
		KeyPoolSize:            viper.GetInt("transports.keypool_size"),
		CleanupInterval:        viper.GetDuration("transports.cleanup_interval"),
		BandwidthInterval:      viper.GetDuration("transports.bandwidth_interval"),
		MaxConnections:         viper.GetInt("transports.max_connections"),
	}
}

// UpdateTransportsConfig updates the global TransportsConfigProperties from
// viper settings.
func UpdateTransportsConfig() {
	TransportsConfigProperties = NewTransportsConfigFromViper()
}

func createDefaultConfig(defaultConfigDir string) {
	defaultConfigFile := filepath.Join(defaultConfigDir, "config.yaml")
	// Ensure directory exists
	if err := os.MkdirAll(defaultConfigDir, 0o755); err != nil {
		log.Fatalf("Could not create config directory: %s", err)
	}

	// Write current config file
	if err := viper.WriteConfig(); err != nil {
		log.Fatalf("Could not write default config file: %s", err)
	}

	log.Debugf("Created default configuration at: %s", defaultConfigFile)
}

func handleConfigFile() {
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if CfgFile != "" {
				log.Fatalf("Config file %s is not found: %s", CfgFile, err)
			} else {
				createDefaultConfig(BuildDirPath())
			}
		} else {
			log.Fatalf("Error reading config file: %s", err)
		}
	} else {
		log.Debugf("Using config file: %s", viper.ConfigFileUsed())
	}
}

func BuildDirPath() string {
	return filepath.Join(util.UserHome(), GOTRANSPORTS_BASE_DIR)
}
