// Package config provides a reusable loader for storacore node configuration
// files and environment variables. It is versioned so that applications can
// depend on a stable API contract.
//
// Version: v0.1.0
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"storacore/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Network configures the overlay listener, discovery tag, and bootstrap set.
type Network struct {
	ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
	P2PPort        int      `mapstructure:"p2p_port" json:"p2p_port"`
	NetworkVersion string   `mapstructure:"network_version" json:"network_version"`
	DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
	BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	MaxPeers       int      `mapstructure:"max_peers" json:"max_peers"`
}

// Storage configures the on-disk record store's location and capacity.
type Storage struct {
	DataDir    string `mapstructure:"data_dir" json:"data_dir"`
	MaxRecords int    `mapstructure:"max_records" json:"max_records"`
	MaxBytes   int64  `mapstructure:"max_bytes" json:"max_bytes"`
	CacheDir   string `mapstructure:"cache_dir" json:"cache_dir"`
}

// Replication configures the Replication Fetcher's fan-out and backpressure.
type Replication struct {
	PeerCount     int `mapstructure:"peer_count" json:"peer_count"`
	MaxQueueDepth int `mapstructure:"max_queue_depth" json:"max_queue_depth"`
}

// Identity configures where the node's ed25519 secret key is persisted.
type Identity struct {
	KeyDir string `mapstructure:"key_dir" json:"key_dir"`
}

// Logging configures the process-wide structured logger.
type Logging struct {
	Level string `mapstructure:"level" json:"level"`
	File  string `mapstructure:"file" json:"file"`
}

// Config is the unified configuration for a storacore node, mirroring the
// YAML files under cmd/config.
type Config struct {
	Network     Network     `mapstructure:"network" json:"network"`
	Storage     Storage     `mapstructure:"storage" json:"storage"`
	Replication Replication `mapstructure:"replication" json:"replication"`
	Identity    Identity    `mapstructure:"identity" json:"identity"`
	Logging     Logging     `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // process environment variables override file values

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the STORACORE_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("STORACORE_ENV", ""))
}
