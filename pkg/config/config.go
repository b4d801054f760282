// Package config provides a reusable loader for cubenet configuration
// files and environment variables.
//
// Version: v0.1.0
package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"

	"cubenet/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a cubenet node, mirroring the
// YAML files under cmd/cubenet/config.
type Config struct {
	Node struct {
		ListenAddr          string `mapstructure:"listen_addr" json:"listen_addr"`
		LightNode           bool   `mapstructure:"light_node" json:"light_node"`
		PeerExchangeEnabled bool   `mapstructure:"peer_exchange_enabled" json:"peer_exchange_enabled"`
		AdvertiseAddr       string `mapstructure:"advertise_addr" json:"advertise_addr"`
	} `mapstructure:"node" json:"node"`

	Store struct {
		Backend     string `mapstructure:"backend" json:"backend"` // "memory" | "lru"
		LRUCapacity int    `mapstructure:"lru_capacity" json:"lru_capacity"`
		Difficulty  int    `mapstructure:"difficulty" json:"difficulty"`
	} `mapstructure:"store" json:"store"`

	Retention struct {
		Enabled  bool   `mapstructure:"enabled" json:"enabled"`
		Past     string `mapstructure:"past" json:"past"`
		Future   string `mapstructure:"future" json:"future"`
	} `mapstructure:"retention" json:"retention"`

	Peers struct {
		BootstrapAddresses []string `mapstructure:"bootstrap_addresses" json:"bootstrap_addresses"`
		MaxConnections     int      `mapstructure:"max_connections" json:"max_connections"`
	} `mapstructure:"peers" json:"peers"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// setDefaults mirrors cmd/cubenet/config/default.yaml's values so the
// node still has sane settings if that file is ever missing (e.g. run
// from outside the repo root, or a bare `go install`ed binary).
func setDefaults() {
	viper.SetDefault("node.listen_addr", "0.0.0.0:7777")
	viper.SetDefault("node.light_node", false)
	viper.SetDefault("node.peer_exchange_enabled", true)
	viper.SetDefault("node.advertise_addr", "")

	viper.SetDefault("store.backend", "memory")
	viper.SetDefault("store.lru_capacity", 4096)
	viper.SetDefault("store.difficulty", 0)

	viper.SetDefault("retention.enabled", false)
	viper.SetDefault("retention.past", "720h")
	viper.SetDefault("retention.future", "24h")

	viper.SetDefault("peers.bootstrap_addresses", []string{})
	viper.SetDefault("peers.max_connections", 20)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.file", "")
}

// Load reads configuration files and merges any environment-specific
// overrides. The result is stored in AppConfig and returned. If env is
// empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/cubenet/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, utils.Wrap(err, "load config")
		}
		// No default.yaml on disk: fall back to setDefaults' values
		// rather than refusing to start.
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("CUBENET")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the CUBENET_ENV environment
// variable to select an overlay, defaulting to none.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("CUBENET_ENV", ""))
}
