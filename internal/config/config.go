package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds application configuration.
type Config struct {
	// Global settings
	Format  string `mapstructure:"format"`
	Quiet   bool   `mapstructure:"quiet"`
	Verbose bool   `mapstructure:"verbose"`

	// Default values for commands
	Defaults DefaultsConfig `mapstructure:"defaults"`
}

// DefaultsConfig holds default values for various commands.
type DefaultsConfig struct {
	// Collector defaults
	Endpoint    string `mapstructure:"endpoint"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	MaxEvents   int    `mapstructure:"max_events"`

	// Capture defaults
	Root            string   `mapstructure:"root"`
	ExcludePrefixes []string `mapstructure:"exclude_prefixes"`

	// Exploration defaults
	HotThreshold  int     `mapstructure:"hot_threshold"`
	PlaybackSpeed float64 `mapstructure:"playback_speed"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Format: "text",
		Defaults: DefaultsConfig{
			Endpoint:      "127.0.0.1:9876",
			MaxEvents:     0, // unbounded
			HotThreshold:  5,
			PlaybackSpeed: 1.0,
		},
	}
}

// Load loads configuration from files and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("blind")
	v.SetConfigType("yaml")

	// Config paths, lowest precedence first.
	v.AddConfigPath("/etc/blind/")
	if configDir, err := os.UserConfigDir(); err == nil {
		v.AddConfigPath(filepath.Join(configDir, "blind"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(home)
		v.SetConfigName(".blind")
	}
	v.AddConfigPath(".")

	// Environment variables
	v.SetEnvPrefix("BLIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.BindEnv("format", "BLIND_FORMAT")
	v.BindEnv("quiet", "BLIND_QUIET")
	v.BindEnv("verbose", "BLIND_VERBOSE")
	v.BindEnv("defaults.endpoint", "BLIND_ENDPOINT")
	v.BindEnv("defaults.root", "BLIND_ROOT")

	cfg := Default()
	v.SetDefault("format", cfg.Format)
	v.SetDefault("quiet", cfg.Quiet)
	v.SetDefault("verbose", cfg.Verbose)
	v.SetDefault("defaults.endpoint", cfg.Defaults.Endpoint)
	v.SetDefault("defaults.max_events", cfg.Defaults.MaxEvents)
	v.SetDefault("defaults.hot_threshold", cfg.Defaults.HotThreshold)
	v.SetDefault("defaults.playback_speed", cfg.Defaults.PlaybackSpeed)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		// Config file not found; use defaults.
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific file.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}
