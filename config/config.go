// Package config loads application configuration from an optional
// config file plus DBBRIDGE_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// TimeoutConfig carries the per-backend connection deadlines, in
// seconds.
type TimeoutConfig struct {
	TunnelSeconds          int `mapstructure:"tunnel_seconds"`
	PostgresConnectSeconds int `mapstructure:"postgres_connect_seconds"`
	RedisConnectSeconds    int `mapstructure:"redis_connect_seconds"`
}

// ScanConfig bounds Redis key scans.
type ScanConfig struct {
	MaxIterations int `mapstructure:"max_iterations"`
	Count         int `mapstructure:"count"`
}

// Config is the application configuration.
type Config struct {
	// DataDir holds the metadata database. Empty means a per-user
	// default resolved at startup.
	DataDir string `mapstructure:"data_dir"`

	// MetadataPath overrides the metadata database location. Empty
	// means <data_dir>/dbbridge.db.
	MetadataPath string `mapstructure:"metadata_path"`

	LogLevel string `mapstructure:"log_level"`

	// MetricsAddr enables the Prometheus endpoint when non-empty,
	// e.g. "127.0.0.1:9090".
	MetricsAddr string `mapstructure:"metrics_addr"`

	Timeouts TimeoutConfig `mapstructure:"timeouts"`
	Scan     ScanConfig    `mapstructure:"scan"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "")
	v.SetDefault("metadata_path", "")
	v.SetDefault("log_level", "info")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("timeouts.tunnel_seconds", 20)
	v.SetDefault("timeouts.postgres_connect_seconds", 15)
	v.SetDefault("timeouts.redis_connect_seconds", 10)
	v.SetDefault("scan.max_iterations", 100)
	v.SetDefault("scan.count", 100)
}

// Load reads configuration from dbbridge.yaml in the given directories
// (the file is optional) and from the environment.
func Load(configPaths ...string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("dbbridge")
	v.SetConfigType("yaml")
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("DBBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", c.LogLevel)
	}
	if c.Timeouts.TunnelSeconds <= 0 ||
		c.Timeouts.PostgresConnectSeconds <= 0 ||
		c.Timeouts.RedisConnectSeconds <= 0 {
		return fmt.Errorf("timeouts must be positive")
	}
	if c.Scan.MaxIterations <= 0 || c.Scan.Count <= 0 {
		return fmt.Errorf("scan bounds must be positive")
	}
	return nil
}
