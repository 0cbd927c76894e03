// Package config loads sessiond's process configuration from an optional
// YAML file layered under environment variable overrides, via a
// viper-based configuration loader.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the top-level sessiond configuration.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Ports   PortsConfig   `mapstructure:"ports"`
	Logging LoggingConfig `mapstructure:"logging"`
	Paths   PathsConfig   `mapstructure:"paths"`
}

// ServerConfig holds the server identity the RpcLoop reports.
type ServerConfig struct {
	// Name and Version are reported in the initialize response.
	Name    string `mapstructure:"name"`
	Version string `mapstructure:"version"`
}

// PortsConfig configures the PortAllocator's ranges.
type PortsConfig struct {
	// RangeMin/RangeMax bound the primary allocation range (inclusive).
	RangeMin int `mapstructure:"rangeMin"`
	RangeMax int `mapstructure:"rangeMax"`
	// KnownCommon is an additional set of ports scanned (but never
	// allocated from) by scan_listening.
	KnownCommon []int `mapstructure:"knownCommon"`
}

// LoggingConfig holds logging settings for internal/corelog. cmd/sessiond
// uses only Format, as the fallback when neither --log-format nor
// SESSIOND_LOG_FORMAT is set; Level and OutputPath are loaded but not
// applied.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// PathsConfig configures where sessiond keeps its on-disk state.
type PathsConfig struct {
	// AppDataDir is the root under which LogStore writes
	// logs/session-<id>.log files.
	AppDataDir string `mapstructure:"appDataDir"`
}

// Default returns the built-in configuration used when no file or
// environment override is present.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Name:    "sessiond",
			Version: "0.1.0",
		},
		Ports: PortsConfig{
			RangeMin:    3000,
			RangeMax:    3099,
			KnownCommon: []int{4000, 4200, 5000, 5001, 8000, 8001, 9000, 9090},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stderr",
		},
		Paths: PathsConfig{
			AppDataDir: defaultAppDataDir(),
		},
	}
}

// Load reads configuration from an optional YAML file (configPath, if
// non-empty) and environment variables prefixed SESSIOND_, layered over
// Default(). Environment variables take precedence over the file.
func Load(configPath string) (Config, error) {
	def := Default()

	v := viper.New()
	v.SetEnvPrefix("SESSIOND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.name", def.Server.Name)
	v.SetDefault("server.version", def.Server.Version)
	v.SetDefault("ports.rangeMin", def.Ports.RangeMin)
	v.SetDefault("ports.rangeMax", def.Ports.RangeMax)
	v.SetDefault("ports.knownCommon", def.Ports.KnownCommon)
	v.SetDefault("logging.level", def.Logging.Level)
	v.SetDefault("logging.format", def.Logging.Format)
	v.SetDefault("logging.outputPath", def.Logging.OutputPath)
	v.SetDefault("paths.appDataDir", def.Paths.AppDataDir)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	return cfg, nil
}
