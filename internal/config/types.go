// Package config provides configuration loading for rulerd using Viper.
// Configuration is loaded from an optional YAML file with automatic
// environment variable binding.
//
// Environment variables use the RULERD_ prefix and underscore-separated keys:
//   - RULERD_SERVER_ADDRESS -> server.address
//   - RULERD_SERVER_PORT -> server.port
//   - RULERD_LOGGING_CONSOLE_LEVEL -> logging.console_level
package config

import (
	"os"
	"strings"
)

// Transport identifies which transport class a NameServer is bound to.
type Transport string

const (
	TransportUDPv4 Transport = "UDPv4"
	TransportUDPv6 Transport = "UDPv6"
	TransportTCPv4 Transport = "TCPv4"
)

// ServerConfig contains the listener settings: which transport to run
// and where to bind it.
type ServerConfig struct {
	Transport Transport `yaml:"transport"   mapstructure:"transport"`
	Address   string    `yaml:"address"     mapstructure:"address"`
	Port      int       `yaml:"port"        mapstructure:"port"`
	MaxErrors int       `yaml:"max_errors"  mapstructure:"max_errors"`
}

// LoggingConfig contains the console/file logging split (console_log_level /
// file_log_level).
type LoggingConfig struct {
	ConsoleLevel string `yaml:"console_level"      mapstructure:"console_level"`
	FileEnabled  bool   `yaml:"file_enabled"       mapstructure:"file_enabled"`
	FilePath     string `yaml:"file_path"          mapstructure:"file_path"`
	FileLevel    string `yaml:"file_level"         mapstructure:"file_level"`
}

// TCPCacheConfig exposes the connection-cache tuning knobs from the TCP
// transport and event loop design.
type TCPCacheConfig struct {
	MaxConnections    int     `yaml:"max_connections"     mapstructure:"max_connections"`
	VacuumTarget      int     `yaml:"vacuum_target"       mapstructure:"vacuum_target"`
	IdleTimeoutSecs   float64 `yaml:"idle_timeout_secs"   mapstructure:"idle_timeout_secs"`
	ReadTimeoutSecs   float64 `yaml:"read_timeout_secs"   mapstructure:"read_timeout_secs"`
	SelectTimeoutSecs float64 `yaml:"select_timeout_secs" mapstructure:"select_timeout_secs"`
	CleanupSecs       float64 `yaml:"cleanup_secs"        mapstructure:"cleanup_secs"`
}

// Config is the root configuration structure.
type Config struct {
	Server  ServerConfig   `yaml:"server"   mapstructure:"server"`
	Logging LoggingConfig  `yaml:"logging"  mapstructure:"logging"`
	TCP     TCPCacheConfig `yaml:"tcp"      mapstructure:"tcp"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("RULERD_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
