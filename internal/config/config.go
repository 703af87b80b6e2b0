// Package config provides configuration loading and validation for rulerd.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Command-line flags (not handled here, see cmd/rulerd/main.go)
//  2. Environment variables (RULERD_* prefix)
//  3. YAML config file (if specified with --config)
//  4. Hardcoded defaults
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("RULERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.New("failed to read config file: " + err.Error())
		}
	}

	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.transport", string(TransportUDPv4))
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 9953)
	v.SetDefault("server.max_errors", 10)

	v.SetDefault("logging.console_level", "INFO")
	v.SetDefault("logging.file_enabled", false)
	v.SetDefault("logging.file_path", "")
	v.SetDefault("logging.file_level", "DEBUG")

	v.SetDefault("tcp.max_connections", 200)
	v.SetDefault("tcp.vacuum_target", 180)
	v.SetDefault("tcp.idle_timeout_secs", 30.0)
	v.SetDefault("tcp.read_timeout_secs", 10.0)
	v.SetDefault("tcp.select_timeout_secs", 0.1)
	v.SetDefault("tcp.cleanup_secs", 10.0)
}

func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	loadServerConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadTCPConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadServerConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Transport = normalizeTransport(v.GetString("server.transport"))
	cfg.Server.Address = v.GetString("server.address")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.MaxErrors = v.GetInt("server.max_errors")
}

// normalizeTransport accepts any case spelling ("udpv4", "UDPV4", "UDPv4")
// and resolves it to the canonical Transport constant.
func normalizeTransport(raw string) Transport {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "udpv4":
		return TransportUDPv4
	case "udpv6":
		return TransportUDPv6
	case "tcpv4":
		return TransportTCPv4
	default:
		return Transport(raw)
	}
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.ConsoleLevel = strings.ToUpper(v.GetString("logging.console_level"))
	cfg.Logging.FileEnabled = v.GetBool("logging.file_enabled")
	cfg.Logging.FilePath = v.GetString("logging.file_path")
	cfg.Logging.FileLevel = strings.ToUpper(v.GetString("logging.file_level"))
}

func loadTCPConfig(v *viper.Viper, cfg *Config) {
	cfg.TCP.MaxConnections = v.GetInt("tcp.max_connections")
	cfg.TCP.VacuumTarget = v.GetInt("tcp.vacuum_target")
	cfg.TCP.IdleTimeoutSecs = v.GetFloat64("tcp.idle_timeout_secs")
	cfg.TCP.ReadTimeoutSecs = v.GetFloat64("tcp.read_timeout_secs")
	cfg.TCP.SelectTimeoutSecs = v.GetFloat64("tcp.select_timeout_secs")
	cfg.TCP.CleanupSecs = v.GetFloat64("tcp.cleanup_secs")
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be 1..65535")
	}

	switch cfg.Server.Transport {
	case TransportUDPv4, TransportUDPv6, TransportTCPv4:
	default:
		return errors.New("server.transport must be one of UDPv4, UDPv6, TCPv4")
	}

	if cfg.Server.MaxErrors <= 0 {
		cfg.Server.MaxErrors = 10
	}

	if cfg.Logging.ConsoleLevel == "" {
		cfg.Logging.ConsoleLevel = "INFO"
	}
	if cfg.Logging.FileLevel == "" {
		cfg.Logging.FileLevel = "DEBUG"
	}

	if cfg.TCP.MaxConnections <= 0 {
		cfg.TCP.MaxConnections = 200
	}
	if cfg.TCP.VacuumTarget <= 0 || cfg.TCP.VacuumTarget > cfg.TCP.MaxConnections {
		cfg.TCP.VacuumTarget = cfg.TCP.MaxConnections * 9 / 10
	}

	return nil
}
