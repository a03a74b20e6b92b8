// Package config provides configuration management for the orchestrator.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the orchestrator.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Data     DataConfig     `mapstructure:"data"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Hosts    HostsConfig    `mapstructure:"hosts"`
	Events   EventsConfig   `mapstructure:"events"`
	Features FeaturesConfig `mapstructure:"features"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig holds the Host Gateway's HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DataConfig controls the persistent state layout root (spec §6).
type DataConfig struct {
	Dir string `mapstructure:"dir"`
}

// AuthConfig holds Token Authority configuration (spec §4.A).
type AuthConfig struct {
	JWTSecret           string `mapstructure:"jwtSecret"`
	HostTokenTTLSeconds int    `mapstructure:"hostTokenTtlSeconds"`
}

// HostsConfig holds Host Registry liveness configuration (spec §4.B).
type HostsConfig struct {
	StaleTimeoutSeconds      int `mapstructure:"staleTimeoutSeconds"`
	HeartbeatIntervalSeconds int `mapstructure:"heartbeatIntervalSeconds"`
}

// EventsConfig holds event bus configuration.
type EventsConfig struct {
	// NATSURL, when non-empty, backs the Event Bus with NATS instead of the
	// in-process implementation. Empty means in-process only.
	NATSURL       string `mapstructure:"natsUrl"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// FeaturesConfig holds boolean feature toggles (spec §6).
type FeaturesConfig struct {
	MultiTenant      bool `mapstructure:"multiTenant"`
	OrchestratorV1   bool `mapstructure:"orchestratorV1"`
	MemoryEnhanced   bool `mapstructure:"memoryEnhanced"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TokenTTL returns the host token lifetime as a time.Duration.
func (a *AuthConfig) TokenTTL() time.Duration {
	return time.Duration(a.HostTokenTTLSeconds) * time.Second
}

// StaleTimeout returns the host liveness timeout as a time.Duration.
func (h *HostsConfig) StaleTimeout() time.Duration {
	return time.Duration(h.StaleTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the eviction sweep cadence as a time.Duration.
func (h *HostsConfig) HeartbeatInterval() time.Duration {
	return time.Duration(h.HeartbeatIntervalSeconds) * time.Second
}

// detectDefaultLogFormat returns "json" in production-like environments and
// "text" (colorized console) otherwise.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ORCH_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options. These
// mirror the defaults named in spec §6's Configuration table.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8088)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("data.dir", "./data")

	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.hostTokenTtlSeconds", 60*60*24*30) // 30 days

	v.SetDefault("hosts.staleTimeoutSeconds", 90)
	v.SetDefault("hosts.heartbeatIntervalSeconds", 30)

	v.SetDefault("events.natsUrl", "")
	v.SetDefault("events.maxReconnects", 10)

	v.SetDefault("features.multiTenant", false)
	v.SetDefault("features.orchestratorV1", true)
	v.SetDefault("features.memoryEnhanced", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix ORCH_ with snake_case
// naming. Config file should be named config.yaml and placed in the current
// directory or /etc/orchestrator/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ORCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for env var names that don't follow the camelCase ->
	// SNAKE_CASE convention AutomaticEnv assumes.
	_ = v.BindEnv("data.dir", "ORCH_DATA_DIR")
	_ = v.BindEnv("auth.jwtSecret", "ORCH_JWT_SECRET")
	_ = v.BindEnv("auth.hostTokenTtlSeconds", "ORCH_HOST_TOKEN_TTL_SECONDS")
	_ = v.BindEnv("hosts.staleTimeoutSeconds", "ORCH_STALE_HOST_TIMEOUT_SECONDS")
	_ = v.BindEnv("hosts.heartbeatIntervalSeconds", "ORCH_HEARTBEAT_INTERVAL_SECONDS")
	_ = v.BindEnv("features.multiTenant", "ORCH_FEATURE_MULTI_TENANT")
	_ = v.BindEnv("features.orchestratorV1", "ORCH_FEATURE_ORCHESTRATOR_V1")
	_ = v.BindEnv("features.memoryEnhanced", "ORCH_FEATURE_MEMORY_ENHANCED")
	_ = v.BindEnv("logging.level", "ORCH_LOG_LEVEL")

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/orchestrator/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks configuration invariants and aggregates every violation
// found rather than failing on the first one.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if cfg.Data.Dir == "" {
		errs = append(errs, "data.dir must not be empty")
	}

	// Auth validation - generate a random per-process secret if not set (dev mode).
	if cfg.Auth.JWTSecret == "" {
		cfg.Auth.JWTSecret = generateDevSecret()
	}
	if cfg.Auth.HostTokenTTLSeconds <= 0 {
		errs = append(errs, "auth.hostTokenTtlSeconds must be positive")
	}

	if cfg.Hosts.StaleTimeoutSeconds <= 0 {
		errs = append(errs, "hosts.staleTimeoutSeconds must be positive")
	}
	if cfg.Hosts.HeartbeatIntervalSeconds <= 0 {
		errs = append(errs, "hosts.heartbeatIntervalSeconds must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// generateDevSecret produces a per-process HMAC key so a development
// instance can start without ORCH_JWT_SECRET set. Tokens issued with it do
// not survive a restart, which is intentional outside of production.
func generateDevSecret() string {
	return "dev-secret-change-in-production-" + fmt.Sprintf("%d", time.Now().UnixNano())
}
