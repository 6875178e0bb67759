// TasteCore - Taste Aggregation and Reputation Engine
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/dymelabs/tastecore

// Package config loads layered configuration: built-in defaults, then an
// optional YAML file, then environment variables. Precedence is
// ENV > file > defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix namespaces the environment variables, e.g.
// TASTECORE_SERVER_PORT -> server.port.
const EnvPrefix = "TASTECORE_"

// ConfigPathEnvVar overrides the config file search path.
const ConfigPathEnvVar = "TASTECORE_CONFIG"

// DefaultConfigPaths lists config file locations in priority order; the
// first existing file wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/tastecore/config.yaml",
	"/etc/tastecore/config.yml",
}

// Config is the complete application configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Storage  StorageConfig  `koanf:"storage"`
	Events   EventsConfig   `koanf:"events"`
	Security SecurityConfig `koanf:"security"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds the HTTP API settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig holds the document store settings.
type StorageConfig struct {
	// Path is the BadgerDB data directory.
	Path string `koanf:"path"`

	// InMemory runs the store without persistence. Dev/test only.
	InMemory bool `koanf:"in_memory"`
}

// EventsConfig holds the event substrate settings.
type EventsConfig struct {
	// Transport selects the pub/sub backend: "nats" or "memory".
	Transport string `koanf:"transport"`

	// URL is the NATS server address. Ignored for the memory transport or
	// when EmbeddedServer is set.
	URL string `koanf:"url"`

	// EmbeddedServer runs an in-process NATS JetStream server.
	EmbeddedServer bool `koanf:"embedded_server"`

	// StoreDir is the embedded server's JetStream storage directory.
	StoreDir string `koanf:"store_dir"`

	QueueGroup       string        `koanf:"queue_group"`
	DurableName      string        `koanf:"durable_name"`
	SubscribersCount int           `koanf:"subscribers_count"`
	AckWaitTimeout   time.Duration `koanf:"ack_wait_timeout"`

	// Router middleware settings.
	RetryMaxRetries      int           `koanf:"retry_max_retries"`
	RetryInitialInterval time.Duration `koanf:"retry_initial_interval"`
	RetryMaxInterval     time.Duration `koanf:"retry_max_interval"`
	PoisonTopic          string        `koanf:"poison_topic"`
	CloseTimeout         time.Duration `koanf:"close_timeout"`
}

// SecurityConfig holds authentication and API protection settings.
type SecurityConfig struct {
	// AuthMode is "jwt" or "none". "none" skips authentication and is only
	// acceptable for local development.
	AuthMode string `koanf:"auth_mode"`

	// JWTSecret signs and verifies HS256 tokens. Required when AuthMode is
	// "jwt".
	JWTSecret string `koanf:"jwt_secret"`

	// CORSOrigins lists allowed cross-origin hosts.
	CORSOrigins []string `koanf:"cors_origins"`

	// RateLimitPerMinute caps requests per client IP. 0 disables limiting.
	RateLimitPerMinute int `koanf:"rate_limit_per_minute"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // "json" or "console"
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			Path:     "/data/tastecore/badger",
			InMemory: false,
		},
		Events: EventsConfig{
			Transport:            "nats",
			URL:                  "nats://127.0.0.1:4222",
			EmbeddedServer:       true,
			StoreDir:             "/data/tastecore/jetstream",
			QueueGroup:           "tastecore",
			DurableName:          "tastecore",
			SubscribersCount:     4,
			AckWaitTimeout:       30 * time.Second,
			RetryMaxRetries:      5,
			RetryInitialInterval: time.Second,
			RetryMaxInterval:     time.Minute,
			PoisonTopic:          "taste.poison",
			CloseTimeout:         30 * time.Second,
		},
		Security: SecurityConfig{
			AuthMode:           "jwt",
			JWTSecret:          "",
			CORSOrigins:        []string{},
			RateLimitPerMinute: 300,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file, and
// TASTECORE_* environment variables, then validates it.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransform), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := normalizeSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints that koanf cannot express.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path required unless storage.in_memory is set")
	}

	switch c.Events.Transport {
	case "nats", "memory":
	default:
		return fmt.Errorf("events.transport %q must be nats or memory", c.Events.Transport)
	}
	if c.Events.Transport == "nats" && !c.Events.EmbeddedServer && c.Events.URL == "" {
		return fmt.Errorf("events.url required for external NATS")
	}

	switch c.Security.AuthMode {
	case "jwt":
		if c.Security.JWTSecret == "" {
			return fmt.Errorf("security.jwt_secret required when auth_mode is jwt")
		}
		if len(c.Security.JWTSecret) < 32 {
			return fmt.Errorf("security.jwt_secret must be at least 32 bytes")
		}
	case "none":
	default:
		return fmt.Errorf("security.auth_mode %q must be jwt or none", c.Security.AuthMode)
	}

	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format %q must be json or console", c.Logging.Format)
	}
	return nil
}

func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envTransform maps TASTECORE_SECTION_SOME_KEY to section.some_key. The first
// underscore separates the section; the rest of the key keeps its
// underscores.
func envTransform(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	section, rest, found := strings.Cut(key, "_")
	if !found {
		return key
	}
	return section + "." + rest
}

// sliceConfigPaths lists paths parsed as comma-separated slices when they
// arrive as strings from the environment.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

func normalizeSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		val := k.Get(path)
		strVal, ok := val.(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}
