// ABOUTME: Configuration loading and parsing for ephemera
// ABOUTME: Supports YAML or TOML files with environment variable expansion, defaults, and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults
const (
	DefaultHTTPAddr        = ":8000"
	DefaultStorageDir      = "temp_agents"
	DefaultExtension       = ".go"
	DefaultEntryPoint      = "Main"
	DefaultInactiveTimeout = 30 * time.Second
	DefaultSweepInterval   = 2 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
	DefaultIdempotencyTTL  = 10 * time.Minute
	DefaultIdempotencySize = 10000

	minSecretLength = 32
)

// Config represents the complete ephemera configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Storage     StorageConfig     `yaml:"storage" toml:"storage"`
	Agents      AgentsConfig      `yaml:"agents" toml:"agents"`
	Executor    ExecutorConfig    `yaml:"executor" toml:"executor"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Idempotency IdempotencyConfig `yaml:"idempotency" toml:"idempotency"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
}

// ServerConfig holds listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr" toml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"-" toml:"-"`

	ShutdownTimeoutRaw RawDuration `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// StorageConfig holds program storage configuration
type StorageConfig struct {
	Dir       string `yaml:"dir" toml:"dir"`
	Extension string `yaml:"extension" toml:"extension"`
}

// AgentsConfig holds reclamation timing
type AgentsConfig struct {
	InactiveTimeout time.Duration `yaml:"-" toml:"-"`
	SweepInterval   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	InactiveTimeoutRaw RawDuration `yaml:"inactive_timeout" toml:"inactive_timeout"`
	SweepIntervalRaw   RawDuration `yaml:"sweep_interval" toml:"sweep_interval"`
}

// ExecutorConfig holds execution settings
type ExecutorConfig struct {
	EntryPoint string   `yaml:"entry_point" toml:"entry_point"`
	Command    []string `yaml:"command" toml:"command"`
	Env        []string `yaml:"env" toml:"env"`
}

// DatabaseConfig holds the lifecycle ledger database configuration
type DatabaseConfig struct {
	Path      string        `yaml:"path" toml:"path"`
	Retention time.Duration `yaml:"-" toml:"-"`

	RetentionRaw RawDuration `yaml:"retention" toml:"retention"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// IdempotencyConfig holds the create-request dedupe cache settings
type IdempotencyConfig struct {
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`

	TTLRaw RawDuration `yaml:"ttl" toml:"ttl"`
}

// RawDuration holds a duration as written in the config file: a
// time.ParseDuration string or a number of seconds.
type RawDuration string

// UnmarshalTOML accepts TOML integers and floats as seconds alongside strings.
func (d *RawDuration) UnmarshalTOML(v any) error {
	switch val := v.(type) {
	case string:
		*d = RawDuration(val)
	case int64:
		*d = RawDuration(strconv.FormatInt(val, 10))
	case float64:
		*d = RawDuration(strconv.FormatFloat(val, 'f', -1, 64))
	default:
		return fmt.Errorf("duration must be a string or a number of seconds, got %T", v)
	}
	return nil
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	if err := parseDurations(cfg); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path if it exists and falls back to Default otherwise.
// The returned bool reports whether a file was read.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return cfg, true, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.ShutdownTimeoutRaw == "" {
		cfg.Server.ShutdownTimeoutRaw = RawDuration(DefaultShutdownTimeout.String())
	}
	if cfg.Storage.Dir == "" {
		cfg.Storage.Dir = DefaultStorageDir
	}
	if cfg.Storage.Extension == "" {
		cfg.Storage.Extension = DefaultExtension
	}
	if cfg.Agents.InactiveTimeoutRaw == "" {
		cfg.Agents.InactiveTimeoutRaw = RawDuration(DefaultInactiveTimeout.String())
	}
	if cfg.Agents.SweepIntervalRaw == "" {
		cfg.Agents.SweepIntervalRaw = RawDuration(DefaultSweepInterval.String())
	}
	if cfg.Executor.EntryPoint == "" {
		cfg.Executor.EntryPoint = DefaultEntryPoint
	}
	if cfg.Idempotency.TTLRaw == "" {
		cfg.Idempotency.TTLRaw = RawDuration(DefaultIdempotencyTTL.String())
	}
	if cfg.Idempotency.MaxEntries == 0 {
		cfg.Idempotency.MaxEntries = DefaultIdempotencySize
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// parseDuration accepts a time.ParseDuration string or a bare number of seconds.
func parseDuration(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if secs, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parsing %s %q: %w", name, raw, err)
	}
	return d, nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  RawDuration
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"agents.inactive_timeout", cfg.Agents.InactiveTimeoutRaw, &cfg.Agents.InactiveTimeout},
		{"agents.sweep_interval", cfg.Agents.SweepIntervalRaw, &cfg.Agents.SweepInterval},
		{"database.retention", cfg.Database.RetentionRaw, &cfg.Database.Retention},
		{"idempotency.ttl", cfg.Idempotency.TTLRaw, &cfg.Idempotency.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := parseDuration(f.name, string(f.raw))
		if err != nil {
			return err
		}
		*f.dst = d
	}
	return nil
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.GRPCAddr != "" && c.Server.GRPCAddr == c.Server.HTTPAddr {
		return fmt.Errorf("server.grpc_addr must differ from server.http_addr")
	}

	if c.Storage.Dir == "" {
		return fmt.Errorf("storage.dir is required")
	}
	if !strings.HasPrefix(c.Storage.Extension, ".") || strings.ContainsAny(c.Storage.Extension, `/\`) {
		return fmt.Errorf("storage.extension must start with '.' and contain no path separators, got %q", c.Storage.Extension)
	}

	if c.Agents.InactiveTimeout < 0 {
		return fmt.Errorf("agents.inactive_timeout must not be negative")
	}
	if c.Agents.SweepInterval <= 0 {
		return fmt.Errorf("agents.sweep_interval must be positive")
	}
	if c.Database.Retention < 0 {
		return fmt.Errorf("database.retention must not be negative")
	}

	if c.Executor.EntryPoint == "" {
		return fmt.Errorf("executor.entry_point is required")
	}
	if len(c.Executor.Command) > 0 && c.Executor.Command[0] == "" {
		return fmt.Errorf("executor.command must start with a program")
	}
	for _, kv := range c.Executor.Env {
		if !strings.Contains(kv, "=") {
			return fmt.Errorf("executor.env entry %q must be KEY=VALUE", kv)
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	if c.Idempotency.MaxEntries < 0 {
		return fmt.Errorf("idempotency.max_entries must not be negative")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json; got %q", c.Logging.Format)
	}

	return nil
}
