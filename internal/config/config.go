// Package config loads the daemon configuration from an optional YAML file
// and RUNGO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/celerix-dev/rungodb/pkg/docstore"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Backends accepted in Config.Backend.
const (
	BackendJSON     = "json"
	BackendSQLite   = "sqlite"
	BackendDynamoDB = "dynamodb"
	BackendMemory   = "memory"
)

// Config holds every daemon setting.
type Config struct {
	// DataDir holds JSON files or the SQLite database.
	DataDir string `yaml:"data_dir"`
	// Backend is one of json, sqlite, dynamodb, memory.
	Backend string `yaml:"backend"`
	// SingleFile makes the json backend write the whole tree to one file
	// instead of one file per container.
	SingleFile bool `yaml:"single_file"`
	// Match is the predicate mode: "equal" or "presence".
	Match string `yaml:"match"`
	// EncryptionKey is an optional hex-encoded 32-byte key sealing json backend files.
	EncryptionKey string `yaml:"encryption_key"`

	Port       string `yaml:"port"`
	HTTPPort   string `yaml:"http_port"`
	DisableTLS bool   `yaml:"disable_tls"`
	LogLevel   string `yaml:"log_level"`

	// RateLimit is the HTTP API allowance in requests per second per client; 0 disables it.
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`

	DynamoDB DynamoDBConfig `yaml:"dynamodb"`
}

// DynamoDBConfig configures the dynamodb backend. Credentials come from the
// standard AWS environment and shared config files.
type DynamoDBConfig struct {
	Table    string `yaml:"table"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		DataDir:    "./data",
		Backend:    BackendJSON,
		SingleFile: true,
		Match:      "equal",
		Port:       "7001",
		HTTPPort:   "7002",
		LogLevel:   "info",
		RateLimit:  50,
		RateBurst:  100,
		DynamoDB:   DynamoDBConfig{Table: "rungodb"},
	}
}

// Load reads path (skipped when empty), applies environment overrides and validates.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"RUNGO_DATA_DIR":        &c.DataDir,
		"RUNGO_BACKEND":         &c.Backend,
		"RUNGO_MATCH":           &c.Match,
		"RUNGO_ENCRYPTION_KEY":  &c.EncryptionKey,
		"RUNGO_PORT":            &c.Port,
		"RUNGO_HTTP_PORT":       &c.HTTPPort,
		"RUNGO_LOG_LEVEL":       &c.LogLevel,
		"RUNGO_DYNAMODB_TABLE":  &c.DynamoDB.Table,
		"RUNGO_DYNAMODB_REGION": &c.DynamoDB.Region,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	flags := map[string]*bool{
		"RUNGO_SINGLE_FILE": &c.SingleFile,
		"RUNGO_DISABLE_TLS": &c.DisableTLS,
	}
	for name, dst := range flags {
		v, ok := lookup(name)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, name, v, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendJSON, BackendSQLite, BackendMemory:
		if c.Backend != BackendMemory && c.DataDir == "" {
			return fmt.Errorf("%w: data_dir is required for backend %s", ErrInvalidConfig, c.Backend)
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			return fmt.Errorf("%w: dynamodb.table is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, c.Backend)
	}
	if _, err := docstore.ParseMatchMode(c.Match); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.EncryptionKey != "" && c.Backend != BackendJSON {
		return fmt.Errorf("%w: encryption_key is only supported by the json backend", ErrInvalidConfig)
	}
	if c.RateLimit < 0 || c.RateBurst < 0 {
		return fmt.Errorf("%w: rate_limit and rate_burst must not be negative", ErrInvalidConfig)
	}
	return nil
}

// MatchMode returns the parsed Match setting.
func (c *Config) MatchMode() docstore.MatchMode {
	m, _ := docstore.ParseMatchMode(c.Match)
	return m
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
