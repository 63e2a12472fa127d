package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/miracle-42/openrestdb-go/internal/gateway"
	"github.com/miracle-42/openrestdb-go/pkg/restconn"
)

// fileConfig is the YAML configuration for both the client and the
// embedded development gateway.
type fileConfig struct {
	// Endpoint is the gateway base URL the client talks to.
	Endpoint string `yaml:"endpoint"`

	// Scope selects the connection scope: stateless, stateful or
	// transactional.
	Scope string `yaml:"scope"`

	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// Limits override the built-in defaults; zero fields keep them.
	Limits limitsConfig `yaml:"limits"`

	Gateway gatewayFileConfig `yaml:"gateway"`
}

// limitsConfig mirrors restconn.Limits with optional fields.
type limitsConfig struct {
	MaxLocks    int           `yaml:"max_locks"`
	TrxTimeout  time.Duration `yaml:"trx_timeout"`
	LockInspect time.Duration `yaml:"lock_inspect"`
	ConnTimeout time.Duration `yaml:"conn_timeout"`
}

// gatewayFileConfig configures the embedded development gateway.
type gatewayFileConfig struct {
	Address    string         `yaml:"address"`
	DSN        string         `yaml:"dsn"`
	SigningKey string         `yaml:"signing_key"`
	SessionTTL time.Duration  `yaml:"session_ttl"`
	Users      []gateway.User `yaml:"users"`
}

// defaultConfig returns the configuration used when no file is given.
func defaultConfig() fileConfig {
	return fileConfig{
		Endpoint: "http://localhost:9011",
		Scope:    string(restconn.ScopeTransactional),
		Gateway: gatewayFileConfig{
			Address: ":9011",
			DSN:     "file:restsql.db?_fk=1",
		},
	}
}

// loadConfig reads and validates the YAML configuration file.
func loadConfig(path string) (fileConfig, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}
	if _, err := restconn.ParseScope(cfg.Scope); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// clientLimits merges the configured overrides over the process-wide
// defaults and validates the result.
func clientLimits(cfg limitsConfig) (restconn.Limits, error) {
	limits := restconn.DefaultLimits()
	if cfg.MaxLocks != 0 {
		limits.MaxLocks = cfg.MaxLocks
	}
	if cfg.TrxTimeout != 0 {
		limits.TrxTimeout = cfg.TrxTimeout
	}
	if cfg.LockInspect != 0 {
		limits.LockInspect = cfg.LockInspect
	}
	if cfg.ConnTimeout != 0 {
		limits.ConnTimeout = cfg.ConnTimeout
	}
	return limits, limits.Validate()
}
