// Package config loads the broker's YAML configuration: listener address
// and connection limits, session eviction timing, the auth store's DSN,
// whether authentication is required, and logging.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Name    string  `yaml:"name"`
	Version string  `yaml:"version"`
	Broker  Broker  `yaml:"broker"`
	Session Session `yaml:"session"`
	Store   Store   `yaml:"store"`
	Auth    Auth    `yaml:"auth"`
	Log     Log     `yaml:"log"`
}

// Broker holds the client-facing listener address and connection limit.
// PeerAddr is reserved for a future inter-broker RPC listener, out of scope
// for this implementation.
type Broker struct {
	ClientAddr     string `yaml:"client_addr"`
	PeerAddr       string `yaml:"peer_addr"`
	MaxConnections int    `yaml:"max_connections"`
}

// Session holds the ineffective-queue eviction age.
type Session struct {
	ExpireIntervalSecs int `yaml:"expire_interval_secs"`
}

// Store configures the auth database's sqlite3 DSN.
type Store struct {
	DSN string `yaml:"dsn"`
}

// Auth toggles whether a CONNECT without a login is rejected. When false
// the broker runs open: a CONNECT with no username/password is granted
// without ever reaching the store. A login that fails the store check is
// rejected either way.
type Auth struct {
	Required bool `yaml:"required"`
}

// Log configures level/format plus which of logger.DevelopmentConfig or
// logger.ProductionConfig seeds the base logger (level/format are then
// overridden from this struct regardless; the service name and the
// top-level Version are set by cmd/goqttd).
type Log struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	Environment string `yaml:"environment"`
}

const (
	defaultClientAddr     = ":1883"
	defaultMaxConnections = 1000
	defaultExpireSecs     = 3600
	defaultStoreDSN       = "./store/store.db"
	defaultLogEnvironment = "development"
)

// Load reads and unmarshals the YAML file at path, applying defaults for
// any zero-valued field that has one.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Broker.ClientAddr == "" {
		cfg.Broker.ClientAddr = defaultClientAddr
	}
	if cfg.Broker.MaxConnections == 0 {
		cfg.Broker.MaxConnections = defaultMaxConnections
	}
	if cfg.Session.ExpireIntervalSecs == 0 {
		cfg.Session.ExpireIntervalSecs = defaultExpireSecs
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = defaultStoreDSN
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Environment == "" {
		cfg.Log.Environment = defaultLogEnvironment
	}
}
