// Package config loads the controller configuration from YAML with
// environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/metacog/go-controller/internal/field"
	"github.com/danielpatrickdp/metacog/go-controller/internal/logging"
	"github.com/danielpatrickdp/metacog/go-controller/internal/loop"
	"github.com/danielpatrickdp/metacog/go-controller/internal/producer"
	"github.com/danielpatrickdp/metacog/go-controller/internal/session"
)

// #region types
// StoreConfig selects where sessions are persisted.
type StoreConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres | memory
	Path   string `yaml:"path"`   // sqlite file
	DSN    string `yaml:"dsn"`    // postgres connection string
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the full controller configuration.
type Config struct {
	Loop     loop.Config       `yaml:"loop"`
	Strict   bool              `yaml:"strict"`
	Producer producer.Config   `yaml:"producer"`
	Store    StoreConfig       `yaml:"store"`
	Policy   session.Policy    `yaml:"policy"`
	Logging  logging.LogConfig `yaml:"logging"`
	Metrics  MetricsConfig     `yaml:"metrics"`
	Field    field.FieldConfig `yaml:"field"`
}

// #endregion types

// #region defaults
// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Loop:     loop.DefaultConfig(),
		Producer: producer.DefaultConfig(),
		Store: StoreConfig{
			Driver: session.DriverSQLite,
			Path:   "metacog.db",
		},
		Policy:  session.DefaultPolicy(),
		Logging: logging.DefaultLogConfig(),
		Metrics: MetricsConfig{Addr: ":9464"},
		Field:   field.DefaultFieldConfig(),
	}
}

// #endregion defaults

// #region load
// Load reads path over the defaults and applies environment overrides.
// An empty or missing path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML. The API key is never written.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if path := os.Getenv("METACOG_DB"); path != "" {
		c.Store.Path = path
	}
	if dsn := os.Getenv("METACOG_POSTGRES_DSN"); dsn != "" {
		c.Store.DSN = dsn
		c.Store.Driver = session.DriverPostgres
	}
	if p := os.Getenv("METACOG_PRODUCER"); p != "" {
		c.Producer.Provider = p
	}
	if addr := os.Getenv("CODEC_ADDR"); addr != "" {
		c.Producer.Addr = addr
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Producer.APIKey = key
	}
	if v := os.Getenv("METACOG_STRICT"); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("METACOG_STRICT: %w", err)
		}
		c.Strict = strict
	}
	if lvl := os.Getenv("METACOG_LOG_LEVEL"); lvl != "" {
		c.Logging.Level = lvl
	}
	if addr := os.Getenv("METACOG_METRICS_ADDR"); addr != "" {
		c.Metrics.Addr = addr
	}
	return nil
}

// #endregion load

// #region validate
// Validate checks value ranges and enumerations.
func (c *Config) Validate() error {
	g := c.Loop.Gate
	for name, v := range map[string]float64{
		"gate.max_drift":          g.MaxDrift,
		"gate.min_alignment":      g.MinAlignment,
		"gate.min_responsibility": g.MinResponsibility,
		"policy.min_coherence":    c.Policy.MinCoherence,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid %s: %v outside [0, 1]", name, v)
		}
	}
	for name, v := range c.Loop.DefaultAnchors {
		if v < 0 || v > 1 {
			return fmt.Errorf("invalid anchor %s: %v outside [0, 1]", name, v)
		}
	}
	if c.Policy.MaxReflections < 0 {
		return fmt.Errorf("invalid policy.max_reflections: %d", c.Policy.MaxReflections)
	}

	switch strings.ToLower(c.Producer.Provider) {
	case "", producer.ProviderTemplate, producer.ProviderEcho, producer.ProviderGRPC, producer.ProviderGemini:
	default:
		return fmt.Errorf("invalid producer provider: %q", c.Producer.Provider)
	}
	switch c.Store.Driver {
	case session.DriverSQLite, session.DriverPostgres, session.DriverMemory:
	default:
		return fmt.Errorf("invalid store driver: %q", c.Store.Driver)
	}
	if _, err := zapcore.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("invalid logging level: %w", err)
	}
	return nil
}

// #endregion validate
