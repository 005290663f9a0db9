// Package config provides configuration loading and management for the
// connector.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the environment variable prefix for application-level settings
const EnvPrefix = "SEMFIND"

const (
	// GitModeRemote delegates all git operations to the backend
	GitModeRemote = "remote"

	// GitModeLocal runs clone, checkout and fetch in-process against local
	// clones, delegating only the index operations to the backend
	GitModeLocal = "local"
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	Backend  BackendConfig  `yaml:"backend"`
	Storage  StorageConfig  `yaml:"storage"`
	Clone    CloneConfig    `yaml:"clone,omitempty"`
	Catalog  CatalogConfig  `yaml:"catalog,omitempty"`
	Indexing IndexingConfig `yaml:"indexing,omitempty"`
	Changes  ChangesConfig  `yaml:"changes,omitempty"`
}

// BackendConfig defines how to reach the semantic-index backend
type BackendConfig struct {
	// Endpoint is the base backend URL (without path)
	Endpoint string `yaml:"endpoint"`

	// Timeout is the per-request timeout (e.g., "30s")
	Timeout string `yaml:"timeout,omitempty"`

	// GitMode selects where git operations run (remote or local)
	GitMode string `yaml:"gitMode,omitempty"`
}

// StorageConfig defines where durable state lives on disk
type StorageConfig struct {
	// DataDir holds the connection registry and catalog snapshot.
	// Defaults to the XDG data directory for semfind.
	DataDir string `yaml:"dataDir,omitempty"`

	// ReposDir holds local clones when gitMode is local.
	// Defaults to <dataDir>/repos.
	ReposDir string `yaml:"reposDir,omitempty"`
}

// CloneConfig defines clone behavior
type CloneConfig struct {
	// MaxConcurrent caps simultaneous clones; zero means unlimited
	MaxConcurrent int `yaml:"maxConcurrent,omitempty"`
}

// CatalogConfig defines catalog cache behavior
type CatalogConfig struct {
	// TTL bounds snapshot staleness (e.g., "2h")
	TTL string `yaml:"ttl,omitempty"`
}

// IndexingConfig defines indexing job supervision
type IndexingConfig struct {
	// PollInterval is the progress poll cadence (e.g., "1s")
	PollInterval string `yaml:"pollInterval,omitempty"`

	// Timeout bounds how long a job may run (e.g., "5m")
	Timeout string `yaml:"timeout,omitempty"`
}

// ChangesConfig defines the change-detection scan
type ChangesConfig struct {
	// Interval is the steady scan cadence (e.g., "5m")
	Interval string `yaml:"interval,omitempty"`

	// Concurrency bounds the per-scan fan-out across repositories
	Concurrency int `yaml:"concurrency,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file. Without a
// config path it returns the defaults.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	config := defaultConfig()

	if loaderCfg.path != "" {
		data, err := os.ReadFile(loaderCfg.path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	}

	config.applyDefaults()
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		Backend: BackendConfig{
			Endpoint: "http://127.0.0.1:8760",
			Timeout:  "30s",
			GitMode:  GitModeRemote,
		},
		Catalog:  CatalogConfig{TTL: "2h"},
		Indexing: IndexingConfig{PollInterval: "1s", Timeout: "5m"},
		Changes:  ChangesConfig{Interval: "5m", Concurrency: 4},
	}
}

// applyDefaults fills in the fields a partial YAML file may leave empty
func (c *Config) applyDefaults() {
	def := defaultConfig()
	if c.Backend.Endpoint == "" {
		c.Backend.Endpoint = def.Backend.Endpoint
	}
	if c.Backend.Timeout == "" {
		c.Backend.Timeout = def.Backend.Timeout
	}
	if c.Backend.GitMode == "" {
		c.Backend.GitMode = def.Backend.GitMode
	}
	if c.Storage.DataDir == "" {
		c.Storage.DataDir = filepath.Join(xdg.DataHome, "semfind")
	}
	if c.Storage.ReposDir == "" {
		c.Storage.ReposDir = filepath.Join(c.Storage.DataDir, "repos")
	}
	if c.Catalog.TTL == "" {
		c.Catalog.TTL = def.Catalog.TTL
	}
	if c.Indexing.PollInterval == "" {
		c.Indexing.PollInterval = def.Indexing.PollInterval
	}
	if c.Indexing.Timeout == "" {
		c.Indexing.Timeout = def.Indexing.Timeout
	}
	if c.Changes.Interval == "" {
		c.Changes.Interval = def.Changes.Interval
	}
	if c.Changes.Concurrency == 0 {
		c.Changes.Concurrency = def.Changes.Concurrency
	}
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if _, err := url.ParseRequestURI(c.Backend.Endpoint); err != nil {
		return fmt.Errorf("backend.endpoint must be a valid URL: %w", err)
	}
	if c.Backend.GitMode != GitModeRemote && c.Backend.GitMode != GitModeLocal {
		return fmt.Errorf("backend.gitMode must be %q or %q, got %q", GitModeRemote, GitModeLocal, c.Backend.GitMode)
	}
	if c.Clone.MaxConcurrent < 0 {
		return fmt.Errorf("clone.maxConcurrent must not be negative")
	}
	if c.Changes.Concurrency < 0 {
		return fmt.Errorf("changes.concurrency must not be negative")
	}

	for field, value := range map[string]string{
		"backend.timeout":       c.Backend.Timeout,
		"catalog.ttl":           c.Catalog.TTL,
		"indexing.pollInterval": c.Indexing.PollInterval,
		"indexing.timeout":      c.Indexing.Timeout,
		"changes.interval":      c.Changes.Interval,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s must be a valid duration (e.g., '30s', '5m'): %w", field, err)
		}
	}

	return nil
}

// BackendTimeout returns the parsed per-request timeout
func (c *Config) BackendTimeout() time.Duration {
	return mustDuration(c.Backend.Timeout)
}

// CatalogTTL returns the parsed catalog snapshot TTL
func (c *Config) CatalogTTL() time.Duration {
	return mustDuration(c.Catalog.TTL)
}

// IndexingPollInterval returns the parsed progress poll cadence
func (c *Config) IndexingPollInterval() time.Duration {
	return mustDuration(c.Indexing.PollInterval)
}

// IndexingTimeout returns the parsed indexing job timeout
func (c *Config) IndexingTimeout() time.Duration {
	return mustDuration(c.Indexing.Timeout)
}

// ChangesInterval returns the parsed change-detection cadence
func (c *Config) ChangesInterval() time.Duration {
	return mustDuration(c.Changes.Interval)
}

// mustDuration parses a duration already checked by validate
func mustDuration(s string) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		panic(fmt.Sprintf("unvalidated duration %q: %v", s, err))
	}
	return d
}
