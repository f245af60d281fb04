// Package config provides configuration management for the OCA gateway server.
// It handles loading and parsing YAML configuration files, and provides structured
// access to application settings including the listen address, authentication
// directory, model mapping table, and logging options.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"
)

// Default values applied when the configuration file omits a setting.
const (
	DefaultPort            = 8317
	DefaultModel           = "oca/gpt-4.1"
	DefaultReasoningEffort = "medium"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// Host is the address the gateway listens on. Defaults to localhost only.
	Host string `yaml:"host"`

	// Port is the TCP port the gateway listens on.
	Port int `yaml:"port"`

	// AuthDir is the directory where OAuth token files are stored.
	AuthDir string `yaml:"auth-dir"`

	// DefaultModel is the upstream model used when a client model has no mapping.
	DefaultModel string `yaml:"default-model"`

	// DefaultReasoningEffort is applied when neither the request nor the
	// mapping specifies one.
	DefaultReasoningEffort string `yaml:"default-reasoning-effort"`

	// ModelMapping maps client-supplied model names to upstream targets.
	// A value is either a bare model name or a target with a reasoning effort.
	ModelMapping map[string]ModelTarget `yaml:"model-mapping"`

	// Issuer is the base URL of the OAuth identity provider. The token and
	// authorization endpoints are discovered from its OIDC discovery document.
	Issuer string `yaml:"issuer"`

	// ClientID is the OAuth client identifier used for the PKCE flow.
	ClientID string `yaml:"client-id"`

	// APIBaseURL is the base URL of the upstream chat completion service.
	APIBaseURL string `yaml:"api-base-url"`

	// RequestLog enables detailed request logging.
	RequestLog bool `yaml:"request-log"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug"`

	// LoggingToFile routes log output to rotated files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file"`

	mu   sync.RWMutex
	path string
}

// ModelTarget is one entry of the model mapping table. In YAML it may be a
// plain string (just the upstream model name) or a mapping carrying a
// reasoning effort alongside the target.
type ModelTarget struct {
	Target          string `yaml:"target"`
	ReasoningEffort string `yaml:"reasoning-effort"`
}

// UnmarshalYAML accepts both the scalar and the structured form of a mapping entry.
func (m *ModelTarget) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		m.Target = value.Value
		m.ReasoningEffort = ""
		return nil
	}
	type plain ModelTarget
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*m = ModelTarget(p)
	return nil
}

// LoadConfig reads and parses the configuration file at the given path.
// Missing optional settings are filled with defaults; a missing file yields
// a default configuration so the gateway can start before first configuration.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{path: configPath}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if err = yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.AuthDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.AuthDir = filepath.Join(home, ".ocagate")
	}
	if c.DefaultModel == "" {
		c.DefaultModel = DefaultModel
	}
	if c.DefaultReasoningEffort == "" {
		c.DefaultReasoningEffort = DefaultReasoningEffort
	}
}

// Path returns the file path this configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Reload re-reads the configuration file in place. Mapping lookups performed
// after a successful reload observe the new table; a parse failure keeps the
// previous configuration.
func (c *Config) Reload() error {
	next, err := LoadConfig(c.path)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Host = next.Host
	c.Port = next.Port
	c.AuthDir = next.AuthDir
	c.DefaultModel = next.DefaultModel
	c.DefaultReasoningEffort = next.DefaultReasoningEffort
	c.ModelMapping = next.ModelMapping
	c.Issuer = next.Issuer
	c.ClientID = next.ClientID
	c.APIBaseURL = next.APIBaseURL
	c.RequestLog = next.RequestLog
	c.Debug = next.Debug
	c.LoggingToFile = next.LoggingToFile
	return nil
}

// BaseURL returns the configured upstream API base URL. Empty when the
// configuration does not override the built-in default.
func (c *Config) BaseURL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.APIBaseURL
}

// LogSettings returns the logging-related settings as one consistent read.
func (c *Config) LogSettings() (debug, toFile bool, authDir string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Debug, c.LoggingToFile, c.AuthDir
}

// Mapping returns the mapping entry for the given client model name.
func (c *Config) Mapping(name string) (ModelTarget, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	target, ok := c.ModelMapping[name]
	return target, ok
}

// Defaults returns the configured default model and reasoning effort.
func (c *Config) Defaults() (string, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	model := c.DefaultModel
	if model == "" {
		model = DefaultModel
	}
	return model, c.DefaultReasoningEffort
}
