// Package config provides configuration management for the Dome launcher
// authentication subsystem. It handles loading and parsing YAML configuration
// files, and provides structured access to application settings including the
// data directory, proxy configuration, logging behavior, and login timeouts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML file.
type Config struct {
	// DataDir is the directory holding persisted accounts and logs.
	DataDir string `yaml:"data-dir" json:"data-dir"`

	// ProxyURL is the URL of an optional proxy server to use for outbound requests.
	ProxyURL string `yaml:"proxy-url" json:"proxy-url"`

	// LoggingToFile routes logs to rotating files under the data directory
	// instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the total size of the logs directory.
	// <= 0 disables the background cleaner.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// CallbackPort fixes the local OAuth callback port. 0 selects an
	// ephemeral port per login attempt.
	CallbackPort int `yaml:"callback-port" json:"callback-port"`

	// LoginTimeoutSeconds bounds the wait for the interactive browser step.
	LoginTimeoutSeconds int `yaml:"login-timeout-seconds" json:"login-timeout-seconds"`

	// Debug enables verbose logging, including redacted upstream bodies.
	Debug bool `yaml:"debug" json:"debug"`
}

// DefaultLoginTimeout is used when login-timeout-seconds is unset.
const DefaultLoginTimeout = 5 * time.Minute

// LoginTimeout returns the configured interactive login timeout.
func (c *Config) LoginTimeout() time.Duration {
	if c == nil || c.LoginTimeoutSeconds <= 0 {
		return DefaultLoginTimeout
	}
	return time.Duration(c.LoginTimeoutSeconds) * time.Second
}

// DefaultDataDir resolves the per-user data directory used when the config
// file does not specify one.
func DefaultDataDir() string {
	if appData := os.Getenv("APPDATA"); appData != "" {
		return filepath.Join(appData, "dome")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".dome")
}

// LoadConfig reads the YAML configuration from the given path. A missing file
// is not an error; defaults are returned instead so the launcher works out of
// the box.
func LoadConfig(configFile string) (*Config, error) {
	cfg := &Config{}

	if strings.TrimSpace(configFile) != "" {
		data, err := os.ReadFile(configFile)
		switch {
		case err == nil:
			if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
				return nil, fmt.Errorf("config: failed to parse %s: %w", configFile, errUnmarshal)
			}
		case os.IsNotExist(err):
			// Fall through to defaults.
		default:
			return nil, fmt.Errorf("config: failed to read %s: %w", configFile, err)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir()
	}
	if c.LoginTimeoutSeconds <= 0 {
		c.LoginTimeoutSeconds = int(DefaultLoginTimeout / time.Second)
	}
}
