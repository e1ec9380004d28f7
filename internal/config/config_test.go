package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DataDir == "" {
		t.Error("DataDir should default to a non-empty path")
	}
	if got := cfg.LoginTimeout(); got != DefaultLoginTimeout {
		t.Errorf("LoginTimeout() = %v, want %v", got, DefaultLoginTimeout)
	}
}

func TestLoadConfigParsesYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := "data-dir: /tmp/dome-test\nproxy-url: socks5://127.0.0.1:1080\nlogin-timeout-seconds: 120\ncallback-port: 54545\nlogging-to-file: true\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.DataDir != "/tmp/dome-test" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
	if cfg.ProxyURL != "socks5://127.0.0.1:1080" {
		t.Errorf("ProxyURL = %q", cfg.ProxyURL)
	}
	if got := cfg.LoginTimeout(); got != 2*time.Minute {
		t.Errorf("LoginTimeout() = %v, want 2m", got)
	}
	if cfg.CallbackPort != 54545 {
		t.Errorf("CallbackPort = %d", cfg.CallbackPort)
	}
	if !cfg.LoggingToFile {
		t.Error("LoggingToFile should be true")
	}
}

func TestLoadConfigRejectsMalformedYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("data-dir: [unclosed"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("LoadConfig() should fail on malformed YAML")
	}
}
