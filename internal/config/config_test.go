package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "gateway.yaml", `
server:
  host: "0.0.0.0"
auth:
  jwt_secret: "s3cr3t"
providers:
  anthropic:
    api_key: "sk-ant-test"
  default:
    provider: anthropic
    model: claude-default
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Memory.TTL != 24*time.Hour {
		t.Errorf("Memory.TTL = %v, want 24h", cfg.Memory.TTL)
	}
	if cfg.Memory.SweepInterval != 5*time.Minute {
		t.Errorf("Memory.SweepInterval = %v, want 5m", cfg.Memory.SweepInterval)
	}
	if cfg.Banking.Timeout != 5*time.Second {
		t.Errorf("Banking.Timeout = %v, want 5s", cfg.Banking.Timeout)
	}
	if cfg.Banking.Concurrency != 4 {
		t.Errorf("Banking.Concurrency = %d, want 4", cfg.Banking.Concurrency)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
	if cfg.Providers.Anthropic.APIKey != "sk-ant-test" {
		t.Errorf("Providers.Anthropic.APIKey = %q, want sk-ant-test", cfg.Providers.Anthropic.APIKey)
	}
	if cfg.Providers.Default.Provider != "anthropic" || cfg.Providers.Default.Model != "claude-default" {
		t.Errorf("Providers.Default = %+v, want anthropic/claude-default", cfg.Providers.Default)
	}
}

func TestLoadHonorsExplicitValues(t *testing.T) {
	dir := t.TempDir()
	path := writeTempConfig(t, dir, "gateway.yaml", `
server:
  host: "127.0.0.1"
  port: 9090
memory:
  ttl: 1h
  sweep_interval: 30s
banking:
  timeout: 2s
  concurrency: 8
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Memory.TTL != time.Hour {
		t.Errorf("Memory.TTL = %v, want 1h", cfg.Memory.TTL)
	}
	if cfg.Banking.Concurrency != 8 {
		t.Errorf("Banking.Concurrency = %d, want 8", cfg.Banking.Concurrency)
	}
	if cfg.Logging.Format != "text" {
		t.Errorf("Logging.Format = %q, want text", cfg.Logging.Format)
	}
}

func TestLoadResolvesIncludes(t *testing.T) {
	dir := t.TempDir()
	writeTempConfig(t, dir, "base.yaml", `
auth:
  jwt_secret: "from-base"
banking:
  finance_service_url: "http://finance.internal"
`)
	path := writeTempConfig(t, dir, "gateway.yaml", `
$include: base.yaml
server:
  port: 9999
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != "from-base" {
		t.Errorf("Auth.JWTSecret = %q, want from-base", cfg.Auth.JWTSecret)
	}
	if cfg.Banking.FinanceServiceURL != "http://finance.internal" {
		t.Errorf("Banking.FinanceServiceURL = %q, want http://finance.internal", cfg.Banking.FinanceServiceURL)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("Server.Port = %d, want 9999 (override wins over include)", cfg.Server.Port)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with missing file: want error, got nil")
	}
}
