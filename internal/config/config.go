// Package config loads the gateway's top-level configuration: YAML primary
// format with JSON5 fallback and $include composition, decoded into a
// composition-of-sub-structs Config mirroring the teacher's config.go idiom.
package config

import (
	"fmt"
	"time"
)

// Config is the gateway's root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Providers ProvidersConfig `yaml:"providers"`
	Registry  RegistryConfig  `yaml:"registry"`
	Memory    MemoryConfig    `yaml:"memory"`
	Banking   BankingConfig   `yaml:"banking"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AuthConfig carries the JWT validation parameters handed to
// auth.NewPrincipalValidator.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Audience  string `yaml:"audience"`
}

// ProvidersConfig carries per-vendor credentials and connection settings,
// one entry per provider name resolvable against the registry document.
type ProvidersConfig struct {
	Anthropic ProviderCredentials `yaml:"anthropic"`
	OpenAI    ProviderCredentials `yaml:"openai"`
	Azure     ProviderCredentials `yaml:"azure"`
	Google    ProviderCredentials `yaml:"google"`
	Bedrock   BedrockCredentials  `yaml:"bedrock"`
	Ollama    ProviderCredentials `yaml:"ollama"`

	// Default selects the (provider, model) pair the ModelSelector starts
	// with before any POST /switch-model call.
	Default DefaultModel `yaml:"default"`
}

// ProviderCredentials configures an API-key-based vendor adapter.
type ProviderCredentials struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	APIVersion string `yaml:"api_version"`
}

// BedrockCredentials configures the AWS Bedrock adapter. Empty
// AccessKeyID/SecretAccessKey falls back to the default AWS credential
// chain, matching NewBedrockAdapter's own fallback.
type BedrockCredentials struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
}

// DefaultModel names the (provider, friendly) pair resolved at startup.
type DefaultModel struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// RegistryConfig points at the on-disk model registry document.
type RegistryConfig struct {
	Path string `yaml:"path"`
}

// MemoryConfig configures the conversation memory store, distinct from the
// teacher's session-memory-log MemoryConfig: this one is the sqlite-backed
// active-thread/audit store of SPEC_FULL.md §4.4.
type MemoryConfig struct {
	Path          string        `yaml:"path"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// BankingConfig points the tool executor at the banking microservices it
// calls into, plus the bounded concurrency it's allowed to use against them.
type BankingConfig struct {
	FinanceServiceURL string        `yaml:"finance_service_url"`
	UserServiceURL    string        `yaml:"user_service_url"`
	RAGServiceURL     string        `yaml:"rag_service_url"`
	Timeout           time.Duration `yaml:"timeout"`
	Concurrency       int           `yaml:"concurrency"`
}

// LoggingConfig controls the ambient slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// Load reads path (resolving $include directives) and decodes it into a
// Config, applying defaults for any zero-valued duration/concurrency field.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Memory.TTL == 0 {
		c.Memory.TTL = 24 * time.Hour
	}
	if c.Memory.SweepInterval == 0 {
		c.Memory.SweepInterval = 5 * time.Minute
	}
	if c.Banking.Timeout == 0 {
		c.Banking.Timeout = 5 * time.Second
	}
	if c.Banking.Concurrency == 0 {
		c.Banking.Concurrency = 4
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}
