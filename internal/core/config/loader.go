package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// DefaultSeparator splits the credentials.keys string.
const DefaultSeparator = ","

// DefaultMaxRetries applies when executor.max_retries is not set.
const DefaultMaxRetries = 3

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// Default returns a configuration with every default applied, keys read from GEMINI_API_KEYS.
func Default() *AppConfig {
	cfg := &AppConfig{
		Credentials: CredentialsConfig{Keys: os.Getenv("GEMINI_API_KEYS")},
	}
	cfg.applyDefaults()
	return cfg
}

func (cfg *AppConfig) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Credentials.Separator == "" {
		cfg.Credentials.Separator = DefaultSeparator
	}
	if cfg.Credentials.IdentityPrefix == 0 {
		cfg.Credentials.IdentityPrefix = 8
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-2.5-flash-preview-tts"
	}
	if cfg.Gemini.Voice == "" {
		cfg.Gemini.Voice = "Kore"
	}
	if cfg.Gemini.Timeout == 0 {
		cfg.Gemini.Timeout = 60 * time.Second
	}
	if cfg.Executor.MaxRetries == nil {
		n := DefaultMaxRetries
		cfg.Executor.MaxRetries = &n
	}
	if cfg.Executor.MaxWait == 0 {
		cfg.Executor.MaxWait = 10 * time.Second
	}
	if cfg.Batch.Pacing == 0 {
		cfg.Batch.Pacing = time.Second
	}
	if cfg.Batch.OutputDir == "" {
		cfg.Batch.OutputDir = "out"
	}
	if cfg.Watch.RecoveryInterval == 0 {
		cfg.Watch.RecoveryInterval = 5 * time.Second
	}
}

// APIKeys returns the configured credentials in order.
func (cfg *AppConfig) APIKeys() []string {
	return ParseCredentials(cfg.Credentials.Keys, cfg.Credentials.Separator)
}

// ParseCredentials splits raw on sep, trims entries and drops empty ones.
func ParseCredentials(raw, sep string) []string {
	if sep == "" {
		sep = DefaultSeparator
	}
	var keys []string
	for _, part := range strings.Split(raw, sep) {
		if k := strings.TrimSpace(part); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}
