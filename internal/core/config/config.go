package config

import (
	"time"

	redisclient "github.com/vietddude/narrator/internal/infra/redis"
	"github.com/vietddude/narrator/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Logging     LoggingConfig      `yaml:"logging"`
	Credentials CredentialsConfig  `yaml:"credentials"`
	Gemini      GeminiConfig       `yaml:"gemini"`
	Executor    ExecutorConfig     `yaml:"executor"`
	Batch       BatchConfig        `yaml:"batch"`
	Watch       WatchConfig        `yaml:"watch"`
	Redis       redisclient.Config `yaml:"redis"`
	Database    postgres.Config    `yaml:"database"`
}

// ServerConfig holds HTTP status server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// CredentialsConfig holds the API key list as one delimited string.
type CredentialsConfig struct {
	Keys           string `yaml:"keys"`
	Separator      string `yaml:"separator"`
	IdentityPrefix int    `yaml:"identity_prefix"`
}

// GeminiConfig holds speech model settings.
type GeminiConfig struct {
	Model        string        `yaml:"model"`
	Voice        string        `yaml:"voice"`
	LanguageCode string        `yaml:"language_code"`
	Style        string        `yaml:"style"`
	Timeout      time.Duration `yaml:"timeout"`
}

// ExecutorConfig holds retry policy settings.
type ExecutorConfig struct {
	// MaxRetries is nil when unset; an explicit 0 disables retries.
	MaxRetries *int          `yaml:"max_retries"`
	MaxWait    time.Duration `yaml:"max_wait"`
}

// Retries returns the configured retry count, DefaultMaxRetries when unset.
func (c ExecutorConfig) Retries() int {
	if c.MaxRetries == nil {
		return DefaultMaxRetries
	}
	return max(*c.MaxRetries, 0)
}

// BatchConfig holds orchestrator settings.
type BatchConfig struct {
	Pacing    time.Duration `yaml:"pacing"`
	OutputDir string        `yaml:"output_dir"`
}

// WatchConfig holds the script directory watched in serve mode.
type WatchConfig struct {
	Dir              string        `yaml:"dir"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
}
