package config

import (
	"time"

	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/provider"
	redisclient "github.com/dcava30/Talenti-MVP-sub000/internal/infra/redis"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/resilience"
	"github.com/dcava30/Talenti-MVP-sub000/internal/infra/storage/postgres"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server    ServerConfig       `yaml:"server"`
	Logging   LoggingConfig      `yaml:"logging"`
	Database  postgres.Config    `yaml:"database"`
	Redis     redisclient.Config `yaml:"redis"`
	Providers ProvidersConfig    `yaml:"providers"`
	Guards    GuardsConfig       `yaml:"guards"`
	Limits    LimitsConfig       `yaml:"limits"`
	Session   SessionConfig      `yaml:"session"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port        int    `yaml:"port"`
	PublicURL   string `yaml:"public_url"` // base for the provider callback URL
	WebhookPath string `yaml:"webhook_path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// ProvidersConfig holds settings for each external dependency.
type ProvidersConfig struct {
	Speech provider.SpeechConfig `yaml:"speech"`
	AI     provider.AIConfig     `yaml:"ai"`
	Call   provider.CallConfig   `yaml:"call"`
	Blob   provider.BlobConfig   `yaml:"blob"`
}

// GuardsConfig holds per-dependency resilience tuning.
type GuardsConfig struct {
	Speech provider.GuardConfig `yaml:"speech"`
	AI     provider.GuardConfig `yaml:"ai"`
	Call   provider.GuardConfig `yaml:"call"`
	Blob   provider.GuardConfig `yaml:"blob"`
}

// LimitsConfig holds per-endpoint-category inbound rate limits. Command
// endpoints get a stricter window than the webhook surface.
type LimitsConfig struct {
	Commands resilience.LimiterConfig `yaml:"commands"`
	Webhook  resilience.LimiterConfig `yaml:"webhook"`
}

// SessionConfig holds session worker tuning.
type SessionConfig struct {
	QueueSize       int           `yaml:"queue_size"`
	RecordingLinger time.Duration `yaml:"recording_linger"`
	SystemPrompt    string        `yaml:"system_prompt"`
}
