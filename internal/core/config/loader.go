package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

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

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.WebhookPath == "" {
		cfg.Server.WebhookPath = "/webhook/events"
	}

	if cfg.Limits.Commands.MaxRequests == 0 {
		cfg.Limits.Commands.MaxRequests = 10
		cfg.Limits.Commands.Window = time.Minute
	}
	if cfg.Limits.Webhook.MaxRequests == 0 {
		cfg.Limits.Webhook.MaxRequests = 300
		cfg.Limits.Webhook.Window = time.Minute
	}

	if cfg.Session.QueueSize == 0 {
		cfg.Session.QueueSize = 64
	}
	if cfg.Session.RecordingLinger == 0 {
		cfg.Session.RecordingLinger = 30 * time.Second
	}
}
