package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kelseyhightower/envconfig"
)

const (
	// ConfigDir is the default config directory name.
	ConfigDir = ".adpilot"
	// ConfigFile is the default config file name.
	ConfigFile = "config.json"
)

// ConfigPath returns the path to the config file.
// ADPILOT_CONFIG overrides the default ~/.adpilot/config.json.
func ConfigPath() (string, error) {
	if explicit := strings.TrimSpace(os.Getenv("ADPILOT_CONFIG")); explicit != "" {
		if strings.HasPrefix(explicit, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, explicit[1:]), nil
		}
		return explicit, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ConfigDir, ConfigFile), nil
}

// Default returns a config with sensible defaults applied.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Paths: PathsConfig{
			DataDir: filepath.Join(home, ConfigDir),
		},
		Model: ModelConfig{
			Name:                "gpt-4o",
			MaxTokens:           4096,
			Temperature:         0.7,
			MaxToolIterations:   10,
			MaxStreamIterations: 10,
			StreamTimeoutSecs:   120,
		},
		Agent: AgentConfig{
			Mode:                     "auto",
			IdempotencyWindowMinutes: 10,
			LockStaleSeconds:         120,
		},
		Integrations: IntegrationsConfig{
			Ads: true,
		},
		Cache: CacheConfig{
			TTLSeconds: 300,
		},
		Trace: TraceConfig{
			Topic: "adpilot.traces",
		},
		Channels: ChannelsConfig{
			NATS: NATSConfig{
				URL:     "nats://localhost:4222",
				Subject: "adpilot.request",
			},
		},
	}
}

// Load reads the config file (if present) and applies environment overrides.
// A missing config file is not an error; defaults plus env are used.
func Load() (*Config, error) {
	cfg := Default()

	path, err := ConfigPath()
	if err == nil {
		if data, readErr := os.ReadFile(path); readErr == nil {
			if err := json.Unmarshal(data, cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// Environment overrides, grouped by prefix. Errors are surfaced so a
	// malformed variable does not silently vanish.
	var envErrs []string
	for _, group := range []struct {
		prefix string
		target any
	}{
		{"ADPILOT_PATHS", &cfg.Paths},
		{"ADPILOT_MODEL", &cfg.Model},
		{"ADPILOT_OPENAI", &cfg.Providers.OpenAI},
		{"ADPILOT_AGENT", &cfg.Agent},
		{"ADPILOT_INTEGRATIONS", &cfg.Integrations},
		{"ADPILOT_CACHE", &cfg.Cache},
		{"ADPILOT_TRACE", &cfg.Trace},
		{"ADPILOT_CHANNELS_SLACK", &cfg.Channels.Slack},
		{"ADPILOT_CHANNELS_NATS", &cfg.Channels.NATS},
	} {
		if err := envconfig.Process(group.prefix, group.target); err != nil {
			envErrs = append(envErrs, fmt.Sprintf("%s: %v", group.prefix, err))
		}
	}

	// Legacy key fallbacks for the API key.
	if cfg.Providers.OpenAI.APIKey == "" {
		for _, key := range []string{"OPENAI_API_KEY", "OPENROUTER_API_KEY"} {
			if v := strings.TrimSpace(os.Getenv(key)); v != "" {
				cfg.Providers.OpenAI.APIKey = v
				break
			}
		}
	}

	if len(envErrs) > 0 {
		return cfg, fmt.Errorf("environment overrides: %s", strings.Join(envErrs, "; "))
	}
	return cfg, nil
}

// Save writes the config to the default path.
func Save(cfg *Config) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}
