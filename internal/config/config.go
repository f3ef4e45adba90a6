// Package config layers bridge settings: compiled defaults, then an
// optional YAML file, then BRIDGE_* environment overrides. Later layers
// win. Environment is read once at load time.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider names accepted by --provider and BRIDGE_PROVIDER.
const (
	ProviderClaude   = "claude"
	ProviderLlamaCpp = "llamacpp"
)

// Config is the full runtime configuration of the bridge process.
type Config struct {
	// ViceAddr is the VICE binary monitor TCP endpoint.
	ViceAddr string `yaml:"vice_addr"`
	// Provider selects the generation backend: claude or llamacpp.
	Provider string `yaml:"provider"`
	// LlamaURL is the llama.cpp server base URL (llamacpp provider only).
	LlamaURL string `yaml:"llama_url"`
	// Model overrides the default Anthropic model (claude provider only).
	Model string `yaml:"model"`
	// RelayThinking forwards thinking commentary to the device's
	// thinking mailbox when the provider produces any.
	RelayThinking bool `yaml:"relay_thinking"`

	PollInterval time.Duration `yaml:"poll_interval"`
	Debounce     time.Duration `yaml:"debounce"`

	Verbose bool `yaml:"verbose"`
}

// Default returns the compiled-in configuration.
func Default() Config {
	return Config{
		ViceAddr:      "127.0.0.1:6502",
		Provider:      ProviderClaude,
		LlamaURL:      "http://127.0.0.1:3000",
		RelayThinking: true,
		PollInterval:  500 * time.Millisecond,
		Debounce:      500 * time.Millisecond,
	}
}

// Load builds the configuration from defaults, file, and environment.
// path may be empty (no file). The result is not validated: flags outrank
// the environment, so callers validate after merging their own overrides.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		// Unmarshal over the defaults so absent keys keep their values.
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("BRIDGE_VICE_ADDR"); ok {
		cfg.ViceAddr = v
	}
	if v, ok := os.LookupEnv("BRIDGE_PROVIDER"); ok {
		cfg.Provider = v
	}
	if v, ok := os.LookupEnv("BRIDGE_LLAMA_URL"); ok {
		cfg.LlamaURL = v
	}
	if v, ok := os.LookupEnv("BRIDGE_MODEL"); ok {
		cfg.Model = v
	}
	if v, ok := os.LookupEnv("BRIDGE_RELAY_THINKING"); ok {
		cfg.RelayThinking = v == "1"
	}
	if v, ok := os.LookupEnv("BRIDGE_POLL_INTERVAL"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BRIDGE_POLL_INTERVAL: %w", err)
		}
		cfg.PollInterval = d
	}
	if v, ok := os.LookupEnv("BRIDGE_DEBOUNCE"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("BRIDGE_DEBOUNCE: %w", err)
		}
		cfg.Debounce = d
	}
	return nil
}

// Validate rejects configurations the bridge cannot run with.
func (c Config) Validate() error {
	switch c.Provider {
	case ProviderClaude, ProviderLlamaCpp:
	default:
		return fmt.Errorf("unknown provider %q (want %s or %s)", c.Provider, ProviderClaude, ProviderLlamaCpp)
	}
	if c.ViceAddr == "" {
		return fmt.Errorf("vice_addr must not be empty")
	}
	if c.Provider == ProviderLlamaCpp && c.LlamaURL == "" {
		return fmt.Errorf("llama_url must not be empty with the llamacpp provider")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %v", c.PollInterval)
	}
	if c.Debounce <= 0 {
		return fmt.Errorf("debounce must be positive, got %v", c.Debounce)
	}
	return nil
}
