// Package config loads inkwell configuration from .inkwell/config.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all inkwell configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM proxy endpoint configuration
	LLM LLMConfig `yaml:"llm"`

	// Critique scheduler thresholds
	Critic CriticConfig `yaml:"critic"`

	// Knowledge graph extraction settings
	Knowledge KnowledgeConfig `yaml:"knowledge"`

	// Blob persistence
	Store StoreConfig `yaml:"store"`

	// Per-task model overrides (task kind -> model name)
	ModelOverrides map[string]string `yaml:"model_overrides"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// LLMConfig configures the model-service boundary. The endpoint is a
// caller-side proxy that injects authorization; inkwell never holds
// credentials.
type LLMConfig struct {
	Endpoint string `yaml:"endpoint"`
	Timeout  string `yaml:"timeout"`
}

// CriticConfig configures the critique scheduler.
type CriticConfig struct {
	IdleThreshold string `yaml:"idle_threshold"` // min quiet time before a chapter is eligible
	DebounceDelay string `yaml:"debounce_delay"` // sweep delay after a document update
	MinWords      int    `yaml:"min_words"`
	MaxItems      int    `yaml:"max_items"`
}

// KnowledgeConfig configures graph extraction and the display filter.
type KnowledgeConfig struct {
	GleanThreshold int `yaml:"glean_threshold"` // round-2 trigger: fewer round-1 entities than this
	MaxEntities    int `yaml:"max_entities"`
	TopK           int `yaml:"top_k"`
	MinStrength    int `yaml:"min_strength"`
}

// StoreConfig configures blob persistence.
type StoreConfig struct {
	DatabasePath string `yaml:"database_path"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "inkwell",
		Version: "0.3.0",
		LLM: LLMConfig{
			Endpoint: "http://127.0.0.1:8787/llm/v1/chat/completions",
			Timeout:  "22s",
		},
		Critic: CriticConfig{
			IdleThreshold: "20s",
			DebounceDelay: "1500ms",
			MinWords:      200,
			MaxItems:      3,
		},
		Knowledge: KnowledgeConfig{
			GleanThreshold: 6,
			MaxEntities:    10,
			TopK:           15,
			MinStrength:    7,
		},
		Store: StoreConfig{
			DatabasePath: filepath.Join(".inkwell", "state.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the workspace, layering the file over
// defaults. A missing file is not an error; defaults apply.
func Load(workspace string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(workspace, ".inkwell", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("INKWELL_LLM_ENDPOINT"); v != "" {
		cfg.LLM.Endpoint = v
	}
}

// ParseDuration parses a config duration string, falling back to the
// given default on empty or malformed values.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
