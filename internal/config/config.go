// Package config handles assistantd configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/assistantd/config.yaml,
// /etc/assistantd/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "assistantd", "config.yaml"))
	}

	paths = append(paths, "/etc/assistantd/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all assistantd configuration.
type Config struct {
	Listen   ListenConfig  `yaml:"listen"`
	Model    ModelConfig   `yaml:"model"`
	Storage  StorageConfig `yaml:"storage"`
	Context  ContextConfig `yaml:"context"`
	Loop     LoopConfig    `yaml:"loop"`
	MQTT     MQTTConfig    `yaml:"mqtt"`
	LogLevel string        `yaml:"log_level"`
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelConfig defines the model gateway connection.
type ModelConfig struct {
	// BaseURL is the OpenAI-compatible chat endpoint base
	// (e.g., http://localhost:11434/v1 for Ollama).
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Name    string `yaml:"name"`
	// SummaryName optionally selects a cheaper model for summarization.
	// Empty means use Name.
	SummaryName string `yaml:"summary_name"`
}

// StorageConfig selects the conversation/proposal storage backend.
type StorageConfig struct {
	// Backend is "sqlite" (durable) or "memory" (ephemeral, for dev/tests).
	Backend string `yaml:"backend"`
	// Path is the SQLite database file, ignored for the memory backend.
	Path string `yaml:"path"`
}

// ContextConfig bounds the message window sent to the model.
type ContextConfig struct {
	// MaxContextMessages caps non-system messages per model call.
	MaxContextMessages int `yaml:"max_context_messages"`
	// SummaryTriggerMessages is the live message count that triggers the
	// first summarization. With an existing summary the threshold is 1.5x.
	SummaryTriggerMessages int `yaml:"summary_trigger_messages"`
	// SummaryCutoffMessages is how many recent messages are excluded
	// from summarization.
	SummaryCutoffMessages int `yaml:"summary_cutoff_messages"`
	// MaxSummaryPoints caps the bullet points kept from a summary.
	MaxSummaryPoints int `yaml:"max_summary_points"`
}

// LoopConfig bounds the dialogue loop.
type LoopConfig struct {
	// MaxRecursion caps model rounds triggered by tool-call follow-ups
	// within one user turn.
	MaxRecursion int `yaml:"max_recursion"`
}

// MQTTConfig defines the optional MQTT state publisher.
type MQTTConfig struct {
	Enabled            bool   `yaml:"enabled"`
	Broker             string `yaml:"broker"` // e.g., mqtt://broker:1883
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	DeviceName         string `yaml:"device_name"`
	PublishIntervalSec int    `yaml:"publish_interval_sec"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	cfg := &Config{
		Listen: ListenConfig{Port: 8080},
		Model: ModelConfig{
			BaseURL: "http://localhost:11434/v1",
			Name:    "qwen3:4b",
		},
		Storage: StorageConfig{
			Backend: "sqlite",
			Path:    "assistant.db",
		},
	}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Listen.Port == 0 {
		c.Listen.Port = 8080
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "sqlite"
	}
	if c.Context.MaxContextMessages <= 0 {
		c.Context.MaxContextMessages = 20
	}
	if c.Context.SummaryTriggerMessages <= 0 {
		c.Context.SummaryTriggerMessages = 30
	}
	if c.Context.SummaryCutoffMessages <= 0 {
		c.Context.SummaryCutoffMessages = 10
	}
	if c.Context.MaxSummaryPoints <= 0 {
		c.Context.MaxSummaryPoints = 8
	}
	if c.Loop.MaxRecursion <= 0 {
		c.Loop.MaxRecursion = 5
	}
	if c.MQTT.PublishIntervalSec <= 0 {
		c.MQTT.PublishIntervalSec = 60
	}
	if c.MQTT.DeviceName == "" {
		c.MQTT.DeviceName = "assistant"
	}
}
