// Package config defines the guild application configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level guild configuration.
type Config struct {
	Company  CompanyConfig  `json:"company" yaml:"company"`
	Limits   LimitsConfig   `json:"limits" yaml:"limits"`
	Provider ProviderConfig `json:"provider" yaml:"provider"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Agents   []AgentConfig  `json:"agents" yaml:"agents"`
	LogLevel string         `json:"log_level" yaml:"log_level"`
}

// CompanyConfig locates the organization's resources on disk.
type CompanyConfig struct {
	Name        string `json:"name" yaml:"name"`
	Workspace   string `json:"workspace" yaml:"workspace"`       // sandbox root for file tools
	MemoryDB    string `json:"memory_db" yaml:"memory_db"`       // SQLite file for the memory service
	JournalDB   string `json:"journal_db" yaml:"journal_db"`     // SQLite file for the transition journal; empty disables it
	OutputTopic string `json:"output_topic" yaml:"output_topic"` // default output channel for submitted tasks
}

// LimitsConfig holds the circuit breakers.
type LimitsConfig struct {
	MaxIterations          int           `json:"max_iterations" yaml:"max_iterations"`
	MaxEscalationHops      int           `json:"max_escalation_hops" yaml:"max_escalation_hops"`
	MaxCycles              int           `json:"max_cycles" yaml:"max_cycles"`
	IdleInterval           time.Duration `json:"idle_interval" yaml:"idle_interval"`
	FailOnFailedDependency bool          `json:"fail_on_failed_dependency" yaml:"fail_on_failed_dependency"`
}

// ProviderConfig selects and tunes the reasoning provider.
type ProviderConfig struct {
	Name           string        `json:"name" yaml:"name"` // "mock", "anthropic"
	Model          string        `json:"model,omitempty" yaml:"model"`
	BaseURL        string        `json:"base_url,omitempty" yaml:"base_url"`
	APIKeyEnv      string        `json:"api_key_env,omitempty" yaml:"api_key_env"`
	MaxRetries     uint64        `json:"max_retries" yaml:"max_retries"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	Script         []string      `json:"script,omitempty" yaml:"script"` // canned responses for the mock provider
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"` // listen address, e.g., ":9090"
}

// AgentType distinguishes automated workers from human roles.
type AgentType string

const (
	AgentAI    AgentType = "ai"
	AgentHuman AgentType = "human"
)

// AgentConfig defines a single agent's role and place in the hierarchy.
type AgentConfig struct {
	ID           string    `json:"id" yaml:"id"`
	Role         string    `json:"role" yaml:"role"`
	Parent       string    `json:"parent,omitempty" yaml:"parent"`
	Type         AgentType `json:"type" yaml:"type"`
	Capabilities []string  `json:"capabilities,omitempty" yaml:"capabilities"`
	Directive    string    `json:"directive,omitempty" yaml:"directive"`
}

// Human reports whether the agent is operated by a person.
func (a AgentConfig) Human() bool { return a.Type == AgentHuman }

// DefaultConfig returns a config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Company: CompanyConfig{
			Name:        "guild",
			Workspace:   "./data/workspace",
			MemoryDB:    "./data/memory.db",
			OutputTopic: "console",
		},
		Limits: LimitsConfig{
			MaxIterations:     3,
			MaxEscalationHops: 15,
			MaxCycles:         10,
			IdleInterval:      500 * time.Millisecond,
		},
		Provider: ProviderConfig{
			Name:           "mock",
			APIKeyEnv:      "ANTHROPIC_API_KEY",
			MaxRetries:     3,
			InitialBackoff: time.Second,
		},
		Server: ServerConfig{
			Addr: ":9090",
		},
		LogLevel: "info",
		Agents: []AgentConfig{
			{
				ID:        "ceo",
				Role:      "Chief Executive Officer",
				Type:      AgentAI,
				Directive: "You set direction, break work down and delegate it to your reports.",
			},
		},
	}
}

// Load reads a YAML config file and returns the parsed configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks limits and the agent roster.
func (c *Config) Validate() error {
	if c.Limits.MaxIterations <= 0 {
		return fmt.Errorf("limits.max_iterations must be positive")
	}
	if c.Limits.MaxEscalationHops <= 0 {
		return fmt.Errorf("limits.max_escalation_hops must be positive")
	}
	if c.Limits.MaxCycles <= 0 {
		return fmt.Errorf("limits.max_cycles must be positive")
	}
	_, err := NewRoster(c.Agents)
	return err
}
