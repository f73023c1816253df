package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/harun/mcpagent/pkg/provider"
)

// Config represents the main mcpagent configuration
type Config struct {
	// Model endpoint
	Model ModelConfig `json:"model" mapstructure:"model"`

	// Tool providers keyed by name
	Providers map[string]ProviderConfig `json:"providers" mapstructure:"providers"`

	// ProviderOrder fixes the startup and catalog order. Providers missing
	// from the list follow in name order.
	ProviderOrder []string `json:"provider_order" mapstructure:"provider_order"`

	// Agent loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`
}

// ModelConfig selects and configures the model backend
type ModelConfig struct {
	Backend     string        `json:"backend" mapstructure:"backend"` // openai, anthropic
	BaseURL     string        `json:"base_url" mapstructure:"base_url"`
	APIKey      string        `json:"api_key" mapstructure:"api_key"`
	Name        string        `json:"name" mapstructure:"name"`
	Temperature float64       `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int           `json:"max_tokens" mapstructure:"max_tokens"`
	Timeout     time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries  int           `json:"max_retries" mapstructure:"max_retries"`
}

// ProviderConfig describes how to launch one tool provider. Env entries use
// the KEY=VALUE form so variable names keep their case.
type ProviderConfig struct {
	Command  string   `json:"command" mapstructure:"command"`
	Args     []string `json:"args" mapstructure:"args"`
	Env      []string `json:"env,omitempty" mapstructure:"env"`
	Disabled bool     `json:"disabled,omitempty" mapstructure:"disabled"`
}

// AgentConfig tunes the query loop and dispatcher
type AgentConfig struct {
	SystemPrompt        string        `json:"system_prompt" mapstructure:"system_prompt"`
	MaxRounds           int           `json:"max_rounds" mapstructure:"max_rounds"` // 0 = unlimited
	MaxParallelDispatch int           `json:"max_parallel_dispatch" mapstructure:"max_parallel_dispatch"`
	CallTimeout         time.Duration `json:"call_timeout" mapstructure:"call_timeout"`
	StartTimeout        time.Duration `json:"start_timeout" mapstructure:"start_timeout"`
	MaxOutputChars      int           `json:"max_output_chars" mapstructure:"max_output_chars"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// TracingConfig configures OpenTelemetry
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Backend:    "openai",
			BaseURL:    "http://localhost:11434/v1",
			APIKey:     "ollama",
			Name:       "llama3.1",
			Timeout:    5 * time.Minute,
			MaxRetries: 3,
		},
		Providers: map[string]ProviderConfig{
			"playwright": {
				Command: "npx",
				Args: []string{
					"@playwright/mcp@latest",
					"--output-dir=./playwright-artifacts",
					"--save-trace",
					"--save-session",
				},
			},
		},
		Agent: AgentConfig{
			MaxRounds:           25,
			MaxParallelDispatch: 8,
			CallTimeout:         2 * time.Minute,
			StartTimeout:        time.Minute,
			MaxOutputChars:      8000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
		},
		Tracing: TracingConfig{
			ServiceName: "mcpagent",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with the API key masked
func (c *Config) String() string {
	masked := *c
	if masked.Model.APIKey != "" {
		masked.Model.APIKey = "***"
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	switch c.Model.Backend {
	case "openai", "anthropic":
	default:
		errs = append(errs, fmt.Errorf("model.backend: unsupported backend %q (must be openai or anthropic)", c.Model.Backend))
	}
	if c.Model.Backend == "anthropic" && c.Model.APIKey == "" {
		errs = append(errs, fmt.Errorf("model.api_key is required for the anthropic backend"))
	}

	for _, p := range c.ProviderConfigs() {
		if err := p.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("providers.%s: %w", p.Name, err))
		}
	}
	for _, name := range c.ProviderOrder {
		if _, ok := c.Providers[name]; !ok {
			errs = append(errs, fmt.Errorf("provider_order: unknown provider %q", name))
		}
	}
	for name, p := range c.Providers {
		for _, kv := range p.Env {
			if !strings.Contains(kv, "=") {
				errs = append(errs, fmt.Errorf("providers.%s.env: entry %q is not KEY=VALUE", name, kv))
			}
		}
	}

	v := NewValidator()
	errs = append(errs, v.ValidateConfig(c)...)

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}

// ProviderConfigs returns the enabled providers in startup order:
// ProviderOrder first, then the rest by name.
func (c *Config) ProviderConfigs() []provider.Config {
	seen := make(map[string]bool, len(c.Providers))
	names := make([]string, 0, len(c.Providers))
	for _, name := range c.ProviderOrder {
		if _, ok := c.Providers[name]; ok && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	rest := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		if !seen[name] {
			rest = append(rest, name)
		}
	}
	sort.Strings(rest)
	names = append(names, rest...)

	out := make([]provider.Config, 0, len(names))
	for _, name := range names {
		p := c.Providers[name]
		if p.Disabled {
			continue
		}
		out = append(out, provider.Config{
			Name:    name,
			Command: p.Command,
			Args:    append([]string(nil), p.Args...),
			Env:     parseEnv(p.Env),
		})
	}
	return out
}

func parseEnv(entries []string) map[string]string {
	if len(entries) == 0 {
		return nil
	}
	env := make(map[string]string, len(entries))
	for _, kv := range entries {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			continue
		}
		env[key] = value
	}
	return env
}
