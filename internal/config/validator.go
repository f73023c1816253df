package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBaseURL validates a model endpoint URL
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return nil // Use backend default
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid base URL %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL %q: missing host", raw)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value. Zero selects the backend default.
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens < 0 {
		return fmt.Errorf("max tokens must not be negative, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateListenAddr validates a host:port listen address
func (v *Validator) ValidateListenAddr(addr string) error {
	if addr == "" {
		return nil // Disabled
	}
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", addr, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateBaseURL(cfg.Model.BaseURL); err != nil {
		errors = append(errors, fmt.Errorf("model.base_url: %w", err))
	}
	if err := v.ValidateTemperature(cfg.Model.Temperature); err != nil {
		errors = append(errors, fmt.Errorf("model.temperature: %w", err))
	}
	if err := v.ValidateMaxTokens(cfg.Model.MaxTokens); err != nil {
		errors = append(errors, fmt.Errorf("model.max_tokens: %w", err))
	}
	if cfg.Model.Timeout < 0 {
		errors = append(errors, fmt.Errorf("model.timeout must be >= 0"))
	}
	if cfg.Model.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("model.max_retries must be >= 0"))
	}

	if cfg.Agent.MaxRounds < 0 {
		errors = append(errors, fmt.Errorf("agent.max_rounds must be >= 0"))
	}
	if cfg.Agent.MaxParallelDispatch < 0 {
		errors = append(errors, fmt.Errorf("agent.max_parallel_dispatch must be >= 0"))
	}
	if cfg.Agent.CallTimeout < 0 {
		errors = append(errors, fmt.Errorf("agent.call_timeout must be >= 0"))
	}
	if cfg.Agent.StartTimeout < 0 {
		errors = append(errors, fmt.Errorf("agent.start_timeout must be >= 0"))
	}
	if cfg.Agent.MaxOutputChars < 0 {
		errors = append(errors, fmt.Errorf("agent.max_output_chars must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateListenAddr(cfg.Metrics.Addr); err != nil {
		errors = append(errors, fmt.Errorf("metrics.addr: %w", err))
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
		errors = append(errors, fmt.Errorf("tracing.sample_ratio must be between 0 and 1"))
	}

	return errors
}
