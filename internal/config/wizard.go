package config

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a new configuration wizard reading answers from in
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard starting from base
func (w *Wizard) Run(base *Config) (*Config, error) {
	cfg := base
	if cfg == nil {
		cfg = DefaultConfig()
	}
	validator := NewValidator()

	fmt.Fprintln(w.out, "=== mcpagent Configuration Wizard ===")
	fmt.Fprintln(w.out)

	// Backend
	for {
		fmt.Fprintf(w.out, "Model backend (openai/anthropic) [%s]: ", cfg.Model.Backend)
		backend, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if backend == "" {
			break
		}
		backend = strings.ToLower(backend)
		if backend != "openai" && backend != "anthropic" {
			fmt.Fprintf(w.out, "Error: unsupported backend %q\n", backend)
			continue
		}
		if backend != cfg.Model.Backend && backend == "anthropic" {
			// The Ollama defaults make no sense for Anthropic.
			cfg.Model.BaseURL = ""
			cfg.Model.APIKey = ""
			cfg.Model.Name = ""
		}
		cfg.Model.Backend = backend
		break
	}

	// Base URL
	for {
		fmt.Fprintf(w.out, "Base URL [%s]: ", cfg.Model.BaseURL)
		url, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if url == "" {
			break
		}
		if err := validator.ValidateBaseURL(url); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.Model.BaseURL = url
		break
	}

	// API key
	for {
		fmt.Fprint(w.out, "API key (press Enter to keep current): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key != "" {
			cfg.Model.APIKey = key
		}
		if cfg.Model.Backend == "anthropic" && cfg.Model.APIKey == "" {
			fmt.Fprintln(w.out, "Error: API key is required for the anthropic backend")
			continue
		}
		break
	}

	// Model name
	fmt.Fprintf(w.out, "Model name [%s]: ", cfg.Model.Name)
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if model != "" {
		cfg.Model.Name = model
	}

	fmt.Fprintln(w.out)

	// Log Level
	fmt.Fprintf(w.out, "Log level (debug/info/warn/error) [%s]: ", cfg.Logging.Level)
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Logging.Level)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
