package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix prefixes every environment override, e.g. MCPAGENT_MODEL_NAME.
	EnvPrefix = "MCPAGENT"

	defaultDir      = ".mcpagent"
	defaultFileName = "config.yaml"
)

// envKeys are the settings that may be overridden from the environment.
// Values list extra, unprefixed variable names checked after the prefixed one.
var envKeys = map[string][]string{
	"model.backend":               nil,
	"model.base_url":              {"BASE_URL"},
	"model.api_key":               {"API_KEY"},
	"model.name":                  {"MODEL_NAME"},
	"model.temperature":           nil,
	"model.max_tokens":            nil,
	"model.timeout":               nil,
	"model.max_retries":           nil,
	"agent.system_prompt":         nil,
	"agent.max_rounds":            nil,
	"agent.max_parallel_dispatch": nil,
	"agent.call_timeout":          nil,
	"agent.start_timeout":         nil,
	"agent.max_output_chars":      nil,
	"logging.level":               nil,
	"logging.file":                nil,
	"logging.pretty":              nil,
	"logging.audit_file":          nil,
	"metrics.addr":                nil,
	"tracing.enabled":             nil,
	"tracing.sample_ratio":        nil,
}

// Loader handles configuration loading
type Loader struct {
	configPath string
	envFile    string
}

// NewLoader creates a new config loader. An empty path selects
// $HOME/.mcpagent/config.yaml.
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
		envFile:    ".env",
	}
}

// SetEnvFile changes the dotenv file read before the environment is
// consulted. An empty name disables it.
func (l *Loader) SetEnvFile(path string) {
	l.envFile = path
}

// Load loads the configuration from file and environment. A missing file is
// not an error; defaults plus environment overrides are returned.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return nil, fmt.Errorf("failed to determine config path")
	}

	// Variables already present in the environment win over .env entries.
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", l.envFile, err)
		}
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for key, extra := range envKeys {
		names := append([]string{key, envName(key)}, extra...)
		if err := v.BindEnv(names...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if _, err := os.Stat(configPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}

	cfg := DefaultConfig()
	// A configured provider set replaces the default one instead of merging.
	if v.IsSet("providers") {
		cfg.Providers = nil
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to determine config path")
	}

	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType(configType(configPath))

	// Round-trip through JSON so keys follow the struct tags.
	settings, err := toSettings(cfg)
	if err != nil {
		return err
	}
	for key, value := range settings {
		v.Set(key, value)
	}

	if err := v.WriteConfig(); err != nil {
		// If file doesn't exist, create it
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultDir, defaultFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

func toSettings(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	var settings map[string]any
	if err := json.Unmarshal(data, &settings); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}

	// Durations are written in their readable form, e.g. "2m0s".
	durations := map[string]map[string]time.Duration{
		"model": {"timeout": cfg.Model.Timeout},
		"agent": {"call_timeout": cfg.Agent.CallTimeout, "start_timeout": cfg.Agent.StartTimeout},
	}
	for section, fields := range durations {
		m, ok := settings[section].(map[string]any)
		if !ok {
			continue
		}
		for key, d := range fields {
			m[key] = d.String()
		}
	}
	return settings, nil
}

func configType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return "json"
	case ".toml":
		return "toml"
	default:
		return "yaml"
	}
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}
