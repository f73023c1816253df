package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoader(path string) *Loader {
	loader := NewLoader(path)
	loader.SetEnvFile("")
	return loader
}

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.yaml")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.yaml", loader.configPath)
	assert.Equal(t, ".env", loader.envFile)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("load default config when file doesn't exist", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "nonexistent.yaml")

		cfg, err := newTestLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig(), cfg)
	})

	t.Run("load yaml config from file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		testConfig := `
model:
  backend: anthropic
  api_key: sk-ant-test
  name: claude-test
  timeout: 30s
providers:
  devtools:
    command: npx
    args: ["-y", "chrome-devtools-mcp@latest"]
    env: ["DISPLAY=:1"]
agent:
  max_rounds: 5
  call_timeout: 45s
`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0644))

		cfg, err := newTestLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Model.Backend)
		assert.Equal(t, "sk-ant-test", cfg.Model.APIKey)
		assert.Equal(t, "claude-test", cfg.Model.Name)
		assert.Equal(t, 30*time.Second, cfg.Model.Timeout)
		assert.Equal(t, 5, cfg.Agent.MaxRounds)
		assert.Equal(t, 45*time.Second, cfg.Agent.CallTimeout)
		// Untouched settings keep their defaults.
		assert.Equal(t, 8000, cfg.Agent.MaxOutputChars)

		// The configured provider set replaces the default playwright entry.
		require.Len(t, cfg.Providers, 1)
		providers := cfg.ProviderConfigs()
		require.Len(t, providers, 1)
		assert.Equal(t, "devtools", providers[0].Name)
		assert.Equal(t, map[string]string{"DISPLAY": ":1"}, providers[0].Env)
	})

	t.Run("load json config from file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.json")
		require.NoError(t, os.WriteFile(configPath, []byte(`{"model": {"name": "qwen2.5"}}`), 0644))

		cfg, err := newTestLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "qwen2.5", cfg.Model.Name)
		assert.Contains(t, cfg.Providers, "playwright")
	})

	t.Run("environment overrides", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("model:\n  name: from-file\n"), 0644))

		t.Setenv("MCPAGENT_MODEL_NAME", "from-env")
		t.Setenv("BASE_URL", "http://gpu-box:8000/v1")
		t.Setenv("MCPAGENT_AGENT_MAX_ROUNDS", "7")

		cfg, err := newTestLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "from-env", cfg.Model.Name)
		assert.Equal(t, "http://gpu-box:8000/v1", cfg.Model.BaseURL)
		assert.Equal(t, 7, cfg.Agent.MaxRounds)
	})

	t.Run("unprefixed variables apply without a file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "missing.yaml")
		t.Setenv("API_KEY", "sk-plain")
		t.Setenv("MODEL_NAME", "mistral")

		cfg, err := newTestLoader(configPath).Load()

		require.NoError(t, err)
		assert.Equal(t, "sk-plain", cfg.Model.APIKey)
		assert.Equal(t, "mistral", cfg.Model.Name)
	})

	t.Run("dotenv file", func(t *testing.T) {
		dir := t.TempDir()
		envFile := filepath.Join(dir, ".env")
		require.NoError(t, os.WriteFile(envFile, []byte("MCPAGENT_MODEL_BACKEND=openai\nMCPAGENT_METRICS_ADDR=:9464\n"), 0644))
		t.Cleanup(func() {
			os.Unsetenv("MCPAGENT_MODEL_BACKEND")
			os.Unsetenv("MCPAGENT_METRICS_ADDR")
		})

		loader := NewLoader(filepath.Join(dir, "config.yaml"))
		loader.SetEnvFile(envFile)
		cfg, err := loader.Load()

		require.NoError(t, err)
		assert.Equal(t, ":9464", cfg.Metrics.Addr)
	})

	t.Run("invalid file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(configPath, []byte("model: [unclosed"), 0644))

		_, err := newTestLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "nested", "config.yaml")
	loader := newTestLoader(configPath)

	cfg := DefaultConfig()
	cfg.Model.Name = "saved-model"
	cfg.Agent.MaxRounds = 3
	cfg.Providers["devtools"] = ProviderConfig{Command: "npx", Args: []string{"-y", "chrome-devtools-mcp@latest"}}

	require.NoError(t, loader.Save(cfg))
	_, err := os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := loader.Load()
	require.NoError(t, err)
	assert.Equal(t, "saved-model", loaded.Model.Name)
	assert.Equal(t, 3, loaded.Agent.MaxRounds)
	assert.Equal(t, cfg.Agent.CallTimeout, loaded.Agent.CallTimeout)
	assert.Len(t, loaded.Providers, 2)
	assert.Equal(t, []string{"-y", "chrome-devtools-mcp@latest"}, loaded.Providers["devtools"].Args)
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("explicit path", func(t *testing.T) {
		assert.Equal(t, "/custom/config.yaml", NewLoader("/custom/config.yaml").GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)
		assert.Equal(t, filepath.Join(home, ".mcpagent", "config.yaml"), NewLoader("").GetConfigPath())
	})
}

func TestWizardRun(t *testing.T) {
	t.Run("keeps defaults on empty answers", func(t *testing.T) {
		var out bytes.Buffer
		cfg, err := NewWizard(strings.NewReader("\n\n\n\n\n"), &out).Run(nil)

		require.NoError(t, err)
		assert.Equal(t, DefaultConfig().Model, cfg.Model)
		assert.Contains(t, out.String(), "Configuration complete!")
	})

	t.Run("switches to anthropic", func(t *testing.T) {
		answers := strings.Join([]string{
			"anthropic",
			"",
			"", // rejected: key required
			"sk-ant-xyz",
			"claude-test",
			"debug",
		}, "\n") + "\n"

		var out bytes.Buffer
		cfg, err := NewWizard(strings.NewReader(answers), &out).Run(DefaultConfig())

		require.NoError(t, err)
		assert.Equal(t, "anthropic", cfg.Model.Backend)
		assert.Empty(t, cfg.Model.BaseURL)
		assert.Equal(t, "sk-ant-xyz", cfg.Model.APIKey)
		assert.Equal(t, "claude-test", cfg.Model.Name)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Contains(t, out.String(), "API key is required")
	})

	t.Run("retries invalid base url", func(t *testing.T) {
		answers := "\nnot-a-url\nhttp://host:1/v1\n\n\n\n"
		var out bytes.Buffer
		cfg, err := NewWizard(strings.NewReader(answers), &out).Run(nil)

		require.NoError(t, err)
		assert.Equal(t, "http://host:1/v1", cfg.Model.BaseURL)
		assert.Contains(t, out.String(), "Error:")
	})
}
