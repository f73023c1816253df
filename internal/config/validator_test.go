package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateBaseURL(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateBaseURL(""))
	assert.NoError(t, v.ValidateBaseURL("http://localhost:11434/v1"))
	assert.NoError(t, v.ValidateBaseURL("https://api.openai.com/v1"))
	assert.Error(t, v.ValidateBaseURL("ftp://example.com"))
	assert.Error(t, v.ValidateBaseURL("http://"))
	assert.Error(t, v.ValidateBaseURL("://bad"))
}

func TestValidateTemperature(t *testing.T) {
	v := NewValidator()

	t.Run("valid temperature", func(t *testing.T) {
		assert.NoError(t, v.ValidateTemperature(0.7))
		assert.NoError(t, v.ValidateTemperature(0))
		assert.NoError(t, v.ValidateTemperature(2))
	})

	t.Run("out of range", func(t *testing.T) {
		assert.Error(t, v.ValidateTemperature(-0.1))
		assert.Error(t, v.ValidateTemperature(2.5))
	})
}

func TestValidateMaxTokens(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateMaxTokens(0))
	assert.NoError(t, v.ValidateMaxTokens(4096))
	assert.Error(t, v.ValidateMaxTokens(-1))
	assert.Error(t, v.ValidateMaxTokens(300000))
}

func TestValidateLogLevel(t *testing.T) {
	v := NewValidator()

	for _, level := range []string{"debug", "info", "warn", "error"} {
		assert.NoError(t, v.ValidateLogLevel(level), level)
	}
	assert.Error(t, v.ValidateLogLevel("verbose"))
}

func TestValidateListenAddr(t *testing.T) {
	v := NewValidator()

	assert.NoError(t, v.ValidateListenAddr(""))
	assert.NoError(t, v.ValidateListenAddr(":9090"))
	assert.NoError(t, v.ValidateListenAddr("127.0.0.1:9090"))
	assert.Error(t, v.ValidateListenAddr("9090"))
}

func TestValidateConfig(t *testing.T) {
	v := NewValidator()

	t.Run("valid config", func(t *testing.T) {
		assert.Empty(t, v.ValidateConfig(DefaultConfig()))
	})

	t.Run("collects every problem", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Model.BaseURL = "localhost"
		cfg.Model.Temperature = 3
		cfg.Agent.MaxOutputChars = -5
		cfg.Tracing.SampleRatio = 1.5

		errs := v.ValidateConfig(cfg)
		assert.Len(t, errs, 4)
	})
}
