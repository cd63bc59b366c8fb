package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, DefaultModel, cfg.Model.Name)
	assert.InDelta(t, DefaultTemperature, cfg.Model.Temperature, 1e-9)
	assert.Equal(t, DefaultMaxOpenSize, cfg.Buffer.MaxOpenSize)
	assert.Equal(t, DefaultOpenChunkSize, cfg.Buffer.OpenChunkSize)
	assert.Equal(t, ExecutorLocal, cfg.Executor.Type)
	assert.Equal(t, "programmer-", cfg.Snapshot.BranchPrefix)
	assert.Equal(t, 30*time.Minute, cfg.Agent.MaxRuntime())
	assert.Equal(t, DefaultCommandTimeout, cfg.Executor.CommandTimeout())
	require.NoError(t, cfg.Validate())
}

func TestGetModelProvider(t *testing.T) {
	tests := []struct {
		model    string
		provider string
	}{
		{"claude-sonnet-4-5", ProviderAnthropic},
		{"gpt-4o-2024-08-06", ProviderOpenAI},
		{"o3-mini", ProviderOpenAI},
		{"gemini-2.5-pro", ProviderGoogle},
		{"qwen2.5-coder", ProviderOllama},
		{"ollama/phi4", ProviderOllama},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			got, err := GetModelProvider(tt.model)
			require.NoError(t, err)
			assert.Equal(t, tt.provider, got)
		})
	}

	_, err := GetModelProvider("mystery-model")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		mutate  func(*Config)
		name    string
		wantErr string
	}{
		{name: "unknown model", mutate: func(c *Config) { c.Model.Name = "mystery" }, wantErr: "unknown model"},
		{name: "bad provider", mutate: func(c *Config) { c.Model.Provider = "acme" }, wantErr: "unsupported provider"},
		{name: "temperature", mutate: func(c *Config) { c.Model.Temperature = 3 }, wantErr: "temperature"},
		{name: "chunk too large", mutate: func(c *Config) { c.Buffer.OpenChunkSize = c.Buffer.MaxOpenSize + 1 }, wantErr: "exceeds"},
		{name: "remote needs url", mutate: func(c *Config) { c.Executor.Type = ExecutorRemote }, wantErr: "requires"},
		{name: "unknown executor", mutate: func(c *Config) { c.Executor.Type = "docker" }, wantErr: "unknown executor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestZeroRuntimeMeansUnlimited(t *testing.T) {
	cfg := Default()
	cfg.Agent.MaxRuntimeSeconds = 0
	assert.Equal(t, time.Duration(0), cfg.Agent.MaxRuntime())
}
