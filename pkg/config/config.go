// Package config holds runtime settings for the programmer agent: model
// selection, buffer limits, execution context, snapshots, persistence and metrics.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Provider names.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
	ProviderGoogle    = "google"
	ProviderOllama    = "ollama"
)

// Executor types.
const (
	ExecutorLocal  = "local"
	ExecutorRemote = "remote"
)

// Defaults.
const (
	DefaultModel             = "gpt-4o-2024-08-06"
	DefaultTemperature       = 0.7
	DefaultMaxOpenSize       = 1500
	DefaultOpenChunkSize     = 500
	DefaultMaxRuntimeSeconds = 1800
	DefaultCommandTimeout    = 120 * time.Second
	DefaultDBPath            = ".programmer/sessions.db"
	DefaultBatchConcurrency  = 2
)

// ProviderPattern infers a provider from a model name prefix.
type ProviderPattern struct {
	Prefix   string
	Provider string
}

// ProviderPatterns lets new model names work without code changes.
//
//nolint:gochecknoglobals // inference rules
var ProviderPatterns = []ProviderPattern{
	{"claude", ProviderAnthropic},
	{"gpt", ProviderOpenAI},
	{"o1", ProviderOpenAI},
	{"o3", ProviderOpenAI},
	{"o4", ProviderOpenAI},
	{"gemini", ProviderGoogle},
	{"ollama/", ProviderOllama},
	{"llama", ProviderOllama},
	{"qwen", ProviderOllama},
	{"mistral", ProviderOllama},
	{"deepseek", ProviderOllama},
}

// GetModelProvider maps a model name to its provider by prefix.
func GetModelProvider(modelName string) (string, error) {
	for i := range ProviderPatterns {
		if strings.HasPrefix(modelName, ProviderPatterns[i].Prefix) {
			return ProviderPatterns[i].Provider, nil
		}
	}
	return "", fmt.Errorf("unknown model '%s': no provider pattern matches", modelName)
}

// ModelConfig selects and tunes the language model.
type ModelConfig struct {
	Name        string  `json:"name" yaml:"name"`
	Provider    string  `json:"provider,omitempty" yaml:"provider,omitempty"` // inferred from Name when empty
	BaseURL     string  `json:"base_url,omitempty" yaml:"base_url,omitempty"`
	Temperature float64 `json:"temperature" yaml:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
}

// BufferConfig bounds how much file content the model may hold open.
type BufferConfig struct {
	MaxOpenSize   int `json:"max_open_size" yaml:"max_open_size"`
	OpenChunkSize int `json:"open_chunk_size" yaml:"open_chunk_size"`
}

// AgentConfig controls the turn loop.
type AgentConfig struct {
	SystemPromptFile  string `json:"system_prompt_file,omitempty" yaml:"system_prompt_file,omitempty"`
	MaxRuntimeSeconds int    `json:"max_runtime_seconds" yaml:"max_runtime_seconds"`
}

// MaxRuntime returns the run time limit; zero means unlimited.
func (a AgentConfig) MaxRuntime() time.Duration {
	if a.MaxRuntimeSeconds <= 0 {
		return 0
	}
	return time.Duration(a.MaxRuntimeSeconds) * time.Second
}

// SnapshotConfig controls per-turn git snapshots.
type SnapshotConfig struct {
	Disabled     bool   `json:"disabled" yaml:"disabled"`
	BranchPrefix string `json:"branch_prefix,omitempty" yaml:"branch_prefix,omitempty"`
}

// RemoteConfig addresses the sandbox container server.
type RemoteConfig struct {
	URL     string `json:"url" yaml:"url"`
	ImageID string `json:"image_id" yaml:"image_id"`
	WorkDir string `json:"workdir" yaml:"workdir"`
}

// ExecutorConfig picks where tools read files and run commands.
type ExecutorConfig struct {
	Type                  string       `json:"type" yaml:"type"`
	WorkDir               string       `json:"workdir,omitempty" yaml:"workdir,omitempty"`
	Remote                RemoteConfig `json:"remote,omitempty" yaml:"remote,omitempty"`
	CommandTimeoutSeconds int          `json:"command_timeout_seconds,omitempty" yaml:"command_timeout_seconds,omitempty"`
}

// CommandTimeout returns the per-command timeout.
func (e ExecutorConfig) CommandTimeout() time.Duration {
	if e.CommandTimeoutSeconds <= 0 {
		return DefaultCommandTimeout
	}
	return time.Duration(e.CommandTimeoutSeconds) * time.Second
}

// PersistenceConfig locates the session database.
type PersistenceConfig struct {
	DBPath   string `json:"db_path" yaml:"db_path"`
	Disabled bool   `json:"disabled" yaml:"disabled"`
}

// MetricsConfig exposes Prometheus metrics over HTTP and/or a textfile.
type MetricsConfig struct {
	Addr         string `json:"addr,omitempty" yaml:"addr,omitempty"`
	TextfilePath string `json:"textfile_path,omitempty" yaml:"textfile_path,omitempty"`
}

// DebugConfig mirrors the DEBUG/DEBUG_DOMAINS environment switches.
type DebugConfig struct {
	LogFile string   `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	Domains []string `json:"domains,omitempty" yaml:"domains,omitempty"`
	Enabled bool     `json:"enabled" yaml:"enabled"`
}

// BatchConfig controls concurrent task runs.
type BatchConfig struct {
	Concurrency int `json:"concurrency" yaml:"concurrency"`
}

// Config is the complete runtime configuration.
type Config struct {
	Model       ModelConfig       `json:"model" yaml:"model"`
	Executor    ExecutorConfig    `json:"executor" yaml:"executor"`
	Debug       DebugConfig       `json:"debug" yaml:"debug"`
	Metrics     MetricsConfig     `json:"metrics" yaml:"metrics"`
	Persistence PersistenceConfig `json:"persistence" yaml:"persistence"`
	Snapshot    SnapshotConfig    `json:"snapshot" yaml:"snapshot"`
	Agent       AgentConfig       `json:"agent" yaml:"agent"`
	Buffer      BufferConfig      `json:"buffer" yaml:"buffer"`
	Batch       BatchConfig       `json:"batch" yaml:"batch"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{
		Model: ModelConfig{Temperature: DefaultTemperature},
		Agent: AgentConfig{MaxRuntimeSeconds: DefaultMaxRuntimeSeconds},
	}
	cfg.applyDefaults()
	return cfg
}

// applyDefaults fills settings left empty. Temperature and the runtime limit
// are seeded by Default instead, since zero is meaningful for both.
func (c *Config) applyDefaults() {
	if c.Model.Name == "" {
		c.Model.Name = DefaultModel
	}
	if c.Buffer.MaxOpenSize == 0 {
		c.Buffer.MaxOpenSize = DefaultMaxOpenSize
	}
	if c.Buffer.OpenChunkSize == 0 {
		c.Buffer.OpenChunkSize = DefaultOpenChunkSize
	}
	if c.Executor.Type == "" {
		c.Executor.Type = ExecutorLocal
	}
	if c.Executor.Remote.WorkDir == "" {
		c.Executor.Remote.WorkDir = "/"
	}
	if c.Snapshot.BranchPrefix == "" {
		c.Snapshot.BranchPrefix = "programmer-"
	}
	if c.Persistence.DBPath == "" {
		c.Persistence.DBPath = DefaultDBPath
	}
	if c.Batch.Concurrency <= 0 {
		c.Batch.Concurrency = DefaultBatchConcurrency
	}
}

// Provider returns the explicit provider or the one inferred from the model name.
func (c *Config) Provider() (string, error) {
	if c.Model.Provider != "" {
		return c.Model.Provider, nil
	}
	return GetModelProvider(c.Model.Name)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Model.Name == "" {
		return fmt.Errorf("model.name is required")
	}
	provider, err := c.Provider()
	if err != nil {
		return err
	}
	switch provider {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogle, ProviderOllama:
	default:
		return fmt.Errorf("unsupported provider '%s'", provider)
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 2 {
		return fmt.Errorf("model.temperature must be between 0 and 2, got %v", c.Model.Temperature)
	}
	if c.Buffer.MaxOpenSize <= 0 || c.Buffer.OpenChunkSize <= 0 {
		return fmt.Errorf("buffer sizes must be positive (max_open_size=%d, open_chunk_size=%d)",
			c.Buffer.MaxOpenSize, c.Buffer.OpenChunkSize)
	}
	if c.Buffer.OpenChunkSize > c.Buffer.MaxOpenSize {
		return fmt.Errorf("buffer.open_chunk_size (%d) exceeds buffer.max_open_size (%d)",
			c.Buffer.OpenChunkSize, c.Buffer.MaxOpenSize)
	}
	switch c.Executor.Type {
	case ExecutorLocal:
	case ExecutorRemote:
		if c.Executor.Remote.URL == "" || c.Executor.Remote.ImageID == "" {
			return fmt.Errorf("remote executor requires executor.remote.url and executor.remote.image_id")
		}
	default:
		return fmt.Errorf("unknown executor type '%s'", c.Executor.Type)
	}
	return nil
}
