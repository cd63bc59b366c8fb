package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Environment variables read by Load.
const (
	EnvModel      = "PROGRAMMER_MODEL"
	EnvProvider   = "PROGRAMMER_PROVIDER"
	EnvMaxRuntime = "PROGRAMMER_MAX_RUNTIME"
	EnvDBPath     = "PROGRAMMER_DB"
	EnvSandboxURL = "PROGRAMMER_SANDBOX_URL"
	EnvOllamaHost = "OLLAMA_HOST"
)

// APIKeyEnv lists the environment variables consulted for each provider's key, in order.
//
//nolint:gochecknoglobals // lookup table
var APIKeyEnv = map[string][]string{
	ProviderAnthropic: {"ANTHROPIC_API_KEY"},
	ProviderOpenAI:    {"OPENAI_API_KEY"},
	ProviderGoogle:    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
}

// Load reads a YAML or JSON config file (chosen by extension), applies
// environment overrides and defaults, and validates the result. An empty
// path yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := decode(path, data, cfg); err != nil {
			return nil, err
		}
	}
	if err := applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config YAML %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("failed to parse config JSON %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (want .yaml, .yml or .json)", filepath.Ext(path))
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv(EnvModel); v != "" {
		cfg.Model.Name = v
	}
	if v := os.Getenv(EnvProvider); v != "" {
		cfg.Model.Provider = v
	}
	if v := os.Getenv(EnvMaxRuntime); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s must be an integer number of seconds: %w", EnvMaxRuntime, err)
		}
		cfg.Agent.MaxRuntimeSeconds = seconds
	}
	if v := os.Getenv(EnvDBPath); v != "" {
		cfg.Persistence.DBPath = v
	}
	if v := os.Getenv(EnvSandboxURL); v != "" {
		cfg.Executor.Remote.URL = v
	}
	if v := os.Getenv(EnvOllamaHost); v != "" && cfg.Model.BaseURL == "" {
		if p, _ := cfg.Provider(); p == ProviderOllama {
			cfg.Model.BaseURL = v
		}
	}
	return nil
}

// APIKey returns the key for provider from the environment.
func APIKey(provider string) (string, error) {
	names, ok := APIKeyEnv[provider]
	if !ok {
		return "", nil
	}
	for _, name := range names {
		if v := os.Getenv(name); v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("no API key for %s: set %s", provider, strings.Join(names, " or "))
}

// Save writes cfg as YAML or JSON depending on the path extension.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		data, err = json.MarshalIndent(cfg, "", "  ")
	default:
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
