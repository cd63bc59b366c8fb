// Package factory builds the llm.Client for a configuration.
package factory

import (
	"context"
	"fmt"
	"strings"
	"time"

	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
	openaiopt "github.com/openai/openai-go/option"

	"programmer/pkg/config"
	"programmer/pkg/llm"
	"programmer/pkg/llm/anthropic"
	"programmer/pkg/llm/google"
	"programmer/pkg/llm/ollama"
	"programmer/pkg/llm/openai"
	"programmer/pkg/logx"
)

// NewClient creates the client for cfg.Model, reading the provider's API key
// from the environment. The returned client logs every call.
func NewClient(cfg *config.Config) (llm.Client, error) {
	provider, err := cfg.Provider()
	if err != nil {
		return nil, err
	}
	key, err := config.APIKey(provider)
	if err != nil {
		return nil, err
	}

	var client llm.Client
	switch provider {
	case config.ProviderAnthropic:
		var opts []anthropicopt.RequestOption
		if cfg.Model.BaseURL != "" {
			opts = append(opts, anthropicopt.WithBaseURL(cfg.Model.BaseURL))
		}
		client = anthropic.New(key, cfg.Model.Name, opts...)
	case config.ProviderOpenAI:
		var opts []openaiopt.RequestOption
		if cfg.Model.BaseURL != "" {
			opts = append(opts, openaiopt.WithBaseURL(cfg.Model.BaseURL))
		}
		client = openai.New(key, cfg.Model.Name, opts...)
	case config.ProviderGoogle:
		client = google.New(key, cfg.Model.Name)
	case config.ProviderOllama:
		client = ollama.New(cfg.Model.BaseURL, strings.TrimPrefix(cfg.Model.Name, "ollama/"))
	default:
		return nil, fmt.Errorf("unsupported provider '%s'", provider)
	}
	return WithLogging(client, provider), nil
}

// loggingClient records the latency and classified failures of each call.
type loggingClient struct {
	next     llm.Client
	logger   *logx.Logger
	provider string
}

// WithLogging wraps next so each call is logged under the "llm" owner.
func WithLogging(next llm.Client, provider string) llm.Client {
	return &loggingClient{next: next, provider: provider, logger: logx.NewLogger("llm")}
}

func (c *loggingClient) Model() string {
	return c.next.Model()
}

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *loggingClient) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Message, error) {
	start := time.Now()
	msg, err := c.next.Complete(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Error("%s/%s failed after %.3gs (%s): %v",
			c.provider, c.next.Model(), elapsed.Seconds(), llm.TypeOf(err), err)
		return msg, err
	}
	c.logger.Debug("%s/%s replied in %.3gs with %d tool calls",
		c.provider, c.next.Model(), elapsed.Seconds(), len(msg.ToolCalls))
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		c.logger.Warn("⚠️  %s/%s returned an empty response", c.provider, c.next.Model())
	}
	return msg, nil
}
