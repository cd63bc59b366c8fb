// Package tokens estimates prompt sizes with a tiktoken encoding.
package tokens

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"

	"programmer/pkg/llm"
)

// Per-message framing overhead and the flat charge for an attached image.
// Both follow OpenAI's published accounting and are approximations for
// other providers.
const (
	messageOverhead = 4
	replyPriming    = 3
	imageTokens     = 765
)

// Counter counts tokens. Every supported provider is approximated with the
// GPT-4 encoding.
type Counter struct {
	codec tokenizer.Codec
	model string
}

// NewCounter creates a counter for model.
func NewCounter(model string) (*Counter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec for model %s: %w", model, err)
	}
	return &Counter{codec: codec, model: model}, nil
}

// Model returns the model the counter was created for.
func (c *Counter) Model() string { return c.model }

// Count returns the number of tokens in text, falling back to a four
// characters per token estimate if encoding fails.
func (c *Counter) Count(text string) int {
	if c == nil || c.codec == nil {
		return len(text) / 4
	}
	n, err := c.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return n
}

// CountMessages estimates the prompt tokens of msgs.
func (c *Counter) CountMessages(msgs []llm.Message) int {
	total := replyPriming
	for i := range msgs {
		m := &msgs[i]
		total += messageOverhead + c.Count(string(m.Role)) + c.Count(m.Text())
		for _, p := range m.Parts {
			if p.Type == llm.PartImageURL {
				total += imageTokens
			}
		}
		for _, call := range m.ToolCalls {
			total += c.Count(call.Function.Name) + c.Count(call.Function.Arguments)
		}
	}
	return total
}

// CountTools estimates the tokens taken by tool declarations.
func (c *Counter) CountTools(schemas []llm.ToolSchema) int {
	total := 0
	for _, s := range schemas {
		total += c.Count(s.Name) + c.Count(s.Description)
		if s.Parameters != nil {
			total += c.Count(fmt.Sprint(s.Parameters.AsMap()))
		}
	}
	return total
}
