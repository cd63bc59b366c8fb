// Package anthropic adapts the Anthropic Messages API to llm.Client.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"programmer/pkg/llm"
)

const defaultMaxTokens = 8192

// Client streams completions from Claude models.
type Client struct {
	client anthropic.Client
	model  anthropic.Model
}

// New creates a client for model using apiKey.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: anthropic.NewClient(opts...),
		model:  anthropic.Model(model),
	}
}

func (c *Client) Model() string {
	return string(c.model)
}

// Complete streams the reply, forwarding text deltas, and returns the accumulated message.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Message, error) {
	system, messages, err := convertMessages(req.Messages)
	if err != nil {
		return llm.Message{}, llm.NewError(llm.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
		params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	message := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := message.Accumulate(event); err != nil {
			return llm.Message{}, llm.Classify("anthropic", fmt.Errorf("failed to accumulate stream: %w", err))
		}
		if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if text, ok := delta.Delta.AsAny().(anthropic.TextDelta); ok {
				req.Delta(text.Text)
			}
		}
	}
	if err := stream.Err(); err != nil {
		return llm.Message{}, llm.Classify("anthropic", err)
	}
	if len(message.Content) == 0 {
		return llm.Message{}, llm.NewError(llm.ErrorTypeEmptyResponse, "received empty response from Claude API")
	}

	var text strings.Builder
	var calls []llm.ToolCall
	for i := range message.Content {
		block := &message.Content[i]
		switch block.Type {
		case "text":
			text.WriteString(block.AsText().Text)
		case "tool_use":
			use := block.AsToolUse()
			args := string(use.Input)
			if args == "" {
				args = "{}"
			}
			calls = append(calls, llm.Call(use.ID, use.Name, args))
		}
	}
	return llm.NewAssistantMessage(text.String(), calls), nil
}

// convertMessages extracts system text and folds tool results into user turns,
// merging consecutive same-role messages so roles strictly alternate.
func convertMessages(msgs []llm.Message) (string, []anthropic.MessageParam, error) {
	var systemParts []string
	var out []anthropic.MessageParam
	var pendingRole anthropic.MessageParamRole
	var pending []anthropic.ContentBlockParamUnion

	flush := func() {
		if len(pending) == 0 {
			return
		}
		if pendingRole == anthropic.MessageParamRoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(pending...))
		} else {
			out = append(out, anthropic.NewUserMessage(pending...))
		}
		pending = nil
	}
	push := func(role anthropic.MessageParamRole, blocks ...anthropic.ContentBlockParamUnion) {
		if len(blocks) == 0 {
			return
		}
		if role != pendingRole {
			flush()
			pendingRole = role
		}
		pending = append(pending, blocks...)
	}

	for i := range msgs {
		msg := &msgs[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Text())
		case llm.RoleUser:
			blocks, err := userBlocks(msg)
			if err != nil {
				return "", nil, err
			}
			push(anthropic.MessageParamRoleUser, blocks...)
		case llm.RoleTool:
			push(anthropic.MessageParamRoleUser, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Text(), false))
		case llm.RoleAssistant:
			var blocks []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Content))
			}
			for _, call := range msg.ToolCalls {
				input := json.RawMessage(call.Function.Arguments)
				if !json.Valid(input) {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(call.ID, input, call.Function.Name))
			}
			push(anthropic.MessageParamRoleAssistant, blocks...)
		default:
			return "", nil, fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}
	flush()

	if len(out) == 0 {
		return "", nil, fmt.Errorf("must have at least one non-system message")
	}
	return strings.Join(systemParts, "\n\n"), out, nil
}

func userBlocks(msg *llm.Message) ([]anthropic.ContentBlockParamUnion, error) {
	if len(msg.Parts) == 0 {
		if msg.Content == "" {
			return nil, nil
		}
		return []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)}, nil
	}
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.Parts))
	for _, part := range msg.Parts {
		switch part.Type {
		case llm.PartText:
			blocks = append(blocks, anthropic.NewTextBlock(part.Text))
		case llm.PartImageURL:
			if part.ImageURL == nil {
				continue
			}
			mediaType, data, err := llm.ParseDataURL(part.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(mediaType, data))
		}
	}
	return blocks, nil
}

func convertTools(schemas []llm.ToolSchema) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for i := range schemas {
		schema := &schemas[i]
		var properties any
		var required []string
		if schema.Parameters != nil {
			props := make(map[string]any, len(schema.Parameters.Properties))
			for name, p := range schema.Parameters.Properties {
				props[name] = p.AsMap()
			}
			properties = props
			required = schema.Parameters.Required
		}
		tool := anthropic.ToolUnionParamOfTool(anthropic.ToolInputSchemaParam{
			Properties: properties,
			Required:   required,
		}, schema.Name)
		if tool.OfTool != nil && schema.Description != "" {
			tool.OfTool.Description = anthropic.String(schema.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}
