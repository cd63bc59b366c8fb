// Package openai adapts the OpenAI chat completions API to llm.Client.
package openai

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"programmer/pkg/llm"
)

// Client streams chat completions from OpenAI-compatible endpoints.
type Client struct {
	client openai.Client
	model  string
}

// New creates a client for model. Extra options (for example option.WithBaseURL)
// point it at compatible servers.
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		client: openai.NewClient(opts...),
		model:  model,
	}
}

func (c *Client) Model() string {
	return c.model
}

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (c *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Message, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    convertMessages(req.Messages),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		params.Tools = convertTools(req.Tools)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := openai.ChatCompletionAccumulator{}
	for stream.Next() {
		chunk := stream.Current()
		acc.AddChunk(chunk)
		if len(chunk.Choices) > 0 {
			req.Delta(chunk.Choices[0].Delta.Content)
		}
	}
	if err := stream.Err(); err != nil {
		return llm.Message{}, llm.Classify("openai", err)
	}
	if len(acc.Choices) == 0 {
		return llm.Message{}, llm.NewError(llm.ErrorTypeEmptyResponse, "empty response from OpenAI")
	}

	reply := acc.Choices[0].Message
	var calls []llm.ToolCall
	for i := range reply.ToolCalls {
		tc := &reply.ToolCalls[i]
		calls = append(calls, llm.Call(tc.ID, tc.Function.Name, tc.Function.Arguments))
	}
	return llm.NewAssistantMessage(reply.Content, calls), nil
}

func convertMessages(msgs []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for i := range msgs {
		msg := &msgs[i]
		switch msg.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(msg.Text()))
		case llm.RoleTool:
			out = append(out, openai.ToolMessage(msg.Text(), msg.ToolCallID))
		case llm.RoleAssistant:
			asst := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				asst.Content.OfString = openai.String(msg.Content)
			}
			for _, call := range msg.ToolCalls {
				asst.ToolCalls = append(asst.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: call.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      call.Function.Name,
						Arguments: call.Function.Arguments,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &asst})
		default:
			out = append(out, userMessage(msg))
		}
	}
	return out
}

func userMessage(msg *llm.Message) openai.ChatCompletionMessageParamUnion {
	if len(msg.Parts) == 0 {
		return openai.UserMessage(msg.Content)
	}
	parts := make([]openai.ChatCompletionContentPartUnionParam, 0, len(msg.Parts))
	for _, p := range msg.Parts {
		switch p.Type {
		case llm.PartText:
			parts = append(parts, openai.TextContentPart(p.Text))
		case llm.PartImageURL:
			if p.ImageURL != nil {
				parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: p.ImageURL.URL,
				}))
			}
		}
	}
	return openai.UserMessage(parts)
}

func convertTools(schemas []llm.ToolSchema) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(schemas))
	for i := range schemas {
		schema := &schemas[i]
		params := openai.FunctionParameters{"type": "object", "properties": map[string]any{}}
		if schema.Parameters != nil {
			params = openai.FunctionParameters(schema.Parameters.AsMap())
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        schema.Name,
				Description: openai.String(schema.Description),
				Parameters:  params,
			},
		})
	}
	return tools
}
