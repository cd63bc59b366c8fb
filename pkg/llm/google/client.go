// Package google adapts the Gemini API (google.golang.org/genai) to llm.Client.
package google

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"google.golang.org/genai"

	"programmer/pkg/llm"
)

// Client calls Gemini models. The underlying SDK client is created lazily on first use.
type Client struct {
	client *genai.Client
	apiKey string
	model  string
	mu     sync.Mutex
}

func New(apiKey, model string) *Client {
	return &Client{apiKey: apiKey, model: model}
}

func (g *Client) Model() string {
	return g.model
}

func (g *Client) sdk(ctx context.Context) (*genai.Client, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.client != nil {
		return g.client, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  g.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, llm.Classify("gemini", fmt.Errorf("failed to create Gemini client: %w", err))
	}
	g.client = client
	return client, nil
}

// Complete sends one request. Gemini replies are delivered to OnDelta in a single piece.
//
//nolint:gocritic // CompletionRequest passed by value to match the interface
func (g *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Message, error) {
	client, err := g.sdk(ctx)
	if err != nil {
		return llm.Message{}, err
	}

	contents, system, err := convertMessages(req.Messages)
	if err != nil {
		return llm.Message{}, llm.NewError(llm.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}

	temperature := float32(req.Temperature)
	config := &genai.GenerateContentConfig{Temperature: &temperature}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: convertTools(req.Tools)}}
	}

	result, err := client.Models.GenerateContent(ctx, g.model, contents, config)
	if err != nil {
		return llm.Message{}, llm.Classify("gemini", err)
	}
	if result == nil {
		return llm.Message{}, llm.NewError(llm.ErrorTypeEmptyResponse, "empty response from Gemini API")
	}

	text := result.Text()
	req.Delta(text)

	var calls []llm.ToolCall
	for _, fc := range result.FunctionCalls() {
		if fc == nil {
			continue
		}
		args, err := json.Marshal(fc.Args)
		if err != nil || fc.Args == nil {
			args = []byte("{}")
		}
		id := fc.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		calls = append(calls, llm.Call(id, fc.Name, string(args)))
	}
	return llm.NewAssistantMessage(text, calls), nil
}

func convertMessages(msgs []llm.Message) ([]*genai.Content, string, error) {
	var systemParts []string
	var contents []*genai.Content
	callNames := make(map[string]string)

	for i := range msgs {
		msg := &msgs[i]
		switch msg.Role {
		case llm.RoleSystem:
			systemParts = append(systemParts, msg.Text())
		case llm.RoleAssistant:
			var parts []*genai.Part
			if msg.Content != "" {
				parts = append(parts, &genai.Part{Text: msg.Content})
			}
			for _, call := range msg.ToolCalls {
				callNames[call.ID] = call.Function.Name
				args := map[string]any{}
				_ = json.Unmarshal([]byte(call.Function.Arguments), &args)
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Function.Name,
					Args: args,
				}})
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: string(genai.RoleModel), Parts: parts})
			}
		case llm.RoleTool:
			contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: []*genai.Part{{
				FunctionResponse: &genai.FunctionResponse{
					ID:       msg.ToolCallID,
					Name:     callNames[msg.ToolCallID],
					Response: map[string]any{"output": msg.Text()},
				},
			}}})
		case llm.RoleUser:
			parts, err := userParts(msg)
			if err != nil {
				return nil, "", err
			}
			if len(parts) > 0 {
				contents = append(contents, &genai.Content{Role: string(genai.RoleUser), Parts: parts})
			}
		default:
			return nil, "", fmt.Errorf("unsupported message role: %s", msg.Role)
		}
	}
	return contents, strings.Join(systemParts, "\n\n"), nil
}

func userParts(msg *llm.Message) ([]*genai.Part, error) {
	if len(msg.Parts) == 0 {
		if msg.Content == "" {
			return nil, nil
		}
		return []*genai.Part{{Text: msg.Content}}, nil
	}
	var parts []*genai.Part
	for _, p := range msg.Parts {
		switch p.Type {
		case llm.PartText:
			parts = append(parts, &genai.Part{Text: p.Text})
		case llm.PartImageURL:
			if p.ImageURL == nil {
				continue
			}
			mediaType, encoded, err := llm.ParseDataURL(p.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			data, err := base64.StdEncoding.DecodeString(encoded)
			if err != nil {
				return nil, fmt.Errorf("invalid image data: %w", err)
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: mediaType, Data: data}})
		}
	}
	return parts, nil
}

func convertTools(schemas []llm.ToolSchema) []*genai.FunctionDeclaration {
	decls := make([]*genai.FunctionDeclaration, 0, len(schemas))
	for i := range schemas {
		s := &schemas[i]
		decl := &genai.FunctionDeclaration{Name: s.Name, Description: s.Description}
		if s.Parameters != nil && len(s.Parameters.Properties) > 0 {
			decl.Parameters = convertSchema(s.Parameters)
		}
		decls = append(decls, decl)
	}
	return decls
}

func convertSchema(s *llm.Schema) *genai.Schema {
	out := &genai.Schema{Description: s.Description}
	switch s.Type {
	case "string":
		out.Type = genai.TypeString
	case "number":
		out.Type = genai.TypeNumber
	case "integer":
		out.Type = genai.TypeInteger
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		if s.Items != nil {
			out.Items = convertSchema(s.Items)
		}
	case "object":
		out.Type = genai.TypeObject
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for name, p := range s.Properties {
			out.Properties[name] = convertSchema(p)
		}
		out.Required = s.Required
	default:
		out.Type = genai.TypeString
	}
	if len(s.Enum) > 0 {
		out.Enum = s.Enum
	}
	return out
}
