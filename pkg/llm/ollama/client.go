// Package ollama adapts a local Ollama server to llm.Client.
package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"programmer/pkg/llm"
)

const DefaultHost = "http://localhost:11434"

// Client streams chat replies from an Ollama server.
type Client struct {
	client *api.Client
	model  string
}

// New creates a client for model served at hostURL (DefaultHost when empty or invalid).
func New(hostURL, model string) *Client {
	if hostURL == "" {
		hostURL = DefaultHost
	}
	parsed, err := url.Parse(hostURL)
	if err != nil {
		parsed, _ = url.Parse(DefaultHost)
	}
	return &Client{client: api.NewClient(parsed, http.DefaultClient), model: model}
}

func (o *Client) Model() string {
	return o.model
}

// The Ollama message and tool types are populated through their JSON form,
// which is stable across server releases.
type wireToolCall struct {
	ID       string `json:"id,omitempty"`
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Images     []string       `json:"images,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
	ToolName   string         `json:"tool_name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Parameters  map[string]any `json:"parameters"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
	} `json:"function"`
}

//nolint:gocritic // CompletionRequest passed by value to match the interface
func (o *Client) Complete(ctx context.Context, req llm.CompletionRequest) (llm.Message, error) {
	wire, err := convertMessages(req.Messages)
	if err != nil {
		return llm.Message{}, llm.NewError(llm.ErrorTypeBadPrompt, fmt.Sprintf("message conversion error: %v", err))
	}
	var messages []api.Message
	if err := bridge(wire, &messages); err != nil {
		return llm.Message{}, llm.NewError(llm.ErrorTypeBadPrompt, err.Error())
	}

	stream := true
	chat := &api.ChatRequest{
		Model:    o.model,
		Messages: messages,
		Stream:   &stream,
		Options:  map[string]any{"temperature": req.Temperature},
	}
	if req.MaxTokens > 0 {
		chat.Options["num_predict"] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		var tools api.Tools
		if err := bridge(convertTools(req.Tools), &tools); err != nil {
			return llm.Message{}, llm.NewError(llm.ErrorTypeBadPrompt, err.Error())
		}
		chat.Tools = tools
	}

	var content strings.Builder
	var calls []llm.ToolCall
	err = o.client.Chat(ctx, chat, func(resp api.ChatResponse) error {
		content.WriteString(resp.Message.Content)
		req.Delta(resp.Message.Content)
		if len(resp.Message.ToolCalls) == 0 {
			return nil
		}
		var got []wireToolCall
		if err := bridge(resp.Message.ToolCalls, &got); err != nil {
			return err
		}
		for _, tc := range got {
			id := tc.ID
			if id == "" {
				id = fmt.Sprintf("call_%d", len(calls))
			}
			args := string(tc.Function.Arguments)
			if args == "" || args == "null" {
				args = "{}"
			}
			calls = append(calls, llm.Call(id, tc.Function.Name, args))
		}
		return nil
	})
	if err != nil {
		return llm.Message{}, llm.Classify("ollama", err)
	}
	return llm.NewAssistantMessage(content.String(), calls), nil
}

func bridge(from, to any) error {
	data, err := json.Marshal(from)
	if err != nil {
		return fmt.Errorf("failed to encode ollama payload: %w", err)
	}
	if err := json.Unmarshal(data, to); err != nil {
		return fmt.Errorf("failed to decode ollama payload: %w", err)
	}
	return nil
}

func convertMessages(msgs []llm.Message) ([]wireMessage, error) {
	if len(msgs) == 0 {
		return nil, fmt.Errorf("message list cannot be empty")
	}
	callNames := make(map[string]string)
	out := make([]wireMessage, 0, len(msgs))
	for i := range msgs {
		msg := &msgs[i]
		w := wireMessage{Role: string(msg.Role), Content: msg.Text()}
		for _, call := range msg.ToolCalls {
			callNames[call.ID] = call.Function.Name
			tc := wireToolCall{ID: call.ID}
			tc.Function.Name = call.Function.Name
			tc.Function.Arguments = json.RawMessage(call.Function.Arguments)
			if !json.Valid(tc.Function.Arguments) {
				tc.Function.Arguments = json.RawMessage("{}")
			}
			w.ToolCalls = append(w.ToolCalls, tc)
		}
		if msg.Role == llm.RoleTool {
			w.ToolCallID = msg.ToolCallID
			w.ToolName = callNames[msg.ToolCallID]
		}
		for _, p := range msg.Parts {
			if p.Type != llm.PartImageURL || p.ImageURL == nil {
				continue
			}
			_, encoded, err := llm.ParseDataURL(p.ImageURL.URL)
			if err != nil {
				return nil, err
			}
			w.Images = append(w.Images, encoded)
		}
		out = append(out, w)
	}
	return out, nil
}

func convertTools(schemas []llm.ToolSchema) []wireTool {
	out := make([]wireTool, 0, len(schemas))
	for i := range schemas {
		s := &schemas[i]
		t := wireTool{Type: "function"}
		t.Function.Name = s.Name
		t.Function.Description = s.Description
		t.Function.Parameters = map[string]any{"type": "object", "properties": map[string]any{}}
		if s.Parameters != nil {
			t.Function.Parameters = s.Parameters.AsMap()
		}
		out = append(out, t)
	}
	return out
}
