// Package llm defines the provider-neutral message model and client interface
// the turn engine talks to. Provider adapters live in subpackages.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType distinguishes structured content parts.
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ImageURL carries an image reference, usually a data: URL.
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one element of structured message content.
type ContentPart struct {
	ImageURL *ImageURL `json:"image_url,omitempty"`
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
}

// FunctionCall names the tool and carries the raw JSON argument string the model produced.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is a model request to invoke a tool.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message is one conversation entry. Values are treated as immutable once built.
// Content is plain text; Parts, when non-empty, replaces it with structured content.
type Message struct {
	Role       Role
	Content    string
	Parts      []ContentPart
	ToolCalls  []ToolCall
	ToolCallID string
}

type wireMessage struct {
	Role       Role            `json:"role"`
	Content    json.RawMessage `json:"content,omitempty"`
	ToolCalls  []ToolCall      `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// MarshalJSON emits the wire shape {role, content?, tool_calls?, tool_call_id?}
// with content as a string or a list of parts.
func (m Message) MarshalJSON() ([]byte, error) {
	w := wireMessage{Role: m.Role, ToolCalls: m.ToolCalls, ToolCallID: m.ToolCallID}
	var err error
	switch {
	case len(m.Parts) > 0:
		w.Content, err = json.Marshal(m.Parts)
	case m.Content != "":
		w.Content, err = json.Marshal(m.Content)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message content: %w", err)
	}
	return json.Marshal(w)
}

// UnmarshalJSON accepts content as either a string or a list of parts.
func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*m = Message{Role: w.Role, ToolCalls: w.ToolCalls, ToolCallID: w.ToolCallID}

	raw := bytes.TrimSpace(w.Content)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
	case raw[0] == '"':
		return json.Unmarshal(raw, &m.Content)
	case raw[0] == '[':
		return json.Unmarshal(raw, &m.Parts)
	default:
		return fmt.Errorf("unsupported message content: %s", raw)
	}
	return nil
}

// Text returns the textual content, joining text parts when content is structured.
func (m Message) Text() string {
	if len(m.Parts) == 0 {
		return m.Content
	}
	var texts []string
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasToolCalls reports whether the message requests any tool invocations.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

func NewAssistantMessage(content string, calls []ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage builds the result message answering the tool call with id callID.
func NewToolMessage(callID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: callID}
}

// NewImageMessage builds a user message carrying a caption and an image URL.
func NewImageMessage(caption, url string) Message {
	parts := make([]ContentPart, 0, 2)
	if caption != "" {
		parts = append(parts, ContentPart{Type: PartText, Text: caption})
	}
	parts = append(parts, ContentPart{Type: PartImageURL, ImageURL: &ImageURL{URL: url}})
	return Message{Role: RoleUser, Parts: parts}
}

// Schema is the JSON-schema subset tools declare their parameters with.
type Schema struct {
	Items       *Schema            `json:"items,omitempty"`
	Properties  map[string]*Schema `json:"properties,omitempty"`
	Type        string             `json:"type"`
	Description string             `json:"description,omitempty"`
	Enum        []string           `json:"enum,omitempty"`
	Required    []string           `json:"required,omitempty"`
}

// AsMap renders the schema as a generic JSON object.
func (s *Schema) AsMap() map[string]any {
	if s == nil {
		return nil
	}
	out := map[string]any{"type": s.Type}
	if s.Description != "" {
		out["description"] = s.Description
	}
	if len(s.Enum) > 0 {
		out["enum"] = s.Enum
	}
	if s.Items != nil {
		out["items"] = s.Items.AsMap()
	}
	if s.Type == "object" {
		props := make(map[string]any, len(s.Properties))
		for name, p := range s.Properties {
			props[name] = p.AsMap()
		}
		out["properties"] = props
		if len(s.Required) > 0 {
			out["required"] = s.Required
		}
	}
	return out
}

// ToolSchema is the model-facing declaration of one tool.
type ToolSchema struct {
	Parameters  *Schema `json:"parameters"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
}

// CompletionRequest is one model invocation.
type CompletionRequest struct {
	// OnDelta, when set, receives streamed assistant text as it arrives.
	OnDelta     func(delta string)
	Messages    []Message
	Tools       []ToolSchema
	Temperature float64
	MaxTokens   int
}

// Delta forwards a streamed fragment to OnDelta when one is registered.
func (r *CompletionRequest) Delta(s string) {
	if r.OnDelta != nil && s != "" {
		r.OnDelta(s)
	}
}

// Client calls a language model with messages and tools and returns the final assistant message.
type Client interface {
	Complete(ctx context.Context, req CompletionRequest) (Message, error)
	Model() string
}
