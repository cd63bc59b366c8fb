package llm

import (
	"context"
	"fmt"
	"sync"
)

// ScriptedClient replays a fixed sequence of replies. It is used by tests and
// dry runs in place of a real provider.
type ScriptedClient struct {
	replies  []ScriptedReply
	requests []CompletionRequest
	mu       sync.Mutex
}

// ScriptedReply is either a message or an error.
type ScriptedReply struct {
	Err     error
	Message Message
}

// NewScriptedClient creates a client that returns replies in order.
func NewScriptedClient(replies ...ScriptedReply) *ScriptedClient {
	return &ScriptedClient{replies: replies}
}

// Reply is a convenience for a successful assistant reply.
func Reply(content string, calls ...ToolCall) ScriptedReply {
	return ScriptedReply{Message: NewAssistantMessage(content, calls)}
}

// Call is a convenience for building a tool call.
func Call(id, name, arguments string) ToolCall {
	return ToolCall{ID: id, Type: "function", Function: FunctionCall{Name: name, Arguments: arguments}}
}

func (s *ScriptedClient) Complete(ctx context.Context, req CompletionRequest) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if len(s.replies) == 0 {
		return Message{}, NewError(ErrorTypeEmptyResponse, fmt.Sprintf("scripted client: no reply for request %d", len(s.requests)))
	}
	reply := s.replies[0]
	s.replies = s.replies[1:]
	if reply.Err != nil {
		return Message{}, reply.Err
	}
	req.Delta(reply.Message.Content)
	return reply.Message, nil
}

func (s *ScriptedClient) Model() string {
	return "scripted"
}

// Requests returns every request received so far.
func (s *ScriptedClient) Requests() []CompletionRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]CompletionRequest, len(s.requests))
	copy(out, s.requests)
	return out
}
