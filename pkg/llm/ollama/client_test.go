package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programmer/pkg/llm"
)

func TestConvertMessages(t *testing.T) {
	msgs := []llm.Message{
		llm.NewUserMessage("hi"),
		llm.NewAssistantMessage("", []llm.ToolCall{llm.Call("c1", "view_image", `{"path":"x.png"}`)}),
		llm.NewToolMessage("c1", "success"),
		llm.NewImageMessage("image", "data:image/png;base64,AQID"),
	}
	out, err := convertMessages(msgs)
	require.NoError(t, err)
	require.Len(t, out, 4)
	assert.JSONEq(t, `{"path":"x.png"}`, string(out[1].ToolCalls[0].Function.Arguments))
	assert.Equal(t, "view_image", out[2].ToolName)
	assert.Equal(t, []string{"AQID"}, out[3].Images)
	assert.Equal(t, "image", out[3].Content)

	_, err = convertMessages(nil)
	assert.Error(t, err)
}

func TestCompleteStreamsFromServer(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "qwen", body["model"])

		w.Header().Set("Content-Type", "application/x-ndjson")
		enc := json.NewEncoder(w)
		_ = enc.Encode(map[string]any{"model": "qwen", "message": map[string]any{"role": "assistant", "content": "Let me "}, "done": false})
		_ = enc.Encode(map[string]any{"model": "qwen", "message": map[string]any{
			"role": "assistant", "content": "look.",
			"tool_calls": []any{map[string]any{"function": map[string]any{
				"name": "list_files", "arguments": map[string]any{"path": "."},
			}}},
		}, "done": false})
		_ = enc.Encode(map[string]any{"model": "qwen", "message": map[string]any{"role": "assistant", "content": ""}, "done": true, "done_reason": "stop"})
	}))
	defer server.Close()

	client := New(server.URL, "qwen")
	var streamed string
	msg, err := client.Complete(context.Background(), llm.CompletionRequest{
		Messages: []llm.Message{llm.NewUserMessage("list files")},
		Tools:    []llm.ToolSchema{{Name: "list_files", Description: "List"}},
		OnDelta:  func(s string) { streamed += s },
	})
	require.NoError(t, err)
	assert.Equal(t, "Let me look.", msg.Content)
	assert.Equal(t, "Let me look.", streamed)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "list_files", msg.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"path":"."}`, msg.ToolCalls[0].Function.Arguments)
	assert.Equal(t, "call_0", msg.ToolCalls[0].ID)
}
