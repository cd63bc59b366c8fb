package anthropic

import (
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programmer/pkg/llm"
)

func TestConvertMessagesAlternates(t *testing.T) {
	msgs := []llm.Message{
		llm.NewSystemMessage("you are a programmer"),
		llm.NewUserMessage("open files:"),
		llm.NewUserMessage("fix main.go"),
		llm.NewAssistantMessage("", []llm.ToolCall{
			llm.Call("toolu_1", "open_file", `{"path":"main.go","start_line":1}`),
			llm.Call("toolu_2", "list_files", `not json`),
		}),
		llm.NewToolMessage("toolu_1", "success"),
		llm.NewToolMessage("toolu_2", "[]"),
		llm.NewImageMessage("screenshot", llm.DataURL("image/png", []byte{1, 2, 3})),
	}

	system, out, err := convertMessages(msgs)
	require.NoError(t, err)
	assert.Equal(t, "you are a programmer", system)
	require.Len(t, out, 3)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[0].Role)
	assert.Len(t, out[0].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleAssistant, out[1].Role)
	assert.Len(t, out[1].Content, 2)
	assert.Equal(t, anthropic.MessageParamRoleUser, out[2].Role)
	// two tool results, caption and image
	assert.Len(t, out[2].Content, 4)
}

func TestConvertMessagesRequiresConversation(t *testing.T) {
	_, _, err := convertMessages([]llm.Message{llm.NewSystemMessage("only system")})
	assert.Error(t, err)
}

func TestConvertTools(t *testing.T) {
	tools := convertTools([]llm.ToolSchema{{
		Name:        "open_file",
		Description: "Open a file",
		Parameters: &llm.Schema{
			Type: "object",
			Properties: map[string]*llm.Schema{
				"path": {Type: "string", Description: "path"},
			},
			Required: []string{"path"},
		},
	}})
	require.Len(t, tools, 1)
	require.NotNil(t, tools[0].OfTool)
	assert.Equal(t, "open_file", tools[0].OfTool.Name)
	assert.Equal(t, []string{"path"}, tools[0].OfTool.InputSchema.Required)
}
