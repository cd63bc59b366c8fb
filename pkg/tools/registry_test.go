package tools

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"programmer/pkg/llm"
)

func echoTool() Tool {
	return &Func{
		Def: Define("echo", "Echo the text back.").
			String("text", "Text to echo.", Required).
			Enum("mode", "How to echo.", []string{"plain", "loud"}, Optional).
			Build(),
		Fn: func(_ context.Context, args map[string]any) (Result, error) {
			text, err := StringArg(args, "text")
			if err != nil {
				return Result{}, err
			}
			return Text(text), nil
		},
	}
}

func TestRegisterRejectsBadSchemas(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
		want string
	}{
		{"empty name", Define("", "desc").Build(), "name cannot be empty"},
		{"no description", Define("x", "").Build(), "description cannot be empty"},
		{"undocumented required", Define("x", "desc").String("path", "", Required).Build(), "has no description"},
		{
			"undocumented nested required",
			Define("x", "desc").Array("items", "Items.", ObjectProp("Item.", map[string]*llm.Schema{
				"id": {Type: "integer"},
			}, "id"), Required).Build(),
			"items[].id has no description",
		},
		{"array without items", Define("x", "desc").Array("xs", "Xs.", nil, Optional).Build(), "has no items"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewRegistry().Register(&Func{Def: tt.def})
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestRegisterOptionalWithoutDescriptionIsAllowed(t *testing.T) {
	def := Define("x", "desc").String("hint", "", Optional).Build()
	assert.NoError(t, NewRegistry().Register(&Func{Def: def}))
}

func TestRegisterDuplicate(t *testing.T) {
	reg := NewRegistry().MustRegister(echoTool())
	var schemaErr *SchemaError
	require.ErrorAs(t, reg.Register(echoTool()), &schemaErr)
	assert.Panics(t, func() { reg.MustRegister(echoTool()) })
}

func TestFunctionSchemaShape(t *testing.T) {
	schema := echoTool().Definition().FunctionSchema()
	assert.Equal(t, map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        "echo",
			"description": "Echo the text back.",
			"parameters": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text": map[string]any{"type": "string", "description": "Text to echo."},
					"mode": map[string]any{"type": "string", "description": "How to echo.", "enum": []string{"plain", "loud"}},
				},
				"required": []string{"text"},
			},
		},
	}, schema)
}

func TestDispatch(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry().MustRegister(echoTool(),
		&Func{
			Def: Define("explode", "Panics.").Build(),
			Fn:  func(context.Context, map[string]any) (Result, error) { panic("kaboom") },
		},
		&Func{
			Def: Define("fail", "Fails.").Build(),
			Fn:  func(context.Context, map[string]any) (Result, error) { return Result{}, errors.New("disk full") },
		},
		&Func{
			Def: Define("attach", "Attaches.").Build(),
			Fn: func(context.Context, map[string]any) (Result, error) {
				msg := llm.NewUserMessage("attachment")
				return Result{Content: "success", Secondary: &msg}, nil
			},
		},
	)

	tests := []struct {
		name    string
		call    llm.ToolCall
		content string
		status  string
	}{
		{"ok", llm.Call("1", "echo", `{"text":"hi"}`), "hi", StatusOK},
		{"not found", llm.Call("2", "nope", `{}`), `error: tool "nope" not found`, StatusNotFound},
		{"bad json", llm.Call("3", "echo", `{"text":`), "error: failed to parse arguments for echo", StatusBadArguments},
		{"array args", llm.Call("4", "echo", `[1]`), "error: failed to parse arguments for echo", StatusBadArguments},
		{"missing arg", llm.Call("5", "echo", ``), `error: argument "text" is required`, StatusBadArguments},
		{"panic", llm.Call("6", "explode", `{}`), "error: tool explode panicked: kaboom", StatusPanic},
		{"error", llm.Call("7", "fail", `{}`), "error: disk full", StatusError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := reg.Invoke(ctx, tt.call)
			assert.Equal(t, tt.status, out.Status)
			require.Len(t, out.Messages, 1)
			msg := out.Messages[0]
			assert.Equal(t, llm.RoleTool, msg.Role)
			assert.Equal(t, tt.call.ID, msg.ToolCallID)
			assert.Contains(t, msg.Content, tt.content)
		})
	}

	notFound := reg.Invoke(ctx, llm.Call("8", "nope", ""))
	assert.True(t, errors.Is(notFound.Err, ErrToolNotFound))
	badArgs := reg.Invoke(ctx, llm.Call("9", "echo", "{"))
	assert.True(t, errors.Is(badArgs.Err, ErrArgumentParse))

	msgs := reg.Dispatch(ctx, llm.Call("10", "attach", ""))
	require.Len(t, msgs, 2)
	assert.Equal(t, "success", msgs[0].Content)
	assert.Equal(t, "attachment", msgs[1].Text())
}

func TestSchemasKeepRegistrationOrder(t *testing.T) {
	reg := NewRegistry().MustRegister(
		&Func{Def: Define("b", "B.").Build()},
		&Func{Def: Define("a", "A.").Build()},
	)
	assert.Equal(t, []string{"b", "a"}, reg.Names())
	schemas := reg.Schemas()
	require.Len(t, schemas, 2)
	assert.Equal(t, "b", schemas[0].Name)
	assert.Equal(t, "object", schemas[0].Parameters.Type)
}
