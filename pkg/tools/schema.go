// Package tools declares the tools a model may call, validates their schemas
// at registration, and dispatches tool calls into tool-result messages.
package tools

import (
	"context"

	"programmer/pkg/llm"
)

// Presence marks a parameter as required or optional.
type Presence bool

// Parameter presence.
const (
	Required Presence = true
	Optional Presence = false
)

// Definition is the declared shape of a tool.
type Definition struct {
	InputSchema *llm.Schema
	Name        string
	Description string
}

// Schema returns the provider-neutral schema handed to model clients.
func (d Definition) Schema() llm.ToolSchema {
	return llm.ToolSchema{Name: d.Name, Description: d.Description, Parameters: d.InputSchema}
}

// FunctionSchema renders the model-facing
// {type:"function", function:{name, description, parameters}} shape.
func (d Definition) FunctionSchema() map[string]any {
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        d.Name,
			"description": d.Description,
			"parameters":  d.InputSchema.AsMap(),
		},
	}
}

// Result is what a tool hands back: the text of the tool message and an
// optional message appended after it.
type Result struct {
	Secondary *llm.Message
	Content   string
}

// Text wraps plain content in a Result.
func Text(content string) Result {
	return Result{Content: content}
}

// Tool is one callable capability.
type Tool interface {
	Definition() Definition
	Exec(ctx context.Context, args map[string]any) (Result, error)
}

// Func adapts a definition and a function into a Tool.
type Func struct {
	Fn  func(ctx context.Context, args map[string]any) (Result, error)
	Def Definition
}

// Definition returns the tool definition.
func (f *Func) Definition() Definition { return f.Def }

// Exec calls the wrapped function.
func (f *Func) Exec(ctx context.Context, args map[string]any) (Result, error) {
	return f.Fn(ctx, args)
}

// Builder declares a tool's parameters.
//
//	def := tools.Define("open_file", "Open a file").
//		String("path", "Path to the file", tools.Required).
//		Integer("start_line", "First line to show, 1-indexed", tools.Required).
//		Build()
type Builder struct {
	def Definition
}

// Define starts a tool declaration.
func Define(name, description string) *Builder {
	return &Builder{def: Definition{
		Name:        name,
		Description: description,
		InputSchema: &llm.Schema{Type: "object", Properties: map[string]*llm.Schema{}},
	}}
}

func (b *Builder) param(name string, schema *llm.Schema, presence Presence) *Builder {
	b.def.InputSchema.Properties[name] = schema
	if presence == Required {
		b.def.InputSchema.Required = append(b.def.InputSchema.Required, name)
	}
	return b
}

// String adds a string parameter.
func (b *Builder) String(name, description string, presence Presence) *Builder {
	return b.param(name, StringProp(description), presence)
}

// Integer adds an integer parameter.
func (b *Builder) Integer(name, description string, presence Presence) *Builder {
	return b.param(name, IntegerProp(description), presence)
}

// Enum adds a string parameter restricted to values.
func (b *Builder) Enum(name, description string, values []string, presence Presence) *Builder {
	return b.param(name, &llm.Schema{Type: "string", Description: description, Enum: values}, presence)
}

// Array adds an array parameter whose elements follow items.
func (b *Builder) Array(name, description string, items *llm.Schema, presence Presence) *Builder {
	return b.param(name, &llm.Schema{Type: "array", Description: description, Items: items}, presence)
}

// Object adds an object parameter.
func (b *Builder) Object(name string, object *llm.Schema, presence Presence) *Builder {
	return b.param(name, object, presence)
}

// Build returns the finished definition.
func (b *Builder) Build() Definition {
	return b.def
}

// StringProp describes a string value.
func StringProp(description string) *llm.Schema {
	return &llm.Schema{Type: "string", Description: description}
}

// IntegerProp describes an integer value.
func IntegerProp(description string) *llm.Schema {
	return &llm.Schema{Type: "integer", Description: description}
}

// ObjectProp describes an object with the given properties; required names
// the properties that must be present.
func ObjectProp(description string, properties map[string]*llm.Schema, required ...string) *llm.Schema {
	return &llm.Schema{Type: "object", Description: description, Properties: properties, Required: required}
}
