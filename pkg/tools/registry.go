package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"programmer/pkg/llm"
	"programmer/pkg/logx"
)

// Status values reported in an Outcome.
const (
	StatusOK           = "ok"
	StatusError        = "error"
	StatusNotFound     = "not_found"
	StatusBadArguments = "bad_arguments"
	StatusPanic        = "panic"
)

// Outcome describes one dispatched tool call.
type Outcome struct {
	Err      error
	Tool     string
	CallID   string
	Status   string
	Messages []llm.Message
	Duration time.Duration
}

// Registry holds the tools available for one step. It is not safe for
// concurrent registration; dispatch is read-only.
type Registry struct {
	tools  map[string]Tool
	logger *logx.Logger
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tools:  make(map[string]Tool),
		logger: logx.NewLogger("tools"),
	}
}

// Register validates and adds tool.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return &SchemaError{Reason: "tool cannot be nil"}
	}
	def := tool.Definition()
	if err := validateDefinition(def); err != nil {
		return err
	}
	if _, exists := r.tools[def.Name]; exists {
		return &SchemaError{Tool: def.Name, Reason: "already registered"}
	}
	r.tools[def.Name] = tool
	r.order = append(r.order, def.Name)
	return nil
}

// MustRegister registers tools and panics on a schema error, which is a
// programming mistake rather than a runtime condition.
func (r *Registry) MustRegister(tools ...Tool) *Registry {
	for _, tool := range tools {
		if err := r.Register(tool); err != nil {
			panic(err)
		}
	}
	return r
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return &SchemaError{Reason: "name cannot be empty"}
	}
	if def.Description == "" {
		return &SchemaError{Tool: def.Name, Reason: "description cannot be empty"}
	}
	if def.InputSchema == nil || def.InputSchema.Type != "object" {
		return &SchemaError{Tool: def.Name, Reason: "input schema must be an object"}
	}
	return validateProperties(def.Name, "", def.InputSchema)
}

func validateProperties(tool, prefix string, schema *llm.Schema) error {
	for _, name := range schema.Required {
		prop, ok := schema.Properties[name]
		if !ok {
			return &SchemaError{Tool: tool, Reason: fmt.Sprintf("required parameter %s%s is not declared", prefix, name)}
		}
		if prop.Description == "" {
			return &SchemaError{Tool: tool, Reason: fmt.Sprintf("required parameter %s%s has no description", prefix, name)}
		}
	}
	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		prop := schema.Properties[name]
		switch prop.Type {
		case "string", "integer", "number", "boolean":
		case "object":
			if err := validateProperties(tool, prefix+name+".", prop); err != nil {
				return err
			}
		case "array":
			if prop.Items == nil {
				return &SchemaError{Tool: tool, Reason: fmt.Sprintf("array parameter %s%s has no items", prefix, name)}
			}
			if prop.Items.Type == "object" {
				if err := validateProperties(tool, prefix+name+"[].", prop.Items); err != nil {
					return err
				}
			}
		default:
			return &SchemaError{Tool: tool, Reason: fmt.Sprintf("parameter %s%s has unsupported type %q", prefix, name, prop.Type)}
		}
	}
	return nil
}

// Get returns a registered tool.
func (r *Registry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Definitions returns the registered definitions in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].Definition())
	}
	return defs
}

// Schemas returns the definitions in the form model clients accept.
func (r *Registry) Schemas() []llm.ToolSchema {
	defs := r.Definitions()
	schemas := make([]llm.ToolSchema, 0, len(defs))
	for _, def := range defs {
		schemas = append(schemas, def.Schema())
	}
	return schemas
}

// Dispatch runs call and returns its tool message, followed by the tool's
// secondary message if it produced one. Failures never escape: they become
// "error: ..." tool results.
func (r *Registry) Dispatch(ctx context.Context, call llm.ToolCall) []llm.Message {
	return r.Invoke(ctx, call).Messages
}

// Invoke is Dispatch with the outcome details kept for observers.
func (r *Registry) Invoke(ctx context.Context, call llm.ToolCall) Outcome {
	start := time.Now()
	out := Outcome{Tool: call.Function.Name, CallID: call.ID}

	result, status, err := r.run(ctx, call)
	out.Status = status
	out.Err = err
	if err != nil {
		logx.Debug(ctx, "tools", "%s failed (%s): %v", call.Function.Name, status, err)
		out.Messages = []llm.Message{llm.NewToolMessage(call.ID, "error: "+err.Error())}
	} else {
		out.Messages = []llm.Message{llm.NewToolMessage(call.ID, result.Content)}
		if result.Secondary != nil {
			out.Messages = append(out.Messages, *result.Secondary)
		}
	}
	out.Duration = time.Since(start)
	return out
}

func (r *Registry) run(ctx context.Context, call llm.ToolCall) (result Result, status string, err error) {
	tool, ok := r.tools[call.Function.Name]
	if !ok {
		return Result{}, StatusNotFound, &ToolNotFoundError{Name: call.Function.Name}
	}

	args, err := parseArguments(call.Function.Arguments)
	if err != nil {
		return Result{}, StatusBadArguments, &ArgumentParseError{Tool: call.Function.Name, Err: err}
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool %s panicked: %v\n%s", call.Function.Name, rec, debug.Stack())
			result, status, err = Result{}, StatusPanic, fmt.Errorf("tool %s panicked: %v", call.Function.Name, rec)
		}
	}()

	result, err = tool.Exec(ctx, args)
	if err != nil {
		var argErr *ArgumentError
		if errors.As(err, &argErr) {
			return Result{}, StatusBadArguments, err
		}
		return Result{}, StatusError, err
	}
	return result, StatusOK, nil
}

// parseArguments decodes a JSON object; empty input means no arguments.
func parseArguments(raw string) (map[string]any, error) {
	if len(bytes.TrimSpace([]byte(raw))) == 0 {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	if args == nil {
		return nil, errors.New("arguments must be a JSON object")
	}
	return args, nil
}
