package tools

import (
	"errors"
	"fmt"
)

// Sentinels matched with errors.Is.
var (
	ErrToolNotFound  = errors.New("tool not found")
	ErrArgumentParse = errors.New("argument parse error")
)

// SchemaError reports a tool declaration that cannot be registered.
type SchemaError struct {
	Tool   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("invalid schema for tool %q: %s", e.Tool, e.Reason)
}

// ToolNotFoundError reports a call to an unregistered tool.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.Name)
}

func (e *ToolNotFoundError) Unwrap() error {
	return ErrToolNotFound
}

// ArgumentParseError reports arguments that are not a JSON object.
type ArgumentParseError struct {
	Err  error
	Tool string
}

func (e *ArgumentParseError) Error() string {
	return fmt.Sprintf("failed to parse arguments for %s: %v", e.Tool, e.Err)
}

func (e *ArgumentParseError) Unwrap() error {
	return e.Err
}

// Is matches ErrArgumentParse.
func (e *ArgumentParseError) Is(target error) bool {
	return target == ErrArgumentParse
}

// ArgumentError reports a missing or mistyped argument.
type ArgumentError struct {
	Name   string
	Reason string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("argument %q %s", e.Name, e.Reason)
}
