// Package tools exposes callable tools to the agents: a builtin registry,
// a bridge to external MCP servers, and a mux that routes invocations to
// whichever side owns the name.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned when no registered tool matches the name.
var ErrUnknownTool = errors.New("unknown tool")

// ExecutionError wraps a failed tool invocation. Tool failures are recorded
// per call and never abort the surrounding turn.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Definition describes one callable tool. InputSchema follows JSON schema
// with "properties" and "required" keys.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// Invoker executes named tools.
type Invoker interface {
	List() []Definition
	Invoke(ctx context.Context, name string, params map[string]any) (json.RawMessage, error)
}
