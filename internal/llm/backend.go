// Package llm abstracts the reasoning backend. The engine talks to a
// Backend; the Anthropic adapter and the circuit breaker wrapper both
// implement it.
package llm

import "context"

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID     string
	Name   string
	Params map[string]any
}

// ToolOutcome answers a prior ToolCall in the next request.
type ToolOutcome struct {
	CallID  string
	Content string
	IsError bool
}

// ToolDef describes a callable tool to the model. InputSchema is a JSON
// schema object with "properties" and "required" keys.
type ToolDef struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Message is one conversation entry. Assistant messages may carry tool
// calls; user messages may carry the outcomes answering them.
type Message struct {
	Role     string
	Content  string
	Calls    []ToolCall
	Outcomes []ToolOutcome
}

// Request is a single generation request.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolDef
	MaxTokens int
}

// Reply is the model's answer: text, requested tool calls, or both.
type Reply struct {
	Text       string
	Calls      []ToolCall
	StopReason string
}

// Backend generates replies and routing decisions. Route uses a smaller,
// faster model than Generate.
type Backend interface {
	Route(ctx context.Context, prompt string) (string, error)
	Generate(ctx context.Context, req Request) (*Reply, error)
}
