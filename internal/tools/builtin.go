package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Handler implements one builtin tool.
type Handler func(ctx context.Context, params map[string]any) (any, error)

// Registry holds in-process tools.
type Registry struct {
	mu       sync.RWMutex
	defs     []Definition
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(def Definition, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[def.Name]; !exists {
		r.defs = append(r.defs, def)
	} else {
		for i := range r.defs {
			if r.defs[i].Name == def.Name {
				r.defs[i] = def
				break
			}
		}
	}
	r.handlers[def.Name] = h
}

func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, len(r.defs))
	copy(out, r.defs)
	return out
}

func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &ExecutionError{Tool: name, Err: ErrUnknownTool}
	}

	result, err := h(ctx, params)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: err}
	}
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, &ExecutionError{Tool: name, Err: fmt.Errorf("marshal result: %w", err)}
	}
	return raw, nil
}

// NewBuiltinRegistry returns the registry with the stock tools: the clock
// plus the demo email and calendar tools used by local development.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()

	r.Register(Definition{
		Name:        "current_time",
		Description: "Returns the current date and time.",
	}, func(ctx context.Context, params map[string]any) (any, error) {
		return map[string]string{"time": time.Now().Format(time.RFC3339)}, nil
	})

	r.Register(Definition{
		Name:        "search_emails",
		Description: "Searches the mailbox and returns matching email ids.",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"query": map[string]any{"type": "string", "description": "Search terms."},
			},
			"required": []string{"query"},
		},
	}, searchEmails)

	r.Register(Definition{
		Name:        "get_email",
		Description: "Fetches one email by id.",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"email_id": map[string]any{"type": "string", "description": "Id from search_emails."},
			},
			"required": []string{"email_id"},
		},
	}, getEmail)

	r.Register(Definition{
		Name:        "list_calendar",
		Description: "Lists upcoming calendar entries.",
		InputSchema: map[string]any{
			"properties": map[string]any{
				"days": map[string]any{"type": "integer", "description": "How many days ahead to look."},
			},
		},
	}, listCalendar)

	return r
}

// The demo mailbox and calendar are deterministic so conversations behave
// the same across runs.

func searchEmails(ctx context.Context, params map[string]any) (any, error) {
	query, _ := params["query"].(string)
	if query == "" {
		return nil, fmt.Errorf("query is required")
	}

	ids := make([]string, 10)
	for i := range ids {
		ids[i] = fmt.Sprintf("email-%02d", i+1)
	}
	return map[string]any{
		"query":     query,
		"email_ids": ids,
		"total":     len(ids),
	}, nil
}

func getEmail(ctx context.Context, params map[string]any) (any, error) {
	id, _ := params["email_id"].(string)
	if id == "" {
		return nil, fmt.Errorf("email_id is required")
	}
	return map[string]any{
		"id":      id,
		"from":    "billing@example.com",
		"subject": fmt.Sprintf("Message %s", id),
		"body":    fmt.Sprintf("This is the body of %s.", id),
	}, nil
}

func listCalendar(ctx context.Context, params map[string]any) (any, error) {
	days := 7
	if d, ok := params["days"].(float64); ok && d > 0 {
		days = int(d)
	}
	start := time.Now()
	return map[string]any{
		"window_days": days,
		"entries": []map[string]string{
			{"title": "Weekly sync", "at": start.Add(24 * time.Hour).Format(time.RFC3339)},
			{"title": "Dentist", "at": start.Add(72 * time.Hour).Format(time.RFC3339)},
		},
	}, nil
}
