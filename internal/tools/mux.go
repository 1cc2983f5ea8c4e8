package tools

import (
	"context"
	"encoding/json"
)

// Mux combines several invokers behind one namespace. The first invoker
// listing a name owns it.
type Mux struct {
	invokers []Invoker
	owners   map[string]Invoker
}

func NewMux(invokers ...Invoker) *Mux {
	m := &Mux{invokers: invokers, owners: make(map[string]Invoker)}
	for _, inv := range invokers {
		for _, def := range inv.List() {
			if _, taken := m.owners[def.Name]; !taken {
				m.owners[def.Name] = inv
			}
		}
	}
	return m
}

func (m *Mux) List() []Definition {
	var out []Definition
	seen := make(map[string]bool)
	for _, inv := range m.invokers {
		for _, def := range inv.List() {
			if seen[def.Name] {
				continue
			}
			seen[def.Name] = true
			out = append(out, def)
		}
	}
	return out
}

func (m *Mux) Invoke(ctx context.Context, name string, params map[string]any) (json.RawMessage, error) {
	inv, ok := m.owners[name]
	if !ok {
		return nil, &ExecutionError{Tool: name, Err: ErrUnknownTool}
	}
	return inv.Invoke(ctx, name, params)
}
