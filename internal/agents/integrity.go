package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
)

// Integrity compares the latest message against the stored conversation
// state and raises a high urgency notification when they contradict.
type Integrity struct {
	backend llm.Backend
}

func NewIntegrity(d Deps) *Integrity {
	return &Integrity{backend: d.Backend}
}

func (a *Integrity) Role() string { return engine.RoleIntegrity }

func (a *Integrity) Describe() string {
	return "checks the turn against stored state for contradictions; include when the turn asserts facts"
}

func (a *Integrity) Execute(ctx context.Context, st *engine.GraphState) (*engine.Delta, error) {
	reply, err := a.backend.Generate(ctx, llm.Request{
		System:    integritySystem,
		Messages:  []llm.Message{{Role: "user", Content: integrityPrompt(st)}},
		MaxTokens: 512,
	})
	if err != nil {
		return nil, err
	}

	verdict, err := parseVerdict(reply.Text)
	if err != nil {
		slog.Debug("unparsable integrity verdict, assuming consistent", "error", err)
		return &engine.Delta{Output: "no inconsistencies found"}, nil
	}
	if !verdict.Contradiction {
		return &engine.Delta{Output: "no inconsistencies found"}, nil
	}

	n := notify.New(engine.RoleIntegrity, "contradiction_detected", notify.PriorityHigh, verdict.Explanation)
	n.Title = "Possible contradiction"
	n.SessionID = st.SessionID
	n.ReferenceID = st.TurnID
	st.Center.Publish(n)

	return &engine.Delta{Output: "contradiction: " + verdict.Explanation}, nil
}

func integrityPrompt(st *engine.GraphState) string {
	var b strings.Builder
	b.WriteString("## Stored state\n")
	if st.Memory != nil {
		fmt.Fprintf(&b, "last user message: %s\n", st.Memory.LastUserMessage)
		fmt.Fprintf(&b, "last assistant message: %s\n", st.Memory.LastAssistantMessage)
	} else {
		b.WriteString("none\n")
	}
	for _, m := range st.History {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, trimForPrompt(m.Content, 300))
	}
	b.WriteString("\n## Latest message\n")
	b.WriteString(trimForPrompt(st.Event.Content, 1000))
	return b.String()
}

type integrityVerdict struct {
	Contradiction bool   `json:"contradiction"`
	Explanation   string `json:"explanation"`
}

func parseVerdict(raw string) (*integrityVerdict, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in verdict")
	}
	var v integrityVerdict
	if err := json.Unmarshal([]byte(raw[start:end+1]), &v); err != nil {
		return nil, fmt.Errorf("decode verdict: %w", err)
	}
	return &v, nil
}
