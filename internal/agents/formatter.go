package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/vicpeacock/knowledge-navigator/internal/engine"
)

// Formatter assembles the final response from the agent outputs. It owns
// the response field and the done flag; the engine only falls back to its
// own wording when the formatter itself did not run.
type Formatter struct{}

func (Formatter) Role() string { return engine.RoleFormatter }

func (Formatter) Describe() string {
	return "composes the final response; runs automatically at the end of every turn"
}

func (Formatter) Execute(ctx context.Context, st *engine.GraphState) (*engine.Delta, error) {
	var b strings.Builder

	if out := st.Outputs[engine.RoleMain]; out != "" {
		b.WriteString(out)
	} else {
		// Main contributed nothing; synthesize from whatever did run.
		var parts []string
		for _, role := range []string{engine.RoleKnowledge, engine.RoleIntegrity} {
			if out := st.Outputs[role]; out != "" {
				parts = append(parts, out)
			}
		}
		if len(parts) > 0 {
			b.WriteString("I could not fully work through that, but here is what I found: ")
			b.WriteString(strings.Join(parts, " "))
		} else {
			b.WriteString("I ran into trouble handling that one. Could you try again?")
		}
	}

	for _, n := range st.HighUrgency {
		fmt.Fprintf(&b, "\n\nHeads up: %s", n.Body)
	}

	if len(st.Failures) > 0 {
		b.WriteString("\n\n(Parts of this answer may be incomplete; not everything I tried finished this turn.)")
	}

	return &engine.Delta{Response: b.String(), Done: true}, nil
}
