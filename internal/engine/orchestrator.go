package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vicpeacock/knowledge-navigator/internal/llm"
)

// RoleInfo names one routable agent for the routing prompt.
type RoleInfo struct {
	Name        string
	Description string
}

// Orchestrator decides which agents a turn needs. A routing failure of any
// kind, from the API being down to unparsable output, falls back to the
// main agent; routing never fails a turn.
type Orchestrator struct {
	backend llm.Backend
	roles   []RoleInfo
	known   map[string]bool
}

func NewOrchestrator(backend llm.Backend, roles []RoleInfo) *Orchestrator {
	known := make(map[string]bool, len(roles))
	routable := make([]RoleInfo, 0, len(roles))
	for _, r := range roles {
		known[r.Name] = true
		if !reservedRoles[r.Name] {
			routable = append(routable, r)
		}
	}
	return &Orchestrator{backend: backend, roles: routable, known: known}
}

// Known returns the full role set, including the reserved finishing roles.
func (o *Orchestrator) Known() map[string]bool {
	return o.known
}

// Decide produces a validated routing decision for the event. Scheduled
// triggers route straight to main; everything else asks the router model.
func (o *Orchestrator) Decide(ctx context.Context, ev NormalizedEvent, st *GraphState) *RoutingDecision {
	if ev.Type == EventScheduledTrigger {
		dec := FallbackDecision()
		dec.PerAgentContext = map[string]string{RoleMain: ev.Content}
		return dec
	}

	raw, err := o.backend.Route(ctx, o.buildRoutingPrompt(ev, st))
	if err != nil {
		slog.Warn("routing call failed, using fallback", "error", err)
		return FallbackDecision()
	}

	dec, err := parseDecision(raw)
	if err != nil {
		slog.Debug("unparsable routing decision, using fallback", "error", err, "raw", truncate(raw, 200))
		return FallbackDecision()
	}

	if _, err := BuildPlan(dec, o.known); err != nil {
		slog.Debug("invalid routing decision, using fallback", "error", err)
		return FallbackDecision()
	}
	return dec
}

func (o *Orchestrator) buildRoutingPrompt(ev NormalizedEvent, st *GraphState) string {
	var b strings.Builder

	b.WriteString("You route events in a personal assistant to its agents.\n\n")
	b.WriteString("## Agents\n")
	for _, r := range o.roles {
		fmt.Fprintf(&b, "- %s: %s\n", r.Name, r.Description)
	}

	b.WriteString("\n## Event\n")
	fmt.Fprintf(&b, "source: %s\ntype: %s\ncontent: %s\n", ev.Source, ev.Type, truncate(ev.Content, 500))

	if st.Memory != nil {
		b.WriteString("\n## Session\n")
		fmt.Fprintf(&b, "messages so far: %d\n", st.Memory.MessageCount)
		if len(st.Memory.ToolResults) > 0 {
			names := make([]string, 0, len(st.Memory.ToolResults))
			for _, r := range st.Memory.ToolResults {
				names = append(names, r.ToolName)
			}
			fmt.Fprintf(&b, "stored tool results: %s\n", strings.Join(names, ", "))
		}
	}

	b.WriteString("\n## Decision format\n")
	b.WriteString(`{"required_agents": ["main"], "parallel": false, "dependencies": {}, "per_agent_context": {}, "requires_coordination": false}`)
	b.WriteString("\n\nList only agents this event needs; main answers the user and is almost always required.")
	b.WriteString(" Use dependencies to order agents whose output feeds another.")
	b.WriteString(" Respond with ONLY the JSON object, nothing else.")

	return b.String()
}

// parseDecision extracts and normalizes the JSON decision from model
// output, tolerating markdown fences and surrounding prose.
func parseDecision(raw string) (*RoutingDecision, error) {
	start := strings.IndexByte(raw, '{')
	end := strings.LastIndexByte(raw, '}')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON object in routing output")
	}

	var dec RoutingDecision
	if err := json.Unmarshal([]byte(raw[start:end+1]), &dec); err != nil {
		return nil, fmt.Errorf("decode routing decision: %w", err)
	}

	normalized := dec.RequiredAgents[:0]
	for _, role := range dec.RequiredAgents {
		role = strings.ToLower(strings.TrimSpace(role))
		if role == "" || reservedRoles[role] {
			continue
		}
		normalized = append(normalized, role)
	}
	dec.RequiredAgents = normalized
	if len(dec.RequiredAgents) == 0 {
		return nil, fmt.Errorf("routing decision names no agents")
	}
	return &dec, nil
}

// Acknowledgement phrases that refer back to a pending suggestion.
var ackPhrases = map[string]bool{
	"yes":           true,
	"yes please":    true,
	"yep":           true,
	"sure":          true,
	"ok":            true,
	"okay":          true,
	"do it":         true,
	"go ahead":      true,
	"please do":     true,
	"sounds good":   true,
	"that one":      true,
	"show me":       true,
	"open it":       true,
	"the first one": true,
}

// IsAcknowledgement reports whether the message is a short affirmative that
// only makes sense against stored context.
func IsAcknowledgement(content string) bool {
	c := strings.ToLower(strings.TrimSpace(content))
	c = strings.TrimRight(c, ".!")
	return ackPhrases[c]
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
