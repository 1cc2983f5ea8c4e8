package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
)

// scriptBackend returns canned routing decisions and replies so tests never
// touch the API.
type scriptBackend struct {
	mu       sync.Mutex
	routes   []string
	routeErr error
	replies  []*llm.Reply
	genErr   error
	prompts  []string
	requests []llm.Request
}

func (s *scriptBackend) Route(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	if s.routeErr != nil {
		return "", s.routeErr
	}
	if len(s.routes) == 0 {
		return `{"required_agents": ["main"], "parallel": false}`, nil
	}
	r := s.routes[0]
	s.routes = s.routes[1:]
	return r, nil
}

func (s *scriptBackend) Generate(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.genErr != nil {
		return nil, s.genErr
	}
	if len(s.replies) == 0 {
		return &llm.Reply{Text: "done", StopReason: "end_turn"}, nil
	}
	r := s.replies[0]
	s.replies = s.replies[1:]
	return r, nil
}

func (s *scriptBackend) routeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

func testOrchestrator(backend llm.Backend) *Orchestrator {
	return NewOrchestrator(backend, []RoleInfo{
		{Name: RoleMain, Description: "answers the user"},
		{Name: RoleKnowledge, Description: "looks things up"},
		{Name: RoleIntegrity, Description: "checks consistency"},
		{Name: RoleCollector, Description: "gathers notifications"},
		{Name: RoleFormatter, Description: "formats the response"},
	})
}

func TestDecideParsesFencedDecision(t *testing.T) {
	backend := &scriptBackend{routes: []string{
		"Here is the routing:\n```json\n{\"required_agents\": [\"main\", \"knowledge\"], \"parallel\": true, \"dependencies\": {}}\n```",
	}}
	o := testOrchestrator(backend)

	ev := NewEvent(SourceWeb, EventChatMessage, "search my emails for the gym contract")
	dec := o.Decide(context.Background(), ev, NewGraphState(ev, notify.NewCenter(nil)))

	if len(dec.RequiredAgents) != 2 || dec.RequiredAgents[0] != RoleMain || dec.RequiredAgents[1] != RoleKnowledge {
		t.Fatalf("expected [main knowledge], got %v", dec.RequiredAgents)
	}
	if !dec.Parallel {
		t.Fatal("expected parallel decision")
	}
}

func TestDecideStripsReservedRoles(t *testing.T) {
	backend := &scriptBackend{routes: []string{
		`{"required_agents": ["Main", "collector", "formatter"], "parallel": false}`,
	}}
	o := testOrchestrator(backend)

	ev := NewEvent(SourceWeb, EventChatMessage, "hi")
	dec := o.Decide(context.Background(), ev, NewGraphState(ev, notify.NewCenter(nil)))

	if len(dec.RequiredAgents) != 1 || dec.RequiredAgents[0] != RoleMain {
		t.Fatalf("expected reserved roles stripped, got %v", dec.RequiredAgents)
	}
}

func TestDecideFallsBackOnGarbage(t *testing.T) {
	for _, raw := range []string{
		"I think the main agent should handle this one.",
		`{"required_agents": "main"}`,
		`{"required_agents": []}`,
		"",
	} {
		backend := &scriptBackend{routes: []string{raw}}
		o := testOrchestrator(backend)

		ev := NewEvent(SourceWeb, EventChatMessage, "hi")
		dec := o.Decide(context.Background(), ev, NewGraphState(ev, notify.NewCenter(nil)))

		want := FallbackDecision()
		if len(dec.RequiredAgents) != 1 || dec.RequiredAgents[0] != want.RequiredAgents[0] || dec.Parallel {
			t.Fatalf("raw %q: expected fallback decision, got %+v", raw, dec)
		}
	}
}

func TestDecideFallsBackOnBackendError(t *testing.T) {
	backend := &scriptBackend{routeErr: context.DeadlineExceeded}
	o := testOrchestrator(backend)

	ev := NewEvent(SourceWeb, EventChatMessage, "hi")
	dec := o.Decide(context.Background(), ev, NewGraphState(ev, notify.NewCenter(nil)))

	if len(dec.RequiredAgents) != 1 || dec.RequiredAgents[0] != RoleMain {
		t.Fatalf("expected fallback on backend error, got %v", dec.RequiredAgents)
	}
}

func TestDecideFallsBackOnUnplannableDecision(t *testing.T) {
	// Parses fine but cannot be planned: circular dependencies.
	backend := &scriptBackend{routes: []string{
		`{"required_agents": ["main", "knowledge"], "dependencies": {"main": ["knowledge"], "knowledge": ["main"]}}`,
	}}
	o := testOrchestrator(backend)

	ev := NewEvent(SourceWeb, EventChatMessage, "hi")
	dec := o.Decide(context.Background(), ev, NewGraphState(ev, notify.NewCenter(nil)))

	if len(dec.RequiredAgents) != 1 || dec.RequiredAgents[0] != RoleMain {
		t.Fatalf("expected fallback on cyclic decision, got %v", dec.RequiredAgents)
	}
}

func TestDecideScheduledTriggerSkipsRouter(t *testing.T) {
	backend := &scriptBackend{}
	o := testOrchestrator(backend)

	ev := NewEvent(SourceScheduler, EventScheduledTrigger, "summarize today's calendar")
	dec := o.Decide(context.Background(), ev, NewGraphState(ev, notify.NewCenter(nil)))

	if backend.routeCalls() != 0 {
		t.Fatal("scheduled trigger must not call the router model")
	}
	if len(dec.RequiredAgents) != 1 || dec.RequiredAgents[0] != RoleMain {
		t.Fatalf("expected main only, got %v", dec.RequiredAgents)
	}
	if dec.PerAgentContext[RoleMain] != "summarize today's calendar" {
		t.Fatalf("expected trigger content as main context, got %q", dec.PerAgentContext[RoleMain])
	}
}

func TestRoutingPromptListsAgentsAndMemory(t *testing.T) {
	backend := &scriptBackend{}
	o := testOrchestrator(backend)

	ev := NewEvent(SourceWeb, EventChatMessage, "yes please")
	st := NewGraphState(ev, notify.NewCenter(nil))
	st.Memory = testRecord("default", 4, "search_emails")

	prompt := o.buildRoutingPrompt(ev, st)
	for _, want := range []string{"- main:", "- knowledge:", "- integrity:", "stored tool results: search_emails", "ONLY the JSON object"} {
		if !strings.Contains(prompt, want) {
			t.Fatalf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "- collector:") || strings.Contains(prompt, "- formatter:") {
		t.Fatal("reserved roles must not be offered to the router")
	}
}

func TestIsAcknowledgement(t *testing.T) {
	for _, yes := range []string{"yes", "Yes please!", "  ok  ", "Sounds good.", "the first one"} {
		if !IsAcknowledgement(yes) {
			t.Fatalf("expected %q to be an acknowledgement", yes)
		}
	}
	for _, no := range []string{"yes, and also check my calendar", "what is the weather", "no", ""} {
		if IsAcknowledgement(no) {
			t.Fatalf("expected %q not to be an acknowledgement", no)
		}
	}
}
