package agents

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/broker"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/natsbus"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
)

func TestParseVerdict(t *testing.T) {
	v, err := parseVerdict("```json\n{\"contradiction\": true, \"explanation\": \"dates differ\"}\n```")
	if err != nil {
		t.Fatalf("parseVerdict failed: %v", err)
	}
	if !v.Contradiction || v.Explanation != "dates differ" {
		t.Fatalf("unexpected verdict %+v", v)
	}

	if _, err := parseVerdict("everything looks consistent to me"); err == nil {
		t.Fatal("expected error for prose verdict")
	}
}

func TestIntegrityQuietWhenConsistent(t *testing.T) {
	backend := &fakeBackend{replies: map[string][]*llm.Reply{
		"integrity agent": {{Text: `{"contradiction": false, "explanation": ""}`}},
	}}
	a := NewIntegrity(Deps{Backend: backend})

	st := chatState("the gym is still $39")
	delta, err := a.Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if delta.Output != "no inconsistencies found" {
		t.Fatalf("unexpected output %q", delta.Output)
	}
	if st.Center.Len() != 0 {
		t.Fatal("a consistent turn must not publish notifications")
	}
}

func TestIntegrityTreatsGarbageVerdictAsConsistent(t *testing.T) {
	backend := &fakeBackend{replies: map[string][]*llm.Reply{
		"integrity agent": {{Text: "hard to say, really"}},
	}}
	a := NewIntegrity(Deps{Backend: backend})

	st := chatState("hello")
	delta, err := a.Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if delta.Output != "no inconsistencies found" || st.Center.Len() != 0 {
		t.Fatalf("garbage verdict must degrade to consistent, got %q", delta.Output)
	}
}

func TestCollectorSnapshotsBothViews(t *testing.T) {
	st := chatState("hi")
	st.Center.Publish(notify.New("integrity", "contradiction_detected", notify.PriorityHigh, "x"))
	st.Center.Publish(notify.New("knowledge", "knowledge_digest", notify.PriorityLow, "y"))

	delta, err := Collector{}.Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if len(delta.Collected) != 2 || len(delta.HighUrgency) != 1 {
		t.Fatalf("expected 2 collected and 1 high urgency, got %d and %d",
			len(delta.Collected), len(delta.HighUrgency))
	}

	// Later publishes stay out of the snapshot already taken.
	st.Center.Publish(notify.New("main", "late_note", notify.PriorityHigh, "z"))
	if len(delta.Collected) != 2 {
		t.Fatal("snapshot must not grow after collection")
	}
}

func TestFormatterPassesMainThrough(t *testing.T) {
	st := chatState("hi")
	st.Outputs[engine.RoleMain] = "All done."

	delta, err := Formatter{}.Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if delta.Response != "All done." || !delta.Done {
		t.Fatalf("unexpected delta %+v", delta)
	}
}

func TestFormatterSynthesizesWithoutMain(t *testing.T) {
	st := chatState("hi")
	st.Outputs[engine.RoleKnowledge] = "The contract renews in May."
	st.Failures[engine.RoleMain] = "timed out"

	delta, err := Formatter{}.Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(delta.Response, "The contract renews in May.") {
		t.Fatalf("expected surviving output in the response, got %q", delta.Response)
	}
	if !strings.Contains(delta.Response, "incomplete") {
		t.Fatalf("expected degraded phrasing, got %q", delta.Response)
	}
}

func TestFormatterSurfacesHighUrgency(t *testing.T) {
	st := chatState("hi")
	st.Outputs[engine.RoleMain] = "Saved."
	st.HighUrgency = []notify.Notification{
		notify.New("integrity", "contradiction_detected", notify.PriorityHigh, "stored price differs"),
	}

	delta, err := Formatter{}.Execute(context.Background(), st)
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if !strings.Contains(delta.Response, "Heads up: stored price differs") {
		t.Fatalf("expected the urgent note appended, got %q", delta.Response)
	}
}

func TestConversationRendersHistoryAndEvent(t *testing.T) {
	st := chatState("and now?")
	st.History = []store.Message{
		{Role: "user", Content: "first"},
		{Role: "assistant", Content: "second"},
		{Role: "system", Content: "ignored"},
		{Role: "user", Content: ""},
	}

	msgs := conversation(st)
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	if msgs[2].Role != "user" || msgs[2].Content != "and now?" {
		t.Fatalf("expected the event last, got %+v", msgs[2])
	}
}

func TestEventText(t *testing.T) {
	email := engine.NewEvent(engine.SourceWeb, engine.EventEmailReceived, "From: bank")
	if got := eventText(email); !strings.Contains(got, "new email") {
		t.Fatalf("unexpected email rendering %q", got)
	}
	trigger := engine.NewEvent(engine.SourceScheduler, engine.EventScheduledTrigger, "daily summary")
	if got := eventText(trigger); !strings.Contains(got, "Scheduled task") {
		t.Fatalf("unexpected trigger rendering %q", got)
	}
}

func newTestBroker(t *testing.T) *broker.Broker {
	t.Helper()

	bus, err := natsbus.New(config.NATSConfig{Port: 0, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("failed to start bus: %v", err)
	}
	t.Cleanup(bus.Close)

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(client.Close)

	return broker.New(client)
}

func TestMainCoordinatesWithKnowledge(t *testing.T) {
	b := newTestBroker(t)
	cfg := config.EngineConfig{RequestTimeout: 2 * time.Second, MaxToolIterations: 3}

	k := NewKnowledge(Deps{Backend: &fakeBackend{}, Broker: b, Engine: cfg})
	k.mu.Lock()
	k.facts["s1"] = "the gym contract costs $39 and renews in May"
	k.mu.Unlock()

	m := NewMain(Deps{Backend: &fakeBackend{}, Broker: b, Engine: cfg})

	ev := engine.NewEvent(engine.SourceWeb, engine.EventChatMessage, "when does my gym renew?").
		WithMeta("session_id", "s1")
	st := engine.NewGraphState(ev, notify.NewCenter(nil))
	st.Decision = &engine.RoutingDecision{
		RequiredAgents:       []string{engine.RoleMain},
		RequiresCoordination: true,
	}

	got := m.coordinate(context.Background(), st)
	if got != "the gym contract costs $39 and renews in May" {
		t.Fatalf("expected the cached facts, got %q", got)
	}
}

func TestMainCoordinationTimeoutDegrades(t *testing.T) {
	b := newTestBroker(t)
	cfg := config.EngineConfig{RequestTimeout: 100 * time.Millisecond}

	// No knowledge agent registered: the request must time out and
	// coordination must degrade to empty context.
	m := NewMain(Deps{Backend: &fakeBackend{}, Broker: b, Engine: cfg})

	st := engine.NewGraphState(
		engine.NewEvent(engine.SourceWeb, engine.EventChatMessage, "hello"),
		notify.NewCenter(nil))
	st.Decision = &engine.RoutingDecision{
		RequiredAgents:       []string{engine.RoleMain},
		RequiresCoordination: true,
	}

	start := time.Now()
	if got := m.coordinate(context.Background(), st); got != "" {
		t.Fatalf("expected empty context on timeout, got %q", got)
	}
	if time.Since(start) > 2*time.Second {
		t.Fatal("coordination timeout took too long")
	}
}

func TestBuildRosterRoles(t *testing.T) {
	nodes := BuildRoster(Deps{Backend: &fakeBackend{}})
	roles := map[string]bool{}
	for _, n := range nodes {
		roles[n.Role()] = true
		if n.Describe() == "" {
			t.Fatalf("%s has no description", n.Role())
		}
	}
	for _, want := range []string{
		engine.RoleMain, engine.RoleKnowledge, engine.RoleIntegrity,
		engine.RoleCollector, engine.RoleFormatter,
	} {
		if !roles[want] {
			t.Fatalf("roster missing %s", want)
		}
	}
}
