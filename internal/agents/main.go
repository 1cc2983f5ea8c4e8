package agents

import (
	"context"
	"log/slog"

	"github.com/vicpeacock/knowledge-navigator/internal/broker"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/tools"
)

// Main produces the user-facing answer. It drives the tool loop and, when
// the routing decision asks for coordination, pulls session context from
// the knowledge agent over the broker first.
type Main struct {
	backend llm.Backend
	tools   tools.Invoker
	broker  *broker.Broker
	cfg     config.EngineConfig
}

func NewMain(d Deps) *Main {
	m := &Main{backend: d.Backend, tools: d.Tools, broker: d.Broker, cfg: d.Engine}
	if m.broker != nil {
		// Request replies arrive through the inbox subscription, so the
		// agent registers even though it ignores unsolicited messages.
		err := m.broker.Register(engine.RoleMain, func(msg broker.AgentMessage) {
			slog.Debug("main agent message ignored", "from", msg.From, "type", msg.Type)
		})
		if err != nil {
			slog.Warn("main agent broker registration failed", "error", err)
		}
	}
	return m
}

func (a *Main) Role() string { return engine.RoleMain }

func (a *Main) Describe() string {
	return "talks to the user and runs tools to fulfil requests; required on almost every turn"
}

func (a *Main) Execute(ctx context.Context, st *engine.GraphState) (*engine.Delta, error) {
	system := mainSystem
	if extra := st.AgentContext(engine.RoleMain); extra != "" {
		system += "\n\nRouting context: " + extra
	}
	if facts := a.coordinate(ctx, st); facts != "" {
		system += "\n\nContext from the knowledge agent: " + facts
	}

	loop := &toolLoop{
		role:          engine.RoleMain,
		backend:       a.backend,
		invoker:       a.tools,
		maxIterations: a.cfg.MaxToolIterations,
	}
	res, err := loop.run(ctx, system, conversation(st), st)
	if err != nil {
		return nil, err
	}
	return &engine.Delta{Output: res.text, ToolResults: res.results}, nil
}

// coordinate asks the knowledge agent for session context. A broker timeout
// or any other failure degrades to answering without it.
func (a *Main) coordinate(ctx context.Context, st *engine.GraphState) string {
	dec := st.Decision
	if a.broker == nil || dec == nil || !dec.RequiresCoordination {
		return ""
	}

	msg, err := broker.NewMessage(engine.RoleMain, engine.RoleKnowledge, broker.TypeQuery,
		map[string]string{"session_id": st.SessionID, "query": st.Event.Content})
	if err != nil {
		return ""
	}
	resp, err := a.broker.Request(ctx, msg, a.cfg.RequestTimeout)
	if err != nil {
		slog.Warn("knowledge coordination failed, continuing without it", "error", err)
		return ""
	}

	var body struct {
		Context string `json:"context"`
	}
	if err := resp.DecodeContent(&body); err != nil {
		slog.Debug("undecodable knowledge response", "error", err)
		return ""
	}
	return body.Context
}

// conversation renders the persisted transcript plus the current event as
// the model conversation.
func conversation(st *engine.GraphState) []llm.Message {
	msgs := make([]llm.Message, 0, len(st.History)+1)
	for _, m := range st.History {
		if m.Role != "user" && m.Role != "assistant" || m.Content == "" {
			continue
		}
		msgs = append(msgs, llm.Message{Role: m.Role, Content: m.Content})
	}
	return append(msgs, llm.Message{Role: "user", Content: eventText(st.Event)})
}

func eventText(ev engine.NormalizedEvent) string {
	switch ev.Type {
	case engine.EventEmailReceived:
		return "A new email arrived:\n" + ev.Content
	case engine.EventScheduledTrigger:
		return "Scheduled task: " + ev.Content
	default:
		return ev.Content
	}
}
