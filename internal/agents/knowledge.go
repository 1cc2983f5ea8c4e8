package agents

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/broker"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
	"github.com/vicpeacock/knowledge-navigator/internal/tools"
)

// Knowledge extracts durable facts from the conversation using read-only
// tools. It keeps its latest extraction per session and answers context
// queries from other agents out of that cache, so a broker request never
// waits on a model call.
type Knowledge struct {
	backend llm.Backend
	tools   tools.Invoker
	cfg     config.EngineConfig

	mu    sync.Mutex
	facts map[string]string
}

func NewKnowledge(d Deps) *Knowledge {
	k := &Knowledge{
		backend: d.Backend,
		tools:   d.Tools,
		cfg:     d.Engine,
		facts:   make(map[string]string),
	}
	if d.Broker != nil {
		if err := d.Broker.Register(engine.RoleKnowledge, k.answer(d.Broker)); err != nil {
			slog.Warn("knowledge agent broker registration failed", "error", err)
		}
	}
	return k
}

func (a *Knowledge) Role() string { return engine.RoleKnowledge }

func (a *Knowledge) Describe() string {
	return "extracts and indexes facts worth remembering; include when the turn adds new information or needs lookups"
}

func (a *Knowledge) Execute(ctx context.Context, st *engine.GraphState) (*engine.Delta, error) {
	system := knowledgeSystem
	if extra := st.AgentContext(engine.RoleKnowledge); extra != "" {
		system += "\n\nRouting context: " + extra
	}

	loop := &toolLoop{
		role:          engine.RoleKnowledge,
		backend:       a.backend,
		invoker:       a.tools,
		allowed:       knowledgeTools,
		maxIterations: a.cfg.MaxToolIterations,
	}
	res, err := loop.run(ctx, system, conversation(st), st)
	if err != nil {
		return nil, err
	}

	if res.text != "" && res.text != "nothing new" {
		a.mu.Lock()
		a.facts[st.SessionID] = res.text
		a.mu.Unlock()

		n := notify.New(engine.RoleKnowledge, "knowledge_digest", notify.PriorityLow,
			trimForPrompt(res.text, 500))
		n.SessionID = st.SessionID
		st.Center.Publish(n)
	}

	return &engine.Delta{Output: res.text, ToolResults: res.results}, nil
}

// answer responds to context queries from other agents with the cached
// extraction for the session.
func (a *Knowledge) answer(b *broker.Broker) broker.Handler {
	return func(msg broker.AgentMessage) {
		if msg.Type != broker.TypeQuery || !msg.RequiresResponse {
			return
		}
		var q struct {
			SessionID string `json:"session_id"`
		}
		if err := msg.DecodeContent(&q); err != nil {
			slog.Debug("undecodable knowledge query", "from", msg.From, "error", err)
			return
		}

		a.mu.Lock()
		facts := a.facts[q.SessionID]
		a.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.Respond(ctx, msg, engine.RoleKnowledge, map[string]string{"context": facts}); err != nil {
			slog.Debug("knowledge response failed", "to", msg.From, "error", err)
		}
	}
}
