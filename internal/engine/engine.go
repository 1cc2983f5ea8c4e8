package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/memory"
	"github.com/vicpeacock/knowledge-navigator/internal/natsbus"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
)

// Engine is the orchestration core: one HandleEvent call is one turn.
type Engine struct {
	cfgMu    sync.RWMutex
	cfg      config.EngineConfig
	exec     *Executor
	orch     *Orchestrator
	mem      *memory.Store
	db       *store.Store
	sink     *notify.Service
	bus      *natsbus.Client
	finish   *Plan
	locks    *sessionLocks
	sessions *SessionTracker
}

// New wires the engine. bus may be nil; turn events are then not published.
func New(cfg config.EngineConfig, nodes []Node, backend llm.Backend, mem *memory.Store,
	db *store.Store, sink *notify.Service, bus *natsbus.Client) (*Engine, error) {

	exec, err := NewExecutor(nodes, cfg.NodeTimeout)
	if err != nil {
		return nil, err
	}

	var finishTiers [][]string
	for _, role := range []string{RoleCollector, RoleFormatter} {
		if _, ok := exec.nodes[role]; ok {
			finishTiers = append(finishTiers, []string{role})
		}
	}

	return &Engine{
		cfg:      cfg,
		exec:     exec,
		orch:     NewOrchestrator(backend, exec.Roles()),
		mem:      mem,
		db:       db,
		sink:     sink,
		bus:      bus,
		finish:   &Plan{Tiers: finishTiers},
		locks:    newSessionLocks(),
		sessions: NewSessionTracker(),
	}, nil
}

// Sessions exposes the activity tracker for the status surfaces.
func (e *Engine) Sessions() *SessionTracker {
	return e.sessions
}

// UpdateConfig swaps the turn timings. Turns already running keep the
// values they started with.
func (e *Engine) UpdateConfig(cfg config.EngineConfig) {
	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()
}

func (e *Engine) config() config.EngineConfig {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// HandleEvent runs one full turn: load context, route, execute the agent
// graph, finish with collection and formatting, persist memory. Turns on
// the same session are serialized; the assistant always comes back with a
// response unless the executor hits a coordination bug.
func (e *Engine) HandleEvent(ctx context.Context, ev NormalizedEvent) (*TurnResult, error) {
	started := time.Now()
	if ev.Timestamp.IsZero() {
		ev.Timestamp = started
	}
	sessionID := ev.SessionID()

	e.locks.Lock(sessionID)
	defer e.locks.Unlock(sessionID)
	e.sessions.Touch(sessionID, ev.Source)

	turnCtx, cancel := context.WithTimeout(ctx, e.config().TurnTimeout)
	defer cancel()

	st := NewGraphState(ev, notify.NewCenter(e.sink))
	st.TurnID = uuid.NewString()
	st.Center.BindSession(sessionID)

	log := slog.With("session", sessionID, "turn", st.TurnID)
	log.Info("turn started", "source", ev.Source, "type", ev.Type)

	// Prior context. Memory being down degrades continuity, never the turn.
	prior, err := e.mem.Get(turnCtx, sessionID)
	if err != nil {
		if !errors.Is(err, memory.ErrUnavailable) {
			return nil, err
		}
		log.Warn("short-term memory unavailable, starting with empty context", "error", err)
		st.MemoryDegraded = true
		st.Center.Publish(notify.New("memory", "memory_degraded", notify.PriorityInfo,
			"short-term memory was unavailable; this turn started without stored context"))
	}
	st.Memory = prior

	if msgs, err := e.db.GetMessages(sessionID, 20); err == nil {
		st.History = msgs
	} else {
		log.Warn("failed to load transcript", "error", err)
	}

	st.Acknowledgement = IsAcknowledgement(ev.Content) && prior != nil && len(prior.ToolResults) > 0

	// Route, rejecting anything the planner cannot run.
	st.Decision = e.orch.Decide(turnCtx, ev, st)
	plan, err := BuildPlan(st.Decision, e.orch.Known())
	if err != nil {
		log.Warn("rejecting routing decision", "error", err)
		st.Decision = FallbackDecision()
		plan, err = BuildPlan(st.Decision, e.orch.Known())
		if err != nil {
			return nil, err
		}
	}

	if err := e.exec.Run(turnCtx, plan, st); err != nil {
		return nil, err
	}

	// Collection and formatting run even when the turn deadline already
	// passed, on a short grace window, so the user still gets an answer
	// assembled from whatever completed.
	finishCtx := turnCtx
	if turnCtx.Err() != nil {
		var finishCancel context.CancelFunc
		finishCtx, finishCancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer finishCancel()
		log.Warn("turn deadline exceeded, finishing with partial results")
	}
	if err := e.exec.Run(finishCtx, e.finish, st); err != nil {
		return nil, err
	}

	if st.Response == "" {
		if out := st.Outputs[RoleMain]; out != "" {
			st.Response = out
		} else {
			st.Response = "I could not put together a full answer this time. Please try again."
		}
	}

	e.persist(finishCtx, st, log)

	res := &TurnResult{
		SessionID:     sessionID,
		TurnID:        st.TurnID,
		Response:      st.Response,
		Notifications: st.Collected,
		HighUrgency:   st.HighUrgency,
		ToolTrace:     st.ToolResults,
		ElapsedMs:     time.Since(started).Milliseconds(),
	}
	e.publishTurn(res)

	log.Info("turn finished",
		"elapsed_ms", res.ElapsedMs,
		"agents", len(st.Outputs),
		"notifications", len(res.Notifications),
		"tool_calls", len(res.ToolTrace))
	return res, nil
}

// persist writes the transcript and the refreshed memory record. Failures
// are logged; the turn result is already assembled.
func (e *Engine) persist(ctx context.Context, st *GraphState, log *slog.Logger) {
	count := 0
	if st.Memory != nil {
		count = st.Memory.MessageCount
	}

	rec := &memory.Record{
		SessionID:            st.SessionID,
		LastAssistantMessage: st.Response,
		MessageCount:         count + 1,
		ToolResults:          memory.MergeToolResults(st.PriorToolResults(), st.ToolResults),
	}
	if st.Memory != nil {
		rec.LastUserMessage = st.Memory.LastUserMessage
	}

	if st.Event.Type == EventChatMessage {
		rec.LastUserMessage = st.Event.Content
		rec.MessageCount++
		err := e.db.SaveMessage(&store.Message{
			SessionID: st.SessionID,
			Role:      "user",
			Content:   st.Event.Content,
		})
		if err != nil {
			log.Warn("failed to save user message", "error", err)
		}
	}

	err := e.db.SaveMessage(&store.Message{
		SessionID: st.SessionID,
		Role:      "assistant",
		Content:   st.Response,
	})
	if err != nil {
		log.Warn("failed to save assistant message", "error", err)
	}

	if err := e.mem.Set(ctx, rec); err != nil {
		log.Warn("failed to persist short-term memory", "error", err)
	}
}

func (e *Engine) publishTurn(res *TurnResult) {
	if e.bus == nil {
		return
	}
	if err := e.bus.PublishJSON(natsbus.TopicEventsTurn(res.SessionID), res); err != nil {
		slog.Debug("failed to publish turn event", "error", err)
	}
}

// Backend returns the routing backend, for the status endpoint.
func (e *Engine) Backend() llm.Backend {
	return e.orch.backend
}
