// Package ipc answers NATS request/reply calls from navctl: chat turns,
// schedule management and daemon status.
package ipc

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/natsbus"
	"github.com/vicpeacock/knowledge-navigator/internal/schedule"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
)

// Turner is the slice of the engine the IPC server needs.
type Turner interface {
	HandleEvent(ctx context.Context, ev engine.NormalizedEvent) (*engine.TurnResult, error)
	Sessions() *engine.SessionTracker
}

// ChatRequest asks the daemon to run one chat turn.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// ScheduleAddRequest creates a stored schedule.
type ScheduleAddRequest struct {
	Name      string `json:"name"`
	Spec      string `json:"spec"`
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id,omitempty"`
}

// Response is the common reply envelope.
type Response struct {
	OK        bool               `json:"ok"`
	Error     string             `json:"error,omitempty"`
	Turn      *engine.TurnResult `json:"turn,omitempty"`
	ID        string             `json:"id,omitempty"`
	Schedules []store.Schedule   `json:"schedules,omitempty"`
	Status    map[string]any     `json:"status,omitempty"`
}

// Server owns the daemon side of the IPC topics.
type Server struct {
	client *natsbus.Client
	eng    Turner
	db     *store.Store
	subs   []*nats.Subscription
}

func NewServer(client *natsbus.Client, eng Turner, db *store.Store) *Server {
	return &Server{client: client, eng: eng, db: db}
}

// Start subscribes the IPC topics. Subscriptions live until Stop.
func (s *Server) Start() error {
	topics := map[string]func(data []byte) Response{
		natsbus.TopicIPCChat:           s.handleChat,
		natsbus.TopicIPCStatus:         s.handleStatus,
		natsbus.TopicIPCScheduleList:   s.handleScheduleList,
		natsbus.TopicIPCScheduleAdd:    s.handleScheduleAdd,
		natsbus.TopicIPCScheduleRemove: s.handleScheduleRemove,
	}

	for topic, handler := range topics {
		sub, err := s.client.Subscribe(topic, func(handler func([]byte) Response) func(msg *nats.Msg) {
			return func(msg *nats.Msg) {
				resp := handler(msg.Data)
				data, err := json.Marshal(resp)
				if err != nil {
					slog.Error("ipc response marshal failed", "topic", msg.Subject, "error", err)
					return
				}
				if err := msg.Respond(data); err != nil {
					slog.Warn("ipc respond failed", "topic", msg.Subject, "error", err)
				}
			}
		}(handler))
		if err != nil {
			s.Stop()
			return err
		}
		s.subs = append(s.subs, sub)
	}

	slog.Info("ipc server listening", "topics", len(topics))
	return nil
}

// Stop drains the IPC subscriptions.
func (s *Server) Stop() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	s.subs = nil
}

func fail(err error) Response {
	return Response{Error: err.Error()}
}

func (s *Server) handleChat(data []byte) Response {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fail(err)
	}
	if req.Message == "" {
		return Response{Error: "message is required"}
	}
	if req.SessionID == "" {
		req.SessionID = "ipc:default"
	}

	// The turn deadline inside the engine bounds this; the IPC caller
	// picks its own request timeout.
	ev := engine.NewEvent(engine.SourceIPC, engine.EventChatMessage, req.Message).
		WithMeta("session_id", req.SessionID)
	res, err := s.eng.HandleEvent(context.Background(), ev)
	if err != nil {
		return fail(err)
	}
	return Response{OK: true, Turn: res}
}

func (s *Server) handleStatus(data []byte) Response {
	schedules, _ := s.db.ListSchedules()
	active := 0
	for _, sc := range schedules {
		if sc.Status == "active" {
			active++
		}
	}
	return Response{OK: true, Status: map[string]any{
		"status":           "ok",
		"sessions":         len(s.eng.Sessions().List()),
		"active_schedules": active,
		"timestamp":        time.Now().UTC(),
	}}
}

func (s *Server) handleScheduleList(data []byte) Response {
	schedules, err := s.db.ListSchedules()
	if err != nil {
		return fail(err)
	}
	return Response{OK: true, Schedules: schedules}
}

func (s *Server) handleScheduleAdd(data []byte) Response {
	var req ScheduleAddRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fail(err)
	}
	if req.Name == "" || req.Spec == "" || req.Prompt == "" {
		return Response{Error: "name, spec, and prompt are required"}
	}

	normalized, err := schedule.Normalize(req.Spec)
	if err != nil {
		return fail(err)
	}

	sc := &store.Schedule{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Spec:      normalized,
		Prompt:    req.Prompt,
		SessionID: req.SessionID,
		Status:    "active",
		NextRunAt: schedule.NextFire(normalized, time.Now()),
	}
	if err := s.db.SaveSchedule(sc); err != nil {
		return fail(err)
	}
	return Response{OK: true, ID: sc.ID}
}

func (s *Server) handleScheduleRemove(data []byte) Response {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return fail(err)
	}
	if req.ID == "" {
		return Response{Error: "id is required"}
	}
	if err := s.db.DeleteSchedule(req.ID); err != nil {
		return fail(err)
	}
	return Response{OK: true}
}
