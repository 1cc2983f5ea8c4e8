// Package engine turns normalized events into assistant responses. It owns
// routing, the agent graph executor, per-session turn serialization and the
// turn lifecycle around short-term memory.
package engine

import (
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/memory"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
)

// Event sources.
const (
	SourceWeb       = "web"
	SourceTelegram  = "telegram"
	SourceScheduler = "scheduler"
	SourceIPC       = "ipc"
)

// Event types.
const (
	EventChatMessage      = "chat_message"
	EventEmailReceived    = "email_received"
	EventScheduledTrigger = "scheduled_trigger"
)

// NormalizedEvent is the single input shape every gateway produces. Events
// are value types and never mutated after creation; WithMeta returns an
// extended copy.
type NormalizedEvent struct {
	Source    string            `json:"source"`
	Type      string            `json:"type"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Priority  string            `json:"priority,omitempty"`
}

// NewEvent builds an event stamped with the current time.
func NewEvent(source, eventType, content string) NormalizedEvent {
	return NormalizedEvent{
		Source:    source,
		Type:      eventType,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// WithMeta returns a copy of the event with one metadata key added.
func (e NormalizedEvent) WithMeta(key, value string) NormalizedEvent {
	md := make(map[string]string, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		md[k] = v
	}
	md[key] = value
	e.Metadata = md
	return e
}

// SessionID returns the session this event belongs to. Events without an
// explicit session share the default one.
func (e NormalizedEvent) SessionID() string {
	if id := e.Metadata["session_id"]; id != "" {
		return id
	}
	return "default"
}

// TurnResult is what one handled event produces.
type TurnResult struct {
	SessionID     string                `json:"session_id"`
	TurnID        string                `json:"turn_id"`
	Response      string                `json:"response"`
	Notifications []notify.Notification `json:"notifications,omitempty"`
	HighUrgency   []notify.Notification `json:"high_urgency_notifications,omitempty"`
	ToolTrace     []memory.ToolResult   `json:"tool_trace,omitempty"`
	ElapsedMs     int64                 `json:"elapsed_ms"`
}
