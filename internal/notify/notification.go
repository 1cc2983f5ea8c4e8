// Package notify models user-facing notifications: a per-turn buffer the
// agents publish into, and a process-level service that archives entries and
// pushes the urgent ones to delivery channels.
package notify

import (
	"time"

	"github.com/google/uuid"
)

// Priority levels, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
	PriorityInfo     = "info"
)

// Delivery channels derived from priority and type.
const (
	ChannelBlocking  = "blocking"
	ChannelImmediate = "immediate"
	ChannelAsync     = "async"
	ChannelDigest    = "digest"
	ChannelLog       = "log"
)

var priorityRank = map[string]int{
	PriorityCritical: 5,
	PriorityHigh:     4,
	PriorityMedium:   3,
	PriorityLow:      2,
	PriorityInfo:     1,
}

// Rank returns the numeric weight of a priority, 0 for unknown values.
func Rank(priority string) int {
	return priorityRank[priority]
}

// Medium-priority types that still interrupt the user. Everything else at
// medium priority goes out asynchronously.
var interactiveTypes = map[string]bool{
	"action_required":     true,
	"confirmation_needed": true,
	"reminder_due":        true,
}

// ChannelFor derives the delivery channel from priority and type. Callers
// never choose a channel directly.
func ChannelFor(priority, notifType string) string {
	switch priority {
	case PriorityCritical:
		return ChannelBlocking
	case PriorityHigh:
		return ChannelImmediate
	case PriorityMedium:
		if interactiveTypes[notifType] {
			return ChannelImmediate
		}
		return ChannelAsync
	case PriorityLow:
		return ChannelDigest
	default:
		return ChannelLog
	}
}

// Notification is a single user-facing notice. Channel is always derived
// from Priority and Type, never set by the publisher.
type Notification struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Priority    string         `json:"priority"`
	Channel     string         `json:"channel"`
	Source      string         `json:"source"`
	Feature     string         `json:"feature,omitempty"`
	ReferenceID string         `json:"reference_id,omitempty"`
	Title       string         `json:"title,omitempty"`
	Body        string         `json:"body"`
	Summary     string         `json:"summary,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	Actions     []string       `json:"actions,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// New builds a notification with defaults filled in.
func New(source, notifType, priority, body string) Notification {
	n := Notification{
		ID:        uuid.NewString(),
		Type:      notifType,
		Priority:  priority,
		Source:    source,
		Body:      body,
		CreatedAt: time.Now(),
	}
	n.normalize()
	return n
}

// normalize defaults malformed or missing fields so publishing never fails.
func (n *Notification) normalize() {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.Type == "" {
		n.Type = "generic"
	}
	if _, ok := priorityRank[n.Priority]; !ok {
		n.Priority = PriorityInfo
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.Channel = ChannelFor(n.Priority, n.Type)
}
