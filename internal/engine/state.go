package engine

import (
	"context"

	"github.com/vicpeacock/knowledge-navigator/internal/memory"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
)

// Node is one agent in the turn graph. Execute receives the shared state as
// a read view and must return its writes as a delta; the executor commits
// deltas in topological order, so a node only ever observes predecessors'
// committed writes, never a sibling's.
type Node interface {
	Role() string
	Describe() string
	Execute(ctx context.Context, st *GraphState) (*Delta, error)
}

// GraphState is the shared state of one turn. Apart from the notification
// center, which is mutex-guarded, nodes never write it directly.
type GraphState struct {
	SessionID       string
	TurnID          string
	Event           NormalizedEvent
	Acknowledgement bool

	History        []store.Message
	Memory         *memory.Record
	MemoryDegraded bool

	Decision *RoutingDecision

	Outputs     map[string]string
	Failures    map[string]string
	ToolResults []memory.ToolResult

	Collected   []notify.Notification
	HighUrgency []notify.Notification
	Response    string
	Done        bool

	Center *notify.Center
}

// NewGraphState seeds the turn state for an event.
func NewGraphState(ev NormalizedEvent, center *notify.Center) *GraphState {
	return &GraphState{
		SessionID: ev.SessionID(),
		Event:     ev,
		Outputs:   make(map[string]string),
		Failures:  make(map[string]string),
		Center:    center,
	}
}

// AgentContext returns the routing context addressed to one role.
func (s *GraphState) AgentContext(role string) string {
	if s.Decision == nil {
		return ""
	}
	return s.Decision.PerAgentContext[role]
}

// PriorToolResults returns the tool results carried over from short-term
// memory, nil on a fresh session.
func (s *GraphState) PriorToolResults() []memory.ToolResult {
	if s.Memory == nil {
		return nil
	}
	return s.Memory.ToolResults
}

// Delta is the set of writes one node hands back. Output and Failure land
// under the node's own role key; ToolResults append; the remaining fields
// are scalars owned by whichever node writes them first in a tier.
type Delta struct {
	Output      string
	Failure     string
	ToolResults []memory.ToolResult

	Collected   []notify.Notification
	HighUrgency []notify.Notification
	Response    string
	Done        bool
}

// Scalar field names used for ownership tracking.
const (
	fieldResponse    = "response"
	fieldDone        = "done"
	fieldCollected   = "notifications"
	fieldHighUrgency = "high_urgency_notifications"
)

// apply commits one node's delta. owners tracks which node claimed each
// scalar field within the current tier; a second claim by a different node
// is a ConflictError. Across tiers scalars are last-write-wins because the
// executor passes a fresh owners map per tier.
func (s *GraphState) apply(role string, d *Delta, owners map[string]string) error {
	if d == nil {
		return nil
	}

	claim := func(field string) error {
		if owner, taken := owners[field]; taken && owner != role {
			return &ConflictError{Field: field, Node: role, Owner: owner}
		}
		owners[field] = role
		return nil
	}

	if d.Response != "" {
		if err := claim(fieldResponse); err != nil {
			return err
		}
		s.Response = d.Response
	}
	if d.Done {
		if err := claim(fieldDone); err != nil {
			return err
		}
		s.Done = true
	}
	if d.Collected != nil {
		if err := claim(fieldCollected); err != nil {
			return err
		}
		s.Collected = d.Collected
	}
	if d.HighUrgency != nil {
		if err := claim(fieldHighUrgency); err != nil {
			return err
		}
		s.HighUrgency = d.HighUrgency
	}

	if d.Output != "" {
		s.Outputs[role] = d.Output
	}
	if d.Failure != "" {
		s.Failures[role] = d.Failure
	}
	s.ToolResults = append(s.ToolResults, d.ToolResults...)
	return nil
}
