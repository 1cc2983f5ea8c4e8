package agents

import (
	"context"

	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
)

// Collector snapshots the turn's notification center into the two views the
// formatter and the turn result expose. Anything published after this node
// ran stays out of the turn, keeping the formatted response deterministic.
type Collector struct{}

func (Collector) Role() string { return engine.RoleCollector }

func (Collector) Describe() string {
	return "gathers the turn's notifications; runs automatically at the end of every turn"
}

func (Collector) Execute(ctx context.Context, st *engine.GraphState) (*engine.Delta, error) {
	return &engine.Delta{
		Collected:   st.Center.Collect(notify.PriorityInfo),
		HighUrgency: st.Center.Collect(notify.PriorityHigh),
	}, nil
}
