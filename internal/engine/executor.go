package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/notify"
)

// Executor runs a plan tier by tier. Nodes inside a tier run concurrently
// and their deltas are committed in tier order once the tier finishes, so
// later tiers observe a consistent state.
type Executor struct {
	nodes       map[string]Node
	nodeTimeout time.Duration
}

// NewExecutor wires the node set. Roles must be unique.
func NewExecutor(nodes []Node, nodeTimeout time.Duration) (*Executor, error) {
	byRole := make(map[string]Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byRole[n.Role()]; dup {
			return nil, fmt.Errorf("duplicate agent role %q", n.Role())
		}
		byRole[n.Role()] = n
	}
	return &Executor{nodes: byRole, nodeTimeout: nodeTimeout}, nil
}

// Roles describes the node set for the orchestrator.
func (ex *Executor) Roles() []RoleInfo {
	out := make([]RoleInfo, 0, len(ex.nodes))
	for _, n := range ex.nodes {
		out = append(out, RoleInfo{Name: n.Role(), Description: n.Describe()})
	}
	return out
}

type nodeResult struct {
	role  string
	delta *Delta
	err   error
}

// Run executes the plan against the state. A node that times out or fails
// degrades to an empty contribution; a node that fails fatally also takes
// its dependents down. Only a ConflictError aborts the run.
func (ex *Executor) Run(ctx context.Context, plan *Plan, st *GraphState) error {
	aborted := make(map[string]bool)

	for _, tier := range plan.Tiers {
		runnable := make([]string, 0, len(tier))
		for _, role := range tier {
			if dep := abortedDep(role, plan.Deps, aborted); dep != "" {
				aborted[role] = true
				st.Failures[role] = "skipped: " + dep + " did not complete"
				st.Center.Publish(notify.New(role, "agent_skipped", notify.PriorityMedium,
					fmt.Sprintf("%s was skipped because %s did not complete", role, dep)))
				continue
			}
			if _, ok := ex.nodes[role]; !ok {
				return &RoutingError{Reason: fmt.Sprintf("plan references unknown agent %q", role)}
			}
			runnable = append(runnable, role)
		}
		if len(runnable) == 0 {
			continue
		}

		results := ex.runTier(ctx, runnable, st)

		// Commit deltas in tier order with tier-scoped ownership.
		owners := make(map[string]string)
		for _, role := range runnable {
			res, finished := results[role]
			if !finished {
				st.Failures[role] = "turn deadline exceeded"
				st.Center.Publish(notify.New(role, "agent_timeout", notify.PriorityHigh,
					fmt.Sprintf("%s did not finish before the turn deadline", role)))
				continue
			}

			switch {
			case res.err == nil:
				if err := st.apply(role, res.delta, owners); err != nil {
					return err
				}
			case IsFatal(res.err):
				aborted[role] = true
				st.Failures[role] = res.err.Error()
				st.Center.Publish(notify.New(role, "agent_failed", notify.PriorityHigh,
					fmt.Sprintf("%s failed: %v", role, res.err)))
				slog.Error("agent failed fatally", "agent", role, "error", res.err)
			case errors.Is(res.err, context.DeadlineExceeded) || ctx.Err() != nil:
				st.Failures[role] = "timed out"
				st.Center.Publish(notify.New(role, "agent_timeout", notify.PriorityHigh,
					fmt.Sprintf("%s timed out and contributed nothing this turn", role)))
				slog.Warn("agent timed out", "agent", role, "timeout", ex.nodeTimeout)
			default:
				st.Failures[role] = res.err.Error()
				slog.Warn("agent degraded", "agent", role, "error", res.err)
			}
		}
	}
	return nil
}

// runTier starts every node in its own goroutine with a per-node timeout
// and gathers whatever finishes before the turn deadline.
func (ex *Executor) runTier(ctx context.Context, tier []string, st *GraphState) map[string]nodeResult {
	results := make(chan nodeResult, len(tier))
	var wg sync.WaitGroup

	for _, role := range tier {
		node := ex.nodes[role]
		wg.Add(1)
		go func(role string, node Node) {
			defer wg.Done()

			nodeCtx, cancel := context.WithTimeout(ctx, ex.nodeTimeout)
			defer cancel()

			done := make(chan nodeResult, 1)
			go func() {
				delta, err := node.Execute(nodeCtx, st)
				done <- nodeResult{role: role, delta: delta, err: err}
			}()

			select {
			case res := <-done:
				results <- res
			case <-nodeCtx.Done():
				// A late result is discarded; the node already counts
				// as timed out.
				results <- nodeResult{role: role, err: context.DeadlineExceeded}
			}
		}(role, node)
	}

	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
	case <-ctx.Done():
	}

	out := make(map[string]nodeResult, len(tier))
	for {
		select {
		case res := <-results:
			out[res.role] = res
		default:
			return out
		}
	}
}

// abortedDep returns the first dependency of role that was abandoned, or
// the empty string.
func abortedDep(role string, deps map[string][]string, aborted map[string]bool) string {
	for _, dep := range deps[role] {
		if aborted[dep] {
			return dep
		}
	}
	return ""
}
