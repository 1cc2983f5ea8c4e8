package engine

import "fmt"

// Plan is an executable ordering of a routing decision: tiers run one after
// another, nodes inside a tier run concurrently. Deps is kept so the
// executor can skip dependents of an abandoned branch.
type Plan struct {
	Tiers [][]string
	Deps  map[string][]string
}

// BuildPlan validates a decision against the known roles and layers it with
// Kahn's algorithm. Unknown agents, dependencies outside the required set
// and cycles all come back as RoutingError.
func BuildPlan(dec *RoutingDecision, known map[string]bool) (*Plan, error) {
	if dec == nil || len(dec.RequiredAgents) == 0 {
		return nil, &RoutingError{Reason: "decision requires at least one agent"}
	}

	required := make(map[string]bool, len(dec.RequiredAgents))
	roles := make([]string, 0, len(dec.RequiredAgents))
	for _, role := range dec.RequiredAgents {
		if !known[role] {
			return nil, &RoutingError{Reason: fmt.Sprintf("decision references unknown agent %q", role)}
		}
		if required[role] {
			continue
		}
		required[role] = true
		roles = append(roles, role)
	}

	deps := make(map[string][]string, len(dec.Dependencies))
	inDegree := make(map[string]int, len(roles))
	dependents := make(map[string][]string)
	for _, role := range roles {
		for _, dep := range dec.Dependencies[role] {
			if !required[dep] {
				return nil, &RoutingError{Reason: fmt.Sprintf("%s depends on %q which is not part of the decision", role, dep)}
			}
			if dep == role {
				return nil, &RoutingError{Reason: fmt.Sprintf("%s depends on itself", role)}
			}
			deps[role] = append(deps[role], dep)
			dependents[dep] = append(dependents[dep], role)
			inDegree[role]++
		}
	}

	// Kahn's algorithm, assigning each role the depth of its longest
	// dependency chain. Iteration follows the decision's agent order so
	// plans are deterministic.
	depth := make(map[string]int, len(roles))
	var queue []string
	for _, role := range roles {
		if inDegree[role] == 0 {
			queue = append(queue, role)
		}
	}

	processed := 0
	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		processed++
		for _, next := range dependents[role] {
			if depth[next] < depth[role]+1 {
				depth[next] = depth[role] + 1
			}
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	if processed != len(roles) {
		return nil, &RoutingError{Reason: "dependency graph contains a cycle"}
	}

	maxDepth := 0
	for _, d := range depth {
		if d > maxDepth {
			maxDepth = d
		}
	}

	tiers := make([][]string, maxDepth+1)
	for _, role := range roles {
		d := depth[role]
		tiers[d] = append(tiers[d], role)
	}

	if !dec.Parallel {
		// Sequential execution: one node per tier, dependency order kept.
		var flat [][]string
		for _, tier := range tiers {
			for _, role := range tier {
				flat = append(flat, []string{role})
			}
		}
		tiers = flat
	}

	return &Plan{Tiers: tiers, Deps: deps}, nil
}
