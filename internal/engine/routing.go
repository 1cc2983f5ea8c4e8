package engine

// RoutingDecision says which agents handle a turn and how. Dependencies maps
// an agent to the agents whose committed output it needs; the graph they
// form must be acyclic.
type RoutingDecision struct {
	RequiredAgents       []string            `json:"required_agents"`
	Parallel             bool                `json:"parallel"`
	Dependencies         map[string][]string `json:"dependencies,omitempty"`
	PerAgentContext      map[string]string   `json:"per_agent_context,omitempty"`
	RequiresCoordination bool                `json:"requires_coordination,omitempty"`
}

// FallbackDecision routes the turn to the main agent alone, sequentially.
// It is used whenever routing fails and must always validate.
func FallbackDecision() *RoutingDecision {
	return &RoutingDecision{
		RequiredAgents: []string{RoleMain},
		Parallel:       false,
	}
}

// Roles every deployment carries. The collector and formatter never appear
// in routing decisions; the engine appends them to the end of each turn.
const (
	RoleMain      = "main"
	RoleKnowledge = "knowledge"
	RoleIntegrity = "integrity"
	RoleCollector = "collector"
	RoleFormatter = "formatter"
)

// reservedRoles are stripped from incoming routing decisions.
var reservedRoles = map[string]bool{
	RoleCollector: true,
	RoleFormatter: true,
}
