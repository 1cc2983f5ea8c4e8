// Package agents holds the five node implementations the engine executes:
// main, knowledge, integrity, collector and formatter. The first three
// reason with the model; the last two run deterministically at the end of
// every turn.
package agents

import (
	"github.com/vicpeacock/knowledge-navigator/internal/broker"
	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/tools"
)

// Deps carries everything the roster needs. Broker may be nil; agents then
// skip lateral coordination.
type Deps struct {
	Backend llm.Backend
	Tools   tools.Invoker
	Broker  *broker.Broker
	Engine  config.EngineConfig
}

// BuildRoster constructs the full node set for the engine.
func BuildRoster(d Deps) []engine.Node {
	return []engine.Node{
		NewMain(d),
		NewKnowledge(d),
		NewIntegrity(d),
		Collector{},
		Formatter{},
	}
}

const mainSystem = `You are the main agent of a personal assistant. You talk
to the user directly: answer questions, carry out requests and keep the tone
short and helpful. Use the available tools when the request needs data you
do not have; do not invent mailbox or calendar contents. When results from
earlier in the conversation are provided, act on them instead of repeating
the calls that produced them.`

const knowledgeSystem = `You are the knowledge agent of a personal
assistant. You do not talk to the user. Read the conversation, look up
whatever the read-only tools can add, and produce a short factual summary
of what is worth remembering: names, dates, commitments, preferences.
Answer with the summary only; say "nothing new" if there is nothing.`

const integritySystem = `You are the integrity agent of a personal
assistant. Compare the user's latest message against the stored
conversation state and report whether they contradict each other, for
example conflicting dates, amounts or commitments. Respond with ONLY a JSON
object {"contradiction": bool, "explanation": string}, nothing else.`

// knowledgeTools is the knowledge agent's read-only allow-list.
var knowledgeTools = map[string]bool{
	"current_time":  true,
	"search_emails": true,
	"get_email":     true,
	"list_calendar": true,
}
