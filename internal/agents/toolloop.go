package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/memory"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
	"github.com/vicpeacock/knowledge-navigator/internal/tools"
)

type loopState int

const (
	stateSelecting loopState = iota
	stateExecuting
	stateEvaluating
	stateDone
)

// toolLoop drives one agent's bounded tool cycle: the model selects calls,
// the loop executes them and feeds the outcomes back until the model
// answers in plain text or the iteration cap cuts it off.
type toolLoop struct {
	role          string
	backend       llm.Backend
	invoker       tools.Invoker
	allowed       map[string]bool // nil allows every listed tool
	maxIterations int
}

type loopResult struct {
	text    string
	results []memory.ToolResult
	capped  bool
}

// run starts in the selecting state. On an acknowledgement turn the stored
// tool results are spliced into the conversation before the first model
// call, so the agent can act on them without re-invoking the tools that
// produced them.
func (l *toolLoop) run(ctx context.Context, system string, messages []llm.Message, st *engine.GraphState) (*loopResult, error) {
	if st.Acknowledgement {
		if prior := st.PriorToolResults(); len(prior) > 0 {
			messages = append(messages, llm.Message{Role: "user", Content: storedResultsNote(prior)})
		}
	}

	defs := l.toolDefs()
	out := &loopResult{}
	state := stateSelecting
	var pending []llm.ToolCall
	iterations := 0

	for {
		switch state {
		case stateSelecting:
			if iterations >= l.maxIterations {
				out.capped = true
				st.Center.Publish(notify.New(l.role, "tool_loop_cap_exceeded", notify.PriorityMedium,
					fmt.Sprintf("%s stopped tool use after %d rounds and answered with what it had", l.role, iterations)))
				slog.Warn("tool loop cap reached", "agent", l.role, "iterations", iterations)

				// One final call without tools so the turn still ends
				// in an answer.
				reply, err := l.backend.Generate(ctx, llm.Request{System: system, Messages: messages})
				if err != nil {
					return nil, fmt.Errorf("answer after tool cap: %w", err)
				}
				out.text = reply.Text
				state = stateDone
				continue
			}

			reply, err := l.backend.Generate(ctx, llm.Request{System: system, Messages: messages, Tools: defs})
			if err != nil {
				return nil, fmt.Errorf("tool selection: %w", err)
			}
			if len(reply.Calls) == 0 {
				out.text = reply.Text
				state = stateDone
				continue
			}
			pending = reply.Calls
			messages = append(messages, llm.Message{Role: "assistant", Content: reply.Text, Calls: reply.Calls})
			state = stateExecuting

		case stateExecuting:
			results := l.execute(ctx, pending)
			out.results = append(out.results, results...)
			messages = append(messages, outcomeTurn(results))
			pending = nil
			state = stateEvaluating

		case stateEvaluating:
			// The evaluation happens in the next model call: it sees the
			// outcomes and either selects more work or answers.
			iterations++
			state = stateSelecting

		case stateDone:
			return out, nil
		}
	}
}

// execute runs the selected calls concurrently, keeping outcome order
// aligned with selection order. A failing call becomes an error entry and
// never halts its siblings.
func (l *toolLoop) execute(ctx context.Context, calls []llm.ToolCall) []memory.ToolResult {
	results := make([]memory.ToolResult, len(calls))
	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call llm.ToolCall) {
			defer wg.Done()
			results[i] = l.invoke(ctx, call)
		}(i, call)
	}
	wg.Wait()
	return results
}

func (l *toolLoop) invoke(ctx context.Context, call llm.ToolCall) memory.ToolResult {
	res := memory.ToolResult{
		ToolName:   call.Name,
		Parameters: call.Params,
		CallID:     call.ID,
		CreatedAt:  time.Now(),
	}
	if l.invoker == nil {
		res.Error = "no tool backend configured"
		return res
	}
	raw, err := l.invoker.Invoke(ctx, call.Name, call.Params)
	if err != nil {
		res.Error = err.Error()
		slog.Warn("tool call failed", "agent", l.role, "tool", call.Name, "error", err)
		return res
	}
	res.Result = raw
	return res
}

func (l *toolLoop) toolDefs() []llm.ToolDef {
	if l.invoker == nil {
		return nil
	}
	var defs []llm.ToolDef
	for _, d := range l.invoker.List() {
		if l.allowed != nil && !l.allowed[d.Name] {
			continue
		}
		defs = append(defs, llm.ToolDef{
			Name:        d.Name,
			Description: d.Description,
			InputSchema: d.InputSchema,
		})
	}
	return defs
}

// outcomeTurn renders executed calls as the tool-result message answering
// the assistant's call message.
func outcomeTurn(results []memory.ToolResult) llm.Message {
	outcomes := make([]llm.ToolOutcome, 0, len(results))
	for _, r := range results {
		o := llm.ToolOutcome{CallID: r.CallID, Content: string(r.Result)}
		if r.Error != "" {
			o.Content = r.Error
			o.IsError = true
		}
		outcomes = append(outcomes, o)
	}
	return llm.Message{Role: "user", Outcomes: outcomes}
}

// storedResultsNote renders earlier tool results so an acknowledged action
// can resume where it left off.
func storedResultsNote(prior []memory.ToolResult) string {
	var b strings.Builder
	b.WriteString("Results already gathered earlier in this conversation; use them instead of repeating the calls:\n")
	for _, r := range prior {
		params, _ := json.Marshal(r.Parameters)
		if r.Error != "" {
			fmt.Fprintf(&b, "- %s(%s) failed: %s\n", r.ToolName, params, r.Error)
			continue
		}
		fmt.Fprintf(&b, "- %s(%s) -> %s\n", r.ToolName, params, trimForPrompt(string(r.Result), 2000))
	}
	return b.String()
}

func trimForPrompt(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
