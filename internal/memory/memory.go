// Package memory holds short-lived conversational continuity: the last
// exchange and recent tool results for each session, kept just long enough
// to resolve follow-ups like "yes please".
package memory

import (
	"encoding/json"
	"fmt"
	"time"
)

// ToolResult is the stored outcome of one tool invocation.
type ToolResult struct {
	ToolName   string          `json:"tool_name"`
	Parameters map[string]any  `json:"parameters,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CallID     string          `json:"call_id,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// Identity returns the deduplication key for a result: the tool name plus
// its parameters in canonical JSON. Two calls to the same tool with the same
// parameters share an identity regardless of when they ran.
func (r ToolResult) Identity() string {
	params, err := json.Marshal(r.Parameters)
	if err != nil {
		params = []byte("{}")
	}
	return fmt.Sprintf("%s(%s)", r.ToolName, params)
}

// Record is one session's short-term memory.
type Record struct {
	SessionID            string       `json:"session_id"`
	LastUserMessage      string       `json:"last_user_message,omitempty"`
	LastAssistantMessage string       `json:"last_assistant_message,omitempty"`
	MessageCount         int          `json:"message_count"`
	ToolResults          []ToolResult `json:"tool_results,omitempty"`
	ExpiresAt            time.Time    `json:"expires_at"`
}

// MergeToolResults combines prior results with fresh ones, deduplicating by
// identity. A fresh result replaces a prior one with the same identity in
// place; otherwise it is appended. Input slices are not modified.
func MergeToolResults(prior, fresh []ToolResult) []ToolResult {
	merged := make([]ToolResult, len(prior))
	copy(merged, prior)

	index := make(map[string]int, len(merged))
	for i, r := range merged {
		index[r.Identity()] = i
	}

	for _, r := range fresh {
		key := r.Identity()
		if i, ok := index[key]; ok {
			merged[i] = r
			continue
		}
		index[key] = len(merged)
		merged = append(merged, r)
	}
	return merged
}
