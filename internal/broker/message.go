package broker

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Message types exchanged between agents.
const (
	TypeQuery        = "query"
	TypeResponse     = "response"
	TypeNotification = "notification"
	TypeStatus       = "status"
)

// AgentMessage is the unit of inter-agent communication. To is empty for
// broadcast messages. RequestID correlates a response with the request that
// asked for it.
type AgentMessage struct {
	MessageID        string          `json:"message_id"`
	From             string          `json:"from"`
	To               string          `json:"to,omitempty"`
	Type             string          `json:"type"`
	Content          json.RawMessage `json:"content,omitempty"`
	Priority         string          `json:"priority,omitempty"`
	RequiresResponse bool            `json:"requires_response,omitempty"`
	RequestID        string          `json:"request_id,omitempty"`
	Timestamp        time.Time       `json:"timestamp"`
}

// NewMessage builds an addressed message with the content marshaled to JSON.
func NewMessage(from, to, msgType string, content any) (AgentMessage, error) {
	raw, err := json.Marshal(content)
	if err != nil {
		return AgentMessage{}, err
	}
	return AgentMessage{
		MessageID: uuid.NewString(),
		From:      from,
		To:        to,
		Type:      msgType,
		Content:   raw,
		Timestamp: time.Now(),
	}, nil
}

// DecodeContent unmarshals the message content into out.
func (m AgentMessage) DecodeContent(out any) error {
	return json.Unmarshal(m.Content, out)
}
