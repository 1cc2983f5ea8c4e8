// Package broker routes messages between agents over the embedded NATS
// server. Point-to-point sends, filtered broadcasts and correlated
// request/response exchanges all travel through per-agent inbox topics.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/vicpeacock/knowledge-navigator/internal/natsbus"
)

// TimeoutError reports a request that received no response in time.
type TimeoutError struct {
	To        string
	RequestID string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response from %s within %s (request %s)", e.To, e.Timeout, e.RequestID)
}

// Handler receives messages delivered to a registered agent.
type Handler func(msg AgentMessage)

type registration struct {
	handler Handler
	sub     *nats.Subscription
}

// Broker mediates all inter-agent messaging. Messages for agents that have
// not registered yet are queued and flushed, oldest first, when the agent
// registers. The pending table correlates in-flight requests with their
// responses; it is the only mutable state shared across turns besides the
// notification buffer.
type Broker struct {
	client *natsbus.Client

	mu      sync.Mutex
	agents  map[string]*registration
	queued  map[string][]AgentMessage
	pending map[string]chan AgentMessage
}

// New creates a broker on top of an existing NATS client.
func New(client *natsbus.Client) *Broker {
	return &Broker{
		client:  client,
		agents:  make(map[string]*registration),
		queued:  make(map[string][]AgentMessage),
		pending: make(map[string]chan AgentMessage),
	}
}

// Register subscribes the named agent to its inbox and flushes any messages
// queued while it was offline. Registering an already registered agent
// replaces its handler.
func (b *Broker) Register(role string, handler Handler) error {
	b.mu.Lock()
	if prev, ok := b.agents[role]; ok {
		prev.sub.Unsubscribe()
		delete(b.agents, role)
	}
	b.mu.Unlock()

	sub, err := b.client.Subscribe(natsbus.TopicAgentInbox(role), func(msg *nats.Msg) {
		b.dispatch(role, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s inbox: %w", role, err)
	}

	b.mu.Lock()
	b.agents[role] = &registration{handler: handler, sub: sub}
	backlog := b.queued[role]
	delete(b.queued, role)
	b.mu.Unlock()

	for _, m := range backlog {
		if err := b.publish(role, m); err != nil {
			slog.Warn("failed to flush queued message", "to", role, "id", m.MessageID, "error", err)
		}
	}
	return nil
}

// Unregister removes the agent's inbox subscription. Subsequent sends to it
// queue until it registers again.
func (b *Broker) Unregister(role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if reg, ok := b.agents[role]; ok {
		reg.sub.Unsubscribe()
		delete(b.agents, role)
	}
}

// Registered reports whether the named agent currently has an inbox handler.
func (b *Broker) Registered(role string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.agents[role]
	return ok
}

// Roles returns the currently registered agent names.
func (b *Broker) Roles() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	roles := make([]string, 0, len(b.agents))
	for role := range b.agents {
		roles = append(roles, role)
	}
	return roles
}

// Send delivers msg to its recipient, waiting for the server to accept it.
// If the recipient is not registered the message is queued and Send returns
// immediately; queued messages keep their send order.
func (b *Broker) Send(ctx context.Context, msg AgentMessage) error {
	if msg.To == "" {
		return errors.New("send requires a recipient")
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	b.mu.Lock()
	_, ok := b.agents[msg.To]
	if !ok {
		b.queued[msg.To] = append(b.queued[msg.To], msg)
		b.mu.Unlock()
		slog.Debug("queued message for offline agent", "to", msg.To, "from", msg.From, "type", msg.Type)
		return nil
	}
	b.mu.Unlock()

	return b.publish(msg.To, msg)
}

// Broadcast delivers msg to every registered agent passing the filter, except
// the sender. A nil filter matches everyone. Delivery failures do not stop
// the fan-out; they are collected and returned joined after all recipients
// have been attempted.
func (b *Broker) Broadcast(ctx context.Context, msg AgentMessage, filter func(role string) bool) error {
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.To = ""

	b.mu.Lock()
	targets := make([]string, 0, len(b.agents))
	for role := range b.agents {
		if role == msg.From {
			continue
		}
		if filter != nil && !filter(role) {
			continue
		}
		targets = append(targets, role)
	}
	b.mu.Unlock()

	var errs []error
	for _, role := range targets {
		if err := b.publish(role, msg); err != nil {
			errs = append(errs, fmt.Errorf("broadcast to %s: %w", role, err))
		}
	}
	return errors.Join(errs...)
}

// Request sends msg to its recipient and waits for a correlated response.
// On timeout the pending entry is removed and a TimeoutError returned; a
// response arriving after that is dropped with a log line, never delivered.
// The requester must itself be registered so the response can reach its
// inbox.
func (b *Broker) Request(ctx context.Context, msg AgentMessage, timeout time.Duration) (AgentMessage, error) {
	if msg.To == "" {
		return AgentMessage{}, errors.New("request requires a recipient")
	}
	if msg.RequestID == "" {
		msg.RequestID = uuid.NewString()
	}
	msg.RequiresResponse = true

	replyCh := make(chan AgentMessage, 1)
	b.mu.Lock()
	b.pending[msg.RequestID] = replyCh
	b.mu.Unlock()

	if err := b.Send(ctx, msg); err != nil {
		b.mu.Lock()
		delete(b.pending, msg.RequestID)
		b.mu.Unlock()
		return AgentMessage{}, err
	}

	select {
	case reply := <-replyCh:
		return reply, nil
	case <-time.After(timeout):
		b.mu.Lock()
		delete(b.pending, msg.RequestID)
		b.mu.Unlock()
		return AgentMessage{}, &TimeoutError{To: msg.To, RequestID: msg.RequestID, Timeout: timeout}
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, msg.RequestID)
		b.mu.Unlock()
		return AgentMessage{}, ctx.Err()
	}
}

// Respond answers a request message. The reply inherits the request
// correlation id and goes back to the original sender.
func (b *Broker) Respond(ctx context.Context, req AgentMessage, from string, content any) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal response content: %w", err)
	}
	return b.Send(ctx, AgentMessage{
		MessageID: uuid.NewString(),
		From:      from,
		To:        req.From,
		Type:      TypeResponse,
		Content:   raw,
		RequestID: req.RequestID,
		Timestamp: time.Now(),
	})
}

func (b *Broker) publish(role string, msg AgentMessage) error {
	if err := b.client.PublishJSON(natsbus.TopicAgentInbox(role), msg); err != nil {
		return err
	}
	return b.client.Flush()
}

// dispatch routes an inbound message either to the pending-request table or
// to the agent's handler. Responses whose request is no longer pending are
// dropped.
func (b *Broker) dispatch(role string, data []byte) {
	var msg AgentMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		slog.Warn("dropping undecodable agent message", "to", role, "error", err)
		return
	}

	if msg.Type == TypeResponse && msg.RequestID != "" {
		b.mu.Lock()
		ch, ok := b.pending[msg.RequestID]
		if ok {
			delete(b.pending, msg.RequestID)
		}
		b.mu.Unlock()
		if !ok {
			slog.Debug("dropping late response", "request_id", msg.RequestID, "from", msg.From)
			return
		}
		ch <- msg
		return
	}

	b.mu.Lock()
	reg, ok := b.agents[role]
	b.mu.Unlock()
	if !ok {
		return
	}
	reg.handler(msg)
}
