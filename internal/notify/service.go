package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/store"
)

// Dispatcher pushes a notification out through one delivery surface, such as
// the web socket hub or the Telegram bot.
type Dispatcher interface {
	Name() string
	Dispatch(ctx context.Context, n Notification) error
}

// Service is the process-level notification sink. It archives entries,
// fans urgent ones out to the registered dispatchers and holds digest
// entries until they are drained.
type Service struct {
	store *store.Store

	mu          sync.RWMutex
	dispatchers []Dispatcher
}

// NewService creates a sink backed by the given store. The store may be nil,
// in which case nothing is archived.
func NewService(st *store.Store) *Service {
	return &Service{store: st}
}

// RegisterDispatcher adds a delivery surface for blocking, immediate and
// async notifications.
func (s *Service) RegisterDispatcher(d Dispatcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dispatchers = append(s.dispatchers, d)
	slog.Info("registered notification dispatcher", "name", d.Name())
}

// Accept handles one published notification according to its channel: log
// entries only hit the log, digest entries are archived for later draining,
// everything else is archived and pushed to the dispatchers right away.
func (s *Service) Accept(n Notification) {
	if n.Channel == ChannelLog {
		slog.Info("notification", "type", n.Type, "source", n.Source, "body", n.Body)
		return
	}

	s.archive(n)

	switch n.Channel {
	case ChannelBlocking, ChannelImmediate:
		s.push(n)
	case ChannelAsync:
		go s.push(n)
	}
}

// Digest drains up to limit archived digest notifications, oldest first,
// marking them delivered.
func (s *Service) Digest(limit int) ([]Notification, error) {
	if s.store == nil {
		return nil, nil
	}
	rows, err := s.store.ListPendingNotifications(ChannelDigest, limit)
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(rows))
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
		ids = append(ids, r.ID)
	}
	if len(ids) > 0 {
		if err := s.store.MarkNotificationsDelivered(ids, time.Now()); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Recent returns the latest archived notifications for the dashboard.
func (s *Service) Recent(limit int) ([]Notification, error) {
	if s.store == nil {
		return nil, nil
	}
	rows, err := s.store.ListRecentNotifications(limit)
	if err != nil {
		return nil, err
	}
	out := make([]Notification, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromRow(r))
	}
	return out, nil
}

// push fans the notification out to every dispatcher. A failing dispatcher
// does not block the others; failures are logged and the entry stays
// archived either way.
func (s *Service) push(n Notification) {
	s.mu.RLock()
	dispatchers := make([]Dispatcher, len(s.dispatchers))
	copy(dispatchers, s.dispatchers)
	s.mu.RUnlock()

	if len(dispatchers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var delivered bool
	var mu sync.Mutex
	for _, d := range dispatchers {
		wg.Add(1)
		go func(d Dispatcher) {
			defer wg.Done()
			if err := d.Dispatch(ctx, n); err != nil {
				slog.Warn("notification dispatch failed", "dispatcher", d.Name(), "id", n.ID, "error", err)
				return
			}
			mu.Lock()
			delivered = true
			mu.Unlock()
		}(d)
	}
	wg.Wait()

	if delivered {
		s.markDelivered(n.ID)
	}
}

// rowPayload carries the optional notification fields inside the archive
// row's payload blob.
type rowPayload struct {
	Feature     string         `json:"feature,omitempty"`
	ReferenceID string         `json:"reference_id,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Actions     []string       `json:"actions,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
}

func (s *Service) archive(n Notification) {
	if s.store == nil {
		return
	}
	var payload json.RawMessage
	if n.Feature != "" || n.ReferenceID != "" || n.Summary != "" || len(n.Actions) > 0 || len(n.Data) > 0 {
		payload, _ = json.Marshal(rowPayload{
			Feature:     n.Feature,
			ReferenceID: n.ReferenceID,
			Summary:     n.Summary,
			Actions:     n.Actions,
			Data:        n.Data,
		})
	}
	err := s.store.SaveNotification(&store.NotificationRow{
		ID:          n.ID,
		Type:        n.Type,
		Priority:    n.Priority,
		Channel:     n.Channel,
		SourceAgent: n.Source,
		Title:       n.Title,
		Body:        n.Body,
		Payload:     payload,
		SessionID:   n.SessionID,
		CreatedAt:   n.CreatedAt,
	})
	if err != nil {
		slog.Warn("failed to archive notification", "id", n.ID, "error", err)
	}
}

func (s *Service) markDelivered(id string) {
	if s.store == nil {
		return
	}
	if err := s.store.MarkNotificationsDelivered([]string{id}, time.Now()); err != nil {
		slog.Warn("failed to mark notification delivered", "id", id, "error", err)
	}
}

func fromRow(r store.NotificationRow) Notification {
	n := Notification{
		ID:        r.ID,
		Type:      r.Type,
		Priority:  r.Priority,
		Channel:   r.Channel,
		Source:    r.SourceAgent,
		Title:     r.Title,
		Body:      r.Body,
		SessionID: r.SessionID,
		CreatedAt: r.CreatedAt,
	}
	if len(r.Payload) > 0 {
		var p rowPayload
		if json.Unmarshal(r.Payload, &p) == nil {
			n.Feature = p.Feature
			n.ReferenceID = p.ReferenceID
			n.Summary = p.Summary
			n.Actions = p.Actions
			n.Data = p.Data
		}
	}
	return n
}
