package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// NotificationRow is the archived form of a notification. Live delivery
// happens in-process; this table backs the digest queue and the
// dashboard history.
type NotificationRow struct {
	ID          string          `json:"id"`
	Type        string          `json:"type"`
	Priority    string          `json:"priority"`
	Channel     string          `json:"channel"`
	SourceAgent string          `json:"source_agent,omitempty"`
	Title       string          `json:"title,omitempty"`
	Body        string          `json:"body,omitempty"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	SessionID   string          `json:"session_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	DeliveredAt *time.Time      `json:"delivered_at,omitempty"`
}

const notificationColumns = `id, type, priority, channel, source_agent,
	       title, body, payload, session_id, created_at, delivered_at`

func scanNotification(scanner interface {
	Scan(dest ...any) error
}) (*NotificationRow, error) {
	n := &NotificationRow{}
	var sourceAgent, title, body, payload, sessionID *string
	err := scanner.Scan(&n.ID, &n.Type, &n.Priority, &n.Channel, &sourceAgent,
		&title, &body, &payload, &sessionID, &n.CreatedAt, &n.DeliveredAt)
	if err != nil {
		return nil, err
	}
	if sourceAgent != nil {
		n.SourceAgent = *sourceAgent
	}
	if title != nil {
		n.Title = *title
	}
	if body != nil {
		n.Body = *body
	}
	if payload != nil {
		n.Payload = json.RawMessage(*payload)
	}
	if sessionID != nil {
		n.SessionID = *sessionID
	}
	return n, nil
}

// SaveNotification archives a notification. Saving the same id twice is
// a no-op, matching the publish idempotence rule.
func (s *Store) SaveNotification(n *NotificationRow) error {
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO notifications
			(id, type, priority, channel, source_agent, title, body, payload, session_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.Type, n.Priority, n.Channel, n.SourceAgent, n.Title, n.Body,
		string(n.Payload), n.SessionID, n.CreatedAt)
	if err != nil {
		return fmt.Errorf("save notification: %w", err)
	}
	return nil
}

// ListPendingNotifications returns undelivered rows for a channel,
// oldest first.
func (s *Store) ListPendingNotifications(channel string, limit int) ([]NotificationRow, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE channel = ? AND delivered_at IS NULL
		ORDER BY created_at
		LIMIT ?`, channel, limit)
	if err != nil {
		return nil, fmt.Errorf("list pending notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRow
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *Store) ListRecentNotifications(limit int) ([]NotificationRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT `+notificationColumns+`
		FROM notifications
		ORDER BY created_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent notifications: %w", err)
	}
	defer rows.Close()

	var out []NotificationRow
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		out = append(out, *n)
	}
	return out, rows.Err()
}

func (s *Store) MarkNotificationsDelivered(ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(ids)-1) + "?"
	args := make([]any, 0, len(ids)+1)
	args = append(args, at)
	for _, id := range ids {
		args = append(args, id)
	}
	_, err := s.db.Exec(
		`UPDATE notifications SET delivered_at = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("mark notifications delivered: %w", err)
	}
	return nil
}

// GetNotification is used by tests and the dashboard detail view.
func (s *Store) GetNotification(id string) (*NotificationRow, error) {
	row := s.db.QueryRow(`SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanNotification(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get notification: %w", err)
	}
	return n, nil
}
