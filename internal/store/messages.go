package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Message struct {
	ID        int64           `json:"id"`
	SessionID string          `json:"session_id"`
	Role      string          `json:"role"`
	Content   string          `json:"content"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

func (s *Store) SaveMessage(msg *Message) error {
	result, err := s.db.Exec(`
		INSERT INTO messages (session_id, role, content, metadata)
		VALUES (?, ?, ?, ?)`,
		msg.SessionID, msg.Role, msg.Content, msg.Metadata)
	if err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	msg.ID, _ = result.LastInsertId()
	return nil
}

// GetMessages returns the most recent messages of a session in
// chronological order.
func (s *Store) GetMessages(sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, metadata, created_at
		FROM messages
		WHERE session_id = ?
		ORDER BY id DESC
		LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, rows.Err()
}

func (s *Store) GetRecentMessages(limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, session_id, role, content, metadata, created_at
		FROM messages
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("get recent messages: %w", err)
	}
	defer rows.Close()

	messages, err := scanMessages(rows)
	if err != nil {
		return nil, err
	}
	return messages, rows.Err()
}

func scanMessages(rows *sql.Rows) ([]Message, error) {
	var messages []Message
	for rows.Next() {
		var m Message
		var metadata *string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		if metadata != nil {
			m.Metadata = json.RawMessage(*metadata)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

type SessionStats struct {
	SessionID    string
	MessageCount int
	LastActive   time.Time
}

func (s *Store) GetSessionStats() (map[string]SessionStats, error) {
	rows, err := s.db.Query(`
		SELECT session_id, COUNT(*) as cnt, COALESCE(MAX(created_at), '') as last_active
		FROM messages
		GROUP BY session_id`)
	if err != nil {
		return nil, fmt.Errorf("get session stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[string]SessionStats)
	for rows.Next() {
		var st SessionStats
		var lastActive string
		if err := rows.Scan(&st.SessionID, &st.MessageCount, &lastActive); err != nil {
			return nil, fmt.Errorf("scan session stats: %w", err)
		}
		if lastActive != "" {
			st.LastActive, _ = time.Parse("2006-01-02 15:04:05", lastActive)
		}
		stats[st.SessionID] = st
	}
	return stats, rows.Err()
}
