package store

import (
	"database/sql"
	"fmt"
	"time"
)

// MemoryRow is one persisted short-term memory record. Payload is the
// JSON-encoded record, optionally sealed by the vault.
type MemoryRow struct {
	SessionID string    `json:"session_id"`
	Payload   []byte    `json:"-"`
	Sealed    bool      `json:"sealed"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// GetMemory returns the memory row for a session, or nil when none
// exists or the stored row has expired.
func (s *Store) GetMemory(sessionID string, now time.Time) (*MemoryRow, error) {
	row := s.db.QueryRow(`
		SELECT session_id, payload, sealed, expires_at, updated_at
		FROM memory WHERE session_id = ?`, sessionID)

	m := &MemoryRow{}
	var sealed int
	err := row.Scan(&m.SessionID, &m.Payload, &sealed, &m.ExpiresAt, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}
	m.Sealed = sealed == 1

	if !m.ExpiresAt.After(now) {
		return nil, nil
	}
	return m, nil
}

func (s *Store) SetMemory(m *MemoryRow) error {
	_, err := s.db.Exec(`
		INSERT INTO memory (session_id, payload, sealed, expires_at, updated_at)
		VALUES (?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(session_id) DO UPDATE SET
			payload = excluded.payload,
			sealed = excluded.sealed,
			expires_at = excluded.expires_at,
			updated_at = CURRENT_TIMESTAMP`,
		m.SessionID, m.Payload, boolToInt(m.Sealed), m.ExpiresAt)
	if err != nil {
		return fmt.Errorf("set memory: %w", err)
	}
	return nil
}

func (s *Store) DeleteMemory(sessionID string) error {
	_, err := s.db.Exec(`DELETE FROM memory WHERE session_id = ?`, sessionID)
	return err
}

// DeleteExpiredMemory removes rows past their expiry and reports how
// many were dropped. Called periodically by the memory janitor.
func (s *Store) DeleteExpiredMemory(now time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM memory WHERE expires_at <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired memory: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}
