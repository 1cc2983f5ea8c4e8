package store

import (
	"database/sql"
	"fmt"
	"time"
)

type Schedule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Spec       string     `json:"spec"`
	Prompt     string     `json:"prompt"`
	SessionID  string     `json:"session_id,omitempty"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const scheduleColumns = `id, name, spec, prompt, session_id, status,
	       next_run_at, last_run_at, last_status, last_error, created_at`

func scanSchedule(scanner interface {
	Scan(dest ...any) error
}) (*Schedule, error) {
	sc := &Schedule{}
	var sessionID, lastStatus, lastError *string
	err := scanner.Scan(&sc.ID, &sc.Name, &sc.Spec, &sc.Prompt, &sessionID, &sc.Status,
		&sc.NextRunAt, &sc.LastRunAt, &lastStatus, &lastError, &sc.CreatedAt)
	if err != nil {
		return nil, err
	}
	if sessionID != nil {
		sc.SessionID = *sessionID
	}
	if lastStatus != nil {
		sc.LastStatus = *lastStatus
	}
	if lastError != nil {
		sc.LastError = *lastError
	}
	return sc, nil
}

func (s *Store) SaveSchedule(sc *Schedule) error {
	_, err := s.db.Exec(`
		INSERT INTO schedules (id, name, spec, prompt, session_id, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			spec = excluded.spec,
			prompt = excluded.prompt,
			session_id = excluded.session_id,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sc.ID, sc.Name, sc.Spec, sc.Prompt, sc.SessionID, sc.Status, sc.NextRunAt)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (s *Store) GetSchedule(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	sc, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) ListSchedules() ([]Schedule, error) {
	rows, err := s.db.Query(`SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

func (s *Store) GetDueSchedules(now time.Time) ([]Schedule, error) {
	rows, err := s.db.Query(`
		SELECT `+scheduleColumns+`
		FROM schedules
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due schedules: %w", err)
	}
	defer rows.Close()

	var schedules []Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, *sc)
	}
	return schedules, rows.Err()
}

func (s *Store) UpdateScheduleRun(id string, lastStatus string, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.Exec(`
		UPDATE schedules
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	return err
}

func (s *Store) UpdateScheduleStatus(id string, status string) error {
	_, err := s.db.Exec(`UPDATE schedules SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteSchedule(id string) error {
	_, err := s.db.Exec(`DELETE FROM schedules WHERE id = ?`, id)
	return err
}
