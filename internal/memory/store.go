package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
	"github.com/vicpeacock/knowledge-navigator/internal/vault"
)

// ErrUnavailable marks a failure to reach the memory backend. Turns treat it
// as recoverable: they proceed with empty prior state.
var ErrUnavailable = errors.New("short-term memory unavailable")

// Store persists session records with a TTL. Records are sealed with the
// vault when encryption is enabled.
type Store struct {
	db    *store.Store
	vault *vault.Vault
	ttl   time.Duration
}

// NewStore wires the memory layer. v may be nil when encryption is disabled.
func NewStore(db *store.Store, v *vault.Vault, cfg config.MemoryConfig) *Store {
	s := &Store{db: db, ttl: cfg.TTL}
	if cfg.Encrypt {
		s.vault = v
	}
	return s
}

// TTL returns the configured record lifetime.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Get loads the record for a session. A missing or expired record returns
// (nil, nil). Backend failures wrap ErrUnavailable.
func (s *Store) Get(ctx context.Context, sessionID string) (*Record, error) {
	row, err := s.db.GetMemory(sessionID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if row == nil {
		return nil, nil
	}

	payload := row.Payload
	if row.Sealed {
		if s.vault == nil {
			return nil, fmt.Errorf("%w: record sealed but encryption disabled", ErrUnavailable)
		}
		payload, err = s.vault.Open(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	rec.SessionID = sessionID
	rec.ExpiresAt = row.ExpiresAt
	return &rec, nil
}

// Set writes the record for its session and refreshes the TTL.
func (s *Store) Set(ctx context.Context, rec *Record) error {
	rec.ExpiresAt = time.Now().Add(s.ttl)

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal memory record: %w", err)
	}

	sealed := false
	if s.vault != nil {
		payload, err = s.vault.Seal(payload)
		if err != nil {
			return fmt.Errorf("seal memory record: %w", err)
		}
		sealed = true
	}

	err = s.db.SetMemory(&store.MemoryRow{
		SessionID: rec.SessionID,
		Payload:   payload,
		Sealed:    sealed,
		ExpiresAt: rec.ExpiresAt,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Delete removes a session's record.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	if err := s.db.DeleteMemory(sessionID); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// Janitor removes expired records every interval until ctx is done.
func (s *Store) Janitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.db.DeleteExpiredMemory(time.Now())
			if err != nil {
				slog.Warn("memory janitor sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Debug("memory janitor removed expired records", "count", n)
			}
		}
	}
}
