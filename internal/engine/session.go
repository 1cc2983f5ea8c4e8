package engine

import (
	"sort"
	"sync"
	"time"
)

// SessionInfo summarizes one active session for the status surfaces.
type SessionInfo struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Turns      int       `json:"turns"`
	StartedAt  time.Time `json:"started_at"`
	LastActive time.Time `json:"last_active"`
}

// SessionTracker keeps in-memory activity counters per session.
type SessionTracker struct {
	mu       sync.RWMutex
	sessions map[string]*SessionInfo
}

func NewSessionTracker() *SessionTracker {
	return &SessionTracker{sessions: make(map[string]*SessionInfo)}
}

// Touch records a turn on the session, creating it on first sight.
func (t *SessionTracker) Touch(sessionID, source string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		s = &SessionInfo{ID: sessionID, StartedAt: time.Now()}
		t.sessions[sessionID] = s
	}
	s.Source = source
	s.Turns++
	s.LastActive = time.Now()
}

// Get returns a copy of the session info, or nil.
func (t *SessionTracker) Get(sessionID string) *SessionInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[sessionID]
	if !ok {
		return nil
	}
	cp := *s
	return &cp
}

// List returns all sessions, most recently active first.
func (t *SessionTracker) List() []SessionInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]SessionInfo, 0, len(t.sessions))
	for _, s := range t.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastActive.After(out[j].LastActive)
	})
	return out
}
