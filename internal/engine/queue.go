package engine

import "sync"

// sessionLocks serializes turns per session: memory reads and writes for a
// session never interleave across turns. Different sessions run freely in
// parallel.
type sessionLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newSessionLocks() *sessionLocks {
	return &sessionLocks{locks: make(map[string]*sync.Mutex)}
}

func (l *sessionLocks) Lock(sessionID string) {
	l.mu.Lock()
	m, ok := l.locks[sessionID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[sessionID] = m
	}
	l.mu.Unlock()
	m.Lock()
}

func (l *sessionLocks) Unlock(sessionID string) {
	l.mu.Lock()
	m := l.locks[sessionID]
	l.mu.Unlock()
	if m != nil {
		m.Unlock()
	}
}
