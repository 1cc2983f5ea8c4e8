package notify

import (
	"sort"
	"sync"
)

// Center buffers the notifications published during one turn. Publishing is
// idempotent by id and never fails: malformed fields are defaulted, not
// rejected. The buffer is shared by concurrently running agents and guarded
// by a mutex.
type Center struct {
	sink      *Service
	sessionID string

	mu      sync.Mutex
	entries []Notification
	seen    map[string]bool
}

// NewCenter creates a turn-scoped buffer. A nil sink disables archiving and
// live delivery, which tests use.
func NewCenter(sink *Service) *Center {
	return &Center{
		sink: sink,
		seen: make(map[string]bool),
	}
}

// BindSession stamps every later publish with the turn's session, so the
// delivery surfaces know where an urgent entry belongs.
func (c *Center) BindSession(sessionID string) {
	c.sessionID = sessionID
}

// Publish adds a notification to the turn buffer. A notification with an id
// already published this turn is silently ignored. The entry is also handed
// to the sink for archiving and, where its channel calls for it, immediate
// delivery.
func (c *Center) Publish(n Notification) {
	n.normalize()
	if n.SessionID == "" {
		n.SessionID = c.sessionID
	}

	c.mu.Lock()
	if c.seen[n.ID] {
		c.mu.Unlock()
		return
	}
	c.seen[n.ID] = true
	c.entries = append(c.entries, n)
	c.mu.Unlock()

	if c.sink != nil {
		c.sink.Accept(n)
	}
}

// Collect returns a snapshot of the buffered notifications at or above
// minPriority, highest priority first and newest first within the same
// priority. Later publishes do not alter a snapshot already returned.
func (c *Center) Collect(minPriority string) []Notification {
	min := Rank(minPriority)

	c.mu.Lock()
	out := make([]Notification, 0, len(c.entries))
	for _, n := range c.entries {
		if Rank(n.Priority) >= min {
			out = append(out, n)
		}
	}
	c.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := Rank(out[i].Priority), Rank(out[j].Priority)
		if ri != rj {
			return ri > rj
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Len reports how many notifications the turn has buffered.
func (c *Center) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
