package notify

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
)

func TestChannelDerivation(t *testing.T) {
	cases := []struct {
		priority string
		typ      string
		want     string
	}{
		{PriorityCritical, "security_alert", ChannelBlocking},
		{PriorityHigh, "contradiction_detected", ChannelImmediate},
		{PriorityMedium, "action_required", ChannelImmediate},
		{PriorityMedium, "summary_ready", ChannelAsync},
		{PriorityLow, "newsletter", ChannelDigest},
		{PriorityInfo, "memory_degraded", ChannelLog},
	}
	for _, c := range cases {
		if got := ChannelFor(c.priority, c.typ); got != c.want {
			t.Errorf("ChannelFor(%s, %s) = %s, want %s", c.priority, c.typ, got, c.want)
		}
	}
}

func TestPublishDefaultsMalformedFields(t *testing.T) {
	c := NewCenter(nil)
	c.Publish(Notification{Priority: "urgent-ish", Body: "odd one"})

	got := c.Collect(PriorityInfo)
	if len(got) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(got))
	}
	n := got[0]
	if n.ID == "" {
		t.Error("expected generated id")
	}
	if n.Priority != PriorityInfo {
		t.Errorf("expected unknown priority defaulted to info, got %s", n.Priority)
	}
	if n.Type != "generic" {
		t.Errorf("expected default type, got %s", n.Type)
	}
	if n.Channel != ChannelLog {
		t.Errorf("expected derived channel log, got %s", n.Channel)
	}
	if n.CreatedAt.IsZero() {
		t.Error("expected creation time to be set")
	}
}

func TestPublishIdempotentByID(t *testing.T) {
	c := NewCenter(nil)
	n := New("integrity", "contradiction_detected", PriorityHigh, "meeting moved")
	c.Publish(n)
	c.Publish(n)
	c.Publish(n)

	if got := c.Len(); got != 1 {
		t.Errorf("expected 1 buffered notification, got %d", got)
	}
}

func TestCollectOrderAndFilter(t *testing.T) {
	c := NewCenter(nil)

	base := time.Now()
	add := func(id, priority string, offset time.Duration) {
		c.Publish(Notification{
			ID:        id,
			Type:      "generic",
			Priority:  priority,
			Body:      id,
			CreatedAt: base.Add(offset),
		})
	}
	add("low-1", PriorityLow, 0)
	add("high-old", PriorityHigh, 1*time.Second)
	add("high-new", PriorityHigh, 2*time.Second)
	add("critical-1", PriorityCritical, 3*time.Second)
	add("info-1", PriorityInfo, 4*time.Second)

	got := c.Collect(PriorityLow)
	wantOrder := []string{"critical-1", "high-new", "high-old", "low-1"}
	if len(got) != len(wantOrder) {
		t.Fatalf("expected %d notifications, got %d", len(wantOrder), len(got))
	}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("position %d: expected %s, got %s", i, id, got[i].ID)
		}
	}

	// Higher floor returns a strict subset in the same relative order.
	high := c.Collect(PriorityHigh)
	if len(high) != 3 {
		t.Fatalf("expected 3 notifications at high floor, got %d", len(high))
	}
	for i, id := range []string{"critical-1", "high-new", "high-old"} {
		if high[i].ID != id {
			t.Errorf("high floor position %d: expected %s, got %s", i, id, high[i].ID)
		}
	}
}

func TestCollectSnapshot(t *testing.T) {
	c := NewCenter(nil)
	c.Publish(New("main", "generic", PriorityMedium, "first"))

	snap := c.Collect(PriorityInfo)
	c.Publish(New("main", "generic", PriorityCritical, "second"))

	if len(snap) != 1 {
		t.Errorf("snapshot grew after publish: %d entries", len(snap))
	}
	if got := c.Collect(PriorityInfo); len(got) != 2 {
		t.Errorf("expected 2 entries in fresh collect, got %d", len(got))
	}
}

type stubDispatcher struct {
	name string
	err  error
	got  chan Notification
}

func (d *stubDispatcher) Name() string { return d.name }

func (d *stubDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if d.err != nil {
		return d.err
	}
	d.got <- n
	return nil
}

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "notify.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewService(st), st
}

func TestServiceImmediateDispatch(t *testing.T) {
	svc, _ := newTestService(t)

	ok := &stubDispatcher{name: "web", got: make(chan Notification, 1)}
	failing := &stubDispatcher{name: "telegram", err: errors.New("offline")}
	svc.RegisterDispatcher(failing)
	svc.RegisterDispatcher(ok)

	c := NewCenter(svc)
	c.Publish(New("integrity", "contradiction_detected", PriorityHigh, "calendar conflict"))

	select {
	case n := <-ok.got:
		if n.Channel != ChannelImmediate {
			t.Errorf("expected immediate channel, got %s", n.Channel)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("working dispatcher never received the notification")
	}
}

func TestServiceDigestQueue(t *testing.T) {
	svc, _ := newTestService(t)
	c := NewCenter(svc)

	c.Publish(New("knowledge", "newsletter", PriorityLow, "weekly roundup"))
	c.Publish(New("knowledge", "newsletter", PriorityLow, "second item"))

	got, err := svc.Digest(10)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 digest entries, got %d", len(got))
	}
	if got[0].Body != "weekly roundup" {
		t.Errorf("expected oldest first, got %s", got[0].Body)
	}

	// Drained entries do not come back.
	again, err := svc.Digest(10)
	if err != nil {
		t.Fatalf("digest error: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("expected drained digest, got %d entries", len(again))
	}
}

func TestServiceLogChannelNotArchived(t *testing.T) {
	svc, st := newTestService(t)
	c := NewCenter(svc)

	c.Publish(New("memory", "memory_degraded", PriorityInfo, "starting with empty context"))

	rows, err := st.ListRecentNotifications(10)
	if err != nil {
		t.Fatalf("list error: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("log-channel notifications must not be archived, got %d rows", len(rows))
	}
}
