package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMessageCRUD(t *testing.T) {
	s := newTestStore(t)

	for i := 0; i < 5; i++ {
		_ = s.SaveMessage(&Message{
			SessionID: "s1",
			Role:      "user",
			Content:   "message " + string(rune('A'+i)),
		})
	}

	messages, err := s.GetMessages("s1", 10)
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(messages) != 5 {
		t.Errorf("expected 5 messages, got %d", len(messages))
	}
	// Should be in chronological order
	if messages[0].Content != "message A" {
		t.Errorf("expected first message 'message A', got '%s'", messages[0].Content)
	}

	// Limit keeps the most recent entries
	messages, err = s.GetMessages("s1", 2)
	if err != nil {
		t.Fatalf("get messages limited: %v", err)
	}
	if len(messages) != 2 {
		t.Errorf("expected 2 messages, got %d", len(messages))
	}
	if messages[1].Content != "message E" {
		t.Errorf("expected last message 'message E', got '%s'", messages[1].Content)
	}

	// Other sessions are not visible
	messages, _ = s.GetMessages("s2", 10)
	if len(messages) != 0 {
		t.Errorf("expected 0 messages for other session, got %d", len(messages))
	}
}

func TestMemoryRoundTrip(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	row := &MemoryRow{
		SessionID: "s1",
		Payload:   []byte(`{"message_count":3}`),
		ExpiresAt: now.Add(30 * time.Minute),
	}
	if err := s.SetMemory(row); err != nil {
		t.Fatalf("set memory: %v", err)
	}

	got, err := s.GetMemory("s1", now)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if got == nil {
		t.Fatal("expected memory row, got nil")
	}
	if string(got.Payload) != `{"message_count":3}` {
		t.Errorf("unexpected payload: %s", got.Payload)
	}

	// Overwrite
	row.Payload = []byte(`{"message_count":4}`)
	if err := s.SetMemory(row); err != nil {
		t.Fatalf("overwrite memory: %v", err)
	}
	got, _ = s.GetMemory("s1", now)
	if string(got.Payload) != `{"message_count":4}` {
		t.Errorf("expected overwritten payload, got %s", got.Payload)
	}

	// Missing session
	got, err = s.GetMemory("nope", now)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing session")
	}
}

func TestMemoryExpiry(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()

	_ = s.SetMemory(&MemoryRow{
		SessionID: "s1",
		Payload:   []byte(`{}`),
		ExpiresAt: now.Add(-time.Minute),
	})

	got, err := s.GetMemory("s1", now)
	if err != nil {
		t.Fatalf("get memory: %v", err)
	}
	if got != nil {
		t.Error("expected expired row to read as nil")
	}

	n, err := s.DeleteExpiredMemory(now)
	if err != nil {
		t.Fatalf("delete expired: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 expired row dropped, got %d", n)
	}
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	nextRun := now.Add(-1 * time.Minute) // Due now
	sc := &Schedule{
		ID:        "sched-1",
		Name:      "Morning digest",
		Spec:      `{"kind":"cron","expr":"0 8 * * *"}`,
		Prompt:    "summarize my day",
		Status:    "active",
		NextRunAt: &nextRun,
	}

	if err := s.SaveSchedule(sc); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	got, err := s.GetSchedule("sched-1")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.Name != "Morning digest" {
		t.Errorf("expected 'Morning digest', got '%s'", got.Name)
	}

	due, err := s.GetDueSchedules(time.Now())
	if err != nil {
		t.Fatalf("get due schedules: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("expected 1 due schedule, got %d", len(due))
	}

	// Pause
	_ = s.UpdateScheduleStatus("sched-1", "paused")
	due, _ = s.GetDueSchedules(time.Now())
	if len(due) != 0 {
		t.Errorf("expected 0 due schedules after pause, got %d", len(due))
	}

	// Record a run
	next := now.Add(time.Hour)
	if err := s.UpdateScheduleRun("sched-1", "ok", "", &next); err != nil {
		t.Fatalf("update schedule run: %v", err)
	}
	got, _ = s.GetSchedule("sched-1")
	if got.LastStatus != "ok" {
		t.Errorf("expected last status ok, got '%s'", got.LastStatus)
	}
}

func TestNotificationIdempotence(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	n := &NotificationRow{
		ID:        "n-1",
		Type:      "contradiction_detected",
		Priority:  "high",
		Channel:   "immediate",
		CreatedAt: now,
	}
	if err := s.SaveNotification(n); err != nil {
		t.Fatalf("save notification: %v", err)
	}
	// Second save of the same id is a no-op
	n.Title = "changed"
	if err := s.SaveNotification(n); err != nil {
		t.Fatalf("save duplicate notification: %v", err)
	}

	got, err := s.GetNotification("n-1")
	if err != nil {
		t.Fatalf("get notification: %v", err)
	}
	if got == nil {
		t.Fatal("expected notification, got nil")
	}
	if got.Title != "" {
		t.Errorf("expected original row preserved, got title '%s'", got.Title)
	}
}

func TestNotificationDigestQueue(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UTC()

	for i, id := range []string{"d-1", "d-2"} {
		_ = s.SaveNotification(&NotificationRow{
			ID:        id,
			Type:      "knowledge_indexed",
			Priority:  "low",
			Channel:   "digest",
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	_ = s.SaveNotification(&NotificationRow{
		ID:        "i-1",
		Type:      "contradiction_detected",
		Priority:  "high",
		Channel:   "immediate",
		CreatedAt: now,
	})

	pending, err := s.ListPendingNotifications("digest", 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending digest entries, got %d", len(pending))
	}
	if pending[0].ID != "d-1" {
		t.Errorf("expected oldest first, got %s", pending[0].ID)
	}

	if err := s.MarkNotificationsDelivered([]string{"d-1", "d-2"}, now); err != nil {
		t.Fatalf("mark delivered: %v", err)
	}
	pending, _ = s.ListPendingNotifications("digest", 10)
	if len(pending) != 0 {
		t.Errorf("expected 0 pending after delivery, got %d", len(pending))
	}
}

func TestSecretCRUD(t *testing.T) {
	s := newTestStore(t)

	sec := &Secret{
		Name:  "mail_api_key",
		Value: []byte{0x01, 0x02},
		Nonce: []byte{0x03},
	}
	if err := s.SaveSecret(sec); err != nil {
		t.Fatalf("save secret: %v", err)
	}

	got, err := s.GetSecret("mail_api_key")
	if err != nil {
		t.Fatalf("get secret: %v", err)
	}
	if got == nil {
		t.Fatal("expected secret, got nil")
	}
	if len(got.Value) != 2 || len(got.Nonce) != 1 {
		t.Errorf("unexpected ciphertext: value %d bytes, nonce %d bytes", len(got.Value), len(got.Nonce))
	}

	list, err := s.ListSecrets()
	if err != nil {
		t.Fatalf("list secrets: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("expected 1 secret, got %d", len(list))
	}
	if list[0].Value != nil {
		t.Error("list must not return ciphertext")
	}

	if err := s.DeleteSecret("mail_api_key"); err != nil {
		t.Fatalf("delete secret: %v", err)
	}
	got, _ = s.GetSecret("mail_api_key")
	if got != nil {
		t.Error("expected nil after delete")
	}
}
