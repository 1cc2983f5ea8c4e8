package web

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/notify"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
)

type stubBackend struct{}

func (stubBackend) Route(ctx context.Context, prompt string) (string, error) { return "", nil }
func (stubBackend) Generate(ctx context.Context, req llm.Request) (*llm.Reply, error) {
	return &llm.Reply{Text: "ok"}, nil
}

type stubEngine struct {
	sessions *engine.SessionTracker
	lastEv   engine.NormalizedEvent
}

func (e *stubEngine) HandleEvent(ctx context.Context, ev engine.NormalizedEvent) (*engine.TurnResult, error) {
	e.lastEv = ev
	return &engine.TurnResult{
		SessionID: ev.SessionID(),
		TurnID:    "turn-1",
		Response:  "echo: " + ev.Content,
	}, nil
}

func (e *stubEngine) Sessions() *engine.SessionTracker { return e.sessions }
func (e *stubEngine) Backend() llm.Backend             { return stubBackend{} }

func newTestServer(t *testing.T, auth string) (*Server, *stubEngine) {
	t.Helper()
	db, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	eng := &stubEngine{sessions: engine.NewSessionTracker()}
	srv := NewServer(db, eng, nil, notify.NewService(db), nil, config.WebConfig{Auth: auth}, "test")
	return srv, eng
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func apiMux(srv *Server) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", srv.handleLogin)
	srv.registerAPI(mux)
	return srv.withMiddleware(mux)
}

func TestHandleChat(t *testing.T) {
	srv, eng := newTestServer(t, "")
	h := apiMux(srv)

	rec := doJSON(t, h, "POST", "/api/chat", map[string]string{
		"message":    "hello",
		"session_id": "web:abc",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var res engine.TurnResult
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("invalid response: %v", err)
	}
	if res.Response != "echo: hello" {
		t.Errorf("expected echoed response, got %q", res.Response)
	}
	if eng.lastEv.SessionID() != "web:abc" {
		t.Errorf("expected session web:abc, got %q", eng.lastEv.SessionID())
	}
	if eng.lastEv.Source != engine.SourceWeb {
		t.Errorf("expected source web, got %q", eng.lastEv.Source)
	}
}

func TestHandleChatValidation(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := apiMux(srv)

	rec := doJSON(t, h, "POST", "/api/chat", map[string]string{"message": ""})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty message, got %d", rec.Code)
	}
}

func TestAuthRequired(t *testing.T) {
	srv, _ := newTestServer(t, "sekrit")
	h := apiMux(srv)

	rec := doJSON(t, h, "POST", "/api/chat", map[string]string{"message": "hi"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without credentials, got %d", rec.Code)
	}

	// Basic auth passes
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]string{"message": "hi"})
	req := httptest.NewRequest("POST", "/api/chat", &buf)
	req.SetBasicAuth("", "sekrit")
	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, req)
	if rec2.Code != http.StatusOK {
		t.Errorf("expected 200 with basic auth, got %d", rec2.Code)
	}
}

func TestScheduleLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := apiMux(srv)

	rec := doJSON(t, h, "POST", "/api/schedules", map[string]string{
		"name":   "morning brief",
		"spec":   "0 8 * * *",
		"prompt": "summarize my inbox",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("expected a schedule id")
	}
	if created["next_run"] == nil {
		t.Error("expected next_run to be set for a cron schedule")
	}

	rec = doJSON(t, h, "GET", "/api/schedules", nil)
	var listed []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed) != 1 {
		t.Fatalf("expected 1 schedule, got %d", len(listed))
	}

	rec = doJSON(t, h, "DELETE", "/api/schedules/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on delete, got %d", rec.Code)
	}

	rec = doJSON(t, h, "GET", "/api/schedules", nil)
	listed = nil
	json.Unmarshal(rec.Body.Bytes(), &listed)
	if len(listed) != 0 {
		t.Errorf("expected 0 schedules after delete, got %d", len(listed))
	}
}

func TestScheduleRejectsBadSpec(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := apiMux(srv)

	rec := doJSON(t, h, "POST", "/api/schedules", map[string]string{
		"name":   "bad",
		"spec":   "not a schedule",
		"prompt": "x",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid spec, got %d", rec.Code)
	}
}

func TestNotificationDigestDrain(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := apiMux(srv)

	// A low-priority publish lands in the digest queue.
	srv.notify.Accept(notify.New("knowledge", "fact_learned", notify.PriorityLow, "learned something"))

	rec := doJSON(t, h, "GET", "/api/notifications", nil)
	var pending []store.NotificationRow
	if err := json.Unmarshal(rec.Body.Bytes(), &pending); err != nil {
		t.Fatal(err)
	}
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending digest entry, got %d", len(pending))
	}

	rec = doJSON(t, h, "DELETE", "/api/notifications", nil)
	var drained struct {
		Drained int `json:"drained"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &drained); err != nil {
		t.Fatal(err)
	}
	if drained.Drained != 1 {
		t.Errorf("expected 1 drained, got %d", drained.Drained)
	}

	// Queue is now empty.
	rec = doJSON(t, h, "GET", "/api/notifications", nil)
	pending = nil
	json.Unmarshal(rec.Body.Bytes(), &pending)
	if len(pending) != 0 {
		t.Errorf("expected empty queue after drain, got %d", len(pending))
	}
}

func TestStatus(t *testing.T) {
	srv, _ := newTestServer(t, "")
	h := apiMux(srv)

	rec := doJSON(t, h, "GET", "/api/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var status map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &status); err != nil {
		t.Fatal(err)
	}
	if status["status"] != "ok" {
		t.Errorf("expected status ok, got %v", status["status"])
	}
	if status["version"] != "test" {
		t.Errorf("expected version test, got %v", status["version"])
	}
}
