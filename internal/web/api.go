package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/llm"
	"github.com/vicpeacock/knowledge-navigator/internal/schedule"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
)

func (s *Server) registerAPI(mux *http.ServeMux) {
	// Chat
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/sessions", s.listSessions)
	mux.HandleFunc("GET /api/sessions/{id}/messages", s.getSessionMessages)

	// Notifications (digest queue)
	mux.HandleFunc("GET /api/notifications", s.listNotifications)
	mux.HandleFunc("DELETE /api/notifications", s.drainNotifications)

	// Schedules
	mux.HandleFunc("GET /api/schedules", s.listSchedules)
	mux.HandleFunc("POST /api/schedules", s.createSchedule)
	mux.HandleFunc("DELETE /api/schedules/{id}", s.deleteSchedule)

	// Secrets
	mux.HandleFunc("GET /api/secrets", s.listSecrets)
	mux.HandleFunc("POST /api/secrets", s.createSecret)
	mux.HandleFunc("DELETE /api/secrets/{name}", s.deleteSecret)

	// System
	mux.HandleFunc("GET /api/status", s.getStatus)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message   string `json:"message"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Message == "" {
		jsonError(w, "message is required", http.StatusBadRequest)
		return
	}
	if body.SessionID == "" {
		body.SessionID = "web:default"
	}

	ev := engine.NewEvent(engine.SourceWeb, engine.EventChatMessage, body.Message).
		WithMeta("session_id", body.SessionID)

	res, err := s.eng.HandleEvent(r.Context(), ev)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.hub.Broadcast(Event{Type: "turn", Payload: res})
	jsonResponse(w, res)
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetSessionStats()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]any, 0, len(stats))
	for id, st := range stats {
		entry := map[string]any{
			"session_id":    id,
			"message_count": st.MessageCount,
			"last_active":   formatMessageTime(st.LastActive),
		}
		if info := s.eng.Sessions().Get(id); info != nil {
			entry["source"] = info.Source
		}
		out = append(out, entry)
	}
	jsonResponse(w, out)
}

func (s *Server) getSessionMessages(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	messages, err := s.store.GetMessages(id, 100)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		out = append(out, map[string]string{
			"id":   fmt.Sprintf("%d", m.ID),
			"role": m.Role,
			"text": m.Content,
			"time": formatMessageTime(m.CreatedAt),
		})
	}
	jsonResponse(w, out)
}

// listNotifications returns the pending digest queue without draining it.
func (s *Server) listNotifications(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	rows, err := s.store.ListPendingNotifications("digest", limit)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if rows == nil {
		rows = []store.NotificationRow{}
	}
	jsonResponse(w, rows)
}

// drainNotifications empties the digest queue, returning what it held.
func (s *Server) drainNotifications(w http.ResponseWriter, r *http.Request) {
	drained, err := s.notify.Digest(queryInt(r, "limit", 100))
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]any{"drained": len(drained), "notifications": drained})
}

func (s *Server) listSchedules(w http.ResponseWriter, r *http.Request) {
	schedules, err := s.store.ListSchedules()
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	out := make([]map[string]any, 0, len(schedules))
	for _, sc := range schedules {
		out = append(out, scheduleToAPI(sc))
	}
	jsonResponse(w, out)
}

func (s *Server) createSchedule(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string `json:"name"`
		Spec      string `json:"spec"`
		Prompt    string `json:"prompt"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if body.Name == "" || body.Spec == "" || body.Prompt == "" {
		jsonError(w, "name, spec, and prompt are required", http.StatusBadRequest)
		return
	}

	// Normalize handles plain cron strings as well as the JSON trigger form.
	normalized, err := schedule.Normalize(body.Spec)
	if err != nil {
		jsonError(w, fmt.Sprintf("invalid schedule spec: %v", err), http.StatusBadRequest)
		return
	}

	sc := &store.Schedule{
		ID:        uuid.NewString(),
		Name:      body.Name,
		Spec:      normalized,
		Prompt:    body.Prompt,
		SessionID: body.SessionID,
		Status:    "active",
		NextRunAt: schedule.NextFire(normalized, time.Now()),
	}
	if err := s.store.SaveSchedule(sc); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, scheduleToAPI(*sc))
}

func (s *Server) deleteSchedule(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.store.DeleteSchedule(id); err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	jsonResponse(w, map[string]string{"status": "deleted"})
}

func (s *Server) getStatus(w http.ResponseWriter, r *http.Request) {
	schedules, _ := s.store.ListSchedules()
	activeSchedules := 0
	for _, sc := range schedules {
		if sc.Status == "active" {
			activeSchedules++
		}
	}

	backendState := "ok"
	if b, ok := s.eng.Backend().(*llm.Breaker); ok {
		backendState = b.State().String()
	}

	status := map[string]any{
		"status":           "ok",
		"version":          s.version,
		"uptime":           formatUptime(time.Since(s.startedAt)),
		"sessions":         len(s.eng.Sessions().List()),
		"active_schedules": activeSchedules,
		"backend":          backendState,
		"ws_clients":       s.hub.ClientCount(),
		"timestamp":        time.Now().UTC(),
	}
	jsonResponse(w, status)
}

func scheduleToAPI(sc store.Schedule) map[string]any {
	m := map[string]any{
		"id":           sc.ID,
		"name":         sc.Name,
		"spec":         sc.Spec,
		"spec_display": schedule.Describe(sc.Spec),
		"prompt":       sc.Prompt,
		"status":       sc.Status,
	}
	if sc.SessionID != "" {
		m["session_id"] = sc.SessionID
	}
	if sc.LastRunAt != nil {
		m["last_run"] = formatMessageTime(*sc.LastRunAt)
	}
	if sc.NextRunAt != nil {
		m["next_run"] = formatMessageTime(*sc.NextRunAt)
	}
	return m
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func formatMessageTime(t time.Time) string {
	local := t.Local()
	now := time.Now()
	if local.Year() == now.Year() && local.YearDay() == now.YearDay() {
		return local.Format("15:04")
	}
	return local.Format("Jan 2 15:04")
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
