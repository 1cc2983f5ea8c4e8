// Package scheduler fires stored schedules as engine events. It polls the
// store for due entries and hands each one to the engine as a
// scheduled_trigger, so scheduled work flows through the same pipeline as
// user messages.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vicpeacock/knowledge-navigator/internal/config"
	"github.com/vicpeacock/knowledge-navigator/internal/engine"
	"github.com/vicpeacock/knowledge-navigator/internal/natsbus"
	"github.com/vicpeacock/knowledge-navigator/internal/schedule"
	"github.com/vicpeacock/knowledge-navigator/internal/store"
)

// Runner is the slice of the engine the scheduler needs.
type Runner interface {
	HandleEvent(ctx context.Context, ev engine.NormalizedEvent) (*engine.TurnResult, error)
}

type Scheduler struct {
	db  *store.Store
	eng Runner
	bus *natsbus.Client

	mu           sync.Mutex
	pollInterval time.Duration
	reloadCh     chan struct{}
}

func New(db *store.Store, eng Runner, bus *natsbus.Client, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		db:           db,
		eng:          eng,
		bus:          bus,
		pollInterval: cfg.PollInterval,
		reloadCh:     make(chan struct{}, 1),
	}
}

// UpdateConfig changes the poll interval and signals the run loop to reset
// its ticker.
func (s *Scheduler) UpdateConfig(pollInterval time.Duration) {
	s.mu.Lock()
	s.pollInterval = pollInterval
	s.mu.Unlock()

	select {
	case s.reloadCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pollInterval <= 0 {
		s.pollInterval = 30 * time.Second
	}
	return s.pollInterval
}

func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.interval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reloadCh:
			ticker.Reset(s.interval())
			slog.Info("scheduler config reloaded", "poll_interval", s.interval())
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll fires every schedule that is due right now. Exposed so the daemon
// can trigger an immediate sweep after a schedule is added over IPC.
func (s *Scheduler) Poll(ctx context.Context) {
	due, err := s.db.GetDueSchedules(time.Now())
	if err != nil {
		slog.Error("failed to get due schedules", "error", err)
		return
	}

	for _, sc := range due {
		s.fire(ctx, sc)
	}
}

func (s *Scheduler) fire(ctx context.Context, sc store.Schedule) {
	slog.Info("firing schedule", "id", sc.ID, "name", sc.Name)

	ev := engine.NewEvent(engine.SourceScheduler, engine.EventScheduledTrigger, sc.Prompt).
		WithMeta("session_id", sessionFor(sc)).
		WithMeta("schedule_id", sc.ID).
		WithMeta("schedule_name", sc.Name)

	res, err := s.eng.HandleEvent(ctx, ev)

	var lastStatus, lastError string
	if err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("schedule run failed", "id", sc.ID, "error", err)
	} else {
		lastStatus = "success"
	}

	next := schedule.NextFire(sc.Spec, time.Now())

	if err := s.db.UpdateScheduleRun(sc.ID, lastStatus, lastError, next); err != nil {
		slog.Error("failed to update schedule run", "id", sc.ID, "error", err)
	}

	s.publishFired(sc, lastStatus, res)

	// One-shot schedules with no next fire are done.
	if next == nil {
		slog.Info("no next fire, completing schedule", "id", sc.ID, "name", sc.Name)
		if err := s.db.UpdateScheduleStatus(sc.ID, "completed"); err != nil {
			slog.Error("failed to complete schedule", "id", sc.ID, "error", err)
		}
	}
}

// sessionFor keeps every run of one schedule in the same conversation
// unless the schedule pins an explicit session.
func sessionFor(sc store.Schedule) string {
	if sc.SessionID != "" {
		return sc.SessionID
	}
	return "schedule:" + sc.ID
}

type firedEvent struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	TurnID    string    `json:"turn_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Scheduler) publishFired(sc store.Schedule, status string, res *engine.TurnResult) {
	if s.bus == nil {
		return
	}

	ev := firedEvent{
		ID:        sc.ID,
		Name:      sc.Name,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
	if res != nil {
		ev.TurnID = res.TurnID
	}

	if err := s.bus.PublishJSON(natsbus.TopicEventsSchedule, ev); err != nil {
		slog.Debug("failed to publish schedule event", "error", err)
	}
}
