package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"carebridge/pkg/models"
)

// Store is the reminder persistence the scheduler depends on.
type Store interface {
	GetReminder(ctx context.Context, id int64) (*models.Reminder, error)
	MarkReminderTriggered(ctx context.Context, id int64) error
	FindAllScheduled(ctx context.Context) ([]models.Reminder, error)
	FindDue(ctx context.Context, before time.Time) ([]models.Reminder, error)
	CreateReminder(ctx context.Context, r *models.Reminder) error
}

// Dispatcher fans a fired reminder out to its care circle.
type Dispatcher interface {
	BroadcastReminder(ctx context.Context, r *models.Reminder) int
}

// Scheduler holds one in-process timer per pending reminder. Timers do not
// survive restarts; SchedulePendingReminders and CheckMissedReminders
// rebuild state from the database at startup.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher

	mu     sync.Mutex
	timers map[int64]*time.Timer
}

func NewScheduler(store Store, dispatcher Dispatcher) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		timers:     make(map[int64]*time.Timer),
	}
}

// ScheduleReminder arms (or re-arms) the timer for a reminder. Calling it
// again for the same id replaces the previous timer, so reschedules never
// double-fire. Past or zero times arm nothing.
func (s *Scheduler) ScheduleReminder(r *models.Reminder) {
	if r.ScheduledTime.IsZero() {
		log.Printf("⚠️ reminder %d has no scheduled time, skipping", r.ID)
		return
	}

	delay := time.Until(r.ScheduledTime)
	if delay <= 0 {
		log.Printf("⚠️ reminder %d is already due (%s), not arming", r.ID, r.ScheduledTime.Format(time.RFC3339))
		return
	}

	id := r.ID

	s.mu.Lock()
	if old, ok := s.timers[id]; ok {
		old.Stop()
	}
	s.timers[id] = time.AfterFunc(delay, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.TriggerReminder(ctx, id); err != nil {
			log.Printf("❌ reminder %d trigger failed: %v", id, err)
		}
	})
	s.mu.Unlock()

	log.Printf("⏰ reminder %d armed for %s (in %s)", id, r.ScheduledTime.Format(time.RFC3339), delay.Round(time.Second))
}

// CancelTimer disarms a reminder's timer if one is pending.
func (s *Scheduler) CancelTimer(id int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.timers[id]
	if !ok {
		return false
	}
	t.Stop()
	delete(s.timers, id)
	log.Printf("🗑️ reminder %d timer cancelled", id)
	return true
}

// TriggerReminder fires one reminder. The status is re-read first so a
// cancel or update that raced the timer wins: anything no longer scheduled
// is a no-op.
func (s *Scheduler) TriggerReminder(ctx context.Context, id int64) error {
	s.mu.Lock()
	delete(s.timers, id)
	s.mu.Unlock()

	r, err := s.store.GetReminder(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			log.Printf("⚠️ reminder %d fired but no longer exists", id)
			return nil
		}
		return err
	}

	if r.Status != models.ReminderScheduled {
		log.Printf("⏭️ reminder %d is %s, skipping trigger", id, r.Status)
		return nil
	}

	if err := s.store.MarkReminderTriggered(ctx, id); err != nil {
		if errors.Is(err, models.ErrTerminalState) {
			log.Printf("⏭️ reminder %d changed state under us, skipping", id)
			return nil
		}
		return err
	}
	r.Status = models.ReminderTriggered

	sent := s.dispatcher.BroadcastReminder(ctx, r)
	log.Printf("🔔 reminder %d %q delivered to %d recipients", id, r.Title, sent)

	if r.Recurrence != "" && r.Recurrence != models.RecurrenceNone {
		s.spawnNextOccurrence(ctx, r)
	}

	return nil
}

// SchedulePendingReminders re-arms every future scheduled reminder. Run at
// startup to recover from a restart.
func (s *Scheduler) SchedulePendingReminders(ctx context.Context) (int, error) {
	reminders, err := s.store.FindAllScheduled(ctx)
	if err != nil {
		return 0, err
	}

	armed := 0
	now := time.Now()
	for i := range reminders {
		if reminders[i].ScheduledTime.After(now) {
			s.ScheduleReminder(&reminders[i])
			armed++
		}
	}

	log.Printf("📅 re-armed %d of %d scheduled reminders", armed, len(reminders))
	return armed, nil
}

// CheckMissedReminders fires every reminder whose time passed while the
// process was down, oldest first.
func (s *Scheduler) CheckMissedReminders(ctx context.Context) (int, error) {
	due, err := s.store.FindDue(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	fired := 0
	for i := range due {
		if err := s.TriggerReminder(ctx, due[i].ID); err != nil {
			log.Printf("❌ missed reminder %d: %v", due[i].ID, err)
			continue
		}
		fired++
	}

	if len(due) > 0 {
		log.Printf("⏰ processed %d missed reminders", fired)
	}
	return fired, nil
}

// TimerCount reports how many timers are armed.
func (s *Scheduler) TimerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Shutdown disarms everything. Reminders stay scheduled in the database and
// are re-armed on the next start.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, t := range s.timers {
		t.Stop()
		delete(s.timers, id)
	}
	log.Printf("🛑 scheduler stopped")
}

// spawnNextOccurrence creates and arms the follow-up row for a recurring
// reminder. The next time is advanced past now so a reminder fired late
// does not immediately fire again.
func (s *Scheduler) spawnNextOccurrence(ctx context.Context, r *models.Reminder) {
	var step time.Duration
	switch r.Recurrence {
	case models.RecurrenceDaily:
		step = 24 * time.Hour
	case models.RecurrenceWeekly:
		step = 7 * 24 * time.Hour
	default:
		log.Printf("⚠️ reminder %d has unknown recurrence %q", r.ID, r.Recurrence)
		return
	}

	next := r.ScheduledTime.Add(step)
	now := time.Now()
	for !next.After(now) {
		next = next.Add(step)
	}

	clone := &models.Reminder{
		PatientID:     r.PatientID,
		CreatedBy:     r.CreatedBy,
		Title:         r.Title,
		Description:   r.Description,
		ScheduledTime: next,
		Recurrence:    r.Recurrence,
		Status:        models.ReminderScheduled,
	}

	if err := s.store.CreateReminder(ctx, clone); err != nil {
		log.Printf("❌ failed to create next occurrence of reminder %d: %v", r.ID, err)
		return
	}

	log.Printf("🔁 reminder %d recurs as %d at %s", r.ID, clone.ID, next.Format(time.RFC3339))
	s.ScheduleReminder(clone)
}
