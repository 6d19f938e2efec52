package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"carebridge/pkg/models"
)

type fakeStore struct {
	mu        sync.Mutex
	reminders map[int64]*models.Reminder
	nextID    int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{reminders: make(map[int64]*models.Reminder), nextID: 1}
}

func (s *fakeStore) add(r *models.Reminder) *models.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.ID = s.nextID
	s.nextID++
	s.reminders[r.ID] = r
	return r
}

func (s *fakeStore) GetReminder(_ context.Context, id int64) (*models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (s *fakeStore) MarkReminderTriggered(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reminders[id]
	if !ok {
		return models.ErrNotFound
	}
	if r.Status != models.ReminderScheduled {
		return models.ErrTerminalState
	}
	r.Status = models.ReminderTriggered
	r.NotificationSent = true
	return nil
}

func (s *fakeStore) FindAllScheduled(_ context.Context) ([]models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reminder
	for _, r := range s.reminders {
		if r.Status == models.ReminderScheduled {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) FindDue(_ context.Context, before time.Time) ([]models.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Reminder
	for _, r := range s.reminders {
		if r.Status == models.ReminderScheduled && r.ScheduledTime.Before(before) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) CreateReminder(_ context.Context, r *models.Reminder) error {
	s.add(r)
	return nil
}

func (s *fakeStore) status(id int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reminders[id].Status
}

type fakeDispatcher struct {
	mu    sync.Mutex
	fired []int64
}

func (d *fakeDispatcher) BroadcastReminder(_ context.Context, r *models.Reminder) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fired = append(d.fired, r.ID)
	return 1
}

func (d *fakeDispatcher) firedIDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.fired...)
}

func scheduled(store *fakeStore, in time.Duration) *models.Reminder {
	return store.add(&models.Reminder{
		PatientID:     1,
		CreatedBy:     2,
		Title:         "take medication",
		ScheduledTime: time.Now().Add(in),
		Recurrence:    models.RecurrenceNone,
		Status:        models.ReminderScheduled,
	})
}

func TestScheduleReminderFires(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	s := NewScheduler(store, disp)
	defer s.Shutdown()

	r := scheduled(store, 30*time.Millisecond)
	s.ScheduleReminder(r)

	time.Sleep(150 * time.Millisecond)

	if got := disp.firedIDs(); len(got) != 1 || got[0] != r.ID {
		t.Fatalf("dispatched %v, want [%d]", got, r.ID)
	}
	if store.status(r.ID) != models.ReminderTriggered {
		t.Fatalf("status = %s, want triggered", store.status(r.ID))
	}
	if s.TimerCount() != 0 {
		t.Fatalf("timer should be removed after firing, have %d", s.TimerCount())
	}
}

func TestRescheduleReplacesTimer(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	s := NewScheduler(store, disp)
	defer s.Shutdown()

	r := scheduled(store, time.Hour)
	s.ScheduleReminder(r)
	s.ScheduleReminder(r)
	s.ScheduleReminder(r)

	if s.TimerCount() != 1 {
		t.Fatalf("TimerCount = %d, want 1 after repeated scheduling", s.TimerCount())
	}
}

func TestCancelBeforeFire(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	s := NewScheduler(store, disp)
	defer s.Shutdown()

	r := scheduled(store, 40*time.Millisecond)
	s.ScheduleReminder(r)

	if !s.CancelTimer(r.ID) {
		t.Fatalf("CancelTimer should find the armed timer")
	}

	time.Sleep(120 * time.Millisecond)

	if got := disp.firedIDs(); len(got) != 0 {
		t.Fatalf("cancelled reminder still dispatched: %v", got)
	}
	if store.status(r.ID) != models.ReminderScheduled {
		t.Fatalf("cancelled timer must not touch the row")
	}
}

func TestTriggerSkipsNonScheduled(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	s := NewScheduler(store, disp)
	defer s.Shutdown()

	r := scheduled(store, -time.Minute)
	store.mu.Lock()
	store.reminders[r.ID].Status = models.ReminderCancelled
	store.mu.Unlock()

	if err := s.TriggerReminder(context.Background(), r.ID); err != nil {
		t.Fatalf("TriggerReminder on cancelled reminder: %v", err)
	}
	if got := disp.firedIDs(); len(got) != 0 {
		t.Fatalf("cancelled reminder dispatched: %v", got)
	}
}

func TestTriggerUnknownReminder(t *testing.T) {
	store := newFakeStore()
	s := NewScheduler(store, &fakeDispatcher{})
	defer s.Shutdown()

	if err := s.TriggerReminder(context.Background(), 404); err != nil {
		t.Fatalf("firing a deleted reminder should be a no-op, got %v", err)
	}
}

func TestSchedulePendingSkipsPast(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	s := NewScheduler(store, disp)
	defer s.Shutdown()

	scheduled(store, -time.Hour)
	future := scheduled(store, time.Hour)

	armed, err := s.SchedulePendingReminders(context.Background())
	if err != nil {
		t.Fatalf("SchedulePendingReminders: %v", err)
	}
	if armed != 1 {
		t.Fatalf("armed = %d, want 1 (only %d is in the future)", armed, future.ID)
	}
	if s.TimerCount() != 1 {
		t.Fatalf("TimerCount = %d, want 1", s.TimerCount())
	}
}

func TestCheckMissedReminders(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	s := NewScheduler(store, disp)
	defer s.Shutdown()

	a := scheduled(store, -2*time.Hour)
	b := scheduled(store, -time.Hour)
	scheduled(store, time.Hour)

	fired, err := s.CheckMissedReminders(context.Background())
	if err != nil {
		t.Fatalf("CheckMissedReminders: %v", err)
	}
	if fired != 2 {
		t.Fatalf("fired = %d, want 2", fired)
	}
	if store.status(a.ID) != models.ReminderTriggered || store.status(b.ID) != models.ReminderTriggered {
		t.Fatalf("overdue reminders not marked triggered")
	}
}

func TestRecurringReminderSpawnsNext(t *testing.T) {
	store := newFakeStore()
	disp := &fakeDispatcher{}
	s := NewScheduler(store, disp)
	defer s.Shutdown()

	r := store.add(&models.Reminder{
		PatientID:     1,
		CreatedBy:     1,
		Title:         "evening walk",
		ScheduledTime: time.Now().Add(-time.Minute),
		Recurrence:    models.RecurrenceDaily,
		Status:        models.ReminderScheduled,
	})

	if err := s.TriggerReminder(context.Background(), r.ID); err != nil {
		t.Fatalf("TriggerReminder: %v", err)
	}

	store.mu.Lock()
	var next *models.Reminder
	for id, candidate := range store.reminders {
		if id != r.ID {
			next = candidate
		}
	}
	store.mu.Unlock()

	if next == nil {
		t.Fatalf("recurring reminder did not create a follow-up")
	}
	if next.Status != models.ReminderScheduled {
		t.Fatalf("follow-up status = %s, want scheduled", next.Status)
	}
	if !next.ScheduledTime.After(time.Now()) {
		t.Fatalf("follow-up must be in the future, got %s", next.ScheduledTime)
	}
	if s.TimerCount() != 1 {
		t.Fatalf("follow-up should be armed, TimerCount = %d", s.TimerCount())
	}
}
