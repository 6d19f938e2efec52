package api

import (
	"errors"
	"testing"
	"time"

	"carebridge/pkg/models"
)

func TestReminderRequestValidate(t *testing.T) {
	future := time.Now().Add(time.Hour)

	req := reminderRequest{Title: "lunch", ScheduledTime: future}
	if err := req.validate(); err != nil {
		t.Fatalf("valid request rejected: %v", err)
	}

	req = reminderRequest{ScheduledTime: future}
	if err := req.validate(); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("missing title: err = %v, want ErrValidation", err)
	}

	req = reminderRequest{Title: "lunch"}
	if err := req.validate(); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("zero scheduled_time: err = %v, want ErrValidation", err)
	}

	req = reminderRequest{Title: "lunch", ScheduledTime: future, Recurrence: "hourly"}
	if err := req.validate(); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("bad recurrence: err = %v, want ErrValidation", err)
	}
}

func TestReminderRequestRejectsPastTime(t *testing.T) {
	req := reminderRequest{Title: "lunch", ScheduledTime: time.Now().Add(-time.Hour)}
	if err := req.validate(); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("past scheduled_time: err = %v, want ErrValidation", err)
	}

	// Exactly-now is not strictly in the future either.
	req = reminderRequest{Title: "lunch", ScheduledTime: time.Now().Add(-time.Millisecond)}
	if err := req.validate(); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("non-future scheduled_time: err = %v, want ErrValidation", err)
	}
}
