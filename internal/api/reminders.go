package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"carebridge/internal/database"
	"carebridge/internal/middleware"
	"carebridge/pkg/models"
)

type reminderRequest struct {
	PatientID     int64     `json:"patient_id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	ScheduledTime time.Time `json:"scheduled_time"`
	Recurrence    string    `json:"recurrence"`
}

func (req *reminderRequest) validate() error {
	if req.Title == "" {
		return fmt.Errorf("%w: title is required", models.ErrValidation)
	}
	if req.ScheduledTime.IsZero() {
		return fmt.Errorf("%w: scheduled_time is required", models.ErrValidation)
	}
	if !req.ScheduledTime.After(time.Now()) {
		return fmt.Errorf("%w: scheduled_time must be in the future", models.ErrValidation)
	}
	switch req.Recurrence {
	case "", models.RecurrenceNone, models.RecurrenceDaily, models.RecurrenceWeekly:
	default:
		return fmt.Errorf("%w: invalid recurrence %q", models.ErrValidation, req.Recurrence)
	}
	return nil
}

func (s *Server) handleCreateReminder(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	var req reminderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if claims.Role == models.RolePatient {
		req.PatientID = claims.UserID
	}
	if err := req.validate(); err != nil {
		respondError(w, err)
		return
	}
	if req.PatientID == 0 {
		respondError(w, fmt.Errorf("%w: patient_id is required", models.ErrValidation))
		return
	}

	ok, err := s.canActFor(r.Context(), claims, req.PatientID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, fmt.Errorf("%w: not linked to patient %d", models.ErrUnauthorized, req.PatientID))
		return
	}

	recurrence := req.Recurrence
	if recurrence == "" {
		recurrence = models.RecurrenceNone
	}

	reminder := &models.Reminder{
		PatientID:     req.PatientID,
		CreatedBy:     claims.UserID,
		Title:         req.Title,
		Description:   req.Description,
		ScheduledTime: req.ScheduledTime,
		Recurrence:    recurrence,
		Status:        models.ReminderScheduled,
	}

	if err := s.db.CreateReminder(r.Context(), reminder); err != nil {
		respondError(w, err)
		return
	}

	s.sched.ScheduleReminder(reminder)
	log.Printf("📝 reminder %d created for patient %d by user %d", reminder.ID, reminder.PatientID, claims.UserID)
	respondJSON(w, http.StatusCreated, reminder)
}

func (s *Server) handleListReminders(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	page, limit := pagination(r)
	filter := database.ReminderFilter{
		Status: r.URL.Query().Get("status"),
		Page:   page,
		Limit:  limit,
	}
	if v := r.URL.Query().Get("from"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.From = t
		}
	}
	if v := r.URL.Query().Get("to"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			filter.To = t
		}
	}

	// Scope to what the caller may see.
	if claims.Role == models.RolePatient {
		filter.PatientID = claims.UserID
	} else if v := r.URL.Query().Get("patientId"); v != "" {
		patientID, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, models.ErrValidation)
			return
		}
		ok, err := s.canActFor(r.Context(), claims, patientID)
		if err != nil {
			respondError(w, err)
			return
		}
		if !ok {
			respondError(w, models.ErrUnauthorized)
			return
		}
		filter.PatientID = patientID
	} else {
		filter.CreatedBy = claims.UserID
	}

	reminders, total, err := s.db.ListReminders(r.Context(), filter)
	if err != nil {
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reminders": reminders,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

func (s *Server) handleGetReminder(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		respondError(w, err)
		return
	}

	reminder, err := s.db.GetReminder(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	ok, err := s.canActFor(r.Context(), claims, reminder.PatientID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok && reminder.CreatedBy != claims.UserID {
		respondError(w, models.ErrUnauthorized)
		return
	}

	respondJSON(w, http.StatusOK, reminder)
}

func (s *Server) handleUpdateReminder(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		respondError(w, err)
		return
	}

	existing, err := s.db.GetReminder(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	if existing.Status != models.ReminderScheduled {
		respondError(w, fmt.Errorf("%w: reminder is %s", models.ErrTerminalState, existing.Status))
		return
	}

	ok, err := s.canActFor(r.Context(), claims, existing.PatientID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, models.ErrUnauthorized)
		return
	}

	var req reminderRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		respondError(w, err)
		return
	}

	existing.Title = req.Title
	existing.Description = req.Description
	existing.ScheduledTime = req.ScheduledTime
	if req.Recurrence != "" {
		existing.Recurrence = req.Recurrence
	}

	if err := s.db.UpdateReminder(r.Context(), existing); err != nil {
		respondError(w, err)
		return
	}

	// Re-arm: replaces any pending timer so the old time cannot fire.
	s.sched.CancelTimer(id)
	s.sched.ScheduleReminder(existing)

	respondJSON(w, http.StatusOK, existing)
}

func (s *Server) handleCancelReminder(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		respondError(w, err)
		return
	}

	existing, err := s.db.GetReminder(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	ok, err := s.canActFor(r.Context(), claims, existing.PatientID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, models.ErrUnauthorized)
		return
	}

	if err := s.db.CancelReminder(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	s.sched.CancelTimer(id)

	log.Printf("🗑️ reminder %d cancelled by user %d", id, claims.UserID)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}
