package models

import "time"

// User roles. A single users table plus relation records replaces the
// old patient/caregiver/family subtype split.
const (
	RolePatient   = "patient"
	RoleCaregiver = "caregiver"
	RoleFamily    = "family"
)

// Reminder statuses. Transitions are monotonic: scheduled is the only
// non-terminal state.
const (
	ReminderScheduled = "scheduled"
	ReminderTriggered = "triggered"
	ReminderCancelled = "cancelled"
)

// Recurrence values.
const (
	RecurrenceNone   = "none"
	RecurrenceDaily  = "daily"
	RecurrenceWeekly = "weekly"
)

// Call statuses. ringing -> {accepted, rejected, missed}; accepted -> ended.
const (
	CallRinging  = "ringing"
	CallAccepted = "accepted"
	CallRejected = "rejected"
	CallEnded    = "ended"
	CallMissed   = "missed"
)

const (
	CallTypeAudio = "audio"
	CallTypeVideo = "video"
)

const (
	DeviceActive   = "active"
	DeviceInactive = "inactive"
)

type User struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Email       string    `json:"email"`
	Role        string    `json:"role"`
	DeviceToken string    `json:"device_token,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

type Reminder struct {
	ID               int64     `json:"id"`
	PatientID        int64     `json:"patient_id"`
	CreatedBy        int64     `json:"created_by"`
	Title            string    `json:"title"`
	Description      string    `json:"description,omitempty"`
	ScheduledTime    time.Time `json:"scheduled_time"`
	Recurrence       string    `json:"recurrence"`
	Status           string    `json:"status"`
	NotificationSent bool      `json:"notification_sent"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Call struct {
	ID         int64      `json:"id,omitempty"`
	CallID     string     `json:"call_id"`
	CallerID   int64      `json:"caller_id"`
	ReceiverID int64      `json:"receiver_id"`
	CallerName string     `json:"caller_name"`
	CallType   string     `json:"call_type"`
	Status     string     `json:"status"`
	StartTime  time.Time  `json:"start_time"`
	AcceptTime *time.Time `json:"accept_time,omitempty"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	Duration   int64      `json:"duration,omitempty"` // whole seconds
}

type Device struct {
	ID         int64     `json:"id"`
	PatientID  int64     `json:"patient_id"`
	DeviceID   string    `json:"device_id"`
	Status     string    `json:"status"`
	LastActive time.Time `json:"last_active"`
	CreatedAt  time.Time `json:"created_at"`
}

type Location struct {
	UserID    int64     `json:"user_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedAt time.Time `json:"updated_at"`
}

type SensorReading struct {
	DeviceID   string                 `json:"device_id"`
	SensorType string                 `json:"sensor_type"`
	Data       map[string]interface{} `json:"data"`
	Timestamp  time.Time              `json:"timestamp"`
}

// CareCircle is the resolved recipient set for a patient: the patient
// themself plus every linked caregiver and family member.
type CareCircle struct {
	PatientID    int64
	CaregiverIDs []int64
	FamilyID     int64 // 0 when no family member is linked
}

// Recipients returns the deduplicated actor ids of the circle.
func (c CareCircle) Recipients() []int64 {
	seen := map[int64]bool{c.PatientID: true}
	out := []int64{c.PatientID}
	for _, id := range c.CaregiverIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	if c.FamilyID != 0 && !seen[c.FamilyID] {
		out = append(out, c.FamilyID)
	}
	return out
}
