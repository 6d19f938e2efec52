package notify

import (
	"context"
	"log"
	"strconv"
	"time"

	"carebridge/internal/hub"
	"carebridge/internal/push"
	"carebridge/pkg/models"
)

// CircleStore resolves who a patient's notifications fan out to.
type CircleStore interface {
	GetCareCircle(ctx context.Context, patientID int64) (*models.CareCircle, error)
	GetActiveDevicesFor(ctx context.Context, patientID int64) ([]string, error)
	GetDeviceTokens(ctx context.Context, userIDs []int64) (map[int64]string, error)
	UpdateUserDeviceToken(ctx context.Context, id int64, token string) error
}

// DeviceCommander publishes commands toward hardware devices. The MQTT
// bridge implements it; a nil commander means no broker is configured.
type DeviceCommander interface {
	PublishCommand(v interface{}) bool
}

// Pusher is the FCM fallback for recipients without a live socket.
type Pusher interface {
	SendReminderPush(deviceToken string, r *models.Reminder) error
	SendEmergencyPush(deviceToken, title, body string, patientID int64) error
	SendMissedCallPush(deviceToken, callerName string) error
}

// EmergencyAlert is the payload broadcast on the emergency channel.
type EmergencyAlert struct {
	Type    string         `json:"type"`
	Title   string         `json:"title"`
	Message string         `json:"message"`
	Data    EmergencyExtra `json:"data"`
}

type EmergencyExtra struct {
	PatientID string `json:"patientId"`
	Severity  string `json:"severity"`
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp string `json:"timestamp"`
}

// reminderNotice is the wire shape clients expect on the reminder channel.
type reminderNotice struct {
	Type      string       `json:"type"`
	Data      reminderData `json:"data"`
	Timestamp string       `json:"timestamp"`
}

type reminderData struct {
	ID            int64     `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	ScheduledTime time.Time `json:"scheduledTime"`
	Status        string    `json:"status"`
	PatientID     int64     `json:"patientId"`
}

// Dispatcher fans events out across every transport. Delivery is best
// effort on all paths: a recipient that cannot be reached is skipped, never
// an error.
type Dispatcher struct {
	users   *hub.Registry
	store   CircleStore
	devices DeviceCommander
	pusher  Pusher
}

func NewDispatcher(users *hub.Registry, store CircleStore, devices DeviceCommander, pusher Pusher) *Dispatcher {
	return &Dispatcher{
		users:   users,
		store:   store,
		devices: devices,
		pusher:  pusher,
	}
}

// SetDeviceCommander installs the MQTT path after the bridge connects. The
// bridge needs the dispatcher to raise emergencies, so the two are bound in
// two steps at startup.
func (d *Dispatcher) SetDeviceCommander(devices DeviceCommander) {
	d.devices = devices
}

// BroadcastReminder delivers a fired reminder to the patient's care circle.
// Online recipients get it over WebSocket, offline ones with a registered
// token get a push, and the patient's active hardware devices get an MQTT
// command. Returns how many recipients were reached directly.
func (d *Dispatcher) BroadcastReminder(ctx context.Context, r *models.Reminder) int {
	circle, err := d.store.GetCareCircle(ctx, r.PatientID)
	if err != nil {
		log.Printf("❌ failed to resolve care circle for patient %d: %v", r.PatientID, err)
		return 0
	}

	notice := reminderNotice{
		Type: hub.MsgReminder,
		Data: reminderData{
			ID:            r.ID,
			Title:         r.Title,
			Description:   r.Description,
			ScheduledTime: r.ScheduledTime,
			Status:        r.Status,
			PatientID:     r.PatientID,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	sent := 0
	var offline []int64
	for _, id := range circle.Recipients() {
		if d.users.SendJSON(strconv.FormatInt(id, 10), notice) {
			sent++
		} else {
			offline = append(offline, id)
		}
	}

	d.pushReminderFallback(ctx, r, offline)
	d.commandDevices(ctx, r)

	log.Printf("📢 reminder %d fanned out: %d live, %d offline", r.ID, sent, len(offline))
	return sent
}

// BroadcastEmergency alerts every connected user session, then pushes to
// the patient's circle members that have no live socket. Returns the number
// of live deliveries.
func (d *Dispatcher) BroadcastEmergency(ctx context.Context, patientID int64, deviceID, title, message string) int {
	alert := EmergencyAlert{
		Type:    hub.MsgEmergency,
		Title:   title,
		Message: message,
		Data: EmergencyExtra{
			PatientID: strconv.FormatInt(patientID, 10),
			Severity:  "high",
			DeviceID:  deviceID,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	}

	sent := d.users.BroadcastJSON(alert)
	log.Printf("🚨 emergency for patient %d broadcast to %d sessions", patientID, sent)

	if d.pusher == nil {
		return sent
	}

	circle, err := d.store.GetCareCircle(ctx, patientID)
	if err != nil {
		log.Printf("❌ failed to resolve care circle for patient %d: %v", patientID, err)
		return sent
	}

	var offline []int64
	for _, id := range circle.Recipients() {
		if !d.users.IsOnline(strconv.FormatInt(id, 10)) {
			offline = append(offline, id)
		}
	}
	if len(offline) == 0 {
		return sent
	}

	tokens, err := d.store.GetDeviceTokens(ctx, offline)
	if err != nil {
		log.Printf("❌ failed to load device tokens: %v", err)
		return sent
	}

	for id, token := range tokens {
		if err := d.pusher.SendEmergencyPush(token, title, message, patientID); err != nil {
			log.Printf("❌ emergency push to user %d failed: %v", id, err)
			d.dropStaleToken(ctx, id, err)
		}
	}

	return sent
}

// dropStaleToken clears a device token FCM reports as dead so the next
// fan-out stops retrying it.
func (d *Dispatcher) dropStaleToken(ctx context.Context, userID int64, err error) {
	if !push.IsInvalidTokenError(err) {
		return
	}
	log.Printf("🧹 dropping stale device token for user %d", userID)
	if err := d.store.UpdateUserDeviceToken(ctx, userID, ""); err != nil {
		log.Printf("❌ failed to clear device token for user %d: %v", userID, err)
	}
}

// BroadcastDeviceStatus tells every user session a hardware device changed
// state.
func (d *Dispatcher) BroadcastDeviceStatus(deviceID string, online bool) int {
	status := models.DeviceInactive
	if online {
		status = models.DeviceActive
	}
	return d.users.BroadcastJSON(map[string]interface{}{
		"type":      hub.MsgDeviceStatus,
		"deviceId":  deviceID,
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// NotifyMissedCall pushes a missed-call notice to a receiver with no live
// socket or who let the call ring out.
func (d *Dispatcher) NotifyMissedCall(ctx context.Context, receiverID int64, callerName string) {
	if d.pusher == nil {
		return
	}

	tokens, err := d.store.GetDeviceTokens(ctx, []int64{receiverID})
	if err != nil {
		log.Printf("❌ failed to load device token for user %d: %v", receiverID, err)
		return
	}

	token, ok := tokens[receiverID]
	if !ok {
		return
	}
	if err := d.pusher.SendMissedCallPush(token, callerName); err != nil {
		log.Printf("❌ missed-call push to user %d failed: %v", receiverID, err)
		d.dropStaleToken(ctx, receiverID, err)
	}
}

func (d *Dispatcher) pushReminderFallback(ctx context.Context, r *models.Reminder, offline []int64) {
	if d.pusher == nil || len(offline) == 0 {
		return
	}

	tokens, err := d.store.GetDeviceTokens(ctx, offline)
	if err != nil {
		log.Printf("❌ failed to load device tokens: %v", err)
		return
	}

	for id, token := range tokens {
		if err := d.pusher.SendReminderPush(token, r); err != nil {
			log.Printf("❌ reminder push to user %d failed: %v", id, err)
			d.dropStaleToken(ctx, id, err)
		}
	}
}

func (d *Dispatcher) commandDevices(ctx context.Context, r *models.Reminder) {
	if d.devices == nil {
		return
	}

	deviceIDs, err := d.store.GetActiveDevicesFor(ctx, r.PatientID)
	if err != nil {
		log.Printf("❌ failed to list devices for patient %d: %v", r.PatientID, err)
		return
	}
	if len(deviceIDs) == 0 {
		return
	}

	cmd := map[string]interface{}{
		"command":     "reminder",
		"reminderId":  r.ID,
		"title":       r.Title,
		"description": r.Description,
		"timestamp":   time.Now().Unix(),
	}
	if d.devices.PublishCommand(cmd) {
		log.Printf("📡 reminder %d pushed to %d device(s)", r.ID, len(deviceIDs))
	}
}
