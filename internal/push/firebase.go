package push

import (
	"context"
	"fmt"
	"log"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"carebridge/pkg/models"
)

// FirebaseService sends FCM notifications to recipients that have no live
// WebSocket connection. It is optional: the server runs without it when no
// credentials file is configured.
type FirebaseService struct {
	client *messaging.Client
	ctx    context.Context
}

func NewFirebaseService(credentialsPath string) (*FirebaseService, error) {
	ctx := context.Background()

	opt := option.WithCredentialsFile(credentialsPath)
	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting Messaging client: %w", err)
	}

	log.Println("✅ Firebase service initialized successfully")

	return &FirebaseService{
		client: client,
		ctx:    ctx,
	}, nil
}

// SendReminderPush delivers a reminder as a push notification.
func (s *FirebaseService) SendReminderPush(deviceToken string, r *models.Reminder) error {
	if deviceToken == "" {
		return fmt.Errorf("device token is empty")
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: r.Title,
			Body:  r.Description,
		},
		Data: map[string]string{
			"type":        "reminder",
			"reminder_id": fmt.Sprintf("%d", r.ID),
			"patient_id":  fmt.Sprintf("%d", r.PatientID),
			"timestamp":   fmt.Sprintf("%d", time.Now().Unix()),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "default",
				Priority:     messaging.PriorityHigh,
				ChannelID:    "carebridge_reminders",
				DefaultSound: true,
			},
		},
	}

	response, err := s.client.Send(s.ctx, message)
	if err != nil {
		return fmt.Errorf("error sending reminder push: %w", err)
	}

	log.Printf("🔔 reminder push delivered: %s", response)
	return nil
}

// SendEmergencyPush delivers a high priority emergency alert.
func (s *FirebaseService) SendEmergencyPush(deviceToken, title, body string, patientID int64) error {
	if deviceToken == "" {
		return fmt.Errorf("device token is empty")
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"type":       "emergency_alert",
			"patient_id": fmt.Sprintf("%d", patientID),
			"severity":   "high",
			"priority":   "high",
			"timestamp":  fmt.Sprintf("%d", time.Now().Unix()),
			"alert_id":   fmt.Sprintf("alert-%d", time.Now().UnixNano()),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "alert",
				Priority:     messaging.PriorityHigh,
				ChannelID:    "carebridge_alerts",
				DefaultSound: true,
				Color:        "#FF0000",
			},
		},
	}

	response, err := s.client.Send(s.ctx, message)
	if err != nil {
		return fmt.Errorf("error sending emergency push: %w", err)
	}

	log.Printf("🚨 emergency push delivered: %s", response)
	return nil
}

// SendMissedCallPush tells a caregiver an outgoing call went unanswered.
func (s *FirebaseService) SendMissedCallPush(deviceToken, callerName string) error {
	if deviceToken == "" {
		return fmt.Errorf("device token is empty")
	}

	message := &messaging.Message{
		Token: deviceToken,
		Notification: &messaging.Notification{
			Title: "Missed call",
			Body:  fmt.Sprintf("%s tried to reach you.", callerName),
		},
		Data: map[string]string{
			"type":      "missed_call",
			"timestamp": fmt.Sprintf("%d", time.Now().Unix()),
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				Sound:        "default",
				Priority:     messaging.PriorityHigh,
				ChannelID:    "carebridge_calls",
				DefaultSound: true,
			},
		},
	}

	response, err := s.client.Send(s.ctx, message)
	if err != nil {
		return fmt.Errorf("error sending missed call push: %w", err)
	}

	log.Printf("📵 missed call push delivered: %s", response)
	return nil
}

// IsInvalidTokenError reports whether the error means the token should be
// dropped from the user record.
func IsInvalidTokenError(err error) bool {
	return messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsSenderIDMismatch(err)
}
