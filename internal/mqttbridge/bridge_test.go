package mqttbridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"carebridge/internal/config"
	"carebridge/pkg/models"
)

type fakeDispatcher struct {
	mu          sync.Mutex
	emergencies []int64
	statuses    []bool
}

func (d *fakeDispatcher) BroadcastEmergency(_ context.Context, patientID int64, _, _, _ string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.emergencies = append(d.emergencies, patientID)
	return 1
}

func (d *fakeDispatcher) BroadcastDeviceStatus(_ string, online bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.statuses = append(d.statuses, online)
	return 1
}

type fakeDeviceStore struct {
	mu      sync.Mutex
	touched []string
	owner   *models.Device
}

func (s *fakeDeviceStore) TouchDevice(_ context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched = append(s.touched, deviceID)
	return nil
}

func (s *fakeDeviceStore) GetDeviceByDeviceID(_ context.Context, deviceID string) (*models.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == nil || s.owner.DeviceID != deviceID {
		return nil, models.ErrNotFound
	}
	return s.owner, nil
}

func testBridge() (*Bridge, *fakeDispatcher, *fakeDeviceStore) {
	cfg := &config.Config{
		MQTTDeviceID:  "esp32-01",
		DeviceTimeout: 30 * time.Second,
		DeviceSweep:   20 * time.Second,
	}
	dispatcher := &fakeDispatcher{}
	store := &fakeDeviceStore{}
	return NewBridge(cfg, dispatcher, store), dispatcher, store
}

func TestAlertPayloadRaisesEmergency(t *testing.T) {
	b, dispatcher, store := testBridge()

	b.handlePayload(&statusPayload{Reminder: "Alert", PatientID: "12"})

	if len(dispatcher.emergencies) != 1 || dispatcher.emergencies[0] != 12 {
		t.Fatalf("emergencies = %v, want [12]", dispatcher.emergencies)
	}
	// Panic payloads are not liveness: no touch, no status change.
	if len(store.touched) != 0 {
		t.Fatalf("alert payload should not touch the device record")
	}
	if b.State().Online {
		t.Fatalf("alert payload should not flip the session online")
	}
}

func TestAlertWithoutPatientIDResolvesOwner(t *testing.T) {
	b, dispatcher, store := testBridge()
	store.owner = &models.Device{DeviceID: "esp32-01", PatientID: 7}

	b.handlePayload(&statusPayload{Reminder: "Alert"})

	if len(dispatcher.emergencies) != 1 || dispatcher.emergencies[0] != 7 {
		t.Fatalf("emergencies = %v, want [7] from the registered owner", dispatcher.emergencies)
	}
}

func TestStatusPayloadUpdatesSession(t *testing.T) {
	b, dispatcher, store := testBridge()

	b.handlePayload(&statusPayload{
		Status:      "running",
		Battery:     87.5,
		Signal:      -61,
		Temperature: 36.2,
		Uptime:      3600,
	})

	state := b.State()
	if !state.Online {
		t.Fatalf("device should be online after a status payload")
	}
	if state.Battery != 87.5 || state.Signal != -61 || state.Temperature != 36.2 || state.Uptime != 3600 {
		t.Fatalf("cached state wrong: %+v", state)
	}
	if state.LastSeen.IsZero() {
		t.Fatalf("LastSeen should be set")
	}
	if len(store.touched) != 1 || store.touched[0] != "esp32-01" {
		t.Fatalf("touched = %v, want [esp32-01]", store.touched)
	}

	// First payload after silence announces the device as online.
	if len(dispatcher.statuses) != 1 || dispatcher.statuses[0] != true {
		t.Fatalf("statuses = %v, want [true]", dispatcher.statuses)
	}

	// A second payload while already online stays quiet.
	b.handlePayload(&statusPayload{Status: "running", Battery: 86})
	if len(dispatcher.statuses) != 1 {
		t.Fatalf("repeat status must not re-announce, got %v", dispatcher.statuses)
	}
	if b.State().Battery != 86 {
		t.Fatalf("battery should refresh on every payload")
	}
}

func TestPartialPayloadKeepsPreviousReadings(t *testing.T) {
	b, _, _ := testBridge()

	b.handlePayload(&statusPayload{Status: "running", Battery: 90, Temperature: 36.0})
	b.handlePayload(&statusPayload{Status: "running", Signal: -70})

	state := b.State()
	if state.Battery != 90 || state.Temperature != 36.0 {
		t.Fatalf("zero-valued fields must not wipe cached readings: %+v", state)
	}
	if state.Signal != -70 {
		t.Fatalf("signal = %d, want -70", state.Signal)
	}
}

func TestPublishCommandWithoutConnection(t *testing.T) {
	b, _, _ := testBridge()

	if b.PublishCommand(map[string]string{"command": "ping"}) {
		t.Fatalf("publish with no broker connection should return false")
	}
	if b.IsConnected() {
		t.Fatalf("bridge should report disconnected")
	}
}
