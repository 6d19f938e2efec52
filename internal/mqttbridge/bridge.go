package mqttbridge

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log"
	"strconv"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"carebridge/internal/config"
	"carebridge/pkg/models"
)

// EmergencyDispatcher receives device-originated events for fan-out.
type EmergencyDispatcher interface {
	BroadcastEmergency(ctx context.Context, patientID int64, deviceID, title, message string) int
	BroadcastDeviceStatus(deviceID string, online bool) int
}

// DeviceStore persists device liveness transitions and resolves the
// device's registered owner.
type DeviceStore interface {
	TouchDevice(ctx context.Context, deviceID string) error
	GetDeviceByDeviceID(ctx context.Context, deviceID string) (*models.Device, error)
}

// statusPayload is what the firmware publishes on its status topic. The
// reminder field doubles as the panic-button channel: the literal "Alert"
// means the wearer pressed it.
type statusPayload struct {
	Reminder    string  `json:"reminder,omitempty"`
	PatientID   string  `json:"patientId,omitempty"`
	Status      string  `json:"status,omitempty"`
	Battery     float64 `json:"battery,omitempty"`
	Signal      int     `json:"signal,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Uptime      int64   `json:"uptime,omitempty"`
}

// DeviceState is the cached view of the bridged hardware device.
type DeviceState struct {
	DeviceID    string    `json:"device_id"`
	Online      bool      `json:"online"`
	Battery     float64   `json:"battery"`
	Signal      int       `json:"signal"`
	Temperature float64   `json:"temperature"`
	Uptime      int64     `json:"uptime"`
	LastSeen    time.Time `json:"last_seen"`
}

// Bridge connects the server to a single hardware device over an MQTT
// broker. It subscribes to the device's status topic, raises emergencies
// from panic-button payloads, and publishes commands back.
type Bridge struct {
	cfg        *config.Config
	dispatcher EmergencyDispatcher
	store      DeviceStore
	client     mqtt.Client

	mu       sync.RWMutex
	state    DeviceState
	stopChan chan struct{}
	stopOnce sync.Once
}

func NewBridge(cfg *config.Config, dispatcher EmergencyDispatcher, store DeviceStore) *Bridge {
	return &Bridge{
		cfg:        cfg,
		dispatcher: dispatcher,
		store:      store,
		state:      DeviceState{DeviceID: cfg.MQTTDeviceID},
		stopChan:   make(chan struct{}),
	}
}

func (b *Bridge) statusTopic() string {
	return fmt.Sprintf("devices/%s/status", b.cfg.MQTTDeviceID)
}

func (b *Bridge) commandTopic() string {
	return fmt.Sprintf("devices/%s/commands", b.cfg.MQTTDeviceID)
}

// Connect dials the broker and starts the staleness watchdog. Reconnects
// and resubscribes are handled by the client; a broker outage only degrades
// the device path.
func (b *Bridge) Connect() error {
	opts := mqtt.NewClientOptions().
		AddBroker(b.cfg.MQTTBrokerURL).
		SetClientID(fmt.Sprintf("carebridge-server-%d", time.Now().Unix())).
		SetUsername(b.cfg.MQTTUsername).
		SetPassword(b.cfg.MQTTPassword).
		SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second).
		SetKeepAlive(60 * time.Second).
		SetConnectTimeout(10 * time.Second)

	opts.OnConnect = func(client mqtt.Client) {
		log.Printf("✅ MQTT connected to %s", b.cfg.MQTTBrokerURL)
		token := client.Subscribe(b.statusTopic(), 1, b.handleStatus)
		if token.Wait() && token.Error() != nil {
			log.Printf("❌ MQTT subscribe failed: %v", token.Error())
			return
		}
		log.Printf("📡 subscribed to %s", b.statusTopic())
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Printf("⚠️ MQTT connection lost: %v", err)
	}

	b.client = mqtt.NewClient(opts)
	token := b.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	go b.watchdog()
	return nil
}

// PublishCommand sends a command to the device at QoS 1. Returns false when
// the broker is unreachable; callers treat that as a skipped transport, not
// a failure.
func (b *Bridge) PublishCommand(v interface{}) bool {
	if b.client == nil || !b.client.IsConnected() {
		log.Printf("⚠️ MQTT disconnected, command dropped")
		return false
	}

	payload, err := json.Marshal(v)
	if err != nil {
		log.Printf("❌ MQTT command marshal failed: %v", err)
		return false
	}

	token := b.client.Publish(b.commandTopic(), 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		log.Printf("⚠️ MQTT publish timed out")
		return false
	}
	if token.Error() != nil {
		log.Printf("❌ MQTT publish failed: %v", token.Error())
		return false
	}

	return true
}

// State returns a snapshot of the cached device session.
func (b *Bridge) State() DeviceState {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

func (b *Bridge) IsConnected() bool {
	return b.client != nil && b.client.IsConnected()
}

// Shutdown stops the watchdog and disconnects from the broker.
func (b *Bridge) Shutdown() {
	b.stopOnce.Do(func() { close(b.stopChan) })
	if b.client != nil && b.client.IsConnected() {
		b.client.Disconnect(250)
		log.Printf("🛑 MQTT disconnected")
	}
}

func (b *Bridge) handleStatus(_ mqtt.Client, msg mqtt.Message) {
	var payload statusPayload
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		log.Printf("⚠️ discarding malformed device payload on %s: %v", msg.Topic(), err)
		return
	}

	b.handlePayload(&payload)
}

// handlePayload applies one status message from the device. Split from the
// MQTT callback so it can be driven directly.
func (b *Bridge) handlePayload(payload *statusPayload) {
	if payload.Reminder == "Alert" {
		b.raiseEmergency(payload)
		return
	}

	b.mu.Lock()
	wasOnline := b.state.Online
	b.state.Online = true
	b.state.LastSeen = time.Now()
	if payload.Battery != 0 {
		b.state.Battery = payload.Battery
	}
	if payload.Signal != 0 {
		b.state.Signal = payload.Signal
	}
	if payload.Temperature != 0 {
		b.state.Temperature = payload.Temperature
	}
	if payload.Uptime != 0 {
		b.state.Uptime = payload.Uptime
	}
	b.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.TouchDevice(ctx, b.cfg.MQTTDeviceID); err != nil {
		log.Printf("⚠️ failed to record device heartbeat: %v", err)
	}

	if !wasOnline {
		log.Printf("📟 device %s is back online", b.cfg.MQTTDeviceID)
		b.dispatcher.BroadcastDeviceStatus(b.cfg.MQTTDeviceID, true)
	}
}

func (b *Bridge) raiseEmergency(payload *statusPayload) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	patientID, err := strconv.ParseInt(payload.PatientID, 10, 64)
	if err != nil {
		// Older firmware omits patientId. Fall back to the registered owner.
		if dev, derr := b.store.GetDeviceByDeviceID(ctx, b.cfg.MQTTDeviceID); derr == nil {
			patientID = dev.PatientID
		} else {
			log.Printf("⚠️ emergency with unusable patient id %q and unregistered device: %v", payload.PatientID, derr)
		}
	}

	log.Printf("🚨 panic button pressed on device %s (patient %d)", b.cfg.MQTTDeviceID, patientID)

	b.dispatcher.BroadcastEmergency(ctx, patientID, b.cfg.MQTTDeviceID,
		"Emergency alert",
		"The panic button was pressed. Check on the patient immediately.")
}

// watchdog flips the cached session offline when the device goes quiet for
// longer than the staleness window.
func (b *Bridge) watchdog() {
	ticker := time.NewTicker(b.cfg.DeviceSweep)
	defer ticker.Stop()

	for {
		select {
		case <-b.stopChan:
			return
		case <-ticker.C:
			b.mu.Lock()
			stale := b.state.Online && time.Since(b.state.LastSeen) > b.cfg.DeviceTimeout
			if stale {
				b.state.Online = false
			}
			b.mu.Unlock()

			if stale {
				log.Printf("💀 device %s went silent, marking offline", b.cfg.MQTTDeviceID)
				b.dispatcher.BroadcastDeviceStatus(b.cfg.MQTTDeviceID, false)
			}
		}
	}
}
