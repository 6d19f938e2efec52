package devicews

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"carebridge/internal/audio"
	"carebridge/internal/hub"
	"carebridge/pkg/models"
)

// Store persists what devices report.
type Store interface {
	TouchDevice(ctx context.Context, deviceID string) error
	InsertSensorReading(ctx context.Context, r *models.SensorReading) error
}

// deviceMessage covers every JSON frame the firmware sends.
type deviceMessage struct {
	Type         string                 `json:"type"`
	DeviceID     string                 `json:"deviceId,omitempty"`
	DeviceType   string                 `json:"deviceType,omitempty"`
	Capabilities []string               `json:"capabilities,omitempty"`
	SensorType   string                 `json:"sensorType,omitempty"`
	Data         map[string]interface{} `json:"data,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Streaming    bool                   `json:"streaming,omitempty"`
}

// Session is the live view of one connected device.
type Session struct {
	DeviceID     string                 `json:"device_id"`
	DeviceType   string                 `json:"device_type"`
	Capabilities []string               `json:"capabilities"`
	Streaming    bool                   `json:"streaming"`
	LastSeen     time.Time              `json:"last_seen"`
	Readings     map[string]interface{} `json:"readings"`
}

// Handler terminates WebSocket connections from ESP32 devices. Text frames
// carry JSON control messages, binary frames carry raw PCM audio that is
// rolled into disk clips.
type Handler struct {
	upgrader websocket.Upgrader
	registry *hub.Registry
	clips    *audio.ClipManager
	store    Store

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewHandler(registry *hub.Registry, clips *audio.ClipManager, store Store, originAllowed func(string) bool) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  8192,
			WriteBufferSize: 8192,
			CheckOrigin: func(r *http.Request) bool {
				// Firmware clients send no Origin header.
				origin := r.Header.Get("Origin")
				return origin == "" || originAllowed(origin)
			},
		},
		registry: registry,
		clips:    clips,
		store:    store,
		sessions: make(map[string]*Session),
	}
}

func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ device websocket upgrade failed: %v", err)
		return
	}

	client := hub.NewWSConn(conn)
	deviceID := ""

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if deviceID != "" {
			h.registry.MarkAlive(deviceID)
		}
		return nil
	})

	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("❌ device read error: %v", err)
			}
			break
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if deviceID != "" {
			h.registry.MarkAlive(deviceID)
			h.touchSession(deviceID)
		}

		switch messageType {
		case websocket.TextMessage:
			deviceID = h.handleControl(client, message, deviceID)

		case websocket.BinaryMessage:
			if deviceID == "" {
				continue
			}
			h.setStreaming(deviceID, true)
			h.clips.AddChunk(deviceID, message)
		}
	}

	if deviceID != "" {
		h.clips.Flush(deviceID)
		h.registry.UnregisterConn(deviceID, client)
		h.mu.Lock()
		delete(h.sessions, deviceID)
		h.mu.Unlock()
	}
}

func (h *Handler) handleControl(client *hub.WSConn, message []byte, deviceID string) string {
	var msg deviceMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Printf("⚠️ discarding malformed device frame: %v", err)
		return deviceID
	}

	switch msg.Type {
	case "device-info":
		if msg.DeviceID == "" {
			h.sendJSON(client, map[string]string{"type": "error", "message": "device-info requires deviceId"})
			return deviceID
		}
		deviceID = msg.DeviceID

		h.mu.Lock()
		h.sessions[deviceID] = &Session{
			DeviceID:     deviceID,
			DeviceType:   msg.DeviceType,
			Capabilities: msg.Capabilities,
			LastSeen:     time.Now(),
			Readings:     make(map[string]interface{}),
		}
		h.mu.Unlock()

		h.registry.Register(deviceID, client)
		log.Printf("📟 device %s registered (type=%s, capabilities=%v)", deviceID, msg.DeviceType, msg.Capabilities)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.store.TouchDevice(ctx, deviceID); err != nil {
			log.Printf("⚠️ failed to record device %s: %v", deviceID, err)
		}
		cancel()

		h.sendJSON(client, map[string]string{"type": "registered", "deviceId": deviceID})
		return deviceID

	case "sensor-data":
		if deviceID == "" {
			return deviceID
		}
		h.mu.Lock()
		if s, ok := h.sessions[deviceID]; ok {
			s.Readings[msg.SensorType] = msg.Data
		}
		h.mu.Unlock()

		reading := &models.SensorReading{
			DeviceID:   deviceID,
			SensorType: msg.SensorType,
			Data:       msg.Data,
			Timestamp:  time.Now(),
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := h.store.InsertSensorReading(ctx, reading); err != nil {
			log.Printf("⚠️ failed to store %s reading from %s: %v", msg.SensorType, deviceID, err)
		}
		cancel()
		return deviceID

	case "status-update":
		if deviceID == "" {
			return deviceID
		}
		h.setStreaming(deviceID, msg.Streaming)
		log.Printf("📟 device %s status: %s", deviceID, msg.Status)
		return deviceID

	case "ping":
		h.sendJSON(client, map[string]interface{}{"type": "pong", "timestamp": time.Now().UnixMilli()})
		return deviceID

	default:
		log.Printf("⚠️ unknown device message type %q from %s", msg.Type, deviceID)
		return deviceID
	}
}

// StartRecording asks a connected device to begin streaming audio.
func (h *Handler) StartRecording(deviceID string) bool {
	return h.sendCommand(deviceID, map[string]string{"type": "command", "action": "startRecording"})
}

func (h *Handler) StopRecording(deviceID string) bool {
	return h.sendCommand(deviceID, map[string]string{"type": "command", "action": "stopRecording"})
}

func (h *Handler) sendCommand(deviceID string, cmd map[string]string) bool {
	if !h.registry.SendJSON(deviceID, cmd) {
		log.Printf("⚠️ device %s not connected, command %s dropped", deviceID, cmd["action"])
		return false
	}
	return true
}

// Sessions snapshots the live device sessions for the ops endpoints.
func (h *Handler) Sessions() []Session {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		out = append(out, *s)
	}
	return out
}

func (h *Handler) touchSession(deviceID string) {
	h.mu.Lock()
	if s, ok := h.sessions[deviceID]; ok {
		s.LastSeen = time.Now()
	}
	h.mu.Unlock()
}

func (h *Handler) setStreaming(deviceID string, streaming bool) {
	h.mu.Lock()
	if s, ok := h.sessions[deviceID]; ok {
		s.Streaming = streaming
	}
	h.mu.Unlock()
}

func (h *Handler) sendJSON(client *hub.WSConn, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := client.Send(data); err != nil {
		log.Printf("❌ device send failed: %v", err)
	}
}
