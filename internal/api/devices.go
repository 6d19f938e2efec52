package api

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"carebridge/internal/middleware"
	"carebridge/pkg/models"
)

// notifyHardware mirrors registry changes onto the MQTT command topic so the
// bridged hardware can react. Best effort, a dead broker never fails the API.
func (s *Server) notifyHardware(kind, status, deviceID string) {
	if s.bridge == nil {
		return
	}
	s.bridge.PublishCommand(map[string]interface{}{
		"type":      kind,
		"status":    status,
		"device_id": deviceID,
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleCreateDevice(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	var req struct {
		PatientID int64  `json:"patient_id"`
		DeviceID  string `json:"device_id"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if claims.Role == models.RolePatient {
		req.PatientID = claims.UserID
	}
	if req.DeviceID == "" || req.PatientID == 0 {
		respondError(w, fmt.Errorf("%w: device_id and patient_id are required", models.ErrValidation))
		return
	}

	ok, err := s.canActFor(r.Context(), claims, req.PatientID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, models.ErrUnauthorized)
		return
	}

	device := &models.Device{
		PatientID: req.PatientID,
		DeviceID:  req.DeviceID,
		Status:    models.DeviceActive,
	}
	if err := s.db.CreateDevice(r.Context(), device); err != nil {
		respondError(w, err)
		return
	}

	log.Printf("📟 device %s registered for patient %d", device.DeviceID, device.PatientID)
	s.notifyHardware("registration", "success", device.DeviceID)
	respondJSON(w, http.StatusCreated, device)
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	patientID := claims.UserID
	if claims.Role != models.RolePatient {
		v := r.URL.Query().Get("patientId")
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			respondError(w, fmt.Errorf("%w: patientId query parameter is required", models.ErrValidation))
			return
		}
		patientID = id
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

	devices, err := s.db.ListDevicesForPatient(r.Context(), patientID)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"devices": devices})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		respondError(w, err)
		return
	}

	device, err := s.db.GetDevice(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}

	ok, err := s.canActFor(r.Context(), claims, device.PatientID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, models.ErrUnauthorized)
		return
	}

	respondJSON(w, http.StatusOK, device)
}

func (s *Server) handleUpdateDeviceStatus(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		respondError(w, err)
		return
	}

	var req struct {
		Status string `json:"status"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Status != models.DeviceActive && req.Status != models.DeviceInactive {
		respondError(w, fmt.Errorf("%w: invalid status %q", models.ErrValidation, req.Status))
		return
	}

	device, err := s.db.GetDevice(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	ok, err := s.canActFor(r.Context(), claims, device.PatientID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, models.ErrUnauthorized)
		return
	}

	updated, err := s.db.UpdateDeviceStatus(r.Context(), id, req.Status)
	if err != nil {
		respondError(w, err)
		return
	}
	s.notifyHardware("status_update", updated.Status, updated.DeviceID)
	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	id, err := pathID(mux.Vars(r), "id")
	if err != nil {
		respondError(w, err)
		return
	}

	device, err := s.db.GetDevice(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	ok, err := s.canActFor(r.Context(), claims, device.PatientID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, models.ErrUnauthorized)
		return
	}

	if err := s.db.DeleteDevice(r.Context(), id); err != nil {
		respondError(w, err)
		return
	}
	s.notifyHardware("deregistration", "removed", device.DeviceID)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handlePingDevice sends a ping command over MQTT to the bridged hardware.
func (s *Server) handlePingDevice(w http.ResponseWriter, r *http.Request) {
	if s.bridge == nil || !s.bridge.IsConnected() {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "device bridge is offline"})
		return
	}

	delivered := s.bridge.PublishCommand(map[string]interface{}{
		"command": "ping",
	})

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"delivered": delivered,
		"device":    s.bridge.State(),
	})
}

// handleTriggerRecording asks the target patient's ESP32 devices to start
// streaming audio.
func (s *Server) handleTriggerRecording(w http.ResponseWriter, r *http.Request) {
	claims, _ := middleware.ClaimsFrom(r.Context())

	var req struct {
		TargetUserID int64 `json:"targetUserId"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.TargetUserID == 0 {
		respondError(w, fmt.Errorf("%w: targetUserId is required", models.ErrValidation))
		return
	}

	ok, err := s.canActFor(r.Context(), claims, req.TargetUserID)
	if err != nil {
		respondError(w, err)
		return
	}
	if !ok {
		respondError(w, models.ErrUnauthorized)
		return
	}

	deviceIDs, err := s.db.GetActiveDevicesFor(r.Context(), req.TargetUserID)
	if err != nil {
		respondError(w, err)
		return
	}

	triggered := 0
	for _, deviceID := range deviceIDs {
		if s.devices.StartRecording(deviceID) {
			triggered++
		}
	}
	if triggered == 0 {
		respondError(w, fmt.Errorf("%w: no connected device for patient %d", models.ErrNotFound, req.TargetUserID))
		return
	}

	log.Printf("🎙️ recording triggered on %d/%d device(s) for patient %d", triggered, len(deviceIDs), req.TargetUserID)
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"devices":   len(deviceIDs),
		"triggered": triggered,
	})
}

func (s *Server) handleDeviceSessions(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": s.devices.Sessions(),
	})
}
