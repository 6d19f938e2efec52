package api

import (
	"github.com/gorilla/mux"

	"carebridge/internal/config"
	"carebridge/internal/database"
	"carebridge/internal/devicews"
	"carebridge/internal/hub"
	"carebridge/internal/middleware"
	"carebridge/internal/mqttbridge"
	"carebridge/internal/scheduler"
)

// Server wires the REST surface together. WebSocket endpoints and the ops
// routes are mounted separately in main.
type Server struct {
	cfg     *config.Config
	db      *database.DB
	sched   *scheduler.Scheduler
	users   *hub.Registry
	auth    *middleware.Auth
	devices *devicews.Handler
	bridge  *mqttbridge.Bridge
}

func NewServer(cfg *config.Config, db *database.DB, sched *scheduler.Scheduler, users *hub.Registry, auth *middleware.Auth, devices *devicews.Handler, bridge *mqttbridge.Bridge) *Server {
	return &Server{
		cfg:     cfg,
		db:      db,
		sched:   sched,
		users:   users,
		auth:    auth,
		devices: devices,
		bridge:  bridge,
	}
}

// RegisterRoutes mounts every REST endpoint under /api.
func (s *Server) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/auth/register", s.handleRegister).Methods("POST")
	api.HandleFunc("/auth/login", s.handleLogin).Methods("POST")

	authed := api.NewRoute().Subrouter()
	authed.Use(s.auth.Middleware)

	authed.HandleFunc("/auth/me", s.handleMe).Methods("GET")
	authed.HandleFunc("/auth/change-password", s.handleChangePassword).Methods("POST")
	authed.HandleFunc("/auth/device-token", s.handleDeviceToken).Methods("POST")

	authed.HandleFunc("/users/caregivers", s.handleAssignCaregiver).Methods("POST")
	authed.HandleFunc("/users/family", s.handleLinkFamily).Methods("POST")

	authed.HandleFunc("/reminders", s.handleCreateReminder).Methods("POST")
	authed.HandleFunc("/reminders", s.handleListReminders).Methods("GET")
	authed.HandleFunc("/reminders/{id:[0-9]+}", s.handleGetReminder).Methods("GET")
	authed.HandleFunc("/reminders/{id:[0-9]+}", s.handleUpdateReminder).Methods("PUT")
	authed.HandleFunc("/reminders/{id:[0-9]+}", s.handleCancelReminder).Methods("DELETE")

	authed.HandleFunc("/calls/history", s.handleListCalls).Methods("GET")
	authed.HandleFunc("/calls/ice-servers", s.handleICEServers).Methods("GET")
	authed.HandleFunc("/calls/{callId}", s.handleGetCall).Methods("GET")

	authed.HandleFunc("/devices", s.handleCreateDevice).Methods("POST")
	authed.HandleFunc("/devices/esp32/trigger", s.handleTriggerRecording).Methods("POST")
	authed.HandleFunc("/devices/esp32/sessions", s.handleDeviceSessions).Methods("GET")
	authed.HandleFunc("/devices/{id:[0-9]+}", s.handleGetDevice).Methods("GET")
	authed.HandleFunc("/devices/{id:[0-9]+}/status", s.handleUpdateDeviceStatus).Methods("PUT")
	authed.HandleFunc("/devices/{id:[0-9]+}", s.handleDeleteDevice).Methods("DELETE")
	authed.HandleFunc("/devices", s.handleListDevices).Methods("GET")
	authed.HandleFunc("/devices/ping", s.handlePingDevice).Methods("POST")

	authed.HandleFunc("/locations", s.handleUpdateLocation).Methods("POST")
	authed.HandleFunc("/locations/{userId:[0-9]+}", s.handleGetLocation).Methods("GET")
}
