package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"

	"carebridge/internal/api"
	"carebridge/internal/audio"
	"carebridge/internal/call"
	"carebridge/internal/config"
	"carebridge/internal/database"
	"carebridge/internal/devicews"
	"carebridge/internal/hub"
	"carebridge/internal/middleware"
	"carebridge/internal/mqttbridge"
	"carebridge/internal/notify"
	"carebridge/internal/push"
	"carebridge/internal/scheduler"
)

var (
	db        *database.DB
	startTime time.Time

	serverLogs []string
	logsMutex  sync.RWMutex
)

const maxLogs = 100

// logWriter keeps the last maxLogs lines in memory for the /api/logs
// endpoint while still printing to the console.
type logWriter struct{}

func (lw logWriter) Write(p []byte) (n int, err error) {
	logsMutex.Lock()
	defer logsMutex.Unlock()

	msg := string(p)
	if len(msg) > 0 && msg[len(msg)-1] == '\n' {
		msg = msg[:len(msg)-1]
	}

	logEntry := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05"), msg)

	serverLogs = append(serverLogs, logEntry)
	if len(serverLogs) > maxLogs {
		serverLogs = serverLogs[1:]
	}

	fmt.Println(logEntry)
	return len(p), nil
}

func main() {
	log.SetFlags(0)
	log.SetOutput(logWriter{})

	startTime = time.Now()
	log.Println("🚀 starting carebridge server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ config error: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ config error: %v", err)
	}

	db, err = database.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("❌ database error: %v", err)
	}
	defer db.Close()

	var pushService *push.FirebaseService
	if cfg.FirebaseCredentialsPath != "" {
		pushService, err = push.NewFirebaseService(cfg.FirebaseCredentialsPath)
		if err != nil {
			log.Printf("⚠️ Firebase unavailable, push fallback disabled: %v", err)
			pushService = nil
		}
	}

	// Connection pools. Users and devices get separate registries with the
	// same eviction and heartbeat behavior.
	users := hub.NewRegistry("users")
	devices := hub.NewRegistry("devices")
	users.StartSweeper(cfg.HeartbeatInterval)
	devices.StartSweeper(cfg.HeartbeatInterval)

	machine := call.NewMachine(users, db, cfg.RingTimeout)
	users.OnEvict(machine.HandleDisconnect)

	var pusher notify.Pusher
	if pushService != nil {
		pusher = pushService
	}

	dispatcher := notify.NewDispatcher(users, db, nil, pusher)
	machine.SetMissedCallNotifier(dispatcher)

	var bridge *mqttbridge.Bridge
	if cfg.MQTTEnabled && cfg.MQTTUsername != "" && cfg.MQTTPassword != "" {
		bridge = mqttbridge.NewBridge(cfg, dispatcher, db)
		if err := bridge.Connect(); err != nil {
			log.Printf("⚠️ MQTT bridge unavailable: %v", err)
			bridge = nil
		} else {
			dispatcher.SetDeviceCommander(bridge)
		}
	}

	sched := scheduler.NewScheduler(db, dispatcher)
	defer sched.Shutdown()

	// Rebuild timer state, then catch up on anything that came due while
	// the process was down. Order matters: re-arm first so a reminder due
	// in the next instant is not fired twice.
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 60*time.Second)
	if _, err := sched.SchedulePendingReminders(startupCtx); err != nil {
		log.Printf("❌ failed to re-arm reminders: %v", err)
	}
	if _, err := sched.CheckMissedReminders(startupCtx); err != nil {
		log.Printf("❌ failed to process missed reminders: %v", err)
	}
	cancelStartup()

	clips, err := audio.NewClipManager(cfg.AudioClipDir, cfg.AudioClipDuration)
	if err != nil {
		log.Fatalf("❌ audio clip storage error: %v", err)
	}

	auth := middleware.NewAuth(cfg.JWTSecret, cfg.JWTExpiry)
	deviceHandler := devicews.NewHandler(devices, clips, db, cfg.OriginAllowed)
	userServer := hub.NewUserServer(users, machine, auth.AuthenticateSocket, cfg.OriginAllowed)
	apiServer := api.NewServer(cfg, db, sched, users, auth, deviceHandler, bridge)

	router := mux.NewRouter()
	router.HandleFunc("/ws", userServer.HandleWebSocket)
	router.HandleFunc("/ws/device", deviceHandler.HandleConnection)

	apiServer.RegisterRoutes(router)

	ops := router.PathPrefix("/api").Subrouter()
	ops.HandleFunc("/stats", statsHandler(users, devices, machine, sched, bridge, clips)).Methods("GET")
	ops.HandleFunc("/health", healthCheckHandler).Methods("GET")
	ops.HandleFunc("/logs", logsHandler).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      corsMiddleware(cfg, router),
		ReadTimeout:  0, // WebSocket connections are long-lived
		WriteTimeout: 0,
	}

	go func() {
		log.Printf("✅ server ready on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Println("🛑 shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if bridge != nil {
		bridge.Shutdown()
	}
	users.Shutdown()
	devices.Shutdown()
	clips.Close()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ forced shutdown: %v", err)
	}
	log.Println("👋 bye")
}

func corsMiddleware(cfg *config.Config, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && cfg.OriginAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With, Accept")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func statsHandler(users, devices *hub.Registry, machine *call.Machine, sched *scheduler.Scheduler, bridge *mqttbridge.Bridge, clips *audio.ClipManager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		dbStatus := false
		if db != nil && db.GetConnection() != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := db.GetConnection().PingContext(ctx); err == nil {
				dbStatus = true
			}
		}

		response := map[string]interface{}{
			"connected_users":   users.Count(),
			"connected_devices": devices.Count(),
			"active_calls":      machine.ActiveCalls(),
			"armed_reminders":   sched.TimerCount(),
			"audio":             clips.Stats(),
			"uptime":            formatDuration(time.Since(startTime)),
			"db_status":         dbStatus,
			"mqtt_connected":    bridge != nil && bridge.IsConnected(),
			"timestamp":         time.Now().Unix(),
		}
		if bridge != nil {
			response["device_bridge"] = bridge.State()
		}

		json.NewEncoder(w).Encode(response)
	}
}

func logsHandler(w http.ResponseWriter, r *http.Request) {
	logsMutex.RLock()
	defer logsMutex.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"logs": serverLogs,
	})
}

func healthCheckHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	status := "healthy"
	httpStatus := http.StatusOK

	if err := db.GetConnection().Ping(); err != nil {
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	w.WriteHeader(httpStatus)
	json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	})
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
