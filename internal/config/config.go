package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port           string
	Environment    string
	AllowedOrigins []string

	// Database
	DatabaseURL string

	// Auth
	JWTSecret string
	JWTExpiry time.Duration

	// MQTT
	MQTTEnabled   bool
	MQTTBrokerURL string
	MQTTUsername  string
	MQTTPassword  string
	MQTTDeviceID  string

	// Realtime
	HeartbeatInterval time.Duration // ping cadence on live connections
	RingTimeout       time.Duration // ringing -> missed
	DeviceTimeout     time.Duration // device staleness window
	DeviceSweep       time.Duration // staleness watchdog cadence

	// Firebase
	FirebaseCredentialsPath string

	// Audio
	AudioClipDir      string
	AudioClipDuration time.Duration
}

func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️  No .env file found, reading environment variables from the system")
	}

	return &Config{
		Port:           getEnvWithDefault("PORT", "5000"),
		Environment:    getEnvWithDefault("ENVIRONMENT", "development"),
		AllowedOrigins: strings.Split(getEnvWithDefault("ALLOWED_ORIGINS", "*"), ","),

		DatabaseURL: os.Getenv("DATABASE_URL"),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTExpiry: time.Duration(getEnvInt("JWT_EXPIRE_HOURS", 720)) * time.Hour,

		MQTTEnabled:   getEnvBool("MQTT_ENABLED", true),
		MQTTBrokerURL: getEnvWithDefault("MQTT_BROKER_URL", "tls://localhost:8883"),
		MQTTUsername:  os.Getenv("MQTT_USERNAME"),
		MQTTPassword:  os.Getenv("MQTT_PASSWORD"),
		MQTTDeviceID:  getEnvWithDefault("MQTT_DEVICE_ID", "2113"),

		HeartbeatInterval: time.Duration(getEnvInt("HEARTBEAT_INTERVAL_SECONDS", 25)) * time.Second,
		RingTimeout:       time.Duration(getEnvInt("RING_TIMEOUT_SECONDS", 45)) * time.Second,
		DeviceTimeout:     time.Duration(getEnvInt("DEVICE_TIMEOUT_SECONDS", 30)) * time.Second,
		DeviceSweep:       time.Duration(getEnvInt("DEVICE_SWEEP_SECONDS", 20)) * time.Second,

		FirebaseCredentialsPath: os.Getenv("FIREBASE_CREDENTIALS_PATH"),

		AudioClipDir:      getEnvWithDefault("AUDIO_CLIP_DIR", "./audio_clips"),
		AudioClipDuration: time.Duration(getEnvInt("AUDIO_CLIP_SECONDS", 10)) * time.Second,
	}, nil
}

func getEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intValue int
		if _, err := fmt.Sscanf(value, "%d", &intValue); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate checks that required settings are present.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.MQTTEnabled && (c.MQTTUsername == "" || c.MQTTPassword == "") {
		log.Println("⚠️  MQTT credentials not configured, device bridge will stay disconnected")
	}

	if c.FirebaseCredentialsPath == "" {
		log.Println("⚠️  FIREBASE_CREDENTIALS_PATH not configured, push fallback disabled")
	}

	return nil
}

// OriginAllowed reports whether a WebSocket upgrade origin is acceptable.
// Empty origins (non-browser clients) are always allowed.
func (c *Config) OriginAllowed(origin string) bool {
	if origin == "" {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}
