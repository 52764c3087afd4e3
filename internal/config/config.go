package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port         int
	APIToken     string
	DBPath       string
	EventsDir    string
	LogDirectory string

	// Detector model files (SSD/COCO graph readable by gocv.ReadNet).
	ModelPath  string
	ConfigPath string

	WebhookURL       string
	WebhookSecret    string
	WebhookAuthToken string
	DefaultLatitude  string
	DefaultLongitude string
	AlertMaxRetries  int // 0 = report and discard
	AlertQueueSize   int

	CameraReconnectDelay time.Duration
	CameraQueueSize      int
	FrameSkip            int
	DetectionConfidence  float64

	// Hardware overrides. ForceTier is one of "", "accelerated", "cpu", "constrained".
	ForceTier   string
	Accelerator bool

	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Port:         getEnvAsInt("PORT", 8080),
		APIToken:     getEnv("API_TOKEN", ""),
		DBPath:       getEnv("DB_PATH", filepath.Join(".", "data", "diginetra.db")),
		EventsDir:    getEnv("EVENTS_DIR", filepath.Join(".", "events")),
		LogDirectory: getEnv("LOG_DIR", filepath.Join(".", "logs")),

		ModelPath:  getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ConfigPath: getEnv("CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),

		WebhookURL:       getEnv("WEBHOOK_URL", ""),
		WebhookSecret:    getEnv("WEBHOOK_SECRET", ""),
		WebhookAuthToken: getEnv("WEBHOOK_AUTH_TOKEN", ""),
		DefaultLatitude:  getEnv("DEFAULT_LATITUDE", "28.5355"),
		DefaultLongitude: getEnv("DEFAULT_LONGITUDE", "77.3910"),
		AlertMaxRetries:  getEnvAsInt("ALERT_MAX_RETRIES", 0),
		AlertQueueSize:   getEnvAsInt("ALERT_QUEUE_SIZE", 16),

		CameraReconnectDelay: getEnvAsDuration("CAMERA_RECONNECT_DELAY", 2*time.Second),
		CameraQueueSize:      getEnvAsInt("CAMERA_QUEUE_SIZE", 32),
		FrameSkip:            getEnvAsInt("FRAME_SKIP", 2),
		DetectionConfidence:  getEnvAsFloat("DETECTION_CONFIDENCE", 0.45),

		ForceTier:   strings.ToLower(getEnv("FORCE_TIER", "")),
		Accelerator: getEnvAsBool("ACCELERATOR", false),

		MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
		MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		MinIOBucket:    getEnv("MINIO_BUCKET", "diginetra-events"),
		MinIOUseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

// getEnvAsDuration accepts Go durations ("1500ms") or plain seconds ("2").
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}
