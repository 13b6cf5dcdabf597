package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// LLM
	UseMockLLM   bool
	GCPProjectID string
	GCPLocation  string
	ModelName    string

	// Storage
	StorageBackend   string // "memory", "sqlite", "postgres" or "firestore"
	SQLitePath       string
	PostgresDSN      string
	FirestoreProject string

	// Blob storage for hot-memory snapshots and archive batches
	BlobBackend string // "memory" or "s3"
	S3Bucket    string
	S3Region    string
	S3Endpoint  string // optional, for R2 / MinIO style endpoints

	// Transport
	TransportBackend string // "log" or "telegram"
	TelegramToken    string

	// Personality
	PersonalityFile string

	// Conversation policy. These are tunables, not derived values.
	SessionGap      time.Duration
	CacheLimit      int
	OutreachAfter   time.Duration
	OutreachBefore  time.Duration
	Retention       time.Duration
	ActiveHourStart int
	ActiveHourEnd   int
	MaintenanceHour int
	UTCOffset       int
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBoolEnv(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if v == "1" || v == "true" || v == "TRUE" {
		return true
	}
	return false
}

func getIntEnv(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Fatalf("invalid integer for %s: %q", key, v)
	}
	return n
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("invalid duration for %s: %q", key, v)
	}
	return d
}

// Load reads all env vars and builds the config. A .env file in the
// working directory is honored when present.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Port: getEnv("CALLIOPE_PORT", "8080"),

		UseMockLLM:   getBoolEnv("CALLIOPE_USE_MOCK_LLM", false),
		GCPProjectID: getEnv("CALLIOPE_GCP_PROJECT", ""),
		GCPLocation:  getEnv("CALLIOPE_GCP_LOCATION", "us-central1"),
		ModelName:    getEnv("CALLIOPE_MODEL_NAME", "gemini-2.5-flash"),

		StorageBackend:   getEnv("CALLIOPE_STORAGE_BACKEND", "sqlite"),
		SQLitePath:       getEnv("CALLIOPE_SQLITE_PATH", "calliope.db"),
		PostgresDSN:      getEnv("CALLIOPE_POSTGRES_DSN", ""),
		FirestoreProject: getEnv("CALLIOPE_FIRESTORE_PROJECT", ""),

		BlobBackend: getEnv("CALLIOPE_BLOB_BACKEND", "memory"),
		S3Bucket:    getEnv("CALLIOPE_S3_BUCKET", ""),
		S3Region:    getEnv("CALLIOPE_S3_REGION", "auto"),
		S3Endpoint:  getEnv("CALLIOPE_S3_ENDPOINT", ""),

		TransportBackend: getEnv("CALLIOPE_TRANSPORT", "log"),
		TelegramToken:    getEnv("CALLIOPE_TELEGRAM_TOKEN", ""),

		PersonalityFile: getEnv("CALLIOPE_PERSONALITY_FILE", ""),

		SessionGap:      getDurationEnv("CALLIOPE_SESSION_GAP", 2*time.Hour),
		CacheLimit:      getIntEnv("CALLIOPE_CACHE_LIMIT", 20),
		OutreachAfter:   getDurationEnv("CALLIOPE_OUTREACH_AFTER", 24*time.Hour),
		OutreachBefore:  getDurationEnv("CALLIOPE_OUTREACH_BEFORE", 48*time.Hour),
		Retention:       getDurationEnv("CALLIOPE_RETENTION", 30*24*time.Hour),
		ActiveHourStart: getIntEnv("CALLIOPE_ACTIVE_HOUR_START", 9),
		ActiveHourEnd:   getIntEnv("CALLIOPE_ACTIVE_HOUR_END", 21),
		MaintenanceHour: getIntEnv("CALLIOPE_MAINTENANCE_HOUR", 3),
		UTCOffset:       getIntEnv("CALLIOPE_UTC_OFFSET", 0),
	}

	switch cfg.StorageBackend {
	case "postgres":
		if cfg.PostgresDSN == "" {
			log.Fatal("CALLIOPE_POSTGRES_DSN must be set for the postgres backend")
		}
	case "firestore":
		if cfg.FirestoreProject == "" {
			log.Fatal("CALLIOPE_FIRESTORE_PROJECT must be set for the firestore backend")
		}
	}
	if cfg.BlobBackend == "s3" && cfg.S3Bucket == "" {
		log.Fatal("CALLIOPE_S3_BUCKET must be set for the s3 blob backend")
	}
	if cfg.TransportBackend == "telegram" && cfg.TelegramToken == "" {
		log.Fatal("CALLIOPE_TELEGRAM_TOKEN must be set for the telegram transport")
	}

	return cfg
}

// Personality returns the system prompt text: the configured file if any,
// otherwise the built-in default persona.
func (c *Config) Personality(def string) string {
	if c.PersonalityFile == "" {
		return def
	}
	data, err := os.ReadFile(c.PersonalityFile)
	if err != nil {
		log.Fatalf("reading personality file: %v", err)
	}
	return string(data)
}
