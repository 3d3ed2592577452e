package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// WorkerBaseURL is the job worker service that owns authoritative item
	// status. LedgerBaseURL is the credit ledger collaborator.
	WorkerBaseURL string
	LedgerBaseURL string

	// SnapshotPath is the file-backed store snapshot location, used when no
	// DatabaseURL is configured.
	SnapshotPath string

	PollInterval  time.Duration
	PollCeiling   time.Duration
	WorkerTimeout time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
}

// LoadConfig loads configuration from environment variables and applies
// defaults where needed. A local .env file is honored when present.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load(".env", ".env.local")

	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		WorkerBaseURL:    getEnv("WORKER_BASE_URL", "http://localhost:9090"),
		LedgerBaseURL:    os.Getenv("LEDGER_BASE_URL"),
		SnapshotPath:     getEnv("SNAPSHOT_PATH", "./data/batches.json"),
		PollInterval:     time.Second * time.Duration(getEnvInt("POLL_INTERVAL_SECONDS", 3)),
		PollCeiling:      time.Minute * time.Duration(getEnvInt("POLL_CEILING_MINUTES", 30)),
		WorkerTimeout:    time.Second * time.Duration(getEnvInt("WORKER_TIMEOUT_SECONDS", 30)),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
	}

	if cfg.WorkerBaseURL == "" {
		return nil, fmt.Errorf("WORKER_BASE_URL is required")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("POLL_INTERVAL_SECONDS must be positive")
	}
	if cfg.PollCeiling <= cfg.PollInterval {
		return nil, fmt.Errorf("POLL_CEILING_MINUTES must exceed the poll interval")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}
