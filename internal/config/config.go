// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Checkpoint settings.
	CheckpointBackend string // "memory", "sqlite", or "postgres"
	SQLitePath        string // Database file for the sqlite backend.
	DatabaseURL       string // Postgres URL for the postgres backend.

	// Identity settings.
	KeysDir string // Directory for agent Ed25519 key files.

	// Orchestration settings.
	BuildingID     string
	RecursionLimit int
	StepTimeout    time.Duration

	// Settlement settings.
	SettlementNetwork string

	// FHIR settings.
	FHIRBaseURL string // Empty disables observation posting.

	// LLM enrichment settings (disabled unless all three are set).
	LLMBaseURL string
	LLMAPIKey  string
	LLMModel   string

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Auth settings.
	AuthEnabled     bool
	TokenExpiration time.Duration

	// Operational settings.
	BaseURL             string // e.g., "http://localhost:8080" for agent discovery cards.
	LogLevel            string
	MaxRequestBodyBytes int64 // Maximum request body size in bytes.
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("ECOVERIFY_PORT", 8080),
		ReadTimeout:         envDuration("ECOVERIFY_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("ECOVERIFY_WRITE_TIMEOUT", 30*time.Second),
		CheckpointBackend:   envStr("ECOVERIFY_CHECKPOINT_BACKEND", "sqlite"),
		SQLitePath:          envStr("ECOVERIFY_SQLITE_PATH", "ecoverify.db"),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		KeysDir:             envStr("ECOVERIFY_KEYS_DIR", ".ecoverify/keys"),
		BuildingID:          envStr("ECOVERIFY_BUILDING_ID", "HQ-01"),
		RecursionLimit:      envInt("ECOVERIFY_RECURSION_LIMIT", 25),
		StepTimeout:         envDuration("ECOVERIFY_STEP_TIMEOUT", 30*time.Second),
		SettlementNetwork:   envStr("ECOVERIFY_SETTLEMENT_NETWORK", "devnet"),
		FHIRBaseURL:         envStr("ECOVERIFY_FHIR_BASE_URL", ""),
		LLMBaseURL:          envStr("ECOVERIFY_LLM_BASE_URL", ""),
		LLMAPIKey:           envStr("ECOVERIFY_LLM_API_KEY", ""),
		LLMModel:            envStr("ECOVERIFY_LLM_MODEL", ""),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "ecoverify"),
		AuthEnabled:         envBool("ECOVERIFY_AUTH_ENABLED", false),
		TokenExpiration:     envDuration("ECOVERIFY_TOKEN_EXPIRATION", 24*time.Hour),
		BaseURL:             envStr("ECOVERIFY_BASE_URL", "http://localhost:8080"),
		LogLevel:            envStr("ECOVERIFY_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("ECOVERIFY_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present.
func (c Config) Validate() error {
	switch c.CheckpointBackend {
	case "memory", "sqlite", "postgres":
	default:
		return fmt.Errorf("config: ECOVERIFY_CHECKPOINT_BACKEND must be memory, sqlite, or postgres (got %q)", c.CheckpointBackend)
	}
	if c.CheckpointBackend == "sqlite" && c.SQLitePath == "" {
		return fmt.Errorf("config: ECOVERIFY_SQLITE_PATH is required for the sqlite backend")
	}
	if c.CheckpointBackend == "postgres" && c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required for the postgres backend")
	}
	if c.KeysDir == "" {
		return fmt.Errorf("config: ECOVERIFY_KEYS_DIR is required")
	}
	if c.RecursionLimit <= 0 {
		return fmt.Errorf("config: ECOVERIFY_RECURSION_LIMIT must be positive")
	}
	if c.StepTimeout <= 0 {
		return fmt.Errorf("config: ECOVERIFY_STEP_TIMEOUT must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: ECOVERIFY_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
