// Package config provides environment configuration for the API server and
// file configuration for the client daemon.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the API server.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ShutdownTimeout    time.Duration

	// Database settings
	DatabasePath string

	// Credential sealing
	EncryptionKey        string
	EncryptionPassphrase string
	EncryptionSalt       string

	// NATS settings, empty URL disables the event bus
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings, an empty CatalogScope leaves catalog writes open to any
	// authenticated caller
	JWTSecret    string
	CatalogScope string

	// Allowed CORS origins, empty allows any
	CORSOrigins []string

	// Completion settings
	SystemPrompt   string
	MaxTokens      int
	Temperature    float64
	TitleMaxLength int

	// Speech-to-text upstream
	WhisperAPIURL string
	WhisperAPIKey string
	WhisperModel  string

	// Rate limiting
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 120*time.Second),
		ShutdownTimeout:    getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),

		// Database
		DatabasePath: getEnv("DATABASE_PATH", "murmur.db"),

		// Encryption
		EncryptionKey:        getEnv("ENCRYPTION_KEY", ""),
		EncryptionPassphrase: getEnv("ENCRYPTION_PASSPHRASE", ""),
		EncryptionSalt:       getEnv("ENCRYPTION_SALT", ""),

		// NATS
		NATSURL:      getEnv("NATS_URL", ""),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:    getEnv("JWT_SECRET", "development-secret-change-in-production"),
		CatalogScope: getEnv("CATALOG_SCOPE", ""),

		// CORS
		CORSOrigins: getListEnv("CORS_ORIGINS"),

		// Completion
		SystemPrompt:   getEnv("SYSTEM_PROMPT", "You are a helpful assistant. Respond concisely."),
		MaxTokens:      getIntEnv("MAX_TOKENS", 4000),
		Temperature:    getFloatEnv("TEMPERATURE", 0.5),
		TitleMaxLength: getIntEnv("TITLE_MAX_LENGTH", 100),

		// Speech
		WhisperAPIURL: getEnv("WHISPER_API_URL", "https://api.groq.com/openai/v1"),
		WhisperAPIKey: getEnv("WHISPER_API_KEY", ""),
		WhisperModel:  getEnv("WHISPER_MODEL", "distil-whisper-large-v3-en"),

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel: getEnv("LOG_LEVEL", "info"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
