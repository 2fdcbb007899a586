// Package config provides environment configuration for the API server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration

	// Database settings. When DatabaseURL is empty the server falls back to
	// in-memory repositories (development only).
	DatabaseURL string

	// NATS settings. When NATSURL is empty summarization runs on the inline
	// in-process queue instead of JetStream.
	NATSURL   string
	NATSToken string

	// JWT settings
	JWTSecret string

	// LLM settings
	AnthropicAPIKey string
	OpenAIAPIKey    string
	LLMTimeout      time.Duration

	// Conversation lifecycle. ActiveWindow is the duration after the last
	// message during which a session is resumed rather than restarted. Too
	// short fragments one real session into many conversations; too long
	// treats a next-day return as a continuation.
	ActiveWindow time.Duration

	// Context cache TTLs
	ContextTTL time.Duration
	ProfileTTL time.Duration

	// Catch-up sweep
	SweepInterval time.Duration
	SweepLimit    int

	// Notification engine
	NotifyWindow time.Duration
	NotifyLimit  int

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

		// Database
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// NATS
		NATSURL:   getEnv("NATS_URL", ""),
		NATSToken: getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret: getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		LLMTimeout:      getDurationEnv("LLM_TIMEOUT", 30*time.Second),

		// Lifecycle
		ActiveWindow: getDurationEnv("ACTIVE_WINDOW", 4*time.Hour),

		// Cache
		ContextTTL: getDurationEnv("CONTEXT_CACHE_TTL", 10*time.Minute),
		ProfileTTL: getDurationEnv("PROFILE_CACHE_TTL", 5*time.Minute),

		// Sweep
		SweepInterval: getDurationEnv("SWEEP_INTERVAL", 5*time.Minute),
		SweepLimit:    getIntEnv("SWEEP_LIMIT", 10),

		// Notifications
		NotifyWindow: getDurationEnv("NOTIFY_WINDOW", 7*24*time.Hour),
		NotifyLimit:  getIntEnv("NOTIFY_LIMIT", 50),

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

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
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
