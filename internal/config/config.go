// Package config provides environment configuration for the stylist engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Thread store backends.
const (
	ThreadStoreNATS   = "nats"
	ThreadStoreMemory = "memory"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort        string
	ServerReadTimeout time.Duration

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// JWT settings
	JWTSecret     string
	JWTExpiration time.Duration

	// LLM settings
	AnthropicAPIKey    string
	OpenAIAPIKey       string
	DefaultLLM         string
	AssistantModel     string
	AssistantMaxTokens int
	HistoryLimit       int

	// Conversation storage
	ThreadStore string

	// Stylist collaborators
	StylistSubjectPrefix string
	CollaboratorTimeout  time.Duration
	ImageConcurrency     int
	EmbeddedStylist      bool
	CatalogFile          string

	// Profiles
	ProfilesFile string

	// HTTP
	CORSOrigins []string

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
		ServerPort:        getEnv("PORT", "8080"),
		ServerReadTimeout: getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// JWT
		JWTSecret:     getEnv("JWT_SECRET", "development-secret-change-in-production"),
		JWTExpiration: getDurationEnv("JWT_EXPIRATION", 15*time.Minute),

		// LLM
		AnthropicAPIKey:    getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:       getEnv("OPENAI_API_KEY", ""),
		DefaultLLM:         getEnv("DEFAULT_LLM", "anthropic"),
		AssistantModel:     getEnv("ASSISTANT_MODEL", ""),
		AssistantMaxTokens: getIntEnv("ASSISTANT_MAX_TOKENS", 1024),
		HistoryLimit:       getIntEnv("HISTORY_LIMIT", 40),

		// Conversation storage
		ThreadStore: getEnv("THREAD_STORE", ThreadStoreNATS),

		// Stylist collaborators
		StylistSubjectPrefix: getEnv("STYLIST_SUBJECT_PREFIX", "stylist"),
		CollaboratorTimeout:  getDurationEnv("COLLABORATOR_TIMEOUT", 30*time.Second),
		ImageConcurrency:     getIntEnv("IMAGE_CONCURRENCY", 4),
		EmbeddedStylist:      getBoolEnv("EMBEDDED_STYLIST", false),
		CatalogFile:          getEnv("CATALOG_FILE", "config/catalog.yaml"),

		// Profiles
		ProfilesFile: getEnv("PROFILES_FILE", "config/profiles.yaml"),

		// HTTP
		CORSOrigins: getListEnv("CORS_ORIGINS"),

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

// Validate reports settings that cannot work together.
func (c *Config) Validate() error {
	switch c.ThreadStore {
	case ThreadStoreNATS, ThreadStoreMemory:
	default:
		return fmt.Errorf("unknown THREAD_STORE %q", c.ThreadStore)
	}
	if c.ImageConcurrency < 0 {
		return fmt.Errorf("IMAGE_CONCURRENCY must not be negative, got %d", c.ImageConcurrency)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("HISTORY_LIMIT must not be negative, got %d", c.HistoryLimit)
	}
	return nil
}

// NeedsNATS reports whether any component requires a NATS connection.
func (c *Config) NeedsNATS() bool {
	return c.ThreadStore == ThreadStoreNATS || !c.EmbeddedStylist
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

func getListEnv(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
