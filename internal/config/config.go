// Package config provides environment configuration for the API server.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/orbitos/conversation-platform/internal/model"
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	CORSAllowedOrigins []string

	// NATS settings
	NATSURL      string
	NATSCAFile   string
	NATSCertFile string
	NATSKeyFile  string
	NATSToken    string

	// Storage settings. An empty DatabaseURL selects the in-memory store.
	DatabaseURL string

	// Auth settings
	AuthDisabled            bool
	DefaultOrganizationID   string
	DefaultOrganizationName string
	JWTSecret               string

	// LLM settings
	AnthropicAPIKey  string
	OpenAIAPIKey     string
	OpenAIBaseURL    string
	DefaultLLM       string
	ScoringProvider  string
	ScoringModel     string
	ProviderTimeout  time.Duration
	ResponseMaxToken int

	// Emergent mode defaults applied to new conversations and to
	// conversations whose persisted settings cannot be parsed.
	EmergentDefaults model.EmergentModeSettings

	// Rate limiting
	RateLimitRequests int
	InvokeRateLimit   int
	RateLimitWindow   time.Duration

	// Logging
	LogLevel  string
	LogFormat string

	// Tracing
	TracingEndpoint string
	TracingEnabled  bool
}

// Load reads configuration from environment variables, after loading a
// .env file when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	defaults := model.DefaultEmergentSettings()

	cfg := &Config{
		// Server
		ServerPort:         getEnv("PORT", "8080"),
		ServerReadTimeout:  getDurationEnv("SERVER_READ_TIMEOUT", 30*time.Second),
		ServerWriteTimeout: getDurationEnv("SERVER_WRITE_TIMEOUT", 10*time.Minute),
		CORSAllowedOrigins: getListEnv("CORS_ALLOWED_ORIGINS", []string{"https://*", "http://*"}),

		// NATS
		NATSURL:      getEnv("NATS_URL", "nats://localhost:4222"),
		NATSCAFile:   getEnv("NATS_CA_FILE", ""),
		NATSCertFile: getEnv("NATS_CERT_FILE", ""),
		NATSKeyFile:  getEnv("NATS_KEY_FILE", ""),
		NATSToken:    getEnv("NATS_TOKEN", ""),

		// Storage
		DatabaseURL: getEnv("DATABASE_URL", ""),

		// Auth
		AuthDisabled:            getBoolEnv("AUTH_DISABLED", true),
		DefaultOrganizationID:   getEnv("DEFAULT_ORGANIZATION_ID", "00000000-0000-0000-0000-000000000001"),
		DefaultOrganizationName: getEnv("DEFAULT_ORGANIZATION_NAME", "Default Organization"),
		JWTSecret:               getEnv("JWT_SECRET", "development-secret-change-in-production"),

		// LLM
		AnthropicAPIKey:  getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:    getEnv("OPENAI_BASE_URL", ""),
		DefaultLLM:       getEnv("DEFAULT_LLM", "anthropic"),
		ScoringProvider:  getEnv("SCORING_PROVIDER", ""),
		ScoringModel:     getEnv("SCORING_MODEL", ""),
		ProviderTimeout:  getDurationEnv("PROVIDER_TIMEOUT", 90*time.Second),
		ResponseMaxToken: getIntEnv("RESPONSE_MAX_TOKENS", 1024),

		// Emergent defaults
		EmergentDefaults: model.EmergentModeSettings{
			RelevanceThreshold:       getFloatEnv("EMERGENT_RELEVANCE_THRESHOLD", defaults.RelevanceThreshold),
			MaxRoundsPerMessage:      getIntEnv("EMERGENT_MAX_ROUNDS", defaults.MaxRoundsPerMessage),
			MaxResponsesPerRound:     getIntEnv("EMERGENT_MAX_RESPONSES_PER_ROUND", defaults.MaxResponsesPerRound),
			AllowMultipleResponses:   getBoolEnv("EMERGENT_ALLOW_MULTIPLE_RESPONSES", defaults.AllowMultipleResponses),
			ShowBriefAcknowledgments: getBoolEnv("EMERGENT_SHOW_ACKNOWLEDGMENTS", defaults.ShowBriefAcknowledgments),
			AcknowledgmentThreshold:  getFloatEnv("EMERGENT_ACKNOWLEDGMENT_THRESHOLD", defaults.AcknowledgmentThreshold),
			RequireUniqueInsight:     getBoolEnv("EMERGENT_REQUIRE_UNIQUE_INSIGHT", defaults.RequireUniqueInsight),
			ResponseDelayMs:          getIntEnv("EMERGENT_RESPONSE_DELAY_MS", defaults.ResponseDelayMs),
			ShowRelevanceScores:      getBoolEnv("EMERGENT_SHOW_RELEVANCE_SCORES", defaults.ShowRelevanceScores),
		},

		// Rate limiting
		RateLimitRequests: getIntEnv("RATE_LIMIT_REQUESTS", 60),
		InvokeRateLimit:   getIntEnv("INVOKE_RATE_LIMIT_REQUESTS", 10),
		RateLimitWindow:   getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),

		// Logging
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		// Tracing
		TracingEndpoint: getEnv("TRACING_ENDPOINT", "localhost:4318"),
		TracingEnabled:  getBoolEnv("TRACING_ENABLED", false),
	}

	if err := cfg.EmergentDefaults.Validate(); err != nil {
		return nil, fmt.Errorf("invalid emergent mode defaults: %w", err)
	}

	return cfg, nil
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

func getListEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultValue
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
