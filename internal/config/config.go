package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingLiveKitConfig is returned when the worker cannot reach LiveKit at all.
var ErrMissingLiveKitConfig = errors.New("missing required LiveKit configuration")

// AgentConfig holds everything the worker, health probe and supervisor read from the environment.
type AgentConfig struct {
	// LiveKit connection
	LiveKitURL       string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	AgentName        string // Dispatch name registered with LiveKit (empty = automatic dispatch)

	// Identities
	AgentIdentity           string // Identity used when accepting jobs
	CompanionIdentityPrefix string // Non-human companion agent, never a greeting trigger

	// Lead delivery
	WebhookURL           string
	WebhookTimeout       time.Duration
	DeliveryDrainTimeout time.Duration

	// Default prompt template values
	BusinessName       string
	KnowledgeBase      string
	PromptTemplatePath string

	// Conversation
	UserAwayTimeout time.Duration

	// Speech and language providers
	STTProvider     string
	DeepgramAPIKey  string
	DeepgramModel   string
	LLMProvider     string
	GroqAPIKey      string
	GroqModel       string
	GeminiAPIKey    string
	GeminiModel     string
	TTSProvider     string
	CartesiaAPIKey  string
	CartesiaModel   string
	CartesiaVoiceID string
	ProviderMaxRPS  float64

	// Voice activity detection
	VADThreshold  float64
	VADMinSilence time.Duration

	// Optional active-call registry
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Optional per-call metrics on Google Cloud Pub/Sub
	PubSubProjectID     string
	PubSubTopic         string
	PubSubMetricsPrefix string

	// Health probe and supervisor
	Port                   string
	LogEnv                 string
	SupervisorPollInterval time.Duration
}

// LoadConfigFromEnv loads the agent configuration from environment variables.
// The .env file, if any, must already have been loaded by main.
func LoadConfigFromEnv() *AgentConfig {
	return &AgentConfig{
		LiveKitURL:       getEnvOrDefault("LIVEKIT_URL", ""),
		LiveKitAPIKey:    getEnvOrDefault("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: getEnvOrDefault("LIVEKIT_API_SECRET", ""),
		AgentName:        getEnvOrDefault("AGENT_NAME", ""),

		AgentIdentity:           getEnvOrDefault("AGENT_IDENTITY", DefaultAgentIdentity),
		CompanionIdentityPrefix: getEnvOrDefault("COMPANION_IDENTITY_PREFIX", DefaultCompanionIdentityPrefix),

		WebhookURL:           getEnvOrDefault("WEBHOOK_URL", ""),
		WebhookTimeout:       getEnvAsDurationOrDefault("WEBHOOK_TIMEOUT", DefaultWebhookTimeout),
		DeliveryDrainTimeout: getEnvAsDurationOrDefault("DELIVERY_DRAIN_TIMEOUT", DefaultDeliveryDrainTimeout),

		BusinessName:       getEnvOrDefault("BUSINESS_NAME", DefaultBusinessName),
		KnowledgeBase:      getEnvOrDefault("KNOWLEDGE_BASE", DefaultKnowledgeBase),
		PromptTemplatePath: getEnvOrDefault("PROMPT_TEMPLATE_PATH", ""),

		UserAwayTimeout: getEnvAsDurationOrDefault("USER_AWAY_TIMEOUT", DefaultUserAwayTimeout),

		STTProvider:     getEnvOrDefault("STT_PROVIDER", "deepgram"),
		DeepgramAPIKey:  getEnvOrDefault("DEEPGRAM_API_KEY", ""),
		DeepgramModel:   getEnvOrDefault("DEEPGRAM_MODEL", "nova-2"),
		LLMProvider:     getEnvOrDefault("LLM_PROVIDER", "groq"),
		GroqAPIKey:      getEnvOrDefault("GROQ_API_KEY", ""),
		GroqModel:       getEnvOrDefault("GROQ_MODEL", "llama-3.3-70b-versatile"),
		GeminiAPIKey:    getEnvOrDefault("GEMINI_API_KEY", ""),
		GeminiModel:     getEnvOrDefault("GEMINI_MODEL", "gemini-2.0-flash"),
		TTSProvider:     getEnvOrDefault("TTS_PROVIDER", "cartesia"),
		CartesiaAPIKey:  getEnvOrDefault("CARTESIA_API_KEY", ""),
		CartesiaModel:   getEnvOrDefault("CARTESIA_MODEL", "sonic-english"),
		CartesiaVoiceID: getEnvOrDefault("CARTESIA_VOICE_ID", DefaultCartesiaVoiceID),
		ProviderMaxRPS:  getEnvAsFloatOrDefault("PROVIDER_MAX_RPS", 10),

		VADThreshold:  getEnvAsFloatOrDefault("VAD_THRESHOLD", DefaultVADThreshold),
		VADMinSilence: getEnvAsDurationOrDefault("VAD_MIN_SILENCE", DefaultVADMinSilence),

		RedisAddr:     getEnvOrDefault("REDIS_ADDR", ""),
		RedisPassword: getEnvOrDefault("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsIntOrDefault("REDIS_DB", 0),

		PubSubProjectID:     getEnvOrDefault("PUBSUB_PROJECT_ID", ""),
		PubSubTopic:         getEnvOrDefault("PUBSUB_TOPIC", ""),
		PubSubMetricsPrefix: getEnvOrDefault("PUBSUB_METRICS_PREFIX", ""),

		Port:                   getEnvOrDefault("PORT", "8000"),
		LogEnv:                 getEnvOrDefault("LOG_ENV", ""),
		SupervisorPollInterval: getEnvAsDurationOrDefault("SUPERVISOR_POLL_INTERVAL", time.Second),
	}
}

// ValidateLiveKit checks the connection settings the worker cannot run without.
func (c *AgentConfig) ValidateLiveKit() error {
	var missing []string
	if c.LiveKitURL == "" {
		missing = append(missing, "LIVEKIT_URL")
	}
	if c.LiveKitAPIKey == "" {
		missing = append(missing, "LIVEKIT_API_KEY")
	}
	if c.LiveKitAPISecret == "" {
		missing = append(missing, "LIVEKIT_API_SECRET")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingLiveKitConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Masked returns "***" for a configured secret and "NOT SET" otherwise.
func Masked(secret string) string {
	if secret == "" {
		return "NOT SET"
	}
	return "***"
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvAsDurationOrDefault accepts Go durations ("90s") or a bare number of seconds ("60").
func getEnvAsDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
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
