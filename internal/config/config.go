// Package config loads process configuration from the environment.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration, read once at startup.
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Session / dialog
	SessionIdleTTL  time.Duration
	SessionHistoryN int
	ReplySoftBudget time.Duration
	ReplyHardBudget time.Duration
	MaxReprompts    int

	// Cache
	ResponseCacheTTL   time.Duration
	ResponseCacheMax   int
	RetrievalCacheTTL  time.Duration
	RetrievalCacheMax  int
	ClassifierCacheTTL time.Duration
	ClassifierCacheMax int
	GeocodeCacheTTL    time.Duration
	GeocodeCacheMax    int

	// Search
	SearchDepth       string
	SearchMaxResults  int
	SearchTimeout     time.Duration
	SearchMinScore    float64
	SearchExcludeDoms []string
	SearchIncludeDoms []string

	// Rate limiting
	RateLimitWindow time.Duration
	RateLimitMax    int

	// Media (voice stream TTS/STT parameters)
	MediaSampleRate int
	MediaLanguage   string
	MediaVoice      string

	// Upstream credentials (opaque to the core)
	ChatAPIKey     string
	ChatModel      string
	TTSAPIKey      string
	TTSBaseURL     string
	STTAPIKey      string
	STTBaseURL     string
	SearchAPIKey   string
	SearchBaseURL  string
	SMSAPIKey      string
	SMSFromNumber  string
	SMSBaseURL     string
	GeocodeAPIKey  string
	GeocodeBaseURL string

	// LLM provider selection
	LLMProvider   string // "bedrock" (default) or "gemini"
	BedrockModel  string
	GeminiAPIKey  string
	GeminiModelID string

	// Telnyx-style webhook auth
	WebhookSigningSecret string

	// Redis (rate limiter backing store; optional)
	RedisAddr     string
	RedisPassword string

	// Postgres (call audit log; optional)
	DatabaseURL string

	// AWS (SQS/DynamoDB/S3; optional)
	AWSRegion             string
	AWSEndpointOverride   string
	SMSJobQueueURL        string
	SMSJobTable           string
	AudioClipBucket       string
	UseMemoryQueue        bool
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "3000"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		SessionIdleTTL:  getEnvAsDuration("SESSION_IDLE_TTL_MS", 30*time.Minute),
		SessionHistoryN: getEnvAsInt("SESSION_HISTORY_MAX", 20),
		ReplySoftBudget: getEnvAsDuration("REPLY_SOFT_BUDGET_MS", 10*time.Second),
		ReplyHardBudget: getEnvAsDuration("REPLY_HARD_BUDGET_MS", 12*time.Second),
		MaxReprompts:    getEnvAsInt("DIALOG_MAX_REPROMPTS", 2),

		ResponseCacheTTL:   getEnvAsDuration("CACHE_RESPONSE_TTL_MS", 30*time.Minute),
		ResponseCacheMax:   getEnvAsInt("CACHE_RESPONSE_MAX", 1000),
		RetrievalCacheTTL:  getEnvAsDuration("CACHE_RETRIEVAL_TTL_MS", 30*time.Minute),
		RetrievalCacheMax:  getEnvAsInt("CACHE_RETRIEVAL_MAX", 1000),
		ClassifierCacheTTL: getEnvAsDuration("CACHE_CLASSIFIER_TTL_MS", 60*time.Minute),
		ClassifierCacheMax: getEnvAsInt("CACHE_CLASSIFIER_MAX", 1000),
		GeocodeCacheTTL:    getEnvAsDuration("CACHE_GEOCODE_TTL_MS", 24*time.Hour),
		GeocodeCacheMax:    getEnvAsInt("CACHE_GEOCODE_MAX", 1000),

		SearchDepth:       getEnv("SEARCH_DEPTH", "advanced"),
		SearchMaxResults:  getEnvAsInt("SEARCH_MAX_RESULTS", 5),
		SearchTimeout:     getEnvAsDuration("SEARCH_TIMEOUT_MS", 6*time.Second),
		SearchMinScore:    getEnvAsFloat("SEARCH_MIN_SCORE", 0.5),
		SearchExcludeDoms: getEnvAsList("SEARCH_EXCLUDE_DOMAINS"),
		SearchIncludeDoms: getEnvAsList("SEARCH_INCLUDE_DOMAINS"),

		RateLimitWindow: getEnvAsDuration("RATE_LIMIT_WINDOW_MS", 15*time.Minute),
		RateLimitMax:    getEnvAsInt("RATE_LIMIT_MAX", 100),

		MediaSampleRate: getEnvAsInt("MEDIA_SAMPLE_RATE", 8000),
		MediaLanguage:   getEnv("MEDIA_LANGUAGE", "en-US"),
		MediaVoice:      getEnv("MEDIA_VOICE", "alice"),

		ChatAPIKey:     getEnv("CHAT_API_KEY", ""),
		ChatModel:      getEnv("CHAT_MODEL", ""),
		TTSAPIKey:      getEnv("TTS_API_KEY", ""),
		TTSBaseURL:     getEnv("TTS_BASE_URL", ""),
		STTAPIKey:      getEnv("STT_API_KEY", ""),
		STTBaseURL:     getEnv("STT_BASE_URL", ""),
		SearchAPIKey:   getEnv("SEARCH_API_KEY", ""),
		SearchBaseURL:  getEnv("SEARCH_BASE_URL", "https://api.tavily.com"),
		SMSAPIKey:      getEnv("SMS_API_KEY", ""),
		SMSFromNumber:  getEnv("SMS_FROM_NUMBER", ""),
		SMSBaseURL:     getEnv("SMS_BASE_URL", ""),
		GeocodeAPIKey:  getEnv("GEOCODE_API_KEY", ""),
		GeocodeBaseURL: getEnv("GEOCODE_BASE_URL", ""),

		LLMProvider:   strings.ToLower(strings.TrimSpace(getEnv("LLM_PROVIDER", "bedrock"))),
		BedrockModel:  getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:  getEnv("GEMINI_API_KEY", ""),
		GeminiModelID: getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		WebhookSigningSecret: getEnv("WEBHOOK_SIGNING_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		SMSJobQueueURL:      getEnv("SMS_JOB_QUEUE_URL", ""),
		SMSJobTable:         getEnv("SMS_JOB_TABLE", "sms_jobs"),
		AudioClipBucket:     getEnv("AUDIO_CLIP_BUCKET", ""),
		UseMemoryQueue:      getEnvAsBool("USE_MEMORY_QUEUE", true),
	}
}

// Validate returns the set of fatal configuration problems (AuthMisconfig,
// per spec.md §7). It does not log; callers decide how to surface issues.
func (c *Config) Validate() []string {
	var issues []string
	if c.LLMProvider == "bedrock" && c.BedrockModel == "" {
		issues = append(issues, "BEDROCK_MODEL_ID is required when LLM_PROVIDER=bedrock")
	}
	if c.LLMProvider == "gemini" && c.GeminiAPIKey == "" {
		issues = append(issues, "GEMINI_API_KEY is required when LLM_PROVIDER=gemini")
	}
	if c.WebhookSigningSecret == "" {
		issues = append(issues, "WEBHOOK_SIGNING_SECRET is required to verify inbound webhooks")
	}
	return issues
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration reads a millisecond integer env var into a Duration.
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return defaultValue
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
