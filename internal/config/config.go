// Package config builds the immutable runtime configuration from the
// environment. Components never read environment variables themselves; the
// parsed Config is passed into their constructors.
package config

import (
	"errors"
	"os"
	"strconv"
	"time"
)

// Config is the full environment-derived configuration surface.
type Config struct {
	// StateTable is the DynamoDB table holding conversation records.
	StateTable string
	// ParamPrefix is the SSM Parameter Store prefix for secrets and prompts.
	ParamPrefix string

	RatePerMinute int
	RatePerHour   int

	MaxConversationLength int
	ConversationTimeout   time.Duration

	MaxSMSLength     int
	TruncationSuffix string
	MaxMessageLength int

	// WebhookValidationEnabled disables signature checks when false
	// (development only; the pipeline logs a warning on every request).
	WebhookValidationEnabled bool

	AgentName    string
	AgentTimeout time.Duration

	// PublicURL, when set, overrides the reconstructed callback URL used
	// for signature verification. Must match the URL configured at the
	// SMS gateway exactly.
	PublicURL string
}

// FromEnv parses and validates the configuration. Missing required values
// are an error; the service must refuse to start rather than run with an
// undefined security posture.
func FromEnv() (Config, error) {
	cfg := Config{
		StateTable:               os.Getenv("STATE_TABLE"),
		ParamPrefix:              os.Getenv("PARAM_PREFIX"),
		RatePerMinute:            envInt("RATE_LIMIT_PER_MINUTE", 5),
		RatePerHour:              envInt("RATE_LIMIT_PER_HOUR", 50),
		MaxConversationLength:    envInt("MAX_CONVERSATION_LENGTH", 20),
		ConversationTimeout:      time.Duration(envInt("CONVERSATION_TIMEOUT_HOURS", 24)) * time.Hour,
		MaxSMSLength:             envInt("MAX_SMS_LENGTH", 1600),
		TruncationSuffix:         envDefault("TRUNCATION_SUFFIX", "..."),
		MaxMessageLength:         envInt("MAX_MESSAGE_LENGTH", 2000),
		WebhookValidationEnabled: envBool("WEBHOOK_VALIDATION_ENABLED", true),
		AgentName:                envDefault("AGENT_NAME", "AI Assistant"),
		AgentTimeout:             time.Duration(envInt("AGENT_TIMEOUT_SECONDS", 25)) * time.Second,
		PublicURL:                os.Getenv("PUBLIC_URL"),
	}
	if cfg.StateTable == "" {
		return Config{}, errors.New("config: STATE_TABLE is required")
	}
	if cfg.ParamPrefix == "" {
		return Config{}, errors.New("config: PARAM_PREFIX is required")
	}
	if cfg.RatePerMinute <= 0 || cfg.RatePerHour <= 0 {
		return Config{}, errors.New("config: rate ceilings must be positive")
	}
	if cfg.MaxConversationLength <= 0 {
		return Config{}, errors.New("config: MAX_CONVERSATION_LENGTH must be positive")
	}
	if cfg.ConversationTimeout <= 0 {
		return Config{}, errors.New("config: CONVERSATION_TIMEOUT_HOURS must be positive")
	}
	return cfg, nil
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
