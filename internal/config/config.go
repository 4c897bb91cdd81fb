// Package config loads and validates kohai configuration from environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Assistant service credentials and endpoint.
	OpenAIAPIKey   string
	APIBaseURL     string // Empty uses the public OpenAI endpoint.
	RequestTimeout time.Duration
	MaxRetries     int // Retries of list reads on 429/5xx.

	// Assistant identity.
	AssistantName         string
	AssistantID           string // Known id for AssistantName; skips the lookup.
	AssistantModel        string
	AssistantInstructions string

	// Run polling.
	PollMaxAttempts int
	PollInterval    time.Duration
	PollDeadline    time.Duration

	// Project storage.
	DataDir     string // SQLite project store lives here.
	DatabaseURL string // When set, projects are stored in Postgres instead.

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// MCP server limits.
	MCPRateLimitRPS   float64
	MCPRateLimitBurst int

	LogLevel string
}

// Load reads configuration from environment variables with sensible defaults.
// Every malformed variable is reported, not just the first.
func Load() (Config, error) {
	var errs []error
	str := envStr
	integer := func(key string, def int) int {
		v, err := envInt(key, def)
		errs = appendErr(errs, err)
		return v
	}
	float := func(key string, def float64) float64 {
		v, err := envFloat(key, def)
		errs = appendErr(errs, err)
		return v
	}
	boolean := func(key string, def bool) bool {
		v, err := envBool(key, def)
		errs = appendErr(errs, err)
		return v
	}
	duration := func(key string, def time.Duration) time.Duration {
		v, err := envDuration(key, def)
		errs = appendErr(errs, err)
		return v
	}

	cfg := Config{
		OpenAIAPIKey:          str("OPENAI_API_KEY", ""),
		APIBaseURL:            str("KOHAI_API_BASE_URL", ""),
		RequestTimeout:        duration("KOHAI_REQUEST_TIMEOUT", 30*time.Second),
		MaxRetries:            integer("KOHAI_MAX_RETRIES", 3),
		AssistantName:         str("KOHAI_ASSISTANT_NAME", "Kohai"),
		AssistantID:           str("KOHAI_ASSISTANT_ID", ""),
		AssistantModel:        str("KOHAI_ASSISTANT_MODEL", "gpt-4o"),
		AssistantInstructions: str("KOHAI_ASSISTANT_INSTRUCTIONS", defaultInstructions),
		PollMaxAttempts:       integer("KOHAI_POLL_MAX_ATTEMPTS", 50),
		PollInterval:          duration("KOHAI_POLL_INTERVAL", 200*time.Millisecond),
		PollDeadline:          duration("KOHAI_POLL_DEADLINE", 30*time.Second),
		DataDir:               str("KOHAI_DATA_DIR", defaultDataDir()),
		DatabaseURL:           str("KOHAI_DATABASE_URL", ""),
		OTELEndpoint:          str("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:          boolean("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:           str("OTEL_SERVICE_NAME", "kohai"),
		MCPRateLimitRPS:       float("KOHAI_MCP_RATE_LIMIT_RPS", 2),
		MCPRateLimitBurst:     integer("KOHAI_MCP_RATE_LIMIT_BURST", 5),
		LogLevel:              str("KOHAI_LOG_LEVEL", "info"),
	}

	if len(errs) > 0 {
		return Config{}, fmt.Errorf("config: %w", errors.Join(errs...))
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

const defaultInstructions = "You are Kohai, a concise assistant for a personal project and task planner. " +
	"Answer briefly and use the provided functions when the user asks to change their projects or tasks."

// Validate checks value ranges. A missing API key is not an error: the
// assistant is then reported as not configured.
func (c Config) Validate() error {
	var errs []error
	if c.AssistantName == "" {
		errs = append(errs, errors.New("KOHAI_ASSISTANT_NAME must not be empty"))
	}
	if c.PollMaxAttempts <= 0 {
		errs = append(errs, errors.New("KOHAI_POLL_MAX_ATTEMPTS must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("KOHAI_POLL_INTERVAL must be positive"))
	}
	if c.PollDeadline < c.PollInterval {
		errs = append(errs, errors.New("KOHAI_POLL_DEADLINE must be at least KOHAI_POLL_INTERVAL"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("KOHAI_REQUEST_TIMEOUT must be positive"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("KOHAI_MAX_RETRIES must not be negative"))
	}
	if c.DatabaseURL == "" && c.DataDir == "" {
		errs = append(errs, errors.New("KOHAI_DATA_DIR is required when KOHAI_DATABASE_URL is not set"))
	}
	if c.MCPRateLimitRPS <= 0 || c.MCPRateLimitBurst <= 0 {
		errs = append(errs, errors.New("KOHAI_MCP_RATE_LIMIT_RPS and KOHAI_MCP_RATE_LIMIT_BURST must be positive"))
	}
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("KOHAI_LOG_LEVEL=%q is not one of debug, info, warn, error", c.LogLevel))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Configured reports whether an API key is present.
func (c Config) Configured() bool { return strings.TrimSpace(c.OpenAIAPIKey) != "" }

// Redacted returns a copy safe to log.
func (c Config) Redacted() Config {
	c.OpenAIAPIKey = mask(c.OpenAIAPIKey)
	c.DatabaseURL = maskURLPassword(c.DatabaseURL)
	return c
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:3] + "..." + secret[len(secret)-4:]
}

// maskURLPassword hides the password in a user:password@host URL.
func maskURLPassword(raw string) string {
	at := strings.LastIndex(raw, "@")
	scheme := strings.Index(raw, "://")
	if at < 0 || scheme < 0 || scheme > at {
		return raw
	}
	userinfo := raw[scheme+3 : at]
	colon := strings.Index(userinfo, ":")
	if colon < 0 {
		return raw
	}
	return raw[:scheme+3] + userinfo[:colon] + ":***" + raw[at:]
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		return filepath.Join(dir, "kohai")
	}
	return ".kohai"
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		return append(errs, err)
	}
	return errs
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid integer", key, v)
	}
	return n, nil
}

func envFloat(key string, defaultVal float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid number", key, v)
	}
	return f, nil
}

func envBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q is not a valid boolean", key, v)
	}
	return b, nil
}

func envDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q is not a valid duration", key, v)
	}
	return d, nil
}
