// Package logger provides structured logging built on zerolog
package logger

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// contextKey is a private type for context keys to avoid collisions
type contextKey string

const (
	// RequestIDKey is the context key for HTTP request IDs
	RequestIDKey contextKey = "request_id"
	// LeadIDKey is the context key for lead identifiers
	LeadIDKey contextKey = "lead_id"
)

// serviceName is attached to every log line
const serviceName = "rtb"

// Log is the global logger instance
var Log zerolog.Logger

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	TimeFormat string
}

// DefaultConfig returns logger configuration from environment variables
func DefaultConfig() Config {
	return Config{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		TimeFormat: time.RFC3339,
	}
}

// Init initializes the global logger
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	zerolog.TimeFieldFormat = cfg.TimeFormat

	if cfg.Format == "console" {
		output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: cfg.TimeFormat}
		Log = zerolog.New(output).
			Level(level).
			With().
			Timestamp().
			Str("service", serviceName).
			Logger()
		return
	}

	Log = zerolog.New(os.Stdout).
		Level(level).
		With().
		Timestamp().
		Str("service", serviceName).
		Logger()
}

// WithRequestID returns a context carrying the given request ID
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithLeadID returns a context carrying the given lead ID
func WithLeadID(ctx context.Context, leadID string) context.Context {
	return context.WithValue(ctx, LeadIDKey, leadID)
}

// FromContext returns a logger enriched with IDs stored in the context
func FromContext(ctx context.Context) zerolog.Logger {
	log := Log

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		log = log.With().Str("request_id", requestID).Logger()
	}

	if leadID, ok := ctx.Value(LeadIDKey).(string); ok && leadID != "" {
		log = log.With().Str("lead_id", leadID).Logger()
	}

	return log
}

// getEnv returns the environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func init() {
	// Ensure the global logger is usable before Init is called
	Init(DefaultConfig())
}
