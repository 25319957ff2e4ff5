// Package config provides environment-driven configuration for the run server
// and the run client.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the run server configuration.
type Config struct {
	// Server settings
	HTTPPort     int
	InternalPort int

	// Database
	DatabaseURL string

	// Admission
	MaxTargets           int
	IdempotencyCacheSize int

	// Streaming
	StreamPollInterval time.Duration
	StreamKeepAlive    time.Duration
	StreamBatchSize    int

	// Logging
	LogLevel  string
	LogFormat string
}

// ClientConfig holds the run client configuration.
type ClientConfig struct {
	ServerURL string
	Transport string // sse or ws

	// Resumption
	MaxReconnects  int
	ReconnectDelay time.Duration

	SubmitTimeout   time.Duration
	PreviewMaxChars int

	// Logging
	LogLevel  string
	LogFormat string
}

// Load loads the server configuration from environment variables.
func Load() *Config {
	return &Config{
		HTTPPort:             getEnvInt("HTTP_PORT", 8080),
		InternalPort:         getEnvInt("INTERNAL_PORT", 8081),
		DatabaseURL:          getEnv("DATABASE_URL", "file:runstream.db?cache=shared&mode=rwc"),
		MaxTargets:           getEnvInt("MAX_TARGETS", 32),
		IdempotencyCacheSize: getEnvInt("IDEMPOTENCY_CACHE_SIZE", 4096),
		StreamPollInterval:   getEnvDuration("STREAM_POLL_INTERVAL_MS", 200*time.Millisecond),
		StreamKeepAlive:      getEnvDuration("STREAM_KEEPALIVE_MS", 15*time.Second),
		StreamBatchSize:      getEnvInt("STREAM_BATCH_SIZE", 100),
		LogLevel:             getEnv("LOG_LEVEL", "info"),
		LogFormat:            getEnv("LOG_FORMAT", "text"),
	}
}

// LoadClient loads the client configuration from environment variables.
func LoadClient() *ClientConfig {
	return &ClientConfig{
		ServerURL:       getEnv("RUNSTREAM_URL", "http://localhost:8080"),
		Transport:       getEnv("RUNSTREAM_TRANSPORT", "sse"),
		MaxReconnects:   getEnvInt("MAX_RECONNECTS", 20),
		ReconnectDelay:  getEnvDuration("RECONNECT_DELAY_MS", time.Second),
		SubmitTimeout:   getEnvDuration("SUBMIT_TIMEOUT_MS", 60*time.Second),
		PreviewMaxChars: getEnvInt("PREVIEW_MAX_CHARS", 512),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvDuration reads a millisecond count.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if ms, err := strconv.Atoi(val); err == nil && ms >= 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultVal
}
