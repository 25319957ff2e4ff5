package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 8081, cfg.InternalPort)
	assert.Equal(t, 32, cfg.MaxTargets)
	assert.Equal(t, 200*time.Millisecond, cfg.StreamPollInterval)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("MAX_TARGETS", "not-a-number")
	t.Setenv("STREAM_KEEPALIVE_MS", "500")

	cfg := Load()
	assert.Equal(t, 9000, cfg.HTTPPort)
	assert.Equal(t, 32, cfg.MaxTargets)
	assert.Equal(t, 500*time.Millisecond, cfg.StreamKeepAlive)
}

func TestLoadClient(t *testing.T) {
	t.Setenv("RUNSTREAM_URL", "http://runs.internal:9090")
	t.Setenv("RUNSTREAM_TRANSPORT", "ws")
	t.Setenv("MAX_RECONNECTS", "5")
	t.Setenv("RECONNECT_DELAY_MS", "-1")

	cfg := LoadClient()
	assert.Equal(t, "http://runs.internal:9090", cfg.ServerURL)
	assert.Equal(t, "ws", cfg.Transport)
	assert.Equal(t, 5, cfg.MaxReconnects)
	assert.Equal(t, time.Second, cfg.ReconnectDelay)
	assert.Equal(t, 512, cfg.PreviewMaxChars)
}
