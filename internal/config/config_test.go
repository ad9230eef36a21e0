package config

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envOf(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{"JWT_SECRET": "s3cret"}))
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr)
	assert.Equal(t, "devices", cfg.DevicesDir)
	assert.Equal(t, "client/public/media", cfg.MediaDir)
	assert.Equal(t, 32, cfg.MaxFlowSteps)
	assert.Equal(t, time.Second, cfg.ReplyDelay)
	assert.Equal(t, time.Minute, cfg.TransportTimeout)
	assert.Equal(t, 2*time.Second, cfg.WarmerInterval)
	assert.Equal(t, zerolog.InfoLevel, cfg.LogLevel)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(envOf(map[string]string{
		"JWT_SECRET":        "s3cret",
		"MAX_FLOW_STEPS":    "10",
		"REPLY_DELAY":       "250ms",
		"TRANSPORT_TIMEOUT": "30",
		"LOG_LEVEL":         "DEBUG",
	}))
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.MaxFlowSteps)
	assert.Equal(t, 250*time.Millisecond, cfg.ReplyDelay)
	assert.Equal(t, 30*time.Second, cfg.TransportTimeout)
	assert.Equal(t, zerolog.DebugLevel, cfg.LogLevel)
}

func TestFromEnv_Invalid(t *testing.T) {
	_, err := FromEnv(envOf(map[string]string{
		"MAX_FLOW_STEPS": "many",
		"REPLY_DELAY":    "soon",
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JWT_SECRET")
	assert.Contains(t, err.Error(), "MAX_FLOW_STEPS")
	assert.Contains(t, err.Error(), "REPLY_DELAY")
}
