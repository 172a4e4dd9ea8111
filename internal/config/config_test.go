package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "America/Sao_Paulo", cfg.App.TimeZone)
	assert.True(t, cfg.App.RequireAuth)
	assert.True(t, cfg.App.EnforceDeviceOwnership)
	assert.Equal(t, "agrosmart/v5", cfg.MQTT.TopicPrefix)
	assert.Equal(t, byte(1), cfg.MQTT.QoS)
	assert.Equal(t, 180*time.Second, cfg.Telemetry.MaxAge)
	assert.Equal(t, 10*time.Second, cfg.Weather.Timeout)
	assert.Equal(t, 900, cfg.Dispatch.MaxDurationSeconds)
	assert.Equal(t, "* * * * *", cfg.Dispatch.TickCron)
	assert.Equal(t, float64(70), cfg.Weather.ProbabilityThreshold)
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("TZ_NAME", "UTC")
	t.Setenv("TELEMETRY_MAX_AGE_SEC", "60")
	t.Setenv("MQTT_TOPIC_PREFIX", "/farm/v1/")
	t.Setenv("REQUIRE_AUTH", "false")
	t.Setenv("WEATHER_TIMEOUT", "2s")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, time.UTC, cfg.Location())
	assert.Equal(t, time.Minute, cfg.Telemetry.MaxAge)
	assert.Equal(t, "farm/v1", cfg.MQTT.TopicPrefix)
	assert.False(t, cfg.App.RequireAuth)
	assert.Equal(t, 2*time.Second, cfg.Weather.Timeout)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"bad timezone", "TZ_NAME", "Mars/Olympus"},
		{"zero max age", "TELEMETRY_MAX_AGE_SEC", "0"},
		{"bad qos", "MQTT_QOS", "3"},
		{"zero publish timeout", "PUBLISH_TIMEOUT", "0s"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.val)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}
