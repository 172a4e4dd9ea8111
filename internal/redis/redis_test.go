package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"agrosmart/internal/models"
	"agrosmart/internal/weather"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeReading(t *testing.T) {
	r, err := decodeReading("d1", "1736326800000-0", map[string]any{
		"ts":      "1736326800000",
		"sensors": `{"soil_moisture":41.5,"air_temp":23}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "1736326800000-0", r.ID)
	assert.Equal(t, time.Date(2025, 1, 8, 9, 0, 0, 0, time.UTC), r.Timestamp)
	assert.Equal(t, 41.5, r.Sensors["soil_moisture"])

	_, err = decodeReading("d1", "1-0", map[string]any{"ts": "yesterday"})
	assert.Error(t, err)

	_, err = decodeReading("d1", "1-0", map[string]any{"ts": "1", "sensors": "{broken"})
	assert.Error(t, err)
}

func TestWeatherKey(t *testing.T) {
	assert.Equal(t, "weather:-23.55:-46.63", WeatherKey(-23.5512, -46.6333))
}

func openTestRedis(t *testing.T) *TelemetryStore {
	t.Helper()
	addr := os.Getenv("AGROSMART_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("AGROSMART_TEST_REDIS_ADDR not set")
	}
	client, err := NewRedisClient(context.Background(), addr, "", 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return NewTelemetryStore(client, 10)
}

func TestTelemetryStore_LatestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestRedis(t)
	dev := "test-" + uuid.NewString()[:8]
	t.Cleanup(func() { s.client.Del(context.Background(), StreamKey(dev)) })

	empty, err := s.LatestReading(ctx, dev)
	require.NoError(t, err)
	assert.Nil(t, empty)

	base := time.Now().UTC().Truncate(time.Millisecond)
	for i, v := range []float64{30, 35, 40} {
		_, err := s.Append(ctx, models.TelemetryReading{
			DeviceID: dev, Timestamp: base.Add(time.Duration(i) * time.Second),
			Sensors: map[string]any{"soil_moisture": v},
		})
		require.NoError(t, err)
	}

	latest, err := s.LatestReading(ctx, dev)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, 40.0, latest.Sensors["soil_moisture"])
	assert.True(t, latest.Timestamp.Equal(base.Add(2*time.Second)))

	recent, err := s.Recent(ctx, dev, 2)
	require.NoError(t, err)
	assert.Len(t, recent, 2)
}

func TestWeatherCache_Roundtrip(t *testing.T) {
	ctx := context.Background()
	s := openTestRedis(t)
	c := NewWeatherCache(s.client, time.Minute)
	t.Cleanup(func() { s.client.Del(context.Background(), WeatherKey(1.11, 2.22)) })

	_, ok := c.GetDecision(ctx, 1.11, 2.22)
	assert.False(t, ok)

	c.SetDecision(ctx, 1.11, 2.22, weather.Decision{Skip: true, Reason: "rain", MaxProbability: 90})
	d, ok := c.GetDecision(ctx, 1.11, 2.22)
	require.True(t, ok)
	assert.True(t, d.Skip)
	assert.True(t, d.Cached)
}
