package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"agrosmart/internal/weather"

	"github.com/redis/go-redis/v9"
)

// WeatherCache stores weather decisions per rounded coordinate pair.
// Errors are swallowed; a miss just means a fresh forecast call.
type WeatherCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewWeatherCache(client *redis.Client, ttl time.Duration) *WeatherCache {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &WeatherCache{client: client, ttl: ttl}
}

// WeatherKey rounds to two decimals, roughly 1 km.
func WeatherKey(lat, lon float64) string {
	return fmt.Sprintf("weather:%.2f:%.2f", lat, lon)
}

func (c *WeatherCache) GetDecision(ctx context.Context, lat, lon float64) (*weather.Decision, bool) {
	raw, err := c.client.Get(ctx, WeatherKey(lat, lon)).Bytes()
	if err != nil {
		return nil, false
	}
	var d weather.Decision
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false
	}
	d.Cached = true
	return &d, true
}

func (c *WeatherCache) SetDecision(ctx context.Context, lat, lon float64, d weather.Decision) {
	raw, err := json.Marshal(d)
	if err != nil {
		return
	}
	_ = c.client.Set(ctx, WeatherKey(lat, lon), raw, c.ttl).Err()
}
