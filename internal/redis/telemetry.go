package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"agrosmart/internal/models"
	"agrosmart/internal/store"

	"github.com/redis/go-redis/v9"
)

var (
	_ store.TelemetryReader = (*TelemetryStore)(nil)
	_ store.TelemetryLister = (*TelemetryStore)(nil)
)

// DefaultStreamMaxLen bounds each device stream.
const DefaultStreamMaxLen = 1000

// StreamKey is the per-device telemetry stream.
func StreamKey(deviceID string) string {
	return "telemetry:" + deviceID
}

// TelemetryStore keeps device readings in one Redis stream per device,
// newest last.
type TelemetryStore struct {
	client *redis.Client
	maxLen int64
}

func NewTelemetryStore(client *redis.Client, maxLen int64) *TelemetryStore {
	if maxLen <= 0 {
		maxLen = DefaultStreamMaxLen
	}
	return &TelemetryStore{client: client, maxLen: maxLen}
}

// Append adds a reading to the device stream.
func (s *TelemetryStore) Append(ctx context.Context, r models.TelemetryReading) (string, error) {
	values, err := encodeReading(r)
	if err != nil {
		return "", err
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(r.DeviceID),
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Result()
	if err != nil {
		return "", fmt.Errorf("failed to append telemetry for %s: %w", r.DeviceID, err)
	}
	return id, nil
}

// LatestReading returns the newest reading or nil when the stream is empty.
func (s *TelemetryStore) LatestReading(ctx context.Context, deviceID string) (*models.TelemetryReading, error) {
	readings, err := s.Recent(ctx, deviceID, 1)
	if err != nil || len(readings) == 0 {
		return nil, err
	}
	return &readings[0], nil
}

// Recent returns up to limit readings, newest first.
func (s *TelemetryStore) Recent(ctx context.Context, deviceID string, limit int) ([]models.TelemetryReading, error) {
	msgs, err := s.client.XRevRangeN(ctx, StreamKey(deviceID), "+", "-", int64(limit)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read telemetry for %s: %w", deviceID, err)
	}
	readings := make([]models.TelemetryReading, 0, len(msgs))
	for _, m := range msgs {
		r, err := decodeReading(deviceID, m.ID, m.Values)
		if err != nil {
			return nil, err
		}
		readings = append(readings, r)
	}
	return readings, nil
}

func encodeReading(r models.TelemetryReading) (map[string]any, error) {
	sensors, err := json.Marshal(r.Sensors)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sensors: %w", err)
	}
	return map[string]any{
		"ts":      r.Timestamp.UnixMilli(),
		"sensors": string(sensors),
	}, nil
}

func decodeReading(deviceID, id string, values map[string]any) (models.TelemetryReading, error) {
	r := models.TelemetryReading{ID: id, DeviceID: deviceID}

	rawTS, _ := values["ts"].(string)
	ms, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return r, fmt.Errorf("stream entry %s has invalid ts %q", id, rawTS)
	}
	r.Timestamp = time.UnixMilli(ms).UTC()

	rawSensors, _ := values["sensors"].(string)
	if rawSensors != "" {
		if err := json.Unmarshal([]byte(rawSensors), &r.Sensors); err != nil {
			return r, fmt.Errorf("stream entry %s has invalid sensors: %w", id, err)
		}
	}
	return r, nil
}
