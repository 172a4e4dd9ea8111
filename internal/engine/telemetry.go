package engine

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agrosmart/internal/models"
	agmqtt "agrosmart/internal/mqtt"
)

var errNoDevice = errors.New("telemetry carries no device id")

// millisThreshold separates unix seconds from unix milliseconds. Seconds
// stay below it until the year 5138.
const millisThreshold = 1e11

type firmwareTelemetry struct {
	DeviceID  string         `json:"device_id"`
	Timestamp json.Number    `json:"timestamp"`
	Sensors   map[string]any `json:"sensors"`
}

// ParseTelemetry decodes the firmware publish format
// {device_id, timestamp, sensors{...}}. The device id falls back to the
// topic segment, and a missing or zero timestamp means now.
func ParseTelemetry(topic string, payload []byte, topics agmqtt.Topics, now time.Time) (models.TelemetryReading, error) {
	var msg firmwareTelemetry
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&msg); err != nil {
		return models.TelemetryReading{}, fmt.Errorf("invalid telemetry json: %w", err)
	}

	deviceID := msg.DeviceID
	if deviceID == "" {
		deviceID = topics.DeviceFromTopic(topic)
	}
	if deviceID == "" {
		return models.TelemetryReading{}, errNoDevice
	}

	return models.TelemetryReading{
		DeviceID:  deviceID,
		Timestamp: readingTime(msg.Timestamp, now),
		Sensors:   normalizeSensors(msg.Sensors),
	}, nil
}

func readingTime(ts json.Number, now time.Time) time.Time {
	v, err := ts.Float64()
	if err != nil || v <= 0 {
		return now.UTC()
	}
	if v >= millisThreshold {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}

// normalizeSensors turns json.Number values into float64 so the stored
// map round-trips the same way it was read.
func normalizeSensors(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				out[k] = f
				continue
			}
			out[k] = n.String()
			continue
		}
		out[k] = v
	}
	return out
}
