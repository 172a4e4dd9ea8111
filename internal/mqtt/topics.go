package mqtt

import "strings"

// Topics builds device topics under a common prefix, e.g. "agrosmart/v5".
type Topics struct {
	prefix string
}

func NewTopics(prefix string) Topics {
	return Topics{prefix: strings.Trim(prefix, "/")}
}

func (t Topics) Prefix() string { return t.prefix }

// Command is the downlink topic for a device.
func (t Topics) Command(deviceID string) string {
	return t.prefix + "/" + deviceID + "/command"
}

// Ack is the acknowledgment topic a device publishes to.
func (t Topics) Ack(deviceID string) string {
	return t.prefix + "/" + deviceID + "/ack"
}

// AckWildcard matches every device ack topic.
func (t Topics) AckWildcard() string {
	return t.prefix + "/+/ack"
}

// TelemetryTopics covers the shared firmware topic and per-device topics.
func (t Topics) TelemetryTopics() []string {
	return []string{t.prefix + "/telemetry", t.prefix + "/+/telemetry"}
}

// DeviceFromTopic extracts the device segment of "{prefix}/{device}/...".
// It returns "" for shared topics.
func (t Topics) DeviceFromTopic(topic string) string {
	rest, ok := strings.CutPrefix(topic, t.prefix+"/")
	if !ok {
		return ""
	}
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		return ""
	}
	return parts[0]
}
