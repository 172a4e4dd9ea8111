package ack

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"agrosmart/internal/models"
)

// ErrInvalidReport marks a report without device_id, command_id or status.
var ErrInvalidReport = errors.New("invalid acknowledgment report")

var topicKeys = []string{"mqtt_topic", "mqttTopic", "topic", "iot_topic"}

// Report is a device acknowledgment after parsing and canonicalization.
type Report struct {
	DeviceID  string
	CommandID string
	Status    models.CommandStatus
	Action    string
	Duration  *int
	OK        *bool
	Reason    string
	Error     any
	DeviceTS  *int64
	Sys       map[string]any
	Topic     string
}

// HasError reports whether the device sent a non-empty error value.
func (r Report) HasError() bool {
	switch v := r.Error.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(v) != ""
	case bool:
		return v
	case map[string]any:
		return len(v) > 0
	case []any:
		return len(v) > 0
	default:
		return true
	}
}

// CommandError converts the error value into the stored error detail.
func (r Report) CommandError() *models.CommandError {
	if !r.HasError() {
		return nil
	}
	ce := &models.CommandError{Type: models.ErrorTypeDevice}
	switch v := r.Error.(type) {
	case string:
		ce.Message = strings.TrimSpace(v)
	case map[string]any:
		if msg, ok := v["message"].(string); ok {
			ce.Message = msg
		} else {
			ce.Message = compactJSON(v)
		}
		ce.Detail = v
	default:
		ce.Message = fmt.Sprint(v)
	}
	return ce
}

// ExtractReport reads a report from an unwrapped message. transportTopic is
// used when the message carries no topic of its own.
func ExtractReport(m map[string]any, transportTopic string) (Report, error) {
	r := Report{
		DeviceID:  strings.TrimSpace(asString(m["device_id"])),
		CommandID: strings.TrimSpace(asString(m["command_id"])),
		Status:    NormalizeStatus(m["status"]),
		Action:    strings.ToLower(strings.TrimSpace(asString(m["action"]))),
		Duration:  asInt(m["duration"]),
		OK:        asBool(m["ok"]),
		Reason:    strings.TrimSpace(asString(m["reason"])),
		Error:     m["error"],
		Topic:     transportTopic,
	}
	if ts := asInt(m["ts"]); ts != nil {
		v := int64(*ts)
		r.DeviceTS = &v
	}
	if sys, ok := m["sys"].(map[string]any); ok && len(sys) > 0 {
		r.Sys = sys
	}
	for _, key := range topicKeys {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			r.Topic = strings.TrimSpace(s)
			break
		}
	}

	var missing []string
	if r.DeviceID == "" {
		missing = append(missing, "device_id")
	}
	if r.CommandID == "" {
		missing = append(missing, "command_id")
	}
	if r.Status == "" {
		missing = append(missing, "status")
	}
	if len(missing) > 0 {
		return r, fmt.Errorf("%w: missing %s", ErrInvalidReport, strings.Join(missing, ", "))
	}
	return r, nil
}

// NormalizeStatus canonicalizes a reported status. Empty input yields "",
// "error" is "failed" and anything outside the known set is "unknown".
func NormalizeStatus(raw any) models.CommandStatus {
	s := strings.ToLower(strings.TrimSpace(asString(raw)))
	switch s {
	case "":
		return ""
	case "error":
		return models.StatusFailed
	case string(models.StatusReceived), string(models.StatusStarted), string(models.StatusDone), string(models.StatusFailed):
		return models.CommandStatus(s)
	default:
		return models.StatusUnknown
	}
}

// ResultOf computes the terminal result. Only a clean "done" is a success.
func ResultOf(status models.CommandStatus, ok *bool, hasError bool) string {
	if hasError || (ok != nil && !*ok) {
		return models.ResultFailed
	}
	if status == models.StatusDone {
		return models.ResultSuccess
	}
	return models.ResultFailed
}

// NormalizeReason rewrites "timeout" to "duration_elapsed" when it marks the
// planned end of a successful timed "on". raw carries the original reason
// only when it was rewritten.
func NormalizeReason(reason string, status models.CommandStatus, result, requestedAction string, requestedDuration *int) (out, raw string) {
	if reason == "" {
		return "", ""
	}
	if strings.EqualFold(reason, "timeout") &&
		status == models.StatusDone &&
		result == models.ResultSuccess &&
		strings.EqualFold(requestedAction, models.ActionOn) &&
		requestedDuration != nil && *requestedDuration > 0 {
		return "duration_elapsed", reason
	}
	return reason, ""
}

func asString(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case json.Number:
		return s.String()
	default:
		return fmt.Sprint(s)
	}
}

func asInt(v any) *int {
	var n int
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			n = int(i)
		} else if f, err := x.Float64(); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			n = int(f)
		} else {
			return nil
		}
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
		n = int(x)
	case int:
		n = x
	case int64:
		n = int(x)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		n = i
	default:
		return nil
	}
	return &n
}

func asBool(v any) *bool {
	var b bool
	switch x := v.(type) {
	case bool:
		b = x
	case string:
		p, err := strconv.ParseBool(strings.TrimSpace(x))
		if err != nil {
			return nil
		}
		b = p
	default:
		return nil
	}
	return &b
}

func compactJSON(v any) string {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}
