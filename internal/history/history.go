// Package history builds audit entries and writes them on a best-effort basis.
package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"agrosmart/internal/log"
	"agrosmart/internal/models"
	"agrosmart/internal/store"
)

// Sources recorded on history entries.
const (
	SourceSchedule  = "schedule"
	SourceTelemetry = "telemetry"
	SourceWeather   = "weather"
	SourceCommand   = "command"
	SourceSystem    = "system"
)

const (
	EventCommandFinished = "command.execution.finished"
	CodeCommandFinished  = "CMD_EXEC_FINISHED"

	SeverityInfo  = "info"
	SeverityWarn  = "warning"
	SeverityError = "error"
)

// maxErrorMessage bounds error text persisted on records and entries.
const maxErrorMessage = 500

// TruncateError shortens err to the persisted limit.
func TruncateError(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if len(msg) > maxErrorMessage {
		msg = msg[:maxErrorMessage]
	}
	return msg
}

// IDs keyed by command so repeated writes upsert the same entry.
func ExecutionID(commandID string) string { return "exec-" + commandID }
func DuplicateID(commandID string) string { return "dup-" + commandID }
func ErrorID(commandID string) string     { return "err-" + commandID }
func FinishedID(commandID string) string  { return "cmd-" + commandID }

// Skipped builds an entry for a schedule that did not irrigate.
func Skipped(deviceID, source, message string, details map[string]any, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		DeviceID:      deviceID,
		Type:          models.HistorySkipped,
		Source:        source,
		Message:       message,
		Severity:      SeverityInfo,
		Details:       details,
		SchemaVersion: models.SchemaVersion,
		Timestamp:     at,
	}
}

// Execution records a published command.
func Execution(cmd *models.Command, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		ID:        ExecutionID(cmd.CommandID),
		DeviceID:  cmd.DeviceID,
		Type:      models.HistoryExecution,
		Source:    cmd.Origin,
		Message:   executionMessage(cmd),
		CommandID: cmd.CommandID,
		Status:    string(models.StatusPending),
		Severity:  SeverityInfo,
		Details: map[string]any{
			"action":     cmd.RequestedAction,
			"duration":   derefInt(cmd.RequestedDuration),
			"mqtt_topic": cmd.MQTT.Topic,
		},
		SchemaVersion: models.SchemaVersion,
		Timestamp:     at,
	}
}

// Duplicate records a create attempt for an id that already existed.
func Duplicate(cmd *models.Command, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		ID:        DuplicateID(cmd.CommandID),
		DeviceID:  cmd.DeviceID,
		Type:      models.HistoryDuplicate,
		Source:    cmd.Origin,
		Message:   "Duplicate trigger ignored (command already issued)",
		CommandID: cmd.CommandID,
		Severity:  SeverityInfo,
		Details: map[string]any{
			"retry": true,
		},
		SchemaVersion: models.SchemaVersion,
		Timestamp:     at,
	}
}

// PublishFailed records a downlink that could not be sent.
func PublishFailed(cmd *models.Command, err error, at time.Time) models.HistoryEntry {
	msg := TruncateError(err)
	return models.HistoryEntry{
		ID:        ErrorID(cmd.CommandID),
		DeviceID:  cmd.DeviceID,
		Type:      models.HistoryError,
		Source:    SourceSystem,
		Message:   "Failed to publish command: " + msg,
		CommandID: cmd.CommandID,
		Status:    string(models.StatusPublishFailed),
		Severity:  SeverityError,
		Details: map[string]any{
			"error":      map[string]any{"type": models.ErrorTypePublish, "message": msg},
			"mqtt_topic": cmd.MQTT.Topic,
		},
		SchemaVersion: models.SchemaVersion,
		Timestamp:     at,
	}
}

// Failure records an internal error while processing a schedule.
func Failure(deviceID, source, message string, err error, at time.Time) models.HistoryEntry {
	return models.HistoryEntry{
		DeviceID: deviceID,
		Type:     models.HistoryError,
		Source:   source,
		Message:  message,
		Severity: SeverityError,
		Details: map[string]any{
			"error": TruncateError(err),
		},
		SchemaVersion: models.SchemaVersion,
		Timestamp:     at,
	}
}

func executionMessage(cmd *models.Command) string {
	if cmd.RequestedAction == models.ActionOff {
		return "Irrigation off command sent"
	}
	d := FormatSeconds(derefInt(cmd.RequestedDuration))
	if cmd.Schedule != nil && cmd.Schedule.Label != "" {
		return fmt.Sprintf("Schedule %q: irrigation on for %s", cmd.Schedule.Label, d)
	}
	return fmt.Sprintf("Irrigation on for %s (%s)", d, cmd.Origin)
}

var reasonText = map[string]string{
	"timeout":          "safety timeout",
	"duration_elapsed": "cycle completed",
	"safety_timeout":   "safety timeout",
	"watchdog":         "system protection",
}

// FinishedMessage is the human text of a terminal acknowledgment entry.
func FinishedMessage(result, action string, duration *int, reason string) string {
	if result == models.ResultSuccess {
		switch action {
		case models.ActionOn:
			if duration != nil {
				return "Irrigation on for " + FormatSeconds(*duration)
			}
			return "Irrigation on"
		case models.ActionOff:
			return "Irrigation off"
		default:
			return "Command executed"
		}
	}
	if r := strings.TrimSpace(reason); r != "" {
		if txt, ok := reasonText[strings.ToLower(r)]; ok {
			r = txt
		}
		return fmt.Sprintf("Command interrupted (%s)", r)
	}
	return "Command failed"
}

// FormatSeconds renders a duration in seconds, e.g. "1 s" or "120 s".
func FormatSeconds(v int) string {
	return fmt.Sprintf("%d s", v)
}

func derefInt(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// Writer appends entries with a bounded timeout and never fails the caller.
type Writer struct {
	sink    store.HistoryLog
	timeout time.Duration
	log     log.Logger
}

func NewWriter(sink store.HistoryLog, timeout time.Duration, logger log.Logger) *Writer {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Writer{sink: sink, timeout: timeout, log: logger}
}

// Write appends entry and reports whether it was stored.
func (w *Writer) Write(ctx context.Context, entry models.HistoryEntry) bool {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	if err := w.sink.AppendHistory(ctx, entry); err != nil {
		w.log.Error(err, "history write failed", "device_id", entry.DeviceID, "type", string(entry.Type), "command_id", entry.CommandID)
		return false
	}
	return true
}
