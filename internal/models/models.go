package models

import (
	"fmt"
	"slices"
	"time"
)

// DefaultTargetSoilMoisture is used when a device has no target configured.
// At 100% every reading is below target, so only the gates can skip.
const DefaultTargetSoilMoisture = 100.0

// SchemaVersion is stamped on commands and history entries.
const SchemaVersion = 1

// DeviceSettings are edited by the settings UI and read by the evaluator.
type DeviceSettings struct {
	TargetSoilMoisture   float64  `json:"target_soil_moisture"`
	EnableWeatherControl bool     `json:"enable_weather_control"`
	Latitude             *float64 `json:"latitude,omitempty"`
	Longitude            *float64 `json:"longitude,omitempty"`
}

// Coordinates reports the device location when both values are set.
func (s DeviceSettings) Coordinates() (lat, lon float64, ok bool) {
	if s.Latitude == nil || s.Longitude == nil {
		return 0, 0, false
	}
	return *s.Latitude, *s.Longitude, true
}

// User is an operator account that can own devices.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// Device represents a provisioned field device
type Device struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	OwnerUID string         `json:"owner_uid,omitempty"`
	Settings DeviceSettings `json:"settings"`
}

// Schedule represents a weekly irrigation slot for one device
type Schedule struct {
	ID              string `json:"id"`
	DeviceID        string `json:"device_id"`
	Enabled         bool   `json:"enabled"`
	Days            []int  `json:"days"` // 1=Monday .. 7=Sunday
	Time            string `json:"time"` // "HH:MM", local civil time
	DurationMinutes int    `json:"duration_minutes"`
	Label           string `json:"label"`
}

// DueAt reports whether the schedule fires at the given ISO weekday and "HH:MM".
// The match is exact.
func (s Schedule) DueAt(weekday int, hhmm string) bool {
	return s.Enabled && s.Time == hhmm && slices.Contains(s.Days, weekday)
}

// ISOWeekday converts time.Weekday to 1=Monday .. 7=Sunday.
func ISOWeekday(t time.Time) int {
	return (int(t.Weekday())+6)%7 + 1
}

// ClockHHMM formats t as zero padded "HH:MM".
func ClockHHMM(t time.Time) string {
	return fmt.Sprintf("%02d:%02d", t.Hour(), t.Minute())
}

// TelemetryReading is one row of device telemetry.
type TelemetryReading struct {
	ID        string         `json:"id,omitempty"`
	DeviceID  string         `json:"device_id"`
	Timestamp time.Time      `json:"timestamp"`
	Sensors   map[string]any `json:"sensors"`
}

// CommandStatus is the lifecycle state of a command.
type CommandStatus string

const (
	StatusPending       CommandStatus = "pending"
	StatusReceived      CommandStatus = "received"
	StatusStarted       CommandStatus = "started"
	StatusDone          CommandStatus = "done"
	StatusFailed        CommandStatus = "failed"
	StatusPublishFailed CommandStatus = "publish_failed"
	StatusUnknown       CommandStatus = "unknown"
)

// IsTerminal reports whether no device transition is expected after s.
func (s CommandStatus) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

const (
	ActionOn  = "on"
	ActionOff = "off"

	OriginSchedule = "schedule"
	OriginManual   = "manual"
	OriginUnknown  = "unknown"

	ResultSuccess = "success"
	ResultFailed  = "failed"

	ErrorTypePublish = "iot_publish_error"
	ErrorTypeDevice  = "device_error"
)

// ScheduleRef records which schedule slot produced a command.
type ScheduleRef struct {
	ID        string `json:"id"`
	Label     string `json:"label,omitempty"`
	LocalTime string `json:"local_time,omitempty"`
}

// MQTTRef records where a command was published.
type MQTTRef struct {
	Topic string `json:"topic,omitempty"`
	QoS   byte   `json:"qos"`
}

// CommandError is the error detail stored on a command record.
type CommandError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Detail  any    `json:"detail,omitempty"`
}

// Command is the durable record of one downlink command and its acknowledgments.
type Command struct {
	DeviceID  string `json:"device_id"`
	CommandID string `json:"command_id"`

	// Creation fields. Set once by the issuer.
	Origin            string       `json:"origin"`
	RequestedAction   string       `json:"requested_action,omitempty"`
	RequestedDuration *int         `json:"requested_duration,omitempty"`
	Schedule          *ScheduleRef `json:"schedule,omitempty"`
	MQTT              MQTTRef      `json:"mqtt"`
	RequestedBy       string       `json:"requested_by,omitempty"`
	RequestID         string       `json:"request_id,omitempty"`
	SchemaVersion     int          `json:"schema_version"`
	CreatedAt         time.Time    `json:"created_at"`

	// State fields. Merged by the acknowledgment path.
	Status       CommandStatus        `json:"status"`
	LastStatus   string               `json:"last_status,omitempty"`
	LastStatusAt *time.Time           `json:"last_status_at,omitempty"`
	StatusTS     map[string]time.Time `json:"status_ts,omitempty"`
	Action       string               `json:"action,omitempty"`
	Duration     *int                 `json:"duration,omitempty"`
	Result       string               `json:"result,omitempty"`
	Reason       string               `json:"reason,omitempty"`
	ReasonRaw    string               `json:"reason_raw,omitempty"`
	Error        *CommandError        `json:"error,omitempty"`
	AckTopic     string               `json:"ack_topic,omitempty"`
	ReceivedAt   *time.Time           `json:"received_at,omitempty"`
	StartedAt    *time.Time           `json:"started_at,omitempty"`
	FinishedAt   *time.Time           `json:"finished_at,omitempty"`
	DeviceTS     *int64               `json:"device_ts,omitempty"`
	Sys          map[string]any       `json:"sys,omitempty"`
	UpdatedAt    time.Time            `json:"updated_at"`
}

// CommandPatch is a partial update. Zero values leave fields untouched.
// RequestedAction, RequestedDuration and the *At timestamps only fill
// fields that are still empty; StatusTS keys keep their first value.
type CommandPatch struct {
	Status            CommandStatus
	LastStatus        string
	LastStatusAt      *time.Time
	StatusTS          map[string]time.Time
	RequestedAction   string
	RequestedDuration *int
	Action            string
	Duration          *int
	Result            string
	Reason            string
	ReasonRaw         string
	Error             *CommandError
	AckTopic          string
	ReceivedAt        *time.Time
	StartedAt         *time.Time
	FinishedAt        *time.Time
	DeviceTS          *int64
	Sys               map[string]any
	UpdatedAt         time.Time
}

// Apply merges p into c. A terminal status is never replaced, and neither
// is the outcome recorded with it.
func (p CommandPatch) Apply(c *Command) {
	settled := c.Status.IsTerminal() && p.Status != c.Status
	if p.Status != "" && !settled {
		c.Status = p.Status
	}
	if p.LastStatus != "" {
		c.LastStatus = p.LastStatus
	}
	if p.LastStatusAt != nil {
		c.LastStatusAt = p.LastStatusAt
	}
	for k, v := range p.StatusTS {
		if c.StatusTS == nil {
			c.StatusTS = make(map[string]time.Time)
		}
		if _, ok := c.StatusTS[k]; !ok {
			c.StatusTS[k] = v
		}
	}
	if c.RequestedAction == "" {
		c.RequestedAction = p.RequestedAction
	}
	if c.RequestedDuration == nil {
		c.RequestedDuration = p.RequestedDuration
	}
	if p.Action != "" {
		c.Action = p.Action
	}
	if p.Duration != nil {
		c.Duration = p.Duration
	}
	if !settled {
		if p.Result != "" {
			c.Result = p.Result
		}
		if p.Reason != "" {
			c.Reason = p.Reason
		}
		if p.ReasonRaw != "" {
			c.ReasonRaw = p.ReasonRaw
		}
		if p.Error != nil {
			c.Error = p.Error
		}
	}
	if p.AckTopic != "" {
		c.AckTopic = p.AckTopic
	}
	if c.ReceivedAt == nil {
		c.ReceivedAt = p.ReceivedAt
	}
	if c.StartedAt == nil {
		c.StartedAt = p.StartedAt
	}
	if c.FinishedAt == nil {
		c.FinishedAt = p.FinishedAt
	}
	if p.DeviceTS != nil {
		c.DeviceTS = p.DeviceTS
	}
	if p.Sys != nil {
		c.Sys = p.Sys
	}
	if !p.UpdatedAt.IsZero() {
		c.UpdatedAt = p.UpdatedAt
	}
}

// HistoryType classifies history entries.
type HistoryType string

const (
	HistorySkipped          HistoryType = "skipped"
	HistoryExecution        HistoryType = "execution"
	HistoryDuplicate        HistoryType = "duplicate"
	HistoryError            HistoryType = "error"
	HistoryCommandExecution HistoryType = "command_execution"
)

// HistoryEntry is one audit event under a device.
type HistoryEntry struct {
	ID            string         `json:"id"`
	DeviceID      string         `json:"device_id"`
	Type          HistoryType    `json:"type"`
	Source        string         `json:"source"`
	Message       string         `json:"message"`
	CommandID     string         `json:"command_id,omitempty"`
	Status        string         `json:"status,omitempty"`
	Result        string         `json:"result,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	EventName     string         `json:"event_name,omitempty"`
	EventCode     string         `json:"event_code,omitempty"`
	Severity      string         `json:"severity,omitempty"`
	Details       map[string]any `json:"details,omitempty"`
	SchemaVersion int            `json:"schema_version"`
	Timestamp     time.Time      `json:"timestamp"`
}

// Merge adds fields from o that h does not have yet. Existing values win.
func (h *HistoryEntry) Merge(o HistoryEntry) {
	fill := func(dst *string, src string) {
		if *dst == "" {
			*dst = src
		}
	}
	fill(&h.Source, o.Source)
	fill(&h.Message, o.Message)
	fill(&h.CommandID, o.CommandID)
	fill(&h.Status, o.Status)
	fill(&h.Result, o.Result)
	fill(&h.Reason, o.Reason)
	fill(&h.EventName, o.EventName)
	fill(&h.EventCode, o.EventCode)
	fill(&h.Severity, o.Severity)
	if h.Type == "" {
		h.Type = o.Type
	}
	if h.Timestamp.IsZero() {
		h.Timestamp = o.Timestamp
	}
	if h.SchemaVersion == 0 {
		h.SchemaVersion = o.SchemaVersion
	}
	for k, v := range o.Details {
		if h.Details == nil {
			h.Details = make(map[string]any)
		}
		if _, ok := h.Details[k]; !ok {
			h.Details[k] = v
		}
	}
}
