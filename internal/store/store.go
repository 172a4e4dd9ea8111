// Package store declares the persistence ports used by the dispatcher.
// internal/db implements them on Postgres; Memory implements them in process.
package store

import (
	"context"
	"errors"

	"agrosmart/internal/models"
)

// ErrNotFound is returned when a keyed record does not exist.
var ErrNotFound = errors.New("not found")

// CommandStore persists command records keyed by (device, command).
type CommandStore interface {
	// CreateCommand inserts cmd only if no record with the same key exists.
	// It must be a single atomic conditional insert. created is false when
	// the record was already there, in which case nothing is modified.
	CreateCommand(ctx context.Context, cmd *models.Command) (created bool, err error)

	GetCommand(ctx context.Context, deviceID, commandID string) (*models.Command, error)

	// MergeCommand applies patch to the record, creating it when absent.
	MergeCommand(ctx context.Context, deviceID, commandID string, patch models.CommandPatch) error
}

// HistoryLog is the append/merge audit sink.
type HistoryLog interface {
	// AppendHistory upserts by entry.ID when set, otherwise assigns a new id.
	// Existing fields are kept; only missing fields are added.
	AppendHistory(ctx context.Context, entry models.HistoryEntry) error
}

// HistoryReader lists history newest first.
type HistoryReader interface {
	ListHistory(ctx context.Context, deviceID string, limit int) ([]models.HistoryEntry, error)
}

// ScheduleSource lists enabled schedules due at an ISO weekday and "HH:MM".
type ScheduleSource interface {
	DueSchedules(ctx context.Context, weekday int, hhmm string) ([]models.Schedule, error)
}

// DeviceSource resolves devices. Missing devices return ErrNotFound.
type DeviceSource interface {
	GetDevice(ctx context.Context, deviceID string) (*models.Device, error)
}

// TelemetryReader returns the newest reading, or nil when there is none.
type TelemetryReader interface {
	LatestReading(ctx context.Context, deviceID string) (*models.TelemetryReading, error)
}

// TelemetryLister lists up to limit readings, newest first.
type TelemetryLister interface {
	Recent(ctx context.Context, deviceID string, limit int) ([]models.TelemetryReading, error)
}
