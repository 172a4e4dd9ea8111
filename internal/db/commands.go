package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"agrosmart/internal/models"
	"agrosmart/internal/store"

	"github.com/jackc/pgx/v5"
)

// CreateCommand inserts cmd unless (device_id, command_id) already exists.
// The conflict clause is the single serialization point for duplicate triggers.
func (d *DB) CreateCommand(ctx context.Context, cmd *models.Command) (bool, error) {
	schedule, err := jsonParam(cmd.Schedule != nil, cmd.Schedule)
	if err != nil {
		return false, err
	}
	mqtt, err := json.Marshal(cmd.MQTT)
	if err != nil {
		return false, err
	}
	statusTS, err := json.Marshal(orEmpty(cmd.StatusTS))
	if err != nil {
		return false, err
	}

	tag, err := d.pool.Exec(ctx,
		`INSERT INTO commands (
		   device_id, command_id, origin, requested_action, requested_duration, schedule, mqtt,
		   requested_by, request_id, schema_version, created_at,
		   status, last_status, last_status_at, status_ts, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		 ON CONFLICT (device_id, command_id) DO NOTHING`,
		cmd.DeviceID, cmd.CommandID, cmd.Origin, cmd.RequestedAction, cmd.RequestedDuration, schedule, mqtt,
		cmd.RequestedBy, cmd.RequestID, cmd.SchemaVersion, cmd.CreatedAt,
		string(cmd.Status), cmd.LastStatus, cmd.LastStatusAt, statusTS, cmd.UpdatedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

const selectCommand = `SELECT
	device_id, command_id, origin, requested_action, requested_duration, schedule, mqtt,
	requested_by, request_id, schema_version, created_at,
	status, last_status, last_status_at, status_ts, action, duration, result, reason, reason_raw,
	error, ack_topic, received_at, started_at, finished_at, device_ts, sys, updated_at
	FROM commands WHERE device_id = $1 AND command_id = $2`

// GetCommand fetches one command record
func (d *DB) GetCommand(ctx context.Context, deviceID, commandID string) (*models.Command, error) {
	var (
		c                                     models.Command
		status                                string
		schedule, mqtt, statusTS, cmdErr, sys []byte
	)
	err := d.pool.QueryRow(ctx, selectCommand, deviceID, commandID).Scan(
		&c.DeviceID, &c.CommandID, &c.Origin, &c.RequestedAction, &c.RequestedDuration, &schedule, &mqtt,
		&c.RequestedBy, &c.RequestID, &c.SchemaVersion, &c.CreatedAt,
		&status, &c.LastStatus, &c.LastStatusAt, &statusTS, &c.Action, &c.Duration, &c.Result, &c.Reason, &c.ReasonRaw,
		&cmdErr, &c.AckTopic, &c.ReceivedAt, &c.StartedAt, &c.FinishedAt, &c.DeviceTS, &sys, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Status = models.CommandStatus(status)

	for _, f := range []struct {
		raw []byte
		dst any
	}{
		{schedule, &c.Schedule},
		{mqtt, &c.MQTT},
		{statusTS, &c.StatusTS},
		{cmdErr, &c.Error},
		{sys, &c.Sys},
	} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return nil, fmt.Errorf("failed to decode command %s: %w", commandID, err)
		}
	}
	return &c, nil
}

// MergeCommand upserts patch into the record. Fill-only columns use
// COALESCE on the existing value first, status_ts keeps existing keys and a
// terminal status is never replaced by a different one. Result, reason and
// error stay frozen with it.
func (d *DB) MergeCommand(ctx context.Context, deviceID, commandID string, patch models.CommandPatch) error {
	statusTS, err := json.Marshal(orEmpty(patch.StatusTS))
	if err != nil {
		return err
	}
	cmdErr, err := jsonParam(patch.Error != nil, patch.Error)
	if err != nil {
		return err
	}
	sys, err := jsonParam(patch.Sys != nil, patch.Sys)
	if err != nil {
		return err
	}
	updatedAt := patch.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	_, err = d.pool.Exec(ctx,
		`INSERT INTO commands (
		   device_id, command_id, origin, status, last_status, last_status_at, status_ts,
		   requested_action, requested_duration, action, duration, result, reason, reason_raw,
		   error, ack_topic, received_at, started_at, finished_at, device_ts, sys, created_at, updated_at)
		 VALUES ($1, $2, 'unknown', COALESCE(NULLIF($3::text, ''), 'pending'), $4, $5, $6,
		   $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $21)
		 ON CONFLICT (device_id, command_id) DO UPDATE SET
		   status = CASE
		     WHEN $3::text = '' THEN commands.status
		     WHEN commands.status IN ('done', 'failed') AND commands.status <> $3::text THEN commands.status
		     ELSE $3::text END,
		   last_status        = COALESCE(NULLIF(EXCLUDED.last_status, ''), commands.last_status),
		   last_status_at     = COALESCE(EXCLUDED.last_status_at, commands.last_status_at),
		   status_ts          = EXCLUDED.status_ts || commands.status_ts,
		   requested_action   = COALESCE(NULLIF(commands.requested_action, ''), EXCLUDED.requested_action),
		   requested_duration = COALESCE(commands.requested_duration, EXCLUDED.requested_duration),
		   action             = COALESCE(NULLIF(EXCLUDED.action, ''), commands.action),
		   duration           = COALESCE(EXCLUDED.duration, commands.duration),
		   result = CASE WHEN commands.status IN ('done', 'failed') AND commands.status <> $3::text
		     THEN commands.result ELSE COALESCE(NULLIF(EXCLUDED.result, ''), commands.result) END,
		   reason = CASE WHEN commands.status IN ('done', 'failed') AND commands.status <> $3::text
		     THEN commands.reason ELSE COALESCE(NULLIF(EXCLUDED.reason, ''), commands.reason) END,
		   reason_raw = CASE WHEN commands.status IN ('done', 'failed') AND commands.status <> $3::text
		     THEN commands.reason_raw ELSE COALESCE(NULLIF(EXCLUDED.reason_raw, ''), commands.reason_raw) END,
		   error = CASE WHEN commands.status IN ('done', 'failed') AND commands.status <> $3::text
		     THEN commands.error ELSE COALESCE(EXCLUDED.error, commands.error) END,
		   ack_topic          = COALESCE(NULLIF(EXCLUDED.ack_topic, ''), commands.ack_topic),
		   received_at        = COALESCE(commands.received_at, EXCLUDED.received_at),
		   started_at         = COALESCE(commands.started_at, EXCLUDED.started_at),
		   finished_at        = COALESCE(commands.finished_at, EXCLUDED.finished_at),
		   device_ts          = COALESCE(EXCLUDED.device_ts, commands.device_ts),
		   sys                = COALESCE(EXCLUDED.sys, commands.sys),
		   updated_at         = EXCLUDED.updated_at`,
		deviceID, commandID, string(patch.Status), patch.LastStatus, patch.LastStatusAt, statusTS,
		patch.RequestedAction, patch.RequestedDuration, patch.Action, patch.Duration, patch.Result, patch.Reason, patch.ReasonRaw,
		cmdErr, patch.AckTopic, patch.ReceivedAt, patch.StartedAt, patch.FinishedAt, patch.DeviceTS, sys, updatedAt)
	return err
}

// jsonParam encodes v for a nullable jsonb column.
func jsonParam(present bool, v any) (any, error) {
	if !present {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func orEmpty[K comparable, V any](m map[K]V) map[K]V {
	if m == nil {
		return map[K]V{}
	}
	return m
}
